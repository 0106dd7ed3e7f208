package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/avap-run/avapd/internal/config"
	"github.com/avap-run/avapd/internal/logging"
	"github.com/spf13/cobra"
)

var configFile string

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		pgDSN    string
		hmacKey  string
		workers  int
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the avapd HTTP surface",
		Long:  "Run avapd's HTTP surface: /api/v1/execute, /api/v1/compile, /health, /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("http-addr") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("hmac-key") {
				cfg.HMAC.Key = hmacKey
			}
			if cmd.Flags().Changed("workers") {
				cfg.Envelope.Workers = workers
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
				cfg.Observability.Logging.Level = logLevel
			}

			if os.Getenv("AVAP_WORKER") == "1" {
				return runServer(cfg, true)
			}
			if cfg.Envelope.Workers > 0 {
				return spawnWorkers(cfg)
			}
			return runServer(cfg, false)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to JSON config file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8888", "HTTP listen address")
	cmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	cmd.Flags().StringVar(&hmacKey, "hmac-key", "", "HMAC bytecode signing key")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of OS worker processes sharing one listener via SO_REUSEPORT (0 = single process)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")

	return cmd
}

// runServer builds the app and serves cfg.Daemon.HTTPAddr until a
// shutdown signal arrives. reuseport binds with SO_REUSEPORT, used by
// worker children spawned by spawnWorkers.
func runServer(cfg *config.Config, reuseport bool) error {
	logging.SetLevelFromString(cfg.Daemon.LogLevel)

	ctx := context.Background()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := listen(cfg.Daemon.HTTPAddr, reuseport)
	if err != nil && reuseport {
		// Worker children retry their bind once on a transient failure.
		time.Sleep(100 * time.Millisecond)
		ln, err = listen(cfg.Daemon.HTTPAddr, reuseport)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Daemon.HTTPAddr, err)
	}

	httpServer := &http.Server{Handler: a.handler}

	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("avapd serving", "addr", cfg.Daemon.HTTPAddr, "reuseport", reuseport, "pid", os.Getpid())
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Op().Info("shutdown signal received", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown avapd: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("avapd server error: %w", err)
	}
}

// spawnWorkers implements the multi-process shared-socket worker model
// (SPEC_FULL.md REDESIGN FLAGS): the parent validates the address by
// binding it once with SO_REUSEPORT, then re-execs itself N times with
// AVAP_WORKER=1, staggering startup and retrying a failed child start
// once. Each child binds its own SO_REUSEPORT listener on the same
// host:port, retrying that bind once on failure (runServer).
func spawnWorkers(cfg *config.Config) error {
	probe, err := listen(cfg.Daemon.HTTPAddr, true)
	if err != nil {
		return fmt.Errorf("validate listen address %s: %w", cfg.Daemon.HTTPAddr, err)
	}
	probe.Close()

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}

	n := cfg.Envelope.Workers
	logging.Op().Info("spawning worker processes", "count", n, "addr", cfg.Daemon.HTTPAddr)

	procs := make([]*exec.Cmd, 0, n)
	for i := 0; i < n; i++ {
		c, err := startWorker(self, os.Args[1:])
		if err != nil {
			for _, p := range procs {
				p.Process.Kill()
			}
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		procs = append(procs, c)
		time.Sleep(100 * time.Millisecond) // stagger startup
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Op().Info("shutdown signal received, stopping workers", "signal", sig.String())
	for _, p := range procs {
		p.Process.Signal(syscall.SIGTERM)
	}
	for _, p := range procs {
		p.Wait()
	}
	return nil
}

// startWorker starts one worker child, retrying once if the process
// fails to start. The child's own bind retry happens in runServer.
func startWorker(path string, args []string) (*exec.Cmd, error) {
	newCmd := func() *exec.Cmd {
		c := exec.Command(path, args...)
		c.Env = append(os.Environ(), "AVAP_WORKER=1")
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		return c
	}

	c := newCmd()
	if err := c.Start(); err == nil {
		return c, nil
	}
	c = newCmd()
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}
