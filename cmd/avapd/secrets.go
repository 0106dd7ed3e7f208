package main

import (
	"fmt"
	"os"

	"github.com/avap-run/avapd/internal/config"
	"github.com/avap-run/avapd/internal/output"
	"github.com/avap-run/avapd/internal/secrets"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// secretsCmd manages the encrypted $SECRET: store (SPEC_FULL.md
// SUPPLEMENTED FEATURE 5) directly, without starting the daemon, so an
// operator can seed the values RequestGet header templates reference
// before the first script that needs them ever runs.
func secretsCmd() *cobra.Command {
	var (
		redisAddr     string
		redisPassword string
		masterKey     string
		masterKeyFile string
		formatStr     string
	)

	root := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted $SECRET: store used by RequestGet headers",
	}
	root.PersistentFlags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address backing the secrets store")
	root.PersistentFlags().StringVar(&redisPassword, "redis-password", "", "Redis password")
	root.PersistentFlags().StringVar(&masterKey, "master-key", os.Getenv("AVAP_MASTER_KEY"), "Hex-encoded AES-256-GCM master key")
	root.PersistentFlags().StringVar(&masterKeyFile, "master-key-file", "", "Path to a file holding the hex-encoded master key")
	root.PersistentFlags().StringVar(&formatStr, "output", "table", "Output format: table, json, yaml")

	buildStore := func() (*secrets.Store, error) {
		cipher, err := resolveCipher(config.SecretsConfig{MasterKey: masterKey, MasterKeyFile: masterKeyFile})
		if err != nil {
			return nil, fmt.Errorf("build cipher: %w", err)
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr, Password: redisPassword})
		return secrets.NewStore(client, cipher), nil
	}

	setCmd := &cobra.Command{
		Use:   "set <name> <value>",
		Short: "Encrypt and store a secret referenced as $SECRET:<name>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore()
			if err != nil {
				return err
			}
			if err := store.Set(cmd.Context(), args[0], []byte(args[1])); err != nil {
				return fmt.Errorf("set secret: %w", err)
			}
			output.NewPrinter(output.ParseFormat(formatStr)).Success("stored secret %q", args[0])
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Decrypt and print a stored secret's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore()
			if err != nil {
				return err
			}
			val, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get secret: %w", err)
			}
			fmt.Println(string(val))
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete secret: %w", err)
			}
			output.NewPrinter(output.ParseFormat(formatStr)).Success("deleted secret %q", args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List secret names and their creation times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := buildStore()
			if err != nil {
				return err
			}
			names, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list secrets: %w", err)
			}
			return output.NewPrinter(output.ParseFormat(formatStr)).Print(names)
		},
	}

	root.AddCommand(setCmd, getCmd, deleteCmd, listCmd)
	return root
}
