// Package catalog implements the Command Catalog Client (spec §4.C):
// bulk sync and point lookup of command definitions from the
// Definition Engine over gRPC, with a Postgres fallback and an
// atomically-swapped in-memory catalog.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avap-run/avapd/internal/catalogpb"
	"github.com/avap-run/avapd/internal/circuitbreaker"
	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/logging"
	"github.com/avap-run/avapd/internal/observability"
	"github.com/avap-run/avapd/internal/packer"
	"github.com/avap-run/avapd/internal/pkg/crypto"
	"github.com/avap-run/avapd/internal/store"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var errCircuitOpen = fmt.Errorf("definition engine circuit breaker open")

// Client is the Command Catalog Client. The zero value is not usable;
// construct with New. Safe for concurrent use: the live catalog is an
// atomic.Pointer swapped wholesale by sync_full (spec invariant: the
// three conceptual maps are always jointly consistent).
type Client struct {
	grpcClient catalogpb.DefinitionEngineClient
	authToken  string
	store      *store.Store
	packer     *packer.Packer
	breaker    *circuitbreaker.Breaker

	live atomic.Pointer[domain.Catalog]

	stop chan struct{}
}

// New creates a Client bound to an existing gRPC connection. authToken
// is sent as the x-avap-auth metadata header on every RPC.
func New(conn *grpc.ClientConn, authToken string, st *store.Store, hmacKey []byte) *Client {
	c := &Client{
		grpcClient: catalogpb.NewDefinitionEngineClient(conn),
		authToken:  authToken,
		store:      st,
		packer:     packer.New(hmacKey),
		breaker: circuitbreaker.New(circuitbreaker.Config{
			ErrorPct:       50,
			WindowDuration: 30 * time.Second,
			OpenDuration:   10 * time.Second,
			HalfOpenProbes: 1,
		}),
		stop:       make(chan struct{}),
	}
	c.live.Store(domain.NewCatalog())
	return c
}

// authenticated attaches the shared auth token plus the caller's W3C
// trace context (spec TraceContext, propagation.go) to an outgoing
// Definition Engine RPC, so a slow SyncCatalog/GetCommand call shows
// up as a child span of the HTTP request that triggered it.
func (c *Client) authenticated(ctx context.Context) context.Context {
	ctx = metadata.AppendToOutgoingContext(ctx, "x-avap-auth", c.authToken)
	tc := observability.ExtractTraceContext(ctx)
	if tc.TraceParent != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "traceparent", tc.TraceParent)
	}
	if tc.TraceState != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "tracestate", tc.TraceState)
	}
	return ctx
}

// SyncFull fetches the entire catalog and swaps it in atomically. On
// any error the live catalog is left untouched (spec §4.C atomicity).
func (c *Client) SyncFull(ctx context.Context) error {
	if !c.breaker.Allow() {
		return &domain.RPCTransportError{Op: "SyncCatalog", Err: errCircuitOpen}
	}

	resp, err := c.grpcClient.SyncCatalog(c.authenticated(ctx), &catalogpb.Empty{})
	if err != nil {
		c.breaker.RecordFailure()
		return &domain.RPCTransportError{Op: "SyncCatalog", Err: err}
	}
	c.breaker.RecordSuccess()

	fresh := &domain.Catalog{
		Commands:    make(map[string]*domain.CommandDef, len(resp.Commands)),
		VersionHash: resp.VersionHash,
	}
	for _, entry := range resp.Commands {
		def, err := entryToDef(entry)
		if err != nil {
			return fmt.Errorf("sync_full: %w", err)
		}
		fresh.Commands[entry.Name] = def
	}

	c.live.Store(fresh)
	logging.Op().Info("catalog sync_full complete", "commands", len(fresh.Commands), "version", fresh.VersionHash)
	return nil
}

// Get resolves name's bytecode and interface. Order: live cache, then
// GetCommand RPC, then the Postgres fallback tables. An RPC
// NOT_FOUND or any transport error both fall through to the DB;
// only a DB miss (or disabled DB) returns CommandNotFoundError.
func (c *Client) Get(ctx context.Context, name string) (*domain.CommandDef, error) {
	if def, ok := c.live.Load().Commands[name]; ok {
		return def, nil
	}

	if c.breaker.Allow() {
		resp, err := c.grpcClient.GetCommand(c.authenticated(ctx), &catalogpb.CommandRequest{Name: name})
		if err == nil {
			c.breaker.RecordSuccess()
			def, convErr := entryToDef(&catalogpb.CommandEntry{
				Name: resp.Name, Type: resp.Type, InterfaceJson: resp.InterfaceJson,
				Code: resp.Code, Hash: resp.Hash,
			})
			if convErr != nil {
				return nil, &domain.ExecutionError{Node: name, Err: convErr}
			}
			return def, nil
		}
		if status.Code(err) == codes.NotFound {
			c.breaker.RecordSuccess() // engine answered; NOT_FOUND isn't a transport failure
		} else {
			c.breaker.RecordFailure()
			logging.Op().Warn("catalog GetCommand transport error, falling back to db", "command", name, "error", err)
		}
	}

	return c.dbFallback(ctx, name)
}

// dbFallback implements §4.C's two-table fallback: a pre-packed
// avap_bytecode row is used as-is; otherwise obex_dapl_functions holds
// raw source + interface, which is packed and written back to
// avap_bytecode so later lookups are pre-packed. The two table reads
// run concurrently since neither depends on the other's result.
func (c *Client) dbFallback(ctx context.Context, name string) (*domain.CommandDef, error) {
	if c.store == nil {
		return nil, &domain.CommandNotFoundError{Name: name}
	}

	var bcRow *store.BytecodeRow
	var fnRow *store.FunctionRow

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		bcRow, err = c.store.GetBytecode(gctx, name)
		return err
	})
	g.Go(func() error {
		var err error
		fnRow, err = c.store.GetFunction(gctx, name)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("catalog db fallback for %s: %w", name, err)
	}

	if bcRow != nil {
		iface, err := interfaceFromFunctionRow(fnRow)
		if err != nil {
			logging.Op().Warn("pre-packed bytecode has no parseable interface", "command", name)
		}
		return &domain.CommandDef{Name: name, Interface: iface, Code: bcRow.Bytecode, Hash: bcRow.SourceHash}, nil
	}

	if fnRow == nil {
		return nil, &domain.CommandNotFoundError{Name: name}
	}

	iface, err := interfaceFromFunctionRow(fnRow)
	if err != nil {
		return nil, &domain.ExecutionError{Node: name, Err: fmt.Errorf("decode interface: %w", err)}
	}

	packed := c.packer.Pack(fnRow.Code)
	sourceHash := crypto.ScriptHash(fnRow.Code)
	if err := c.store.UpsertBytecode(ctx, store.BytecodeRow{
		CommandName: name,
		Bytecode:    packed,
		SourceHash:  sourceHash,
	}); err != nil {
		logging.Op().Warn("failed to cache packed bytecode", "command", name, "error", err)
	}

	return &domain.CommandDef{Name: name, Interface: iface, Code: packed, Hash: sourceHash}, nil
}

func interfaceFromFunctionRow(row *store.FunctionRow) ([]domain.InterfaceParam, error) {
	if row == nil || row.Interface == "" {
		return nil, nil
	}
	var iface []domain.InterfaceParam
	if err := json.Unmarshal([]byte(row.Interface), &iface); err != nil {
		return nil, err
	}
	return iface, nil
}

func entryToDef(e *catalogpb.CommandEntry) (*domain.CommandDef, error) {
	var iface []domain.InterfaceParam
	if e.InterfaceJson != "" {
		if err := json.Unmarshal([]byte(e.InterfaceJson), &iface); err != nil {
			return nil, fmt.Errorf("decode interface_json for %s: %w", e.Name, err)
		}
	}
	return &domain.CommandDef{
		Name:      e.Name,
		Interface: iface,
		Code:      e.Code,
		Hash:      e.Hash,
		Heavy:     e.Type == "heavy",
	}, nil
}

// ScheduleRefresh drives SyncFull on a timer, off the caller's
// goroutine, until Stop is called. A failed refresh is logged and
// retried on the next tick; the live catalog from the last success
// keeps serving in the meantime.
func (c *Client) ScheduleRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.SyncFull(ctx); err != nil {
					logging.Op().Error("scheduled catalog sync_full failed", "error", err)
				}
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts a running ScheduleRefresh loop.
func (c *Client) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// Snapshot returns the currently live catalog, for diagnostics.
func (c *Client) Snapshot() *domain.Catalog {
	return c.live.Load()
}

// BreakerState reports whether the Definition Engine circuit breaker
// is closed, open, or half-open, for the /health endpoint.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}
