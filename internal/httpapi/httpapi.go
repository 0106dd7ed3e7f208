// Package httpapi implements the HTTP Surface (spec §4.G / §6):
// POST /api/v1/execute, POST /api/v1/compile, GET /health, GET /metrics,
// and GET / (redirect to /health).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/avap-run/avapd/internal/catalog"
	"github.com/avap-run/avapd/internal/circuitbreaker"
	"github.com/avap-run/avapd/internal/compiler"
	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/logging"
	"github.com/avap-run/avapd/internal/logsink"
	"github.com/avap-run/avapd/internal/metrics"
	"github.com/avap-run/avapd/internal/observability"
	"github.com/avap-run/avapd/internal/parser"
	"github.com/avap-run/avapd/internal/pkg/crypto"
	"github.com/avap-run/avapd/internal/store"
	"github.com/google/uuid"
)

// ScriptRunner is the subset of envelope.Envelope the HTTP surface
// depends on.
type ScriptRunner interface {
	Run(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error)
}

// BytecodeStore is the subset of store.Store the /compile endpoint
// depends on.
type BytecodeStore interface {
	UpsertBytecode(ctx context.Context, row store.BytecodeRow) error
}

// CacheInvalidator is the subset of cache.CacheInvalidator the
// /compile endpoint depends on: when a command is re-packed here, any
// other worker's shared command cache (internal/cache, wired through
// catalog.CachedClient) is holding a now-stale copy under the
// command's catalog.CacheKey until it times out on its own. Publishing an
// invalidation collapses that window to the Pub/Sub round trip instead
// of the cache's TTL.
type CacheInvalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
}

// CatalogHealth is the subset of catalog.Client the /health endpoint
// depends on to report whether the Definition Engine is reachable.
type CatalogHealth interface {
	BreakerState() circuitbreaker.State
}

// Server wires the envelope and compiler behind the public HTTP
// surface. The zero value is not usable; construct with New.
type Server struct {
	runner      ScriptRunner
	compiler    *compiler.Compiler
	store       BytecodeStore
	logs        logsink.LogSink
	invalidator CacheInvalidator
	catalog     CatalogHealth
	version     string
}

// New creates a Server. store may be nil, in which case /compile still
// compiles and packs but does not persist the result (used in tests
// and in deployments running without a catalog database). logs may be
// nil, in which case invocation logging is skipped.
func New(runner ScriptRunner, comp *compiler.Compiler, st BytecodeStore, logs logsink.LogSink, version string) *Server {
	if logs == nil {
		logs = logsink.NewNoopSink()
	}
	return &Server{runner: runner, compiler: comp, store: st, logs: logs, version: version}
}

// SetInvalidator wires a cross-worker cache invalidator into the
// /compile handler. Optional: with none set, compiled commands still
// persist, but sibling workers' shared command cache entries age out
// on their own TTL instead of being evicted immediately.
func (s *Server) SetInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

// SetCatalogHealth wires the Definition Engine catalog client so
// /health can report circuit breaker state. Optional: with none set,
// /health reports "healthy" unconditionally.
func (s *Server) SetCatalogHealth(c CatalogHealth) {
	s.catalog = c
}

// Routes registers the HTTP surface on mux. /api/v1/compile gets its
// own named span (observability.TracingHandler) distinct from the
// blanket per-request span HTTPMiddleware creates for every route, so
// a slow compile shows up by name in trace search rather than as an
// undifferentiated "POST /api/v1/compile".
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/api/v1/execute", s.handleExecute)
	mux.HandleFunc("/api/v1/compile", observability.TracingHandler("compile_script", s.handleCompile))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/health", http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.catalog != nil && s.catalog.BreakerState() != circuitbreaker.StateClosed {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                    status,
		"service":                   "avapd",
		"version":                   s.version,
		"definition_engine_breaker": breakerStateLabel(s),
	})
}

func breakerStateLabel(s *Server) string {
	if s.catalog == nil {
		return "unmonitored"
	}
	return s.catalog.BreakerState().String()
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Global().JSONHandler().ServeHTTP(w, r)
}

type executeRequest struct {
	Script    string                 `json:"script"`
	Variables map[string]interface{} `json:"variables"`
}

type executeResponse struct {
	Success   bool                   `json:"success"`
	Result    map[string]interface{} `json:"result"`
	Variables map[string]interface{} `json:"variables"`
	Logs      []domain.LogEntry      `json:"logs"`
	Error     string                 `json:"error,omitempty"`
}

// handleExecute implements POST /api/v1/execute (spec §6): body
// {script, variables}, response {success, result, variables, logs},
// status 200 by default overridden by variables["_status"], 400 on
// script error, 503/504 mapped from the envelope's own error types.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, executeResponse{Success: false, Error: "invalid request body: " + err.Error()})
		return
	}
	if req.Variables == nil {
		req.Variables = make(map[string]interface{})
	}

	requestID := uuid.NewString()
	t0 := time.Now()
	rc, err := s.runner.Run(r.Context(), req.Script, req.Variables, r)
	elapsed := time.Since(t0).Milliseconds()

	opLog := logging.OpWithTrace(observability.GetTraceID(r.Context()), observability.GetSpanID(r.Context()))

	if err != nil {
		status := statusForError(err)
		metrics.Global().RecordRequest(false, elapsed)
		opLog.Warn("execute failed", "error", err, "status", status)
		s.saveInvocationLog(r.Context(), requestID, req.Script, elapsed, false, err.Error(), status)

		resp := executeResponse{Success: false, Error: err.Error()}
		if rc != nil {
			resp.Variables = rc.Variables
			resp.Result = rc.Results
			resp.Logs = rc.Logs
		}
		writeJSON(w, status, resp)
		return
	}

	metrics.Global().RecordRequest(true, elapsed)
	status := statusOverride(rc.Variables)
	s.saveInvocationLog(r.Context(), requestID, req.Script, elapsed, true, "", status)
	writeJSON(w, status, executeResponse{
		Success:   true,
		Result:    rc.Results,
		Variables: rc.Variables,
		Logs:      rc.Logs,
	})
}

// saveInvocationLog persists a durable record of the call (spec
// SUPPLEMENTED FEATURE 4). Failures are logged, not surfaced — log
// persistence must never fail the request it is describing.
func (s *Server) saveInvocationLog(ctx context.Context, requestID, script string, durationMs int64, success bool, errMsg string, status int) {
	log := &store.InvocationLog{
		ID:         requestID,
		RequestID:  requestID,
		ScriptHash: crypto.ScriptHash(script),
		DurationMs: durationMs,
		Success:    success,
		Error:      errMsg,
		Status:     status,
	}
	if err := s.logs.Save(ctx, log); err != nil {
		logging.Op().Error("failed to persist invocation log", "request_id", requestID, "error", err)
	}
}

// statusForError maps the error kinds in spec §7 to an HTTP status.
// Errors only reach here when they escaped a try() scope.
func statusForError(err error) int {
	switch err.(type) {
	case *domain.AdmissionTimeoutError:
		return http.StatusServiceUnavailable
	case *domain.ExecutionTimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

// statusOverride implements "HTTP status override" (spec §4.F): if
// variables["_status"] is an integer in [100,599], use it; else 200.
func statusOverride(variables map[string]interface{}) int {
	raw, ok := variables[domain.StatusVar]
	if !ok {
		return http.StatusOK
	}
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	default:
		return http.StatusOK
	}
	if n < 100 || n > 599 {
		return http.StatusOK
	}
	return int(n)
}

type compileRequest struct {
	Name   string `json:"name"`
	Script string `json:"script"`
}

type compileResponse struct {
	Status         string `json:"status"`
	Name           string `json:"name"`
	OriginalChars  int    `json:"original_chars"`
	OptimizedChars int    `json:"optimized_chars"`
	Error          string `json:"error,omitempty"`
}

// handleCompile implements POST /api/v1/compile (spec §6): parse,
// optimize, pack, and upsert into avap_bytecode.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, compileResponse{Status: "error", Error: "invalid request body: " + err.Error()})
		return
	}

	p := parser.New()
	nodes, err := p.Parse(req.Script)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, compileResponse{Status: "error", Name: req.Name, Error: err.Error()})
		return
	}

	result, err := s.compiler.Compile(nodes)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, compileResponse{Status: "error", Name: req.Name, Error: err.Error()})
		return
	}

	if s.store != nil {
		if err := s.store.UpsertBytecode(r.Context(), store.BytecodeRow{
			CommandName: req.Name,
			Bytecode:    result.Bytecode,
			SourceHash:  result.SourceHash,
		}); err != nil {
			logging.Op().Error("compile: failed to persist bytecode", "name", req.Name, "error", err)
			writeJSON(w, http.StatusInternalServerError, compileResponse{Status: "error", Name: req.Name, Error: "persist bytecode: " + err.Error()})
			return
		}
		if s.invalidator != nil {
			if err := s.invalidator.PublishInvalidation(r.Context(), catalog.CacheKey(req.Name)); err != nil {
				logging.Op().Warn("compile: failed to publish cache invalidation", "name", req.Name, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, compileResponse{
		Status:         "compiled",
		Name:           req.Name,
		OriginalChars:  len(req.Script),
		OptimizedChars: len(result.Source),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
