package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avap-run/avapd/internal/circuitbreaker"
	"github.com/avap-run/avapd/internal/compiler"
	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/envelope"
	"github.com/avap-run/avapd/internal/executor"
	"github.com/avap-run/avapd/internal/invoker"
	"github.com/avap-run/avapd/internal/parser"
)

// stubCatalog satisfies executor.CatalogClient without a live
// Definition Engine connection; every script in this file uses only
// stock commands.
type stubCatalog struct{}

func (stubCatalog) Get(ctx context.Context, name string) (*domain.CommandDef, error) {
	return nil, &domain.CommandNotFoundError{Name: name}
}

type fakeRunner struct {
	rc  *domain.Context
	err error
}

func (f *fakeRunner) Run(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error) {
	return f.rc, f.err
}

func newTestServer(runner ScriptRunner) *Server {
	return New(runner, compiler.New([]byte("test-hmac-key")), nil, nil, "test")
}

func TestHandleExecute_Success(t *testing.T) {
	rc := domain.NewContext(map[string]interface{}{}, nil)
	rc.Results["acceso"] = "concedido"
	s := newTestServer(&fakeRunner{rc: rc})

	body, _ := json.Marshal(executeRequest{Script: "addResult(acceso)", Variables: map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp executeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Result["acceso"] != "concedido" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHandleExecute_StatusOverride(t *testing.T) {
	rc := domain.NewContext(map[string]interface{}{domain.StatusVar: int64(201)}, nil)
	s := newTestServer(&fakeRunner{rc: rc})

	body, _ := json.Marshal(executeRequest{Script: "addVar(_status,201)"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
}

func TestHandleExecute_AdmissionTimeoutMapsTo503(t *testing.T) {
	s := newTestServer(&fakeRunner{err: &domain.AdmissionTimeoutError{}})

	body, _ := json.Marshal(executeRequest{Script: "addVar(x,1)"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestHandleExecute_ExecutionTimeoutMapsTo504(t *testing.T) {
	s := newTestServer(&fakeRunner{err: &domain.ExecutionTimeoutError{}})

	body, _ := json.Marshal(executeRequest{Script: "addVar(x,1)"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
}

func TestHandleExecute_InvalidBodyIs400(t *testing.T) {
	s := newTestServer(&fakeRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleCompile_Success(t *testing.T) {
	s := newTestServer(&fakeRunner{})

	script := "addVar(x,1)\naddResult(x)"
	body, _ := json.Marshal(compileRequest{Name: "greet", Script: script})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compile", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCompile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp compileResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "compiled" || resp.Name != "greet" {
		t.Errorf("unexpected response: %+v", resp)
	}

	// OptimizedChars must report the rendered DSL source length, not
	// the HMAC-signed packed binary's length (which is always 42 bytes
	// longer than the source it wraps).
	p := parser.New()
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	result, err := s.compiler.Compile(nodes)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	wantChars := len(result.Source)
	if resp.OptimizedChars != wantChars {
		t.Errorf("OptimizedChars = %d, want %d (rendered source length, not %d for packed bytecode)", resp.OptimizedChars, wantChars, len(result.Bytecode))
	}
	if resp.OptimizedChars == len(result.Bytecode) {
		t.Errorf("OptimizedChars matches packed bytecode length (%d); expected source length", len(result.Bytecode))
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy (no catalog wired)", body["status"])
	}
	if body["definition_engine_breaker"] != "unmonitored" {
		t.Errorf("definition_engine_breaker = %v, want unmonitored", body["definition_engine_breaker"])
	}
}

type fakeCatalogHealth struct{ state circuitbreaker.State }

func (f fakeCatalogHealth) BreakerState() circuitbreaker.State { return f.state }

func TestHandleHealth_DegradedWhenBreakerOpen(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	s.SetCatalogHealth(fakeCatalogHealth{state: circuitbreaker.StateOpen})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
	if body["definition_engine_breaker"] != "open" {
		t.Errorf("definition_engine_breaker = %v, want open", body["definition_engine_breaker"])
	}
}

// TestHandleExecute_Scenario6_TryStatusOverride reproduces spec §8
// scenario 6 end to end: a real envelope+executor+invoker chain (no
// fakeRunner) runs a script wrapping a failing RequestGet in try(),
// setting _status and mensaje_salida from the caught error, and the
// HTTP surface must answer 500 with the resulting result payload.
func TestHandleExecute_Scenario6_TryStatusOverride(t *testing.T) {
	inv := invoker.New([]byte("test-hmac-key"))
	ex := executor.New(stubCatalog{}, inv, 100, 0)
	env := envelope.New(ex, 0, 0, 0)
	s := New(env, compiler.New([]byte("test-hmac-key")), nil, nil, "test")

	script := "try()\n" +
		"RequestGet(\"http://example.invalid/error500\")\n" +
		"exception(err)\n" +
		"addVar(mensaje_salida,\"Error critico detectado\")\n" +
		"addVar(_status,500)\n" +
		"addResult(mensaje_salida)"

	body, _ := json.Marshal(executeRequest{Script: script, Variables: map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/execute", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleExecute(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body=%s", w.Code, w.Body.String())
	}
	var resp executeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Errorf("success = false, want true (try() should have caught the RequestGet failure): error=%s", resp.Error)
	}
	if resp.Result["mensaje_salida"] != "Error critico detectado" {
		t.Errorf("result.mensaje_salida = %v, want \"Error critico detectado\"", resp.Result["mensaje_salida"])
	}
}

func TestHandleRoot_RedirectsToHealth(t *testing.T) {
	s := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	s.handleRoot(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/health" {
		t.Errorf("Location = %q, want /health", loc)
	}
}
