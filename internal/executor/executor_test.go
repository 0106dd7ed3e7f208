package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/invoker"
)

// stubCatalog is never consulted by these tests — every command used
// is part of the stock registry — but Executor requires a CatalogClient.
type stubCatalog struct{}

func (stubCatalog) Get(ctx context.Context, name string) (*domain.CommandDef, error) {
	return nil, &domain.CommandNotFoundError{Name: name}
}

func newTestExecutor() *Executor {
	return New(stubCatalog{}, invoker.New([]byte("test-hmac-key")), 100, 0)
}

func TestExecuteScript_AssignmentAndResult(t *testing.T) {
	script := "addVar(numero, 123.45)\naddResult(numero)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Variables["numero"] != 123.45 {
		t.Errorf("variables.numero = %v, want 123.45", rc.Variables["numero"])
	}
	if rc.Results["numero"] != 123.45 {
		t.Errorf("result.numero = %v, want 123.45", rc.Results["numero"])
	}
}

func TestExecuteScript_IfElse(t *testing.T) {
	script := "addVar(rol,\"admin\")\n" +
		"if(rol,\"admin\",=)\n" +
		"  addVar(acceso,\"concedido\")\n" +
		"else()\n" +
		"  addVar(acceso,\"denegado\")\n" +
		"end()\n" +
		"addResult(acceso)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Results["acceso"] != "concedido" {
		t.Errorf("result.acceso = %v, want concedido", rc.Results["acceso"])
	}
}

func TestExecuteScript_LoopWithVariableBound(t *testing.T) {
	script := "addVar(limite,3)\n" +
		"startLoop(i,1,limite)\n" +
		"  ticket = \"T-\" + str(i)\n" +
		"  addVar(ultimo_ticket, ticket)\n" +
		"endLoop()\n" +
		"addResult(ultimo_ticket)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Variables["ultimo_ticket"] != "T-3" {
		t.Errorf("variables.ultimo_ticket = %v, want T-3", rc.Variables["ultimo_ticket"])
	}
}

func TestExecuteScript_QueryParameterBinding(t *testing.T) {
	script := "addParam(user, usuario)\naddResult(usuario)"
	ex := newTestExecutor()

	req := httptest.NewRequest("POST", "/api/v1/execute?user=rafa_test", nil)
	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Results["usuario"] != "rafa_test" {
		t.Errorf("result.usuario = %v, want rafa_test", rc.Results["usuario"])
	}
}

func TestExecuteScript_FullIntegration(t *testing.T) {
	script := "addParam(limit,max)\n" +
		"if(max,0,>)\n" +
		"  startLoop(idx,1,max)\n" +
		"    val = idx*10\n" +
		"    addVar(tmp,val)\n" +
		"  endLoop()\n" +
		"  addVar(final,\"completado\")\n" +
		"else()\n" +
		"  addVar(final,\"error\")\n" +
		"end()\n" +
		"addResult(final)\n" +
		"addResult(tmp)"
	ex := newTestExecutor()

	req := httptest.NewRequest("POST", "/api/v1/execute?limit=4", nil)
	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Results["final"] != "completado" {
		t.Errorf("result.final = %v, want completado", rc.Results["final"])
	}
	if rc.Results["tmp"] != int64(40) {
		t.Errorf("result.tmp = %v, want 40", rc.Results["tmp"])
	}
}

func TestExecuteScript_TryCatchSwallowsError(t *testing.T) {
	script := "try()\n" +
		"unknownCommand(x)\n" +
		"exception(err)\n" +
		"addResult(err)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v (try should have caught it)", err)
	}
	if rc.Results["err"] == "" || rc.Results["err"] == nil {
		t.Errorf("result.err not populated from __last_error__")
	}
	if rc.TryLevel != 0 {
		t.Errorf("TryLevel = %d, want 0 after exception()", rc.TryLevel)
	}
}

func TestExecuteScript_UncaughtErrorPropagates(t *testing.T) {
	script := "unknownCommand(x)"
	ex := newTestExecutor()

	_, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err == nil {
		t.Fatal("expected error to propagate without a try() scope")
	}
}

func TestExecuteScript_LoopZeroIterationsWhenFromGreaterThanTo(t *testing.T) {
	script := "startLoop(i,5,1)\n" +
		"  addVar(hit,\"yes\")\n" +
		"endLoop()\n" +
		"addResult(ran)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rc.Variables["hit"]; ok {
		t.Errorf("loop body ran despite from > to")
	}
}

func TestExecuteScript_UserDefinedFunction(t *testing.T) {
	script := "function double(n) {\n" +
		"  doubled = n*2\n" +
		"  return doubled\n" +
		"}\n" +
		"result = double(21)\n" +
		"addResult(result)"
	ex := newTestExecutor()

	rc, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.Results["result"] != int64(42) {
		t.Errorf("result.result = %v, want 42", rc.Results["result"])
	}
}

func TestExecuteScript_ASTCacheReused(t *testing.T) {
	script := "addVar(x,1)\naddResult(x)"
	ex := newTestExecutor()

	if _, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if ex.cache.Len() != 1 {
		t.Fatalf("cache.Len() = %d, want 1 after first parse", ex.cache.Len())
	}
	if _, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ex.cache.Len() != 1 {
		t.Errorf("cache.Len() = %d, want 1 after cache hit (no duplicate insert)", ex.cache.Len())
	}
}

// TestExecuteScript_HeavyCommandDeadline exercises §4.E's heavy-command
// deadline: RequestGet is the one stock command tagged Heavy, and a
// slow downstream server must not be allowed to stall the script past
// the executor's own heavyTimeout.
func TestExecuteScript_HeavyCommandDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := invoker.New([]byte("test-hmac-key"))
	inv.Register("RequestGet", invoker.NewRequestGet(&http.Client{Timeout: time.Second}, nil))
	ex := New(stubCatalog{}, inv, 100, 20*time.Millisecond)

	script := `RequestGet("` + srv.URL + `")`
	start := time.Now()
	_, err := ex.ExecuteScript(context.Background(), script, map[string]interface{}{}, nil)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected ExecutionTimeoutError, got nil")
	}
	if _, ok := err.(*domain.ExecutionTimeoutError); !ok {
		t.Fatalf("err = %T (%v), want *domain.ExecutionTimeoutError", err, err)
	}
	if elapsed >= 150*time.Millisecond {
		t.Errorf("ExecuteScript took %v, want well under the server's 200ms sleep (deadline should have fired first)", elapsed)
	}
}
