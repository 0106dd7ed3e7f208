package invoker

import (
	"testing"

	"github.com/avap-run/avapd/internal/domain"
)

func newTestBridge() *Bridge {
	return &Bridge{Conector: &domain.Conector{
		Variables: make(map[string]interface{}),
		Results:   make(map[string]interface{}),
	}}
}

func TestAddVarAndAddResult(t *testing.T) {
	bridge := newTestBridge()

	addVarTask := &Task{Properties: map[string]interface{}{"0": "numero", "1": "42"}}
	if err := (addVarCommand{}).Execute(addVarTask, bridge); err != nil {
		t.Fatalf("addVar: %v", err)
	}
	if bridge.Conector.Variables["numero"] != int64(42) {
		t.Fatalf("expected numero=42, got %v", bridge.Conector.Variables["numero"])
	}

	addResultTask := &Task{Properties: map[string]interface{}{"0": "numero"}}
	if err := (addResultCommand{}).Execute(addResultTask, bridge); err != nil {
		t.Fatalf("addResult: %v", err)
	}
	if bridge.Conector.Results["numero"] != int64(42) {
		t.Fatalf("expected result numero=42, got %v", bridge.Conector.Results["numero"])
	}
}

func TestIfCommandDispatchesMatchingBranch(t *testing.T) {
	bridge := newTestBridge()
	bridge.Conector.Variables["rol"] = "admin"

	var visited []string
	bridge.ProcessStep = func(node *domain.Node) (interface{}, error) {
		visited = append(visited, node.Name)
		return nil, nil
	}

	task := &Task{
		Properties: map[string]interface{}{"0": "rol", "1": "admin", "2": "="},
		Branches: map[bool][]*domain.Node{
			true:  {{Type: domain.NodeCommand, Name: "addVar"}},
			false: {{Type: domain.NodeCommand, Name: "should-not-run"}},
		},
	}
	if err := (ifCommand{}).Execute(task, bridge); err != nil {
		t.Fatalf("if: %v", err)
	}
	if len(visited) != 1 || visited[0] != "addVar" {
		t.Fatalf("expected only the true branch to run, got %v", visited)
	}
}

func TestTryExceptionRoundTrip(t *testing.T) {
	bridge := newTestBridge()
	if err := (tryCommand{}).Execute(&Task{}, bridge); err != nil {
		t.Fatalf("try: %v", err)
	}
	if bridge.Conector.TryLevel != 1 {
		t.Fatalf("expected try level 1, got %d", bridge.Conector.TryLevel)
	}

	bridge.Conector.Variables["__last_error__"] = "boom"
	task := &Task{Properties: map[string]interface{}{"0": "err"}}
	if err := (exceptionCommand{}).Execute(task, bridge); err != nil {
		t.Fatalf("exception: %v", err)
	}
	if bridge.Conector.Variables["err"] != "boom" {
		t.Fatalf("expected err=boom, got %v", bridge.Conector.Variables["err"])
	}
	if bridge.Conector.TryLevel != 0 {
		t.Fatalf("expected try level back to 0, got %d", bridge.Conector.TryLevel)
	}
}

func TestInvokerInvokeVerifiesAndDispatches(t *testing.T) {
	inv := New([]byte("k"))
	p := packerFor(t, inv)
	def := &domain.CommandDef{Name: "addVar", Code: p}

	bridge := newTestBridge()
	task := &Task{Properties: map[string]interface{}{"0": "x", "1": "1"}}
	if err := inv.Invoke(def, task, bridge); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if bridge.Conector.Variables["x"] != int64(1) {
		t.Fatalf("expected x=1, got %v", bridge.Conector.Variables["x"])
	}
}

func TestInvokerUnknownCommand(t *testing.T) {
	inv := New([]byte("k"))
	p := packerFor(t, inv)
	def := &domain.CommandDef{Name: "doesNotExist", Code: p}
	if err := inv.Invoke(def, &Task{}, newTestBridge()); err == nil {
		t.Fatal("expected CommandNotFoundError")
	}
}

func packerFor(t *testing.T, inv *Invoker) []byte {
	t.Helper()
	return inv.packer.Pack("noop")
}
