package parser

import (
	"testing"

	"github.com/avap-run/avapd/internal/domain"
)

func TestParseAssignmentAndResult(t *testing.T) {
	p := New()
	nodes, err := p.Parse("addVar(numero, 123.45)\naddResult(numero)")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[0].Type != domain.NodeCommand || nodes[0].Name != "addVar" {
		t.Fatalf("unexpected first node: %+v", nodes[0])
	}
	if nodes[0].Properties[0] != "numero" || nodes[0].Properties[1] != "123.45" {
		t.Fatalf("unexpected properties: %v", nodes[0].Properties)
	}
}

func TestParseIfElse(t *testing.T) {
	p := New()
	script := `addVar(rol,"admin")
if(rol,"admin",=)
addVar(acceso,"concedido")
else()
addVar(acceso,"denegado")
end()
addResult(acceso)`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected 3 top-level nodes, got %d", len(nodes))
	}
	ifNode := nodes[1]
	if ifNode.Type != domain.NodeIf {
		t.Fatalf("expected if node, got %v", ifNode.Type)
	}
	if len(ifNode.Branches[true]) != 1 || len(ifNode.Branches[false]) != 1 {
		t.Fatalf("expected one statement per branch, got true=%d false=%d",
			len(ifNode.Branches[true]), len(ifNode.Branches[false]))
	}
}

func TestParseLoop(t *testing.T) {
	p := New()
	script := `addVar(limite,3)
startLoop(i,1,limite)
ticket = "T-" + str(i)
addVar(ultimo_ticket, ticket)
endLoop()
addResult(ultimo_ticket)`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	loopNode := nodes[1]
	if loopNode.Type != domain.NodeLoop {
		t.Fatalf("expected loop node, got %v", loopNode.Type)
	}
	if len(loopNode.Sequence) != 2 {
		t.Fatalf("expected 2 body nodes, got %d", len(loopNode.Sequence))
	}
	if loopNode.Sequence[0].Type != domain.NodeAssign {
		t.Fatalf("expected assign node, got %v", loopNode.Sequence[0].Type)
	}
}

func TestParseFunctionDefinition(t *testing.T) {
	p := New()
	script := `function double(x) {
return x * 2
}
addVar(y, double(21))`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 top-level node, got %d", len(nodes))
	}
	fn, ok := p.Functions["double"]
	if !ok {
		t.Fatal("expected function 'double' to be registered")
	}
	if len(fn.Params) != 1 || fn.Params[0] != "x" {
		t.Fatalf("unexpected params: %v", fn.Params)
	}
	if fn.Return != "x * 2" {
		t.Fatalf("unexpected return sentinel: %q", fn.Return)
	}
}

func TestParseUnterminatedFunctionIsError(t *testing.T) {
	p := New()
	_, err := p.Parse("function f(x) {\nreturn x")
	if err == nil {
		t.Fatal("expected parse error for unterminated function body")
	}
	if _, ok := err.(*domain.ParseError); !ok {
		t.Fatalf("expected *domain.ParseError, got %T", err)
	}
}

func TestParseUnmatchedEndIsError(t *testing.T) {
	p := New()
	if _, err := p.Parse("end()"); err == nil {
		t.Fatal("expected parse error for unmatched end()")
	}
}

func TestParseQueryParamScript(t *testing.T) {
	p := New()
	script := `addParam(user, usuario)
addResult(usuario)`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if nodes[0].Name != "addParam" || nodes[0].Properties[1] != "usuario" {
		t.Fatalf("unexpected node: %+v", nodes[0])
	}
}
