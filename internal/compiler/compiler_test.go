package compiler

import (
	"testing"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/parser"
)

func TestOptimizeConstantFoldsAssign(t *testing.T) {
	p := parser.New()
	nodes, err := p.Parse("x = 2 * (3 + 4)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := OptimizeSequence(nodes)
	if out[0].Properties[0] != "14" {
		t.Fatalf("expected folded constant 14, got %q", out[0].Properties[0])
	}
}

func TestOptimizeDeadBranchElimination(t *testing.T) {
	p := parser.New()
	script := `if(1,1,=)
addVar(a,1)
else()
addVar(a,2)
end()`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := OptimizeSequence(nodes)
	if len(out) != 1 {
		t.Fatalf("expected dead branch eliminated down to 1 node, got %d", len(out))
	}
	if out[0].Type != domain.NodeCommand || out[0].Properties[1] != "1" {
		t.Fatalf("expected the true branch to survive, got %+v", out[0])
	}
}

func TestOptimizePreservesVariableIf(t *testing.T) {
	p := parser.New()
	script := `if(rol,"admin",=)
addVar(acceso,1)
end()`
	nodes, err := p.Parse(script)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := OptimizeSequence(nodes)
	if len(out) != 1 || out[0].Type != domain.NodeIf {
		t.Fatalf("expected the if to survive since rol is a variable, got %+v", out)
	}
}

func TestCompileRoundTripsThroughPacker(t *testing.T) {
	p := parser.New()
	nodes, err := p.Parse("addVar(numero, 1 + 2)\naddResult(numero)")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := New([]byte("test-key"))
	res, err := c.Compile(nodes)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(res.SourceHash) != 64 {
		t.Fatalf("expected 64-hex-char source hash, got %d chars", len(res.SourceHash))
	}
	if len(res.Bytecode) < 42 {
		t.Fatalf("expected bytecode to carry the packer header, got %d bytes", len(res.Bytecode))
	}
	if res.Source == "" {
		t.Fatalf("expected Source to hold the rendered optimized text")
	}
	if len(res.Bytecode) != len(res.Source)+42 {
		t.Fatalf("bytecode length %d should be Source length %d plus the 42-byte packer header", len(res.Bytecode), len(res.Source))
	}
}
