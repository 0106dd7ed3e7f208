// Package compiler turns a parsed script into bytecode ready for the
// packer: it runs a constant-folding and dead-branch optimizer over
// the AST, serializes the result back to the DSL's own text form, and
// hands the text to the bytecode packer for HMAC-signed framing.
package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/evalexpr"
	"github.com/avap-run/avapd/internal/packer"
	"github.com/avap-run/avapd/internal/pkg/crypto"
)

// Result is what Compile hands back: the signed bytecode package ready
// to ship to a caller, the rendered optimized source it was packed
// from, and the hash used as the AST cache key.
type Result struct {
	Bytecode   []byte
	Source     string
	SourceHash string
}

// Compiler optimizes and packs scripts. A Compiler is stateless and
// safe for concurrent use; all state lives in the Packer it wraps.
type Compiler struct {
	packer *packer.Packer
}

// New creates a Compiler that signs packages with key.
func New(key []byte) *Compiler {
	return &Compiler{packer: packer.New(key)}
}

// Compile optimizes nodes, re-renders them as DSL source, and packs
// the result. The returned SourceHash is computed over the optimized
// source, not the original, so that two scripts differing only in
// constant-foldable dead code share a cache entry.
func (c *Compiler) Compile(nodes []*domain.Node) (*Result, error) {
	optimized := OptimizeSequence(nodes)
	source := Render(optimized)
	return &Result{
		Bytecode:   c.packer.Pack(source),
		Source:     source,
		SourceHash: crypto.ScriptHash(source),
	}, nil
}

// Optimize applies constant folding and dead-branch elimination to a
// single node, returning its replacement (or itself, unchanged).
// Mirrors the two visitors an ast.NodeTransformer would apply: fold
// constant binary expressions in assign/command arguments, then drop
// the branch of an if whose test is itself a constant.
func Optimize(n *domain.Node) []*domain.Node {
	switch n.Type {
	case domain.NodeAssign:
		n.Properties[0] = foldExpr(n.Properties[0])
		return []*domain.Node{n}

	case domain.NodeCommand:
		for i, p := range n.Properties {
			n.Properties[i] = foldExpr(p)
		}
		return []*domain.Node{n}

	case domain.NodeIf:
		n.Branches[true] = OptimizeSequence(n.Branches[true])
		n.Branches[false] = OptimizeSequence(n.Branches[false])
		if len(n.Properties) == 3 {
			if v, ok := constantCompare(n.Properties); ok {
				if v {
					return n.Branches[true]
				}
				return n.Branches[false]
			}
		}
		return []*domain.Node{n}

	case domain.NodeLoop:
		n.Sequence = OptimizeSequence(n.Sequence)
		return []*domain.Node{n}

	default:
		return []*domain.Node{n}
	}
}

// OptimizeSequence runs Optimize over a statement list, flattening any
// node that dead-branch elimination replaced with a sub-sequence.
func OptimizeSequence(nodes []*domain.Node) []*domain.Node {
	var out []*domain.Node
	for _, n := range nodes {
		out = append(out, Optimize(n)...)
	}
	return out
}

// foldExpr constant-folds a bare arithmetic expression with no
// variable references. Anything that depends on scope, or that fails
// to evaluate, is returned unchanged: optimization is best-effort and
// never changes program behavior.
func foldExpr(expr string) string {
	if !looksConstant(expr) {
		return expr
	}
	v, err := evalexpr.Eval(expr, map[string]interface{}{})
	if err != nil {
		return expr
	}
	return evalexpr.ToString(v)
}

// looksConstant is a cheap pre-filter: an expression with no letters
// can't reference a variable or call a builtin, so it's safe to try
// folding. This avoids paying for a failed Eval on every plain
// identifier or string literal that happens to contain an operator.
func looksConstant(expr string) bool {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return false
	}
	hasOp := false
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '(', r == ')', r == ' ':
		case r == '+' || r == '-' || r == '*' || r == '/' || r == '%':
			hasOp = true
		default:
			return false
		}
	}
	return hasOp
}

// constantCompare evaluates a three-token if(lhs, rhs, op) test when
// both lhs and rhs are numeric or quoted-string literals. Returns
// ok=false if either side could be a variable reference, since only
// then is the outcome knowable at compile time.
func constantCompare(props []string) (result bool, ok bool) {
	lhs, lhsOK := literalValue(props[0])
	rhs, rhsOK := literalValue(props[1])
	if !lhsOK || !rhsOK {
		return false, false
	}
	switch props[2] {
	case "=", "==":
		return lhs == rhs, true
	case "!=":
		return lhs != rhs, true
	}
	lf, lerr := strconv.ParseFloat(lhs, 64)
	rf, rerr := strconv.ParseFloat(rhs, 64)
	if lerr != nil || rerr != nil {
		return false, false
	}
	switch props[2] {
	case ">":
		return lf > rf, true
	case "<":
		return lf < rf, true
	case ">=":
		return lf >= rf, true
	case "<=":
		return lf <= rf, true
	}
	return false, false
}

func literalValue(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", false
	}
	if len(tok) >= 2 && ((tok[0] == '"' && tok[len(tok)-1] == '"') || (tok[0] == '\'' && tok[len(tok)-1] == '\'')) {
		return tok[1 : len(tok)-1], true
	}
	if _, err := strconv.ParseFloat(tok, 64); err == nil {
		return tok, true
	}
	return "", false
}

// Render serializes an optimized AST back to DSL source text. It does
// not need to be byte-for-byte identical to what the parser would
// have accepted, only re-parseable, since the only consumer is the
// packer and, eventually, the executor's cache-miss path.
func Render(nodes []*domain.Node) string {
	var sb strings.Builder
	renderSequence(&sb, nodes)
	return strings.TrimRight(sb.String(), "\n")
}

func renderSequence(sb *strings.Builder, nodes []*domain.Node) {
	for _, n := range nodes {
		renderNode(sb, n)
	}
}

func renderNode(sb *strings.Builder, n *domain.Node) {
	switch n.Type {
	case domain.NodeAssign:
		fmt.Fprintf(sb, "%s = %s\n", n.Target, n.Properties[0])

	case domain.NodeReturn:
		fmt.Fprintf(sb, "return %s\n", n.Properties[0])

	case domain.NodeCommand:
		if n.Target != "" {
			fmt.Fprintf(sb, "%s = %s(%s)\n", n.Target, n.Name, strings.Join(n.Properties, ", "))
		} else {
			fmt.Fprintf(sb, "%s(%s)\n", n.Name, strings.Join(n.Properties, ", "))
		}

	case domain.NodeIf:
		fmt.Fprintf(sb, "if(%s)\n", strings.Join(n.Properties, ", "))
		renderSequence(sb, n.Branches[true])
		if len(n.Branches[false]) > 0 {
			sb.WriteString("else()\n")
			renderSequence(sb, n.Branches[false])
		}
		sb.WriteString("end()\n")

	case domain.NodeLoop:
		fmt.Fprintf(sb, "startLoop(%s)\n", strings.Join(n.Properties, ", "))
		renderSequence(sb, n.Sequence)
		sb.WriteString("endLoop()\n")
	}
}
