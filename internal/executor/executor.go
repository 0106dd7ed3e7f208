// Package executor implements the AST Executor (spec §4.D): it walks a
// parsed script against a mutable per-request context, resolving
// arguments and dispatching every node to either a native control-flow
// handler (assign, return, if, startLoop, function call) or the
// Command Invoker.
package executor

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/evalexpr"
	"github.com/avap-run/avapd/internal/invoker"
	"github.com/avap-run/avapd/internal/observability"
	"github.com/avap-run/avapd/internal/parser"
	"github.com/avap-run/avapd/internal/pkg/crypto"
)

// CatalogClient is the subset of catalog.Client the executor depends
// on, so tests can substitute a stub without a live gRPC connection or
// database.
type CatalogClient interface {
	Get(ctx context.Context, name string) (*domain.CommandDef, error)
}

// Executor turns scripts into executed contexts. One Executor serves
// every request in a worker process; it holds no per-request state.
type Executor struct {
	catalog      CatalogClient
	invoker      *invoker.Invoker
	cache        *astCache
	heavyTimeout time.Duration
}

// New creates an Executor. heavyTimeout bounds a heavy command's own
// deadline (spec §4.E default 500ms); cacheSize bounds the parsed-AST
// cache (spec §4.D default 1000).
func New(catalog CatalogClient, inv *invoker.Invoker, cacheSize int, heavyTimeout time.Duration) *Executor {
	if heavyTimeout <= 0 {
		heavyTimeout = 500 * time.Millisecond
	}
	return &Executor{
		catalog:      catalog,
		invoker:      inv,
		cache:        newASTCache(cacheSize),
		heavyTimeout: heavyTimeout,
	}
}

// ExecuteScript is the executor's single entry point (spec §4.D
// "Entry"). variables is shared by reference with the returned
// context's Variables map; mutation by the script is intentional.
func (e *Executor) ExecuteScript(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error) {
	hash := crypto.ScriptHash(script)
	ps, ok := e.cache.Get(hash)
	if !ok {
		p := parser.New()
		nodes, err := p.Parse(script)
		if err != nil {
			return nil, err
		}
		ps = &parsedScript{Nodes: nodes, Functions: p.Functions}
		e.cache.Put(hash, ps)
	}

	rc := domain.NewContext(variables, req)
	conector := domain.NewConector(rc)
	r := &run{ex: e, ctx: ctx, rc: rc, conector: conector, functions: ps.Functions}

	for _, node := range ps.Nodes {
		t0 := time.Now()
		_, err := r.execNode(node, nil)
		elapsed := time.Since(t0).Milliseconds()

		if err != nil {
			rc.AppendLog(domain.LogEntry{Command: nodeLabel(node), DurationMs: elapsed, Success: false, Error: err.Error()})
			if conector.TryLevel == 0 {
				rc.TryLevel = conector.TryLevel
				return rc, err
			}
			rc.SetLastError(err.Error())
			continue
		}
		rc.AppendLog(domain.LogEntry{Command: nodeLabel(node), DurationMs: elapsed, Success: true})
	}

	rc.TryLevel = conector.TryLevel
	return rc, nil
}

func nodeLabel(node *domain.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return string(node.Type)
}

// run is the mutable state of one script execution: the request-scoped
// domain context and conector, the function table parsed alongside the
// script, and the caller's context.Context for every network- or
// DB-bound suspension point (catalog lookups).
type run struct {
	ex        *Executor
	ctx       context.Context
	rc        *domain.Context
	conector  *domain.Conector
	functions map[string]*domain.FunctionDef
}

// execNode dispatches a single node per spec §4.D "Node dispatch".
// frame is nil at top level and for bodies reached without crossing a
// function call boundary; it is non-nil inside a pushed function
// frame. A return value of domain.ReturnSentinel signals a `return`
// node fired somewhere in the subtree just executed.
func (r *run) execNode(node *domain.Node, frame *domain.Frame) (interface{}, error) {
	switch node.Type {
	case domain.NodeAssign:
		return nil, r.execAssign(node, frame)

	case domain.NodeReturn:
		expr := ""
		if len(node.Properties) > 0 {
			expr = node.Properties[0]
		}
		scope := domain.Scope(r.rc, frame)
		v, err := evalexpr.Eval(expr, scope)
		if err != nil {
			v = expr
		}
		return domain.ReturnSentinel{Value: v}, nil

	case domain.NodeIf:
		return r.execIf(node, frame)

	case domain.NodeLoop:
		return r.execLoop(node, frame)

	case domain.NodeFuncCall:
		fn, ok := r.functions[node.Name]
		if !ok {
			return nil, &domain.CommandNotFoundError{Name: node.Name}
		}
		return r.execFuncCall(node, frame, fn)

	case domain.NodeCommand:
		if fn, ok := r.functions[node.Name]; ok {
			return r.execFuncCall(node, frame, fn)
		}
		return r.execCommand(node, frame)
	}

	return nil, &domain.ExecutionError{Node: string(node.Type), Err: fmt.Errorf("unknown node type")}
}

// setVar writes to the innermost scope: the active function frame if
// present, otherwise the request's shared variable map.
func (r *run) setVar(name string, val interface{}, frame *domain.Frame) {
	if frame != nil {
		frame.Locals[name] = val
		return
	}
	r.rc.Variables[name] = val
}

// execAssign implements spec §4.D's `assign` dispatch: a call-shaped
// RHS against a known user function dispatches as a function call (the
// parser's naive operator scan sometimes leaves a pure call, e.g. one
// whose argument string contains a literal "-", classified as assign
// instead of command — this recovers that case); otherwise the full
// expression is evaluated, falling back to a bare variable lookup, and
// finally to the raw text.
func (r *run) execAssign(node *domain.Node, frame *domain.Frame) error {
	expr := strings.TrimSpace(node.Properties[0])

	if name, argsPart, ok := callShape(expr); ok {
		if fn, isFunc := r.functions[name]; isFunc {
			argTokens, err := parser.SplitArgs(argsPart)
			if err != nil {
				return &domain.ExecutionError{Node: node.Target, Err: err}
			}
			callNode := &domain.Node{Type: domain.NodeFuncCall, Name: name, Properties: argTokens, Target: node.Target}
			_, err = r.execFuncCall(callNode, frame, fn)
			return err
		}
	}

	scope := domain.Scope(r.rc, frame)
	if v, err := evalexpr.Eval(expr, scope); err == nil {
		r.setVar(node.Target, v, frame)
		return nil
	}
	if v, ok := scope[expr]; ok {
		r.setVar(node.Target, v, frame)
		return nil
	}
	r.setVar(node.Target, expr, frame)
	return nil
}

// execIf dispatches through the Invoker's "if" builtin (spec §4.D: "evaluate
// by invoking the if command through the Invoker, which owns the
// comparator/smart-cast logic"). Operands are passed raw — the command
// itself decides whether a token names a variable or is a literal.
func (r *run) execIf(node *domain.Node, frame *domain.Frame) (interface{}, error) {
	def, ok := r.ex.invoker.StockDef("if")
	if !ok {
		return nil, &domain.CommandNotFoundError{Name: "if"}
	}

	props := make(map[string]interface{}, len(node.Properties))
	for i, tok := range node.Properties {
		props[strconv.Itoa(i)] = strings.TrimSpace(tok)
	}

	task := &invoker.Task{Properties: props, Target: node.Target, Branches: node.Branches}
	bridge := &invoker.Bridge{
		Conector:    r.conector,
		ProcessStep: func(n *domain.Node) (interface{}, error) { return r.execNode(n, frame) },
	}
	if err := r.ex.invoker.Invoke(def, task, bridge); err != nil {
		return nil, err
	}
	return nil, nil
}

// execLoop implements startLoop(var, from, to): inclusive bounds,
// zero iterations when from > to (spec §4.D edge cases).
func (r *run) execLoop(node *domain.Node, frame *domain.Frame) (interface{}, error) {
	if len(node.Properties) < 3 {
		return nil, &domain.ExecutionError{Node: "startLoop", Err: fmt.Errorf("startLoop requires (var, from, to)")}
	}
	varName := parser.StripQuotes(strings.TrimSpace(node.Properties[0]))

	from, err := r.resolveInt(node.Properties[1], frame)
	if err != nil {
		return nil, &domain.ExecutionError{Node: "startLoop", Err: err}
	}
	to, err := r.resolveInt(node.Properties[2], frame)
	if err != nil {
		return nil, &domain.ExecutionError{Node: "startLoop", Err: err}
	}

	for i := from; i <= to; i++ {
		r.setVar(varName, i, frame)
		for _, child := range node.Sequence {
			v, err := r.execNode(child, frame)
			if err != nil {
				return nil, err
			}
			if rs, ok := v.(domain.ReturnSentinel); ok {
				return rs, nil
			}
		}
	}
	return nil, nil
}

// execFuncCall implements user-defined function invocation (spec §4.D):
// resolve each positional argument, dereference a resulting name
// through the caller's merged scope, coerce numeric strings to int,
// run the body in a fresh frame, and capture the first return
// sentinel a child produces.
func (r *run) execFuncCall(node *domain.Node, callerFrame *domain.Frame, fn *domain.FunctionDef) (interface{}, error) {
	newFrame := domain.NewFrame()
	callerScope := domain.Scope(r.rc, callerFrame)

	for i, param := range fn.Params {
		var raw string
		if i < len(node.Properties) {
			raw = strings.TrimSpace(node.Properties[i])
		}
		val := r.resolveCommandArg(raw, callerFrame)
		if s, ok := val.(string); ok {
			if existing, found := callerScope[s]; found {
				val = existing
			} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				val = n
			}
		}
		newFrame.Locals[param] = val
	}

	var result interface{}
	for _, child := range fn.Body {
		v, err := r.execNode(child, newFrame)
		if err != nil {
			return nil, err
		}
		if rs, ok := v.(domain.ReturnSentinel); ok {
			result = rs.Value
			break
		}
	}

	if node.Target != "" {
		r.setVar(node.Target, result, callerFrame)
	}
	return result, nil
}

// execCommand dispatches a catalog or stock command: resolve every
// positional argument (spec §4.D "Argument Resolution"), bind the
// interface's named parameters alongside the positional ones, and run
// it through the Invoker — on a deadline-wrapped goroutine if the
// command is heavy.
func (r *run) execCommand(node *domain.Node, frame *domain.Frame) (interface{}, error) {
	_, span := observability.StartSpan(r.ctx, "exec_command",
		observability.AttrCommand.String(node.Name),
		observability.AttrNodeType.String(string(domain.NodeCommand)),
	)
	defer span.End()

	resolved := make([]interface{}, len(node.Properties))
	for i, tok := range node.Properties {
		resolved[i] = r.resolveCommandArg(tok, frame)
	}

	def, err := r.resolveCommandDef(node.Name)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}

	props := make(map[string]interface{}, len(resolved)*2)
	for i, v := range resolved {
		props[strconv.Itoa(i)] = v
	}
	for i, p := range def.Interface {
		if i < len(resolved) {
			props[p.Item] = resolved[i]
		}
	}

	task := &invoker.Task{
		Properties: props,
		Target:     node.Target,
		Branches:   node.Branches,
		Sequence:   node.Sequence,
	}
	bridge := &invoker.Bridge{
		Conector:    r.conector,
		ProcessStep: func(n *domain.Node) (interface{}, error) { return r.execNode(n, frame) },
	}

	if r.ex.invoker.IsHeavy(node.Name) {
		if err := r.invokeWithDeadline(def, task, bridge, node.Name); err != nil {
			observability.SetSpanError(span, err)
			return nil, err
		}
	} else if err := r.ex.invoker.Invoke(def, task, bridge); err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	observability.SetSpanOK(span)

	if node.Target != "" {
		return r.conector.Variables[node.Target], nil
	}
	return nil, nil
}

// resolveCommandDef resolves a command name to its definition: the
// stock registry first (no network round trip for control-flow and I/O
// primitives), then the Command Catalog Client.
func (r *run) resolveCommandDef(name string) (*domain.CommandDef, error) {
	if def, ok := r.ex.invoker.StockDef(name); ok {
		return def, nil
	}
	if r.ex.catalog == nil {
		return nil, &domain.CommandNotFoundError{Name: name}
	}
	return r.ex.catalog.Get(r.ctx, name)
}

// invokeWithDeadline runs a heavy command on its own goroutine under
// the executor's heavy-command deadline (spec §4.E, default 500ms). A
// breach returns ExecutionTimeoutError without waiting for the
// goroutine; the command's own I/O is expected to respect the caller's
// context.Context and unwind on its own.
func (r *run) invokeWithDeadline(def *domain.CommandDef, task *invoker.Task, bridge *invoker.Bridge, name string) error {
	done := make(chan error, 1)
	go func() {
		done <- r.ex.invoker.Invoke(def, task, bridge)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(r.ex.heavyTimeout):
		return &domain.ExecutionTimeoutError{Command: name}
	}
}

// resolveCommandArg implements spec §4.D's "Argument Resolution"
// table for a single positional token.
func (r *run) resolveCommandArg(token string, frame *domain.Frame) interface{} {
	token = strings.TrimSpace(token)
	if token == "" {
		return token
	}

	hasParens := strings.Contains(token, "(") && strings.Contains(token, ")")
	math := hasMathOperator(token)
	quoted := parser.IsQuotedLiteral(token)

	switch {
	case (hasParens && math) || (!hasParens && math) || quoted:
		// Pure math, a call mixed with arithmetic, or a quoted literal
		// (evalexpr's string-literal parsing already strips the quotes).
		scope := domain.Scope(r.rc, frame)
		if v, err := evalexpr.Eval(token, scope); err == nil {
			return v
		}
		return token

	case hasParens:
		// name(...) with no arithmetic: a nested command or function call.
		return r.resolveNestedCall(token, frame)

	default:
		return token
	}
}

// resolveNestedCall executes "name(args)" found inside an argument
// position as its own AST node and returns whatever it produced (spec
// §4.D Argument Resolution, bullet 2).
func (r *run) resolveNestedCall(token string, frame *domain.Frame) interface{} {
	open := strings.Index(token, "(")
	closeIdx := strings.LastIndex(token, ")")
	if open < 0 || closeIdx < open {
		return token
	}
	name := strings.TrimSpace(token[:open])
	argTokens, err := parser.SplitArgs(token[open+1 : closeIdx])
	if err != nil {
		return token
	}

	if fn, ok := r.functions[name]; ok {
		node := &domain.Node{Type: domain.NodeFuncCall, Name: name, Properties: argTokens}
		v, err := r.execFuncCall(node, frame, fn)
		if err != nil {
			return token
		}
		return v
	}

	node := &domain.Node{Type: domain.NodeCommand, Name: name, Properties: argTokens}
	v, err := r.execCommand(node, frame)
	if err != nil {
		return token
	}
	return v
}

// resolveInt resolves a startLoop bound to an integer, truncating
// toward zero the same way evalexpr's int() builtin does (spec §9).
func (r *run) resolveInt(token string, frame *domain.Frame) (int64, error) {
	scope := domain.Scope(r.rc, frame)
	v, err := evalexpr.Eval(strings.TrimSpace(token), scope)
	if err != nil {
		return 0, err
	}
	return toInt64(v)
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(f), nil
		}
		return 0, fmt.Errorf("cannot convert %q to int", x)
	}
	return 0, fmt.Errorf("cannot convert %v to int", v)
}

// hasMathOperator reports whether s contains +, -, *, /, or % outside
// any quoted substring.
func hasMathOperator(s string) bool {
	inQuote := false
	var quoteChar byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c == '"' || c == '\'') && (!inQuote || quoteChar == c):
			inQuote = !inQuote
			if inQuote {
				quoteChar = c
			}
		case !inQuote && (c == '+' || c == '-' || c == '*' || c == '/' || c == '%'):
			return true
		}
	}
	return false
}

// callShape reports whether expr is a bare "name(args)" call: an
// identifier immediately followed by a balanced argument list running
// to the end of the string.
func callShape(expr string) (name, args string, ok bool) {
	if !strings.HasSuffix(expr, ")") {
		return "", "", false
	}
	open := strings.Index(expr, "(")
	if open <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(expr[:open])
	if !isIdentifier(name) {
		return "", "", false
	}
	return name, expr[open+1 : len(expr)-1], true
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_' || unicode.IsLetter(c):
		case i > 0 && unicode.IsDigit(c):
		default:
			return false
		}
	}
	return true
}
