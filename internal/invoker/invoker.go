// Package invoker maps an AST command node's resolved arguments onto
// a command's declared interface and runs the command body against a
// bridge into the owning conector. The reference deployment's
// commands are fixed and few (see commands_builtin.go), so rather than
// compiling and `exec`-ing untrusted source at runtime — impossible in
// Go, and unnecessary given the closed command set — the catalog's
// signed bytecode is still unpacked and its integrity verified on
// first use (defending the wire contract with the Definition Engine),
// but execution dispatches to a native Go implementation keyed by
// command name.
package invoker

import (
	"fmt"
	"strconv"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/packer"
)

// Task is the per-call view a Command receives: its arguments by
// position and by declared interface name, the assignment target (if
// the call site used `target = cmd(...)`), and — for if/startLoop —
// the branch and sequence bodies the bridge can re-enter.
type Task struct {
	Properties map[string]interface{}
	Target     string
	Branches   map[bool][]*domain.Node
	Sequence   []*domain.Node
}

// Get returns a property by its declared interface name, falling back
// to the positional key if the name wasn't bound (no interface, or a
// short interface list).
func (t *Task) Get(name string, pos int) (interface{}, bool) {
	if name != "" {
		if v, ok := t.Properties[name]; ok {
			return v, true
		}
	}
	v, ok := t.Properties[strconv.Itoa(pos)]
	return v, ok
}

// ProcessStepFunc re-enters the AST executor for a single node. The
// invoker package never calls the executor directly — the bridge is
// how commands like `if` and `startLoop` dispatch into their branch
// and sequence bodies without the invoker importing the executor.
type ProcessStepFunc func(node *domain.Node) (interface{}, error)

// Bridge is what a command body sees as "self": the live conector
// state plus a hook back into the executor for branch/sequence nodes.
type Bridge struct {
	Conector    *domain.Conector
	ProcessStep ProcessStepFunc
}

// Command is one native catalog command implementation.
type Command interface {
	// Execute runs the command against task, mutating bridge.Conector
	// directly (variables, results, try level) as its side effect.
	Execute(task *Task, bridge *Bridge) error
}

// HeavyCommand is implemented by commands that perform I/O and must
// run under the per-command deadline rather than inline (§4.E).
type HeavyCommand interface {
	Command
	Heavy() bool
}

// Invoker holds the fixed native command registry and the packer used
// to verify catalog bytecode before first use.
type Invoker struct {
	registry  map[string]Command
	packer    *packer.Packer
	verified  map[string]bool
	stockDefs map[string]*domain.CommandDef
}

// New creates an Invoker with the stock command registry.
func New(key []byte) *Invoker {
	inv := &Invoker{
		registry:  make(map[string]Command),
		packer:    packer.New(key),
		verified:  make(map[string]bool),
		stockDefs: make(map[string]*domain.CommandDef),
	}
	registerBuiltins(inv)
	return inv
}

// Register adds or replaces the native implementation for name. Stock
// builtins (addVar, if, try, ...) self-register at construction time;
// Register also lets callers extend the registry with additional
// native commands that should resolve without a catalog round trip.
func (inv *Invoker) Register(name string, cmd Command) {
	inv.registry[name] = cmd
	inv.stockDefs[name] = &domain.CommandDef{
		Name: name,
		Code: inv.packer.Pack(name),
	}
}

// StockDef returns the locally-signed CommandDef for a builtin command,
// so the executor can dispatch control-flow and I/O primitives (if,
// try, addVar, RequestGet, ...) without a Definition Engine or Postgres
// round trip (spec SUPPLEMENTED FEATURE 1: stock command registry).
func (inv *Invoker) StockDef(name string) (*domain.CommandDef, bool) {
	def, ok := inv.stockDefs[name]
	return def, ok
}

// Invoke looks up name in the catalog, verifies its signed bytecode
// once per process (caching the result), and dispatches to the native
// implementation. Heavy commands must be deadline-wrapped by the
// caller (the executor), since only it knows the per-request budget
// remaining.
func (inv *Invoker) Invoke(def *domain.CommandDef, task *Task, bridge *Bridge) error {
	name := def.Name
	if !inv.verified[name] {
		if _, err := inv.packer.Unpack(def.Code); err != nil {
			return fmt.Errorf("verify bytecode for %s: %w", name, err)
		}
		inv.verified[name] = true
	}

	cmd, ok := inv.registry[name]
	if !ok {
		return &domain.CommandNotFoundError{Name: name}
	}
	if err := cmd.Execute(task, bridge); err != nil {
		return &domain.ExecutionError{Node: name, Err: err}
	}
	return nil
}

// IsHeavy reports whether name's native implementation is tagged
// heavy. Unknown names are treated as light; CommandNotFoundError
// surfaces from Invoke instead.
func (inv *Invoker) IsHeavy(name string) bool {
	cmd, ok := inv.registry[name]
	if !ok {
		return false
	}
	heavy, ok := cmd.(HeavyCommand)
	return ok && heavy.Heavy()
}
