package invoker

import (
	"fmt"
	"strconv"
	"strings"
)

func registerBuiltins(inv *Invoker) {
	inv.Register("addVar", addVarCommand{})
	inv.Register("addResult", addResultCommand{})
	inv.Register("addParam", addParamCommand{})
	inv.Register("if", ifCommand{})
	inv.Register("try", tryCommand{})
	inv.Register("exception", exceptionCommand{})
	inv.Register("RequestGet", requestGetCommand{})
	inv.Register("end", noopCommand{})
	inv.Register("else", noopCommand{})
	inv.Register("endLoop", noopCommand{})
}

func stripQuotes(v string) string {
	if len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'')) {
		return v[1 : len(v)-1]
	}
	return v
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

// addVarCommand: addVar(targetVarName, varValue). If varValue names an
// existing variable, its current value is substituted; otherwise the
// token (already arithmetic-resolved by the executor's argument
// resolution stage) is stored as-is.
type addVarCommand struct{}

func (addVarCommand) Execute(task *Task, bridge *Bridge) error {
	targetRaw, _ := task.Get("targetVarName", 0)
	val, _ := task.Get("varValue", 1)

	target := stripQuotes(asString(targetRaw))
	if s, ok := val.(string); ok {
		if existing, found := bridge.Conector.Variables[s]; found {
			val = existing
		} else {
			val = coerceLiteral(s)
		}
	}
	bridge.Conector.Variables[target] = val
	return nil
}

// coerceLiteral turns a raw (non-variable) argument token into a
// number when it looks like one, so `addVar(x, 123.45)` stores a
// float rather than the literal's source text; anything else passes
// through unchanged.
func coerceLiteral(s string) interface{} {
	raw := stripQuotes(strings.TrimSpace(s))
	if raw == "" {
		return s
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// addResultCommand: addResult(sourceVariable). Copies a variable's
// current value into the results map under the same key.
type addResultCommand struct{}

func (addResultCommand) Execute(task *Task, bridge *Bridge) error {
	srcRaw, _ := task.Get("sourceVariable", 0)
	src := stripQuotes(asString(srcRaw))
	val, ok := bridge.Conector.Variables[src]
	if !ok {
		val = src
	}
	bridge.Conector.Results[src] = val
	return nil
}

// addParamCommand: addParam(param, variable). Binds an inbound request
// parameter (query string, JSON body, or form value — see
// domain.Conector.GetParam) into a script variable.
type addParamCommand struct{}

func (addParamCommand) Execute(task *Task, bridge *Bridge) error {
	paramRaw, _ := task.Get("param", 0)
	varRaw, _ := task.Get("variable", 1)

	paramName := stripQuotes(asString(paramRaw))
	varName := stripQuotes(asString(varRaw))
	if varName == "" {
		return nil
	}

	val, found := bridge.Conector.GetParam(paramName)
	if !found {
		return nil
	}
	bridge.Conector.Variables[varName] = val
	return nil
}

// ifCommand evaluates the comparator against the two operands and
// re-enters the executor for every statement in the matching branch.
// Mirrors mock_brain's "if" command: `=`, `==` and `!=` compare both
// operands as strings; `<`, `>`, `<=` and `>=` compare them as floats
// and fail if either operand is not numeric.
type ifCommand struct{}

func (ifCommand) Execute(task *Task, bridge *Bridge) error {
	v1Raw, _ := task.Get("variable", 0)
	v2Raw, _ := task.Get("variableValue", 1)
	opRaw, _ := task.Get("comparator", 2)

	v1 := resolveCompareOperand(v1Raw, bridge)
	v2 := resolveCompareOperand(v2Raw, bridge)
	op := strings.TrimSpace(asString(opRaw))

	result, err := compare(v1, v2, op)
	if err != nil {
		return err
	}

	branch := task.Branches[result]
	for _, node := range branch {
		if _, err := bridge.ProcessStep(node); err != nil {
			return err
		}
	}
	return nil
}

func resolveCompareOperand(raw interface{}, bridge *Bridge) interface{} {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	if v, found := bridge.Conector.Variables[s]; found {
		return v
	}
	return stripQuotes(s)
}

func compare(v1, v2 interface{}, op string) (bool, error) {
	switch op {
	case "=", "==":
		return asString(v1) == asString(v2), nil
	case "!=":
		return asString(v1) != asString(v2), nil
	}
	f1, ok1 := toFloat(v1)
	f2, ok2 := toFloat(v2)
	if !ok1 || !ok2 {
		return false, fmt.Errorf("comparator %s requires numeric operands", op)
	}
	switch op {
	case ">":
		return f1 > f2, nil
	case "<":
		return f1 < f2, nil
	case ">=":
		return f1 >= f2, nil
	case "<=":
		return f1 <= f2, nil
	}
	return false, fmt.Errorf("unknown comparator: %s", op)
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// tryCommand: try(). Enters a try scope; errors raised inside are
// caught rather than propagated until the matching exception()/depth
// drop back to zero.
type tryCommand struct{}

func (tryCommand) Execute(_ *Task, bridge *Bridge) error {
	bridge.Conector.TryLevel++
	return nil
}

// exceptionCommand: exception(errorVarName). Reads back whatever the
// executor stashed in __last_error__ and leaves the try scope.
type exceptionCommand struct{}

func (exceptionCommand) Execute(task *Task, bridge *Bridge) error {
	msg, _ := bridge.Conector.Variables["__last_error__"]
	msgStr := asString(msg)
	if msgStr == "" {
		msgStr = "no error detected"
	}

	if argRaw, ok := task.Get("error", 0); ok {
		if argName := stripQuotes(asString(argRaw)); argName != "" {
			bridge.Conector.Variables[argName] = msgStr
		}
	}
	if task.Target != "" {
		bridge.Conector.Variables[task.Target] = msgStr
	}
	bridge.Conector.TryLevel--
	return nil
}

// noopCommand backs end(), else(), endLoop(): the parser's block
// stack already consumed their structural meaning, so at invocation
// time there is nothing left to do.
type noopCommand struct{}

func (noopCommand) Execute(*Task, *Bridge) error { return nil }
