// Package parser implements the line-oriented DSL parser: a stack of
// statement lists walks the script line by line. if(...) pushes the
// true branch, else() pops it and pushes the false branch, end()/
// endLoop() pop once, startLoop(...) pushes the loop body.
package parser

import (
	"strconv"
	"strings"

	"github.com/avap-run/avapd/internal/domain"
)

// Parser holds the function table built while parsing one script. A
// Parser is not safe for concurrent use; each script gets its own.
type Parser struct {
	Functions map[string]*domain.FunctionDef
}

// New creates an empty parser.
func New() *Parser {
	return &Parser{Functions: make(map[string]*domain.FunctionDef)}
}

// frame is one entry of the block stack: a statement list under
// construction, plus (for nested frames) the node and branch it will
// be written back into once its closing token is seen.
type frame struct {
	nodes  []*domain.Node
	owner  *domain.Node
	branch string // "true", "false", "seq", or "" for the top-level frame
}

// Parse turns script into a top-level node list, registering any
// function definitions encountered along the way into p.Functions.
func (p *Parser) Parse(script string) ([]*domain.Node, error) {
	lines := strings.Split(strings.TrimSpace(script), "\n")
	stack := []*frame{{}}

	i := 0
	for i < len(lines) {
		lineNo := i + 1
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "//") {
			i++
			continue
		}
		top := stack[len(stack)-1]

		switch {
		case strings.HasPrefix(line, "if(") || strings.HasPrefix(line, "if ("):
			args, err := extractArgs(line, lineNo)
			if err != nil {
				return nil, err
			}
			node := &domain.Node{
				Type:       domain.NodeIf,
				Properties: args,
				Branches:   map[bool][]*domain.Node{},
				Line:       lineNo,
			}
			top.nodes = append(top.nodes, node)
			stack = append(stack, &frame{owner: node, branch: "true"})
			i++

		case strings.HasPrefix(line, "else()") || strings.HasPrefix(line, "else ("):
			if len(stack) <= 1 || stack[len(stack)-1].owner == nil {
				return nil, &domain.ParseError{Line: lineNo, Message: "unmatched else()"}
			}
			closing := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			writeBack(closing)
			stack = append(stack, &frame{owner: closing.owner, branch: "false"})
			i++

		case strings.HasPrefix(line, "end()") || strings.HasPrefix(line, "endLoop()"):
			if len(stack) <= 1 {
				return nil, &domain.ParseError{Line: lineNo, Message: "unmatched end()/endLoop()"}
			}
			closing := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			writeBack(closing)
			i++

		case strings.HasPrefix(line, "startLoop("):
			args, err := extractArgs(line, lineNo)
			if err != nil {
				return nil, err
			}
			node := &domain.Node{Type: domain.NodeLoop, Properties: args, Line: lineNo}
			top.nodes = append(top.nodes, node)
			stack = append(stack, &frame{owner: node, branch: "seq"})
			i++

		case strings.HasPrefix(line, "function "):
			header := strings.TrimSpace(strings.TrimPrefix(line, "function "))
			open := strings.Index(header, "(")
			closeIdx := strings.Index(header, ")")
			if open < 0 || closeIdx < 0 || closeIdx < open {
				return nil, &domain.ParseError{Line: lineNo, Message: "malformed function header"}
			}
			name := strings.TrimSpace(header[:open])
			var params []string
			for _, part := range strings.Split(header[open+1:closeIdx], ",") {
				part = strings.TrimSpace(part)
				if part != "" {
					params = append(params, part)
				}
			}
			i++
			braceCount := 1
			var bodyLines []string
			for i < len(lines) && braceCount > 0 {
				l := lines[i]
				braceCount += strings.Count(l, "{")
				braceCount -= strings.Count(l, "}")
				bodyLines = append(bodyLines, l)
				i++
			}
			if braceCount > 0 {
				return nil, &domain.ParseError{Line: lineNo, Message: "unterminated function body: " + name}
			}
			if len(bodyLines) > 0 {
				bodyLines = bodyLines[:len(bodyLines)-1] // drop the line holding the closing brace
			}
			child := New()
			body, err := child.Parse(strings.Join(bodyLines, "\n"))
			if err != nil {
				return nil, err
			}
			for k, v := range child.Functions {
				p.Functions[k] = v
			}
			var ret string
			for _, n := range body {
				if n.Type == domain.NodeReturn && len(n.Properties) > 0 {
					ret = n.Properties[0]
					break
				}
			}
			p.Functions[name] = &domain.FunctionDef{Name: name, Params: params, Body: body, Return: ret}

		case strings.HasPrefix(line, "return "):
			expr := strings.TrimSpace(line[len("return "):])
			top.nodes = append(top.nodes, &domain.Node{Type: domain.NodeReturn, Properties: []string{expr}, Line: lineNo})
			i++

		default:
			if idx := topLevelEquals(line); idx >= 0 {
				target := strings.TrimSpace(line[:idx])
				expr := strings.TrimSpace(line[idx+1:])
				if isPureCommandCall(expr) {
					open := strings.Index(expr, "(")
					cmdName := strings.TrimSpace(expr[:open])
					argsStr := expr[open+1 : strings.LastIndex(expr, ")")]
					args, err := splitArgs(argsStr, lineNo)
					if err != nil {
						return nil, err
					}
					top.nodes = append(top.nodes, &domain.Node{Type: domain.NodeCommand, Name: cmdName, Properties: args, Target: target, Line: lineNo})
				} else {
					top.nodes = append(top.nodes, &domain.Node{Type: domain.NodeAssign, Target: target, Properties: []string{expr}, Line: lineNo})
				}
			} else if strings.Contains(line, "(") && strings.Contains(line, ")") {
				open := strings.Index(line, "(")
				cmdName := strings.TrimSpace(line[:open])
				argsStr := line[open+1 : strings.LastIndex(line, ")")]
				args, err := splitArgs(argsStr, lineNo)
				if err != nil {
					return nil, err
				}
				top.nodes = append(top.nodes, &domain.Node{Type: domain.NodeCommand, Name: cmdName, Properties: args, Line: lineNo})
			}
			i++
		}
	}

	if len(stack) != 1 {
		return nil, &domain.ParseError{Line: len(lines), Message: "unterminated block: missing end()/endLoop()"}
	}
	return stack[0].nodes, nil
}

// writeBack commits a closed frame's accumulated nodes into the slot
// its owner node exposes for that branch.
func writeBack(f *frame) {
	switch f.branch {
	case "true":
		f.owner.Branches[true] = f.nodes
	case "false":
		f.owner.Branches[false] = f.nodes
	case "seq":
		f.owner.Sequence = f.nodes
	}
}

// topLevelEquals returns the index of the first '=' at parenthesis
// depth 0 that is not part of ==, !=, <=, >=, or inside a quoted
// string; -1 if none.
func topLevelEquals(line string) int {
	depth := 0
	inQuote := false
	var quoteChar byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case (c == '"' || c == '\'') && (!inQuote || quoteChar == c):
			inQuote = !inQuote
			if inQuote {
				quoteChar = c
			}
		case c == '(' && !inQuote:
			depth++
		case c == ')' && !inQuote:
			depth--
		case c == '=' && !inQuote && depth == 0:
			prevOK := i == 0 || (line[i-1] != '=' && line[i-1] != '!' && line[i-1] != '<' && line[i-1] != '>')
			nextOK := i+1 >= len(line) || line[i+1] != '='
			if prevOK && nextOK {
				return i
			}
		}
	}
	return -1
}

func isPureCommandCall(expr string) bool {
	if !strings.Contains(expr, "(") || !strings.HasSuffix(expr, ")") {
		return false
	}
	for _, op := range []string{"+", "-", "*", "/"} {
		if strings.Contains(expr, op) {
			return false
		}
	}
	return true
}

func extractArgs(line string, lineNo int) ([]string, error) {
	open := strings.Index(line, "(")
	closeIdx := strings.LastIndex(line, ")")
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return nil, &domain.ParseError{Line: lineNo, Message: "malformed argument list"}
	}
	return splitArgs(line[open+1:closeIdx], lineNo)
}

// splitArgs comma-splits at parenthesis depth 0, quote-aware. Tokens
// keep their surrounding quotes (if any) intact: classifying a token
// as a string literal, numeric literal, nested call or bare name is
// the executor's argument-resolution job (spec §4.D), not the
// parser's — the parser only needs to know where one argument ends
// and the next begins.
func splitArgs(argsStr string, lineNo int) ([]string, error) {
	var parts []string
	var current strings.Builder
	depth := 0
	inQuote := false
	var quoteChar byte

	for i := 0; i < len(argsStr); i++ {
		c := argsStr[i]
		switch {
		case (c == '"' || c == '\'') && (!inQuote || quoteChar == c):
			inQuote = !inQuote
			if inQuote {
				quoteChar = c
			}
			current.WriteByte(c)
		case c == '(' && !inQuote:
			depth++
			current.WriteByte(c)
		case c == ')' && !inQuote:
			depth--
			current.WriteByte(c)
		case c == ',' && !inQuote && depth == 0:
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if inQuote {
		return nil, &domain.ParseError{Line: lineNo, Message: "unbalanced quotes in argument list"}
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// SplitArgs exposes the parser's comma-aware, quote-aware argument
// splitter to callers outside the package — the executor's nested-call
// argument resolution (spec §4.D) needs to tokenize a "name(args)"
// call found inside an expression, not just at statement level.
func SplitArgs(argsStr string) ([]string, error) {
	return splitArgs(argsStr, 0)
}

// IsQuotedLiteral reports whether a token is wrapped in matching quotes.
func IsQuotedLiteral(v string) bool {
	v = strings.TrimSpace(v)
	return len(v) >= 2 && ((v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\''))
}

// StripQuotes removes one layer of matching outer quotes, if present.
func StripQuotes(v string) string {
	v = strings.TrimSpace(v)
	if IsQuotedLiteral(v) {
		return v[1 : len(v)-1]
	}
	return v
}

// IsNumericLiteral reports whether a token parses as an int or float
// literal.
func IsNumericLiteral(v string) bool {
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}
