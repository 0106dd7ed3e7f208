package domain

import "net/http"

// LastErrorVar is the reserved variable name written by a failing
// command inside a try() scope and read back by exception().
const LastErrorVar = "__last_error__"

// StatusVar, when present and an integer in [100,599], overrides the
// HTTP response status for the request.
const StatusVar = "_status"

// Context is the per-request execution context. It lives for exactly
// one request; variables is passed in by reference (mutation is
// intentional, the caller sees command side effects as the request
// proceeds through stages such as /execute).
type Context struct {
	Variables map[string]interface{}
	Results   map[string]interface{}
	Logs      []LogEntry
	Request   *http.Request
	TryLevel  int
}

// NewContext creates a fresh per-request context over an existing
// variable bag. variables must not be nil.
func NewContext(variables map[string]interface{}, req *http.Request) *Context {
	return &Context{
		Variables: variables,
		Results:   make(map[string]interface{}),
		Logs:      make([]LogEntry, 0, 8),
		Request:   req,
	}
}

// AppendLog records one top-level node's execution outcome.
func (c *Context) AppendLog(entry LogEntry) {
	c.Logs = append(c.Logs, entry)
}

// SetLastError records err into the reserved __last_error__ variable,
// the mechanism try()/exception() use to surface failures without
// unwinding.
func (c *Context) SetLastError(msg string) {
	c.Variables[LastErrorVar] = msg
}

// Frame is a function-local variable scope, pushed on entry to a
// user-defined function call and popped on exit. Reads inside the
// function body see Frame shadowing Context.Variables; writes to a
// local target update Frame (and never leak to Context.Variables).
type Frame struct {
	Locals map[string]interface{}
}

// NewFrame creates an empty local frame.
func NewFrame() *Frame {
	return &Frame{Locals: make(map[string]interface{})}
}

// Scope merges a frame (if any) over the request variables for
// expression evaluation: frame locals take precedence.
func Scope(ctx *Context, frame *Frame) map[string]interface{} {
	if frame == nil {
		return ctx.Variables
	}
	merged := make(map[string]interface{}, len(ctx.Variables)+len(frame.Locals))
	for k, v := range ctx.Variables {
		merged[k] = v
	}
	for k, v := range frame.Locals {
		merged[k] = v
	}
	return merged
}
