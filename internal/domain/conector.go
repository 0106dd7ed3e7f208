package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
)

// Conector is the mutable state a command body touches: the live
// variable and result maps (shared by reference with the owning
// Context, so a command's writes are visible to the executor without
// an explicit copy step), the original HTTP request for parameter
// binding, and the active try() nesting depth.
type Conector struct {
	Variables map[string]interface{}
	Results   map[string]interface{}
	Request   *http.Request
	TryLevel  int

	body     map[string]interface{}
	bodyRead bool
}

// NewConector binds a Conector to ctx's variable and result maps.
func NewConector(ctx *Context) *Conector {
	return &Conector{Variables: ctx.Variables, Results: ctx.Results, Request: ctx.Request}
}

// GetParam resolves a parameter by name from, in order: the query
// string, the JSON request body, then form-encoded body values.
func (c *Conector) GetParam(name string) (string, bool) {
	if c.Request == nil {
		return "", false
	}
	if v := c.Request.URL.Query().Get(name); v != "" {
		return v, true
	}
	if body := c.jsonBody(); body != nil {
		if v, ok := body[name]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	if v := c.Request.PostFormValue(name); v != "" {
		return v, true
	}
	return "", false
}

// jsonBody lazily decodes and memoizes the request body as JSON. A
// non-JSON or empty body decodes to nil without error; GetParam treats
// that the same as "no such key" and moves on to form values.
func (c *Conector) jsonBody() map[string]interface{} {
	if c.bodyRead {
		return c.body
	}
	c.bodyRead = true
	if c.Request == nil || c.Request.Body == nil {
		return nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || len(raw) == 0 {
		return nil
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	var parsed map[string]interface{}
	if json.Unmarshal(raw, &parsed) == nil {
		c.body = parsed
	}
	return c.body
}
