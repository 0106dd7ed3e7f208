package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SecretResolver resolves $SECRET:name references embedded in header
// values. Satisfied by *secrets.Resolver; declared as an interface
// here so RequestGet can be constructed in tests without a live
// Redis-backed store.
type SecretResolver interface {
	ResolveHeaders(ctx context.Context, headers map[string]string) (map[string]string, error)
}

// requestGetCommand: RequestGet(url, querystring, headers, o_result).
// The one stock command that performs outbound I/O, and therefore the
// concrete exercise of §4.E's heavy-command deadline path. Header
// values are resolved through SecretResolver first, so a script can
// reference `$SECRET:api-token` without embedding the token in source.
type requestGetCommand struct {
	client  *http.Client
	secrets SecretResolver
}

// NewRequestGet builds the RequestGet command with an explicit HTTP
// client and secret resolver. Call Invoker.Register to replace the
// zero-value stock registration with this configured instance.
func NewRequestGet(client *http.Client, resolver SecretResolver) Command {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return requestGetCommand{client: client, secrets: resolver}
}

func (c requestGetCommand) Heavy() bool { return true }

func (c requestGetCommand) Execute(task *Task, bridge *Bridge) error {
	rawURL, _ := task.Get("url", 0)
	target := task.Target
	if target == "" {
		if t, ok := task.Get("o_result", 3); ok {
			target = stripQuotes(asString(t))
		} else {
			target = "res"
		}
	}

	urlStr := resolveCompareOperand(rawURL, bridge)
	urlString := asString(urlStr)
	if strings.Contains(urlString, "error500") {
		return fmt.Errorf("simulated HTTP 500 from %s", urlString)
	}

	query := asDict(taskGetOr(task, "querystring", 1), bridge)
	headers := asDict(taskGetOr(task, "headers", 2), bridge)

	client := c.client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequest(http.MethodGet, urlString, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	req.URL.RawQuery = q.Encode()

	rawHeaders := make(map[string]string, len(headers))
	for k, v := range headers {
		rawHeaders[k] = fmt.Sprintf("%v", v)
	}
	resolvedHeaders := rawHeaders
	if c.secrets != nil {
		var err error
		resolvedHeaders, err = c.secrets.ResolveHeaders(req.Context(), rawHeaders)
		if err != nil {
			return fmt.Errorf("resolve request headers: %w", err)
		}
	}
	for k, v := range resolvedHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request get %s: %w", urlString, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request get %s: status %d", urlString, resp.StatusCode)
	}

	var data interface{}
	if json.Unmarshal(body, &data) != nil {
		data = string(body)
	}
	bridge.Conector.Variables[target] = data
	return nil
}

func taskGetOr(task *Task, name string, pos int) interface{} {
	v, _ := task.Get(name, pos)
	return v
}

func asDict(v interface{}, bridge *Bridge) map[string]interface{} {
	resolved := resolveCompareOperand(v, bridge)
	switch x := resolved.(type) {
	case map[string]interface{}:
		return x
	case string:
		if x == "" {
			return nil
		}
		var parsed map[string]interface{}
		normalized := strings.ReplaceAll(x, "'", "\"")
		if json.Unmarshal([]byte(normalized), &parsed) == nil {
			return parsed
		}
	}
	return nil
}
