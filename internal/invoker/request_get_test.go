package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avap-run/avapd/internal/domain"
)

func newRequestGetTask(url string, headers map[string]interface{}) (*Task, *Bridge) {
	task := &Task{
		Properties: map[string]interface{}{
			"0": `"` + url + `"`,
			"2": headers,
		},
		Target: "res",
	}
	bridge := &Bridge{
		Conector: &domain.Conector{Variables: map[string]interface{}{}, Results: map[string]interface{}{}},
	}
	return task, bridge
}

func TestRequestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"acceso": "concedido"})
	}))
	defer srv.Close()

	cmd := NewRequestGet(nil, nil)
	task, bridge := newRequestGetTask(srv.URL, nil)

	if err := cmd.Execute(task, bridge); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	result, ok := bridge.Conector.Variables["res"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected decoded JSON map in res, got %#v", bridge.Conector.Variables["res"])
	}
	if result["acceso"] != "concedido" {
		t.Errorf("result[acceso] = %v, want concedido", result["acceso"])
	}
}

func TestRequestGet_Error500(t *testing.T) {
	cmd := NewRequestGet(nil, nil)
	task, bridge := newRequestGetTask("http://example.invalid/error500", nil)

	err := cmd.Execute(task, bridge)
	if err == nil {
		t.Fatalf("expected an error for a URL containing error500")
	}
}

type fakeSecretResolver struct {
	values map[string]string
}

func (f fakeSecretResolver) ResolveHeaders(ctx context.Context, headers map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		if val, ok := f.values[v]; ok {
			resolved[k] = val
			continue
		}
		resolved[k] = v
	}
	return resolved, nil
}

func TestRequestGet_ResolvesSecretHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true})
	}))
	defer srv.Close()

	resolver := fakeSecretResolver{values: map[string]string{"$SECRET:api-token": "Bearer s3cr3t"}}
	cmd := NewRequestGet(nil, resolver)
	task, bridge := newRequestGetTask(srv.URL, map[string]interface{}{"Authorization": "$SECRET:api-token"})

	if err := cmd.Execute(task, bridge); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotAuth != "Bearer s3cr3t" {
		t.Errorf("Authorization header = %q, want resolved secret value", gotAuth)
	}
}

func TestRequestGet_SecretResolutionFailurePropagates(t *testing.T) {
	cmd := NewRequestGet(nil, failingResolver{})
	task, bridge := newRequestGetTask("http://example.invalid/ok", map[string]interface{}{"Authorization": "$SECRET:missing"})

	if err := cmd.Execute(task, bridge); err == nil {
		t.Fatalf("expected secret resolution error to propagate")
	}
}

type failingResolver struct{}

func (failingResolver) ResolveHeaders(ctx context.Context, headers map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("get secret 'missing': secret not found: missing")
}
