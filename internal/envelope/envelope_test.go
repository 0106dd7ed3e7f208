package envelope

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/avap-run/avapd/internal/domain"
)

type fakeExecutor struct {
	delay func() time.Duration
}

func (f *fakeExecutor) ExecuteScript(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error) {
	if f.delay != nil {
		select {
		case <-time.After(f.delay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return domain.NewContext(variables, req), nil
}

func TestEnvelope_RunSucceeds(t *testing.T) {
	env := New(&fakeExecutor{}, 5, 50*time.Millisecond, 50*time.Millisecond)
	rc, err := env.Run(context.Background(), "addVar(x,1)", map[string]interface{}{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc == nil {
		t.Fatal("expected a context back")
	}
	if env.PermitsAvailable() != 5 {
		t.Errorf("permits not released: got %d, want 5", env.PermitsAvailable())
	}
}

func TestEnvelope_AdmissionTimeout(t *testing.T) {
	env := New(&fakeExecutor{delay: func() time.Duration { return 200 * time.Millisecond }}, 1, 20*time.Millisecond, time.Second)

	// Saturate the single permit with a long-running request.
	go env.Run(context.Background(), "script", map[string]interface{}{}, nil)
	time.Sleep(5 * time.Millisecond)

	_, err := env.Run(context.Background(), "script", map[string]interface{}{}, nil)
	if _, ok := err.(*domain.AdmissionTimeoutError); !ok {
		t.Fatalf("expected AdmissionTimeoutError, got %v", err)
	}
}

func TestEnvelope_ExecutionWatchdog(t *testing.T) {
	env := New(&fakeExecutor{delay: func() time.Duration { return time.Second }}, 5, time.Second, 20*time.Millisecond)

	_, err := env.Run(context.Background(), "script", map[string]interface{}{}, nil)
	if _, ok := err.(*domain.ExecutionTimeoutError); !ok {
		t.Fatalf("expected ExecutionTimeoutError, got %v", err)
	}
}
