// Package envelope implements the Concurrency Envelope (spec §4.F): an
// admission semaphore bounding how many scripts run at once, and an
// execution watchdog bounding how long any one of them may run.
package envelope

import (
	"context"
	"net/http"
	"time"

	"github.com/avap-run/avapd/internal/domain"
	"github.com/avap-run/avapd/internal/metrics"
)

// Executor is the subset of executor.Executor the envelope depends on.
type Executor interface {
	ExecuteScript(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error)
}

// Envelope wraps an Executor with the admission semaphore and
// execution watchdog described in spec §4.F. The zero value is not
// usable; construct with New.
type Envelope struct {
	exec Executor

	permits          chan struct{}
	maxWorkers       int
	admissionTimeout time.Duration
	execDeadline     time.Duration
}

// New creates an Envelope. maxWorkers is the admission semaphore's
// permit count (default 20); admissionTimeout and execDeadline default
// to 500ms and 800ms respectively when zero.
func New(exec Executor, maxWorkers int, admissionTimeout, execDeadline time.Duration) *Envelope {
	if maxWorkers <= 0 {
		maxWorkers = 20
	}
	if admissionTimeout <= 0 {
		admissionTimeout = 500 * time.Millisecond
	}
	if execDeadline <= 0 {
		execDeadline = 800 * time.Millisecond
	}
	return &Envelope{
		exec:             exec,
		permits:          make(chan struct{}, maxWorkers),
		maxWorkers:       maxWorkers,
		admissionTimeout: admissionTimeout,
		execDeadline:     execDeadline,
	}
}

// PermitsAvailable reports how many admission permits are currently
// free, for the active_workers gauge (spec §4.F: MAX_WORKERS − this).
func (e *Envelope) PermitsAvailable() int {
	return cap(e.permits) - len(e.permits)
}

// Run admits the request, runs the script under the execution
// watchdog, and always releases its admission permit on return. The
// returned error is one of domain.AdmissionTimeoutError or
// domain.ExecutionTimeoutError on envelope breach, or whatever
// ExecuteScript itself returned.
func (e *Envelope) Run(ctx context.Context, script string, variables map[string]interface{}, req *http.Request) (*domain.Context, error) {
	admitCtx, cancelAdmit := context.WithTimeout(ctx, e.admissionTimeout)
	defer cancelAdmit()

	select {
	case e.permits <- struct{}{}:
	case <-admitCtx.Done():
		metrics.Global().RecordAdmissionReject()
		return nil, &domain.AdmissionTimeoutError{}
	}
	defer func() { <-e.permits }()

	execCtx, cancelExec := context.WithTimeout(ctx, e.execDeadline)
	defer cancelExec()

	type outcome struct {
		rc  *domain.Context
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rc, err := e.exec.ExecuteScript(execCtx, script, variables, req)
		done <- outcome{rc, err}
	}()

	select {
	case o := <-done:
		return o.rc, o.err
	case <-execCtx.Done():
		metrics.Global().RecordExecutionTimeout()
		return nil, &domain.ExecutionTimeoutError{}
	}
}
