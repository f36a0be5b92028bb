package session

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/fieldvision/region-analyzer/pkg/inference"
	"github.com/fieldvision/region-analyzer/pkg/payload"
	"github.com/fieldvision/region-analyzer/pkg/types"
)

// Backend is the dispatch contract a session runs tasks against. The API
// chain and the local Ollama path both satisfy it.
type Backend interface {
	Probe(ctx context.Context) error
	Dispatch(ctx context.Context, p *payload.Payload) (*inference.RawResult, error)
	ExtractAnswer(raw *inference.RawResult) string
}

// Callbacks deliver a task's progress checkpoints and terminal outcome.
// They are invoked from the task's goroutine, never from the caller's.
// Progress percentages are non-decreasing; exactly one of OnAnswer/OnError
// fires per task, after all progress, unless the task was cancelled, in
// which case neither fires.
type Callbacks struct {
	OnProgress func(percent int)
	OnAnswer   func(answer string)
	OnError    func(message string)
}

// State names the phase a task is in.
type State int32

const (
	StateIdle State = iota
	StatePreprocessing
	StateDispatching
	StatePostprocessing
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreprocessing:
		return "preprocessing"
	case StateDispatching:
		return "dispatching"
	case StatePostprocessing:
		return "postprocessing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Task is one asynchronous, cancellable inference run. Cancellation is
// cooperative: the flag is checked at the checkpoints between phases, so an
// in-flight HTTP call is never aborted mid-flight.
type Task struct {
	builder *payload.Builder
	backend Backend
	params  payload.ModelParams
	req     types.InferenceRequest
	cb      Callbacks

	state     atomic.Int32
	cancelled atomic.Bool
	done      chan struct{}
	log       *logrus.Entry
}

func newTask(builder *payload.Builder, backend Backend, params payload.ModelParams, req types.InferenceRequest, cb Callbacks, log *logrus.Entry) *Task {
	return &Task{
		builder: builder,
		backend: backend,
		params:  params,
		req:     req,
		cb:      cb,
		done:    make(chan struct{}),
		log:     log,
	}
}

// Cancel requests cancellation. It takes effect at the next checkpoint; a
// cancelled task emits no further progress and no terminal outcome.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Wait blocks until the task has stopped, whatever its terminal state.
func (t *Task) Wait() {
	<-t.done
}

// Done exposes the completion channel for select-based callers.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the task's current phase.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) run() {
	defer close(t.done)

	// Cancellation requested before the task ever ran: emit nothing.
	if t.checkpoint() {
		return
	}

	t.setState(StatePreprocessing)
	t.emitProgress(10)

	p, err := t.builder.Build(t.req, t.params)
	if t.checkpoint() {
		return
	}
	if err != nil {
		t.fail("failed to prepare request: " + err.Error())
		return
	}

	t.setState(StateDispatching)
	t.emitProgress(30)

	raw, err := t.backend.Dispatch(context.Background(), p)
	if t.checkpoint() {
		return
	}
	if err != nil {
		t.fail(err.Error())
		return
	}

	t.setState(StatePostprocessing)
	t.emitProgress(80)

	answer := t.backend.ExtractAnswer(raw)
	if t.checkpoint() {
		return
	}

	t.emitProgress(100)
	t.setState(StateCompleted)
	t.log.Debug("inference task completed")
	if t.cb.OnAnswer != nil {
		t.cb.OnAnswer(answer)
	}
}

// checkpoint reports whether cancellation was requested at or before this
// point and, if so, moves the task to its silent terminal state.
func (t *Task) checkpoint() bool {
	if !t.cancelled.Load() {
		return false
	}
	t.setState(StateCancelled)
	t.log.Debug("inference task cancelled")
	return true
}

func (t *Task) fail(message string) {
	t.setState(StateFailed)
	t.log.WithField("reason", message).Error("inference task failed")
	if t.cb.OnError != nil {
		t.cb.OnError(message)
	}
}

func (t *Task) emitProgress(percent int) {
	if t.cb.OnProgress != nil {
		t.cb.OnProgress(percent)
	}
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
}
