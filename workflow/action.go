package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/clock"
	"contractflow/logging"
)

// ActionStatus enumerates the lifecycle of a simulated async action.
type ActionStatus string

const (
	ActionIdle    ActionStatus = "idle"
	ActionPending ActionStatus = "pending"
	ActionSuccess ActionStatus = "success"
	ActionError   ActionStatus = "error"
)

// WorkFunc produces the action result once the delay has elapsed.
type WorkFunc[T any] func(ctx context.Context) (T, error)

// ActionState is a point-in-time copy of an action.
type ActionState[T any] struct {
	Name        string       `json:"name"`
	Status      ActionStatus `json:"status"`
	Result      T            `json:"result"`
	Error       string       `json:"error,omitempty"`
	Attempts    int          `json:"attempts"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}

type actionOptions struct {
	clock          clock.Clock
	logger         logrus.FieldLogger
	failureMessage string
}

// ActionOption customises action construction.
type ActionOption func(*actionOptions)

// WithClock overrides the real clock, mainly for tests.
func WithClock(c clock.Clock) ActionOption {
	return func(o *actionOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger attaches a logger for status transitions.
func WithLogger(l logrus.FieldLogger) ActionOption {
	return func(o *actionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFailureMessage replaces raw error text with a fixed user-facing message.
// The underlying error stays available through Err.
func WithFailureMessage(msg string) ActionOption {
	return func(o *actionOptions) { o.failureMessage = msg }
}

// Action models a long-running external effect as idle -> pending -> success|error.
// The work function only runs after the fixed delay; there is no cancellation
// and no automatic retry.
type Action[T any] struct {
	name  string
	delay time.Duration
	work  WorkFunc[T]
	opts  actionOptions

	onSuccess func(T)
	onFailure func(error)

	mu          sync.Mutex
	status      ActionStatus
	result      T
	lastErr     error
	errText     string
	attempts    int
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}
}

// NewAction builds an idle action.
func NewAction[T any](name string, delay time.Duration, work WorkFunc[T], opts ...ActionOption) *Action[T] {
	o := actionOptions{clock: clock.Real(), logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Action[T]{
		name:   name,
		delay:  delay,
		work:   work,
		opts:   o,
		status: ActionIdle,
	}
}

// OnSuccess registers the completion callback. It runs outside the action lock
// before Done is closed.
func (a *Action[T]) OnSuccess(fn func(T)) *Action[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSuccess = fn
	return a
}

// OnFailure registers a callback for failed attempts.
func (a *Action[T]) OnFailure(fn func(error)) *Action[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onFailure = fn
	return a
}

// Name identifies the action in logs.
func (a *Action[T]) Name() string { return a.name }

// Delay is how long a triggered attempt waits before the work runs.
func (a *Action[T]) Delay() time.Duration { return a.delay }

// Trigger starts the action from idle or error.
func (a *Action[T]) Trigger(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.status {
	case ActionPending:
		return ErrActionPending
	case ActionSuccess:
		return ErrActionCompleted
	}
	a.startLocked(ctx)
	return nil
}

// Retry re-issues the identical action after a failure.
func (a *Action[T]) Retry(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status != ActionError {
		return ErrActionNotFailed
	}
	a.startLocked(ctx)
	return nil
}

// Reset returns a settled action to idle so it can run again.
func (a *Action[T]) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == ActionPending {
		return ErrActionPending
	}
	var zero T
	a.status = ActionIdle
	a.result = zero
	a.lastErr = nil
	a.errText = ""
	a.startedAt = time.Time{}
	a.completedAt = time.Time{}
	return nil
}

func (a *Action[T]) startLocked(ctx context.Context) {
	a.status = ActionPending
	a.attempts++
	a.startedAt = a.opts.clock.Now()
	a.completedAt = time.Time{}
	a.done = make(chan struct{})

	attempt := a.attempts
	done := a.done
	a.opts.logger.WithFields(logrus.Fields{
		"action":  a.name,
		"status":  ActionPending,
		"attempt": attempt,
	}).Debug("action triggered")

	run := func() { a.settle(ctx, attempt, done) }
	if a.delay <= 0 {
		go run()
		return
	}
	a.opts.clock.AfterFunc(a.delay, run)
}

func (a *Action[T]) settle(ctx context.Context, attempt int, done chan struct{}) {
	defer close(done)

	result, err := a.work(ctx)

	a.mu.Lock()
	if attempt != a.attempts || a.status != ActionPending {
		a.mu.Unlock()
		return
	}
	a.completedAt = a.opts.clock.Now()
	onSuccess, onFailure := a.onSuccess, a.onFailure
	fields := logrus.Fields{"action": a.name, "attempt": attempt}
	if err != nil {
		a.status = ActionError
		a.lastErr = err
		a.errText = err.Error()
		if a.opts.failureMessage != "" {
			a.errText = a.opts.failureMessage
		}
		a.mu.Unlock()

		fields["status"] = ActionError
		a.opts.logger.WithFields(fields).WithError(err).Warn("action failed")
		if onFailure != nil {
			onFailure(err)
		}
		return
	}
	a.status = ActionSuccess
	a.result = result
	a.lastErr = nil
	a.errText = ""
	a.mu.Unlock()

	fields["status"] = ActionSuccess
	a.opts.logger.WithFields(fields).Debug("action completed")
	if onSuccess != nil {
		onSuccess(result)
	}
}

// Done returns a channel closed once the current attempt settles. Before the
// first trigger it returns a closed channel.
func (a *Action[T]) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.done
}

// Wait blocks until the current attempt settles or ctx ends.
func (a *Action[T]) Wait(ctx context.Context) (ActionState[T], error) {
	select {
	case <-a.Done():
		return a.Snapshot(), nil
	case <-ctx.Done():
		return a.Snapshot(), ctx.Err()
	}
}

// Status is the current lifecycle state.
func (a *Action[T]) Status() ActionStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Succeeded is the usual gate condition for steps that follow an action.
func (a *Action[T]) Succeeded() bool {
	return a.Status() == ActionSuccess
}

// Result returns the payload of the last successful attempt.
func (a *Action[T]) Result() (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result, a.status == ActionSuccess
}

// Err returns the raw error of the last failed attempt.
func (a *Action[T]) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Snapshot copies the action state for read models.
func (a *Action[T]) Snapshot() ActionState[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := ActionState[T]{
		Name:     a.name,
		Status:   a.status,
		Result:   a.result,
		Error:    a.errText,
		Attempts: a.attempts,
	}
	if !a.startedAt.IsZero() {
		t := a.startedAt
		st.StartedAt = &t
	}
	if !a.completedAt.IsZero() {
		t := a.completedAt
		st.CompletedAt = &t
	}
	return st
}
