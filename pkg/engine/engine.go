package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/campusworks/coursetasks/pkg/core"
	"github.com/campusworks/coursetasks/pkg/schedule"
)

// RunFunc is the body of a course task operation. It receives the
// durable record id, the engine task id the body runs under, and a
// publisher for progress updates. The returned payload becomes the
// engine-side result on success.
type RunFunc func(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher) (json.RawMessage, error)

type submission struct {
	kind         core.OperationKind
	recordID     int64
	engineTaskID string
}

// ScheduledSubmission is a recurring submission registered with the
// engine, such as a nightly grade report.
type ScheduledSubmission struct {
	Name     string
	Schedule schedule.Schedule
	Submit   func(ctx context.Context) error
}

// LocalEngine runs task bodies on an in-process worker pool and keeps
// per-task state in a ResultBackend. It stands in for a distributed
// broker on single-host deployments; with a Redis result backend the
// Query side still works across processes.
type LocalEngine struct {
	config  Config
	results ResultBackend

	mu        sync.RWMutex
	runners   map[core.OperationKind]RunFunc
	scheduled map[string]ScheduledSubmission

	jobs chan submission
	done chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	logger    *slog.Logger
}

// ErrUnknownOperation is returned by Submit for an unregistered kind.
var ErrUnknownOperation = errors.New("coursetasks: no runner registered for operation")

// ErrEngineStopped is returned by Submit once the engine has shut
// down.
var ErrEngineStopped = errors.New("coursetasks: engine stopped")

// New creates a LocalEngine. Register runners before calling Start or
// Submit.
func New(opts ...Option) *LocalEngine {
	config := Config{
		Concurrency: 4,
		Buffer:      64,
		Logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt.Apply(&config)
	}
	if config.Results == nil {
		config.Results = NewMemoryResults()
	}

	return &LocalEngine{
		config:    config,
		results:   config.Results,
		runners:   make(map[core.OperationKind]RunFunc),
		scheduled: make(map[string]ScheduledSubmission),
		jobs:      make(chan submission, config.Buffer),
		done:      make(chan struct{}),
		logger:    config.Logger,
	}
}

// Register binds a runner to an operation kind. Later registrations
// for the same kind replace earlier ones.
func (e *LocalEngine) Register(kind core.OperationKind, fn RunFunc) {
	e.mu.Lock()
	e.runners[kind] = fn
	e.mu.Unlock()
}

// Schedule registers a recurring submission. The scheduler goroutine
// started by Start fires it according to its schedule.
func (e *LocalEngine) Schedule(name string, sched schedule.Schedule, submit func(ctx context.Context) error) {
	e.mu.Lock()
	e.scheduled[name] = ScheduledSubmission{Name: name, Schedule: sched, Submit: submit}
	e.mu.Unlock()
}

func (e *LocalEngine) runner(kind core.OperationKind) (RunFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.runners[kind]
	return fn, ok
}

// Start launches the worker pool and scheduler. Blocks until the
// context is cancelled. Not needed in eager mode.
func (e *LocalEngine) Start(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() { started = true })
	if !started {
		return fmt.Errorf("coursetasks: engine already started")
	}

	for i := 0; i < e.config.Concurrency; i++ {
		e.wg.Add(1)
		go e.processLoop(ctx)
	}

	go e.runScheduler(ctx)

	<-ctx.Done()
	// Submitters send on e.jobs from their own goroutines, so the
	// channel is never closed; workers are released through done.
	close(e.done)
	e.wg.Wait()
	return ctx.Err()
}

func (e *LocalEngine) processLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case sub := <-e.jobs:
			e.runTask(ctx, sub)
		}
	}
}

func (e *LocalEngine) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Seeding with the start time keeps schedules from firing once at
	// boot just because they have no recorded run yet.
	started := time.Now()
	lastRun := make(map[string]time.Time)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.RLock()
			scheduled := make([]ScheduledSubmission, 0, len(e.scheduled))
			for _, sj := range e.scheduled {
				scheduled = append(scheduled, sj)
			}
			e.mu.RUnlock()

			now := time.Now()
			for _, sj := range scheduled {
				last, ok := lastRun[sj.Name]
				if !ok {
					last = started
				}
				nextRun := sj.Schedule.Next(last)
				if now.After(nextRun) || now.Equal(nextRun) {
					if err := sj.Submit(ctx); err != nil {
						e.logger.Error("scheduled submission failed", "name", sj.Name, "error", err)
					}
					lastRun[sj.Name] = now
				}
			}
		}
	}
}

// Submit records the task as PENDING in the result backend and hands
// it to the worker pool. In eager mode the body runs before Submit
// returns and the returned state is terminal.
func (e *LocalEngine) Submit(ctx context.Context, kind core.OperationKind, recordID int64, engineTaskID string) (core.TaskState, error) {
	if _, ok := e.runner(kind); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownOperation, kind)
	}

	if err := e.results.Set(ctx, engineTaskID, &core.EngineResult{State: core.StatePending}); err != nil {
		return "", err
	}

	sub := submission{kind: kind, recordID: recordID, engineTaskID: engineTaskID}

	if e.config.Eager {
		e.runTask(ctx, sub)
		res, err := e.results.Get(ctx, engineTaskID)
		if err != nil {
			return "", err
		}
		return res.State, nil
	}

	select {
	case <-e.done:
		return "", ErrEngineStopped
	default:
	}

	select {
	case e.jobs <- sub:
		return core.StatePending, nil
	case <-e.done:
		return "", ErrEngineStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Query returns the engine's latest state for the task. Unknown ids
// report PENDING, matching brokers that cannot distinguish "not yet
// seen" from "never submitted".
func (e *LocalEngine) Query(ctx context.Context, engineTaskID string) (*core.EngineResult, error) {
	res, err := e.results.Get(ctx, engineTaskID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &core.EngineResult{State: core.StatePending}, nil
	}
	return res, nil
}

// Revoke cancels a task that has not started running. Tasks already
// in PROGRESS or finished are left untouched.
func (e *LocalEngine) Revoke(ctx context.Context, engineTaskID string) error {
	res, err := e.results.Get(ctx, engineTaskID)
	if err != nil {
		return err
	}
	if res == nil || res.State != core.StatePending {
		return nil
	}
	return e.results.Set(ctx, engineTaskID, &core.EngineResult{State: core.StateRevoked})
}

// Publish implements core.Publisher. Each published progress payload
// replaces the previous one as the task's PROGRESS result.
func (e *LocalEngine) Publish(ctx context.Context, engineTaskID string, p *core.TaskProgress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return e.results.Set(ctx, engineTaskID, &core.EngineResult{
		State:  core.StateProgress,
		Result: payload,
	})
}

func (e *LocalEngine) runTask(ctx context.Context, sub submission) {
	current, err := e.results.Get(ctx, sub.engineTaskID)
	if err != nil {
		e.logger.Error("failed to read task state", "engine_task_id", sub.engineTaskID, "error", err)
	}
	if current != nil && current.State == core.StateRevoked {
		e.logger.Info("skipping revoked task", "engine_task_id", sub.engineTaskID, "kind", sub.kind)
		return
	}

	fn, ok := e.runner(sub.kind)
	if !ok {
		e.logger.Error("no runner for operation", "kind", sub.kind)
		return
	}

	result, runErr := e.execute(ctx, sub, fn)

	if runErr != nil {
		e.logger.Error("task failed",
			"engine_task_id", sub.engineTaskID,
			"kind", sub.kind,
			"record_id", sub.recordID,
			"error", runErr)
		e.storeFailure(ctx, sub.engineTaskID, runErr)
		return
	}

	if err := e.results.Set(ctx, sub.engineTaskID, &core.EngineResult{
		State:  core.StateSuccess,
		Result: result,
	}); err != nil {
		e.logger.Error("failed to store task result", "engine_task_id", sub.engineTaskID, "error", err)
	}
}

func (e *LocalEngine) execute(ctx context.Context, sub submission, fn RunFunc) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx, sub.recordID, sub.engineTaskID, e)
}

func (e *LocalEngine) storeFailure(ctx context.Context, engineTaskID string, runErr error) {
	res := &core.EngineResult{State: core.StateFailure}

	var pe *panicError
	if errors.As(runErr, &pe) {
		res.Traceback = pe.stack
	} else {
		res.Traceback = runErr.Error()
	}

	payload, merr := json.Marshal(map[string]string{"error": runErr.Error()})
	if merr == nil {
		res.Result = payload
	}

	if err := e.results.Set(ctx, engineTaskID, res); err != nil {
		e.logger.Error("failed to store task failure", "engine_task_id", engineTaskID, "error", err)
	}
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
