package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/campusworks/coursetasks/pkg/core"
	"github.com/campusworks/coursetasks/pkg/engine"
	"github.com/campusworks/coursetasks/pkg/gradereport"
	"github.com/campusworks/coursetasks/pkg/security"
)

// Config wires the runner to its collaborators.
type Config struct {
	Store       core.TaskStore
	Blocks      core.CourseBlocks
	States      core.StudentStateStore
	Users       core.UserDirectory
	Enrollments core.EnrollmentStore
	Grades      core.GradingFacade
	Artifacts   core.ArtifactStore
	Tracker     core.EventTracker
	Logger      *slog.Logger
}

// Runner executes operation bodies against a task record: it loads
// the record, guards against task-id replay, runs the body, and
// persists the terminal outcome.
type Runner struct {
	store   core.TaskStore
	blocks  core.CourseBlocks
	states  core.StudentStateStore
	users   core.UserDirectory
	tracker core.EventTracker
	reports *gradereport.Generator
	logger  *slog.Logger
}

// New creates a Runner. A nil logger falls back to slog.Default.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:   cfg.Store,
		blocks:  cfg.Blocks,
		states:  cfg.States,
		users:   cfg.Users,
		tracker: cfg.Tracker,
		reports: gradereport.New(cfg.Enrollments, cfg.Grades, cfg.Artifacts, logger),
		logger:  logger,
	}
}

// bodyFunc is one operation's work, given the loaded record and its
// decoded input. It returns the final progress payload.
type bodyFunc func(ctx context.Context, rec *core.TaskRecord, in core.TaskInput, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error)

// RescoreProblem is the engine body for rescore_problem tasks.
func (r *Runner) RescoreProblem(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher) (json.RawMessage, error) {
	return r.run(ctx, recordID, engineTaskID, pub, r.rescoreBody)
}

// ResetProblemAttempts is the engine body for reset_problem_attempts
// tasks.
func (r *Runner) ResetProblemAttempts(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher) (json.RawMessage, error) {
	return r.run(ctx, recordID, engineTaskID, pub, r.resetAttemptsBody)
}

// DeleteProblemState is the engine body for delete_problem_state
// tasks.
func (r *Runner) DeleteProblemState(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher) (json.RawMessage, error) {
	return r.run(ctx, recordID, engineTaskID, pub, r.deleteStateBody)
}

// GradeReport is the engine body for grade_report tasks.
func (r *Runner) GradeReport(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher) (json.RawMessage, error) {
	return r.run(ctx, recordID, engineTaskID, pub, r.gradeReportBody)
}

// RegisterAll binds every operation body to its kind on the engine.
func (r *Runner) RegisterAll(eng *engine.LocalEngine) {
	eng.Register(core.OpRescoreProblem, r.RescoreProblem)
	eng.Register(core.OpResetProblemAttempts, r.ResetProblemAttempts)
	eng.Register(core.OpDeleteProblemState, r.DeleteProblemState)
	eng.Register(core.OpGradeReport, r.GradeReport)
}

// run is the generic wrapper shared by every body. On success it
// writes the payload and SUCCESS (unless subtasks own the terminal
// transition); on failure it records the exception and FAILURE.
func (r *Runner) run(ctx context.Context, recordID int64, engineTaskID string, pub core.Publisher, body bodyFunc) (json.RawMessage, error) {
	rec, err := r.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if rec.EngineTaskID != engineTaskID {
		mismatch := &core.TaskIDMismatchError{Expected: rec.EngineTaskID, Actual: engineTaskID}
		r.failRecord(ctx, rec, mismatch)
		return nil, mismatch
	}

	in, err := rec.Input()
	if err != nil {
		r.failRecord(ctx, rec, err)
		return nil, err
	}

	r.logger.Info("task body starting",
		"task_id", rec.ID,
		"engine_task_id", engineTaskID,
		"kind", rec.Kind,
		"course_id", rec.CourseID)

	payload, err := body(ctx, rec, in, engineTaskID, pub)
	if err != nil {
		r.failRecord(ctx, rec, err)
		return nil, err
	}

	rec.OutputJSON = payload.Encode()
	if !rec.HasSubtasks() {
		rec.State = core.StateSuccess
	}
	if err := r.store.SaveNow(ctx, rec); err != nil {
		return nil, err
	}

	r.logger.Info("task body finished",
		"task_id", rec.ID,
		"kind", rec.Kind,
		"attempted", payload.Attempted,
		"succeeded", payload.Succeeded,
		"skipped", payload.Skipped,
		"failed", payload.Failed)

	return json.RawMessage(rec.OutputJSON), nil
}

// failRecord persists the failure payload and the FAILURE state. A
// record already finished by someone else is left alone.
func (r *Runner) failRecord(ctx context.Context, rec *core.TaskRecord, cause error) {
	p := &core.TaskProgress{
		Exception: exceptionName(cause),
		Message:   security.SanitizeMessage(cause.Error()),
		Traceback: security.TruncateTraceback(string(debug.Stack())),
	}
	rec.OutputJSON = p.Encode()
	rec.State = core.StateFailure

	if err := r.store.SaveNow(ctx, rec); err != nil && !errors.Is(err, core.ErrTaskFinished) {
		r.logger.Error("failed to record task failure",
			"task_id", rec.ID, "cause", cause, "error", err)
	}
}

// exceptionName classifies an error for the persisted failure
// payload.
func exceptionName(err error) string {
	var mismatch *core.TaskIDMismatchError
	switch {
	case errors.As(err, &mismatch):
		return "TaskIDMismatch"
	case errors.Is(err, core.ErrModuleNotFound):
		return "ModuleNotFound"
	case errors.Is(err, core.ErrUnknownStudent):
		return "UnknownStudent"
	case errors.Is(err, core.ErrRescoreNotSupported):
		return "RescoreNotSupported"
	default:
		return "Error"
	}
}

// ── operation bodies ─────────────────────────────────────────────────

func (r *Runner) rescoreBody(ctx context.Context, rec *core.TaskRecord, in core.TaskInput, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error) {
	return r.visitModuleState(ctx, visit{
		rec:          rec,
		in:           in,
		engineTaskID: engineTaskID,
		pub:          pub,
		checkModule: func(d core.Descriptor) error {
			if !d.SupportsRescore() {
				return core.ErrRescoreNotSupported
			}
			return nil
		},
		update: r.rescoreUpdate(engineTaskID),
	})
}

func (r *Runner) resetAttemptsBody(ctx context.Context, rec *core.TaskRecord, in core.TaskInput, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error) {
	return r.visitModuleState(ctx, visit{
		rec:          rec,
		in:           in,
		engineTaskID: engineTaskID,
		pub:          pub,
		update:       r.resetAttemptsUpdate(),
	})
}

func (r *Runner) deleteStateBody(ctx context.Context, rec *core.TaskRecord, in core.TaskInput, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error) {
	return r.visitModuleState(ctx, visit{
		rec:          rec,
		in:           in,
		engineTaskID: engineTaskID,
		pub:          pub,
		update:       r.deleteStateUpdate(),
	})
}

func (r *Runner) gradeReportBody(ctx context.Context, rec *core.TaskRecord, _ core.TaskInput, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error) {
	return r.reports.Generate(ctx, rec.CourseID, engineTaskID, pub)
}
