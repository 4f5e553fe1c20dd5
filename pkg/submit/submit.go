// Package submit is the web-process entry point for launching course
// tasks. Each entry point validates its preconditions, reserves a
// task record, and hands the work to the async engine.
package submit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/campusworks/coursetasks/pkg/core"
	"github.com/campusworks/coursetasks/pkg/security"
	"github.com/campusworks/coursetasks/pkg/taskkey"
)

// Submitter launches course tasks from request handlers. All methods
// are synchronous and cheap; the work itself runs on the engine.
type Submitter struct {
	store  core.TaskStore
	engine core.Engine
	blocks core.CourseBlocks
	logger *slog.Logger
}

// New creates a Submitter. A nil logger falls back to slog.Default.
func New(store core.TaskStore, eng core.Engine, blocks core.CourseBlocks, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{store: store, engine: eng, blocks: blocks, logger: logger}
}

// RescoreProblemForAllStudents launches a rescore over every student
// with state for the problem. Fails before reserving when the problem
// does not support rescoring.
func (s *Submitter) RescoreProblemForAllStudents(ctx context.Context, courseID, problemURL string, requesterID int64) (*core.TaskRecord, error) {
	if err := s.checkRescorable(ctx, courseID, problemURL); err != nil {
		return nil, err
	}
	key, in := taskkey.Encode(problemURL, "")
	return s.submit(ctx, courseID, core.OpRescoreProblem, key, in, requesterID)
}

// RescoreProblemForStudent launches a rescore of one student's
// answer. The student identifier is an email or username; it is only
// charset-checked here. Resolution happens inside the task body, so
// an unknown student produces a FAILURE record rather than a
// submission error.
func (s *Submitter) RescoreProblemForStudent(ctx context.Context, courseID, problemURL, student string, requesterID int64) (*core.TaskRecord, error) {
	if err := s.checkRescorable(ctx, courseID, problemURL); err != nil {
		return nil, err
	}
	if err := security.ValidateStudentIdentifier(student); err != nil {
		return nil, err
	}
	key, in := taskkey.Encode(problemURL, student)
	return s.submit(ctx, courseID, core.OpRescoreProblem, key, in, requesterID)
}

// ResetProblemAttemptsForAllStudents zeroes the attempt counter for
// every student with state for the problem.
func (s *Submitter) ResetProblemAttemptsForAllStudents(ctx context.Context, courseID, problemURL string, requesterID int64) (*core.TaskRecord, error) {
	if err := s.checkProblem(ctx, courseID, problemURL); err != nil {
		return nil, err
	}
	key, in := taskkey.Encode(problemURL, "")
	return s.submit(ctx, courseID, core.OpResetProblemAttempts, key, in, requesterID)
}

// DeleteProblemStateForAllStudents deletes every student's state row
// for the problem.
func (s *Submitter) DeleteProblemStateForAllStudents(ctx context.Context, courseID, problemURL string, requesterID int64) (*core.TaskRecord, error) {
	if err := s.checkProblem(ctx, courseID, problemURL); err != nil {
		return nil, err
	}
	key, in := taskkey.Encode(problemURL, "")
	return s.submit(ctx, courseID, core.OpDeleteProblemState, key, in, requesterID)
}

// GradeReport launches a grade report for the whole course. The key
// encodes an empty problem and student, so at most one report runs at
// a time per course.
func (s *Submitter) GradeReport(ctx context.Context, courseID string, requesterID int64) (*core.TaskRecord, error) {
	if err := security.ValidateIdentifier(courseID); err != nil {
		return nil, err
	}
	key, in := taskkey.Encode("", "")
	return s.submit(ctx, courseID, core.OpGradeReport, key, in, requesterID)
}

// History lists past and in-flight tasks for the (problem, student)
// group, newest first. An empty kind matches every operation.
func (s *Submitter) History(ctx context.Context, courseID, problemURL, student string, kind core.OperationKind) ([]*core.TaskRecord, error) {
	key, _ := taskkey.Encode(problemURL, student)
	return s.store.HistoryForKey(ctx, courseID, key, kind)
}

// submit runs the shared reserve-then-enqueue sequence. The engine
// task id is generated here, before enqueueing, so the record already
// carries it when a worker picks the task up.
func (s *Submitter) submit(ctx context.Context, courseID string, kind core.OperationKind, key string, in core.TaskInput, requesterID int64) (*core.TaskRecord, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Reserve(ctx, courseID, kind, key, string(data), requesterID)
	if err != nil {
		return nil, err
	}

	engineTaskID := uuid.New().String()
	rec.EngineTaskID = engineTaskID
	if err := s.store.SaveNow(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("task submitted",
		"task_id", rec.ID,
		"engine_task_id", engineTaskID,
		"kind", kind,
		"course_id", courseID)

	state, err := s.engine.Submit(ctx, kind, rec.ID, engineTaskID)
	if err != nil {
		// The reservation must not hold the gate forever when the
		// handoff itself failed.
		s.abandon(ctx, rec, err)
		return nil, err
	}

	// Reload before applying the engine-reported state. In eager mode
	// the body has already driven the record to a terminal state, and
	// that outcome wins.
	fresh, err := s.store.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if !fresh.State.IsTerminal() && fresh.State != state {
		fresh.State = state
		if err := s.store.SaveNow(ctx, fresh); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

// abandon releases the reservation after a failed engine handoff.
func (s *Submitter) abandon(ctx context.Context, rec *core.TaskRecord, cause error) {
	p := &core.TaskProgress{
		Exception: "SubmitError",
		Message:   security.SanitizeMessage(cause.Error()),
	}
	rec.OutputJSON = p.Encode()
	rec.State = core.StateFailure
	if err := s.store.SaveNow(ctx, rec); err != nil {
		s.logger.Error("failed to release reservation",
			"task_id", rec.ID, "cause", cause, "error", err)
	}
}

// checkProblem validates identifiers and resolves the problem
// location, rejecting missing modules before any reservation.
func (s *Submitter) checkProblem(ctx context.Context, courseID, problemURL string) error {
	if err := security.ValidateIdentifier(courseID); err != nil {
		return err
	}
	if err := security.ValidateIdentifier(problemURL); err != nil {
		return err
	}
	_, err := s.blocks.LoadDescriptor(ctx, courseID, problemURL)
	return err
}

// checkRescorable additionally requires the rescore capability.
func (s *Submitter) checkRescorable(ctx context.Context, courseID, problemURL string) error {
	if err := security.ValidateIdentifier(courseID); err != nil {
		return err
	}
	if err := security.ValidateIdentifier(problemURL); err != nil {
		return err
	}
	desc, err := s.blocks.LoadDescriptor(ctx, courseID, problemURL)
	if err != nil {
		return err
	}
	if !desc.SupportsRescore() {
		return core.ErrRescoreNotSupported
	}
	return nil
}
