package runner

import (
	"context"
	"encoding/json"

	"github.com/campusworks/coursetasks/pkg/core"
)

// Tracking event names emitted for auditable per-row mutations.
const (
	EventResetAttempts = "problem_reset_attempts"
	EventDeleteState   = "problem_delete_state"
)

// rescoreUpdate regrades one student's answer. The module runs with
// grade events bucketed under the rescoring task so regular
// submission analytics stay clean.
func (r *Runner) rescoreUpdate(engineTaskID string) UpdateFn {
	return func(ctx context.Context, d core.Descriptor, row *core.StudentModule) (core.UpdateOutcome, error) {
		student, err := r.users.ByID(ctx, row.StudentID)
		if err != nil {
			return core.OutcomeFailed, err
		}

		mod, err := r.blocks.Instantiate(ctx, d, student, row.CourseID, core.InstanceArgs{
			EngineTaskID:  engineTaskID,
			RescoreBucket: true,
		})
		if err != nil {
			// A module that cannot be built for this student is a row
			// failure, not a task failure.
			r.logger.Warn("failed to instantiate module for rescore",
				"student_id", row.StudentID,
				"location", row.ModuleStateKey,
				"error", err)
			return core.OutcomeFailed, nil
		}

		result, err := mod.Rescore(ctx)
		if err != nil {
			return core.OutcomeFailed, err
		}
		if err := mod.Save(ctx); err != nil {
			return core.OutcomeFailed, err
		}

		success, ok := result.Success()
		if !ok {
			return core.OutcomeFailed, nil
		}
		if success != "correct" && success != "incorrect" {
			return core.OutcomeFailed, nil
		}
		return core.OutcomeSucceeded, nil
	}
}

// resetAttemptsUpdate zeroes a positive attempts counter in the row's
// state. Rows without attempts, or already at zero, are skipped.
func (r *Runner) resetAttemptsUpdate() UpdateFn {
	return func(ctx context.Context, _ core.Descriptor, row *core.StudentModule) (core.UpdateOutcome, error) {
		if row.StateJSON == "" {
			return core.OutcomeSkipped, nil
		}

		var state map[string]any
		if err := json.Unmarshal([]byte(row.StateJSON), &state); err != nil {
			return core.OutcomeFailed, err
		}

		attempts, ok := state["attempts"].(float64)
		if !ok || attempts <= 0 {
			return core.OutcomeSkipped, nil
		}

		state["attempts"] = 0
		updated, err := json.Marshal(state)
		if err != nil {
			return core.OutcomeFailed, err
		}
		row.StateJSON = string(updated)

		if err := r.states.Save(ctx, row); err != nil {
			return core.OutcomeFailed, err
		}

		r.emit(ctx, EventResetAttempts, map[string]any{
			"old_attempts": int(attempts),
			"new_attempts": 0,
			"student_id":   row.StudentID,
			"problem":      row.ModuleStateKey,
		})
		return core.OutcomeSucceeded, nil
	}
}

// deleteStateUpdate removes the student's state row entirely.
func (r *Runner) deleteStateUpdate() UpdateFn {
	return func(ctx context.Context, _ core.Descriptor, row *core.StudentModule) (core.UpdateOutcome, error) {
		if err := r.states.Delete(ctx, row); err != nil {
			return core.OutcomeFailed, err
		}

		r.emit(ctx, EventDeleteState, map[string]any{
			"student_id": row.StudentID,
			"problem":    row.ModuleStateKey,
		})
		return core.OutcomeSucceeded, nil
	}
}

func (r *Runner) emit(ctx context.Context, event string, data map[string]any) {
	if r.tracker == nil {
		return
	}
	r.tracker.Emit(ctx, event, data)
}
