// Package status projects a task's durable record and its live engine
// state into the public status shape served to course staff.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/campusworks/coursetasks/pkg/core"
	"github.com/campusworks/coursetasks/pkg/security"
)

// revokedMessage is persisted when revocation is first observed.
const revokedMessage = "Task revoked before running"

// TaskStatus is the public status shape, keyed by engine task id.
type TaskStatus struct {
	TaskID        string          `json:"task_id"`
	TaskState     core.TaskState  `json:"task_state"`
	InProgress    bool            `json:"in_progress"`
	Message       string          `json:"message,omitempty"`
	TaskProgress  json.RawMessage `json:"task_progress,omitempty"`
	TaskTraceback string          `json:"task_traceback,omitempty"`
	Succeeded     *bool           `json:"succeeded,omitempty"`
}

// Projector reconciles records with engine state on read. Status
// queries are the only place revocation and engine-side failures are
// folded back into the durable record.
type Projector struct {
	store  core.TaskStore
	engine core.Engine
	logger *slog.Logger
}

// NewProjector creates a Projector. A nil logger falls back to
// slog.Default.
func NewProjector(store core.TaskStore, eng core.Engine, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{store: store, engine: eng, logger: logger}
}

// Status builds the status for one engine task id. An unknown id
// yields (nil, nil).
func (p *Projector) Status(ctx context.Context, engineTaskID string) (*TaskStatus, error) {
	rec, err := p.store.GetByEngineTaskID(ctx, engineTaskID)
	if errors.Is(err, core.ErrMissingRecord) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var traceback string
	if !rec.State.IsTerminal() {
		res, err := p.engine.Query(ctx, engineTaskID)
		if err != nil {
			return nil, err
		}

		switch res.State {
		case core.StateProgress:
			// Progress is ephemeral: shown, never persisted here.
			rec.State = core.StateProgress
			rec.OutputJSON = string(res.Result)

		case core.StateFailure:
			prog := &core.TaskProgress{
				Exception: "Error",
				Message:   security.SanitizeMessage(failureMessage(res)),
				Traceback: security.TruncateTraceback(res.Traceback),
			}
			rec.OutputJSON = prog.Encode()
			rec.State = core.StateFailure
			if err := p.store.SaveNow(ctx, rec); err != nil && !errors.Is(err, core.ErrTaskFinished) {
				return nil, err
			}
			traceback = res.Traceback

		case core.StateRevoked:
			prog := &core.TaskProgress{Message: revokedMessage}
			rec.OutputJSON = prog.Encode()
			rec.State = core.StateRevoked
			if err := p.store.SaveNow(ctx, rec); err != nil && !errors.Is(err, core.ErrTaskFinished) {
				return nil, err
			}

		default:
			if res.State != rec.State {
				rec.State = res.State
			}
		}
	}

	st := &TaskStatus{
		TaskID:     engineTaskID,
		TaskState:  rec.State,
		InProgress: !rec.State.IsTerminal(),
	}
	if rec.OutputJSON != "" {
		st.TaskProgress = json.RawMessage(rec.OutputJSON)
	}
	st.TaskTraceback = traceback

	if rec.State.IsTerminal() {
		succeeded, message := Narrate(rec)
		st.Succeeded = &succeeded
		st.Message = message

		// A record can be terminal with no output at all; Output is
		// nil then and there is no traceback to surface.
		if st.TaskTraceback == "" {
			if out, err := rec.Output(); err == nil && out != nil {
				st.TaskTraceback = out.Traceback
			}
		}
	}
	return st, nil
}

// failureMessage pulls the human-readable message out of an engine
// failure result.
func failureMessage(res *core.EngineResult) string {
	if len(res.Result) > 0 {
		var body map[string]string
		if err := json.Unmarshal(res.Result, &body); err == nil && body["error"] != "" {
			return body["error"]
		}
	}
	return res.Traceback
}
