package runner

import (
	"context"
	"strings"
	"time"

	"github.com/campusworks/coursetasks/pkg/core"
)

// UpdateFn applies one operation to one student's state row.
// Expected per-row failures are reported as OutcomeFailed; an error
// return aborts the whole task.
type UpdateFn func(ctx context.Context, d core.Descriptor, row *core.StudentModule) (core.UpdateOutcome, error)

// FilterFn narrows the visited rows, for operations that only apply
// to a subset of the matched state.
type FilterFn func(rows []*core.StudentModule) []*core.StudentModule

// visit bundles the arguments of one module-state walk.
type visit struct {
	rec          *core.TaskRecord
	in           core.TaskInput
	engineTaskID string
	pub          core.Publisher

	// checkModule rejects the operation from the loaded descriptor,
	// before any row is touched.
	checkModule func(core.Descriptor) error
	filter      FilterFn
	update      UpdateFn
}

// visitModuleState walks every matching (student, problem) state row
// and applies the operation's update function, publishing progress
// after each row.
func (r *Runner) visitModuleState(ctx context.Context, v visit) (*core.TaskProgress, error) {
	started := time.Now()

	desc, err := r.blocks.LoadDescriptor(ctx, v.rec.CourseID, v.in.ProblemURL)
	if err != nil {
		return nil, err
	}
	if v.checkModule != nil {
		if err := v.checkModule(desc); err != nil {
			return nil, err
		}
	}

	var studentID int64
	if v.in.Student != "" {
		student, err := r.lookupStudent(ctx, v.in.Student)
		if err != nil {
			return nil, err
		}
		studentID = student.ID
	}

	rows, err := r.states.List(ctx, v.rec.CourseID, v.in.ProblemURL, studentID)
	if err != nil {
		return nil, err
	}
	if v.filter != nil {
		rows = v.filter(rows)
	}

	p := &core.TaskProgress{
		ActionName: v.rec.Kind.ActionName(),
		Total:      len(rows),
	}

	for _, row := range rows {
		outcome, err := v.update(ctx, desc, row)
		if err != nil {
			return nil, err
		}

		p.Attempted++
		switch outcome {
		case core.OutcomeSucceeded:
			p.Succeeded++
		case core.OutcomeSkipped:
			p.Skipped++
		default:
			p.Failed++
		}

		p.DurationMS = time.Since(started).Milliseconds()
		if perr := v.pub.Publish(ctx, v.engineTaskID, p); perr != nil {
			r.logger.Warn("failed to publish row progress",
				"task_id", v.rec.ID, "error", perr)
		}
	}

	p.DurationMS = time.Since(started).Milliseconds()
	return p, nil
}

// lookupStudent resolves a submitted identifier: emails carry an "@",
// everything else is a username. Matches are exact.
func (r *Runner) lookupStudent(ctx context.Context, identifier string) (*core.User, error) {
	if strings.Contains(identifier, "@") {
		return r.users.ByEmail(ctx, identifier)
	}
	return r.users.ByUsername(ctx, identifier)
}
