// Package gradereport builds per-course CSV grade reports and stores
// them as artifacts.
package gradereport

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/campusworks/coursetasks/pkg/core"
)

// progressInterval is how many learners are graded between progress
// publications.
const progressInterval = 100

// fixedColumns lead every grade report row before the per-section
// breakdown.
var fixedColumns = []string{"id", "email", "username", "grade"}

// Generator produces grade report artifacts for a course.
type Generator struct {
	enrollments core.EnrollmentStore
	grades      core.GradingFacade
	artifacts   core.ArtifactStore
	logger      *slog.Logger

	// now is swapped in tests to pin the artifact timestamp.
	now func() time.Time
}

// New creates a Generator. A nil logger falls back to slog.Default.
func New(enrollments core.EnrollmentStore, grades core.GradingFacade, artifacts core.ArtifactStore, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		enrollments: enrollments,
		grades:      grades,
		artifacts:   artifacts,
		logger:      logger,
		now:         time.Now,
	}
}

// Generate grades every enrolled learner, composes the report and
// error report, and uploads both. Progress is published through pub
// every progressInterval learners and once more before upload.
func (g *Generator) Generate(ctx context.Context, courseID, engineTaskID string, pub core.Publisher) (*core.TaskProgress, error) {
	started := g.now()

	learners, err := g.enrollments.ListEnrolled(ctx, courseID)
	if err != nil {
		return nil, err
	}

	p := &core.TaskProgress{
		ActionName: core.OpGradeReport.ActionName(),
		Total:      len(learners),
		Step:       "Calculating Grades",
	}

	var header []string
	var rows [][]string
	errRows := [][]string{{"id", "username", "error_msg"}}

	err = g.grades.IterateGrades(ctx, courseID, learners, func(t core.GradeTriple) error {
		p.Attempted++

		if t.Grade == nil || t.Err != "" {
			p.Failed++
			errRows = append(errRows, []string{
				strconv.FormatInt(t.Learner.ID, 10),
				t.Learner.Username,
				t.Err,
			})
		} else {
			if header == nil {
				// The first graded learner fixes the section columns
				// for the whole report.
				header = append(header, fixedColumns...)
				for _, s := range t.Grade.SectionBreakdown {
					header = append(header, s.Label)
				}
				rows = append(rows, header)
			}
			rows = append(rows, g.composeRow(header, t))
			p.Succeeded++
		}

		if p.Attempted%progressInterval == 0 {
			p.DurationMS = time.Since(started).Milliseconds()
			if perr := pub.Publish(ctx, engineTaskID, p); perr != nil {
				g.logger.Warn("failed to publish grading progress",
					"course_id", courseID, "error", perr)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Step = "Uploading CSVs"
	p.DurationMS = time.Since(started).Milliseconds()
	if perr := pub.Publish(ctx, engineTaskID, p); perr != nil {
		g.logger.Warn("failed to publish upload progress",
			"course_id", courseID, "error", perr)
	}

	reportName, errName := ReportNames(courseID, g.now())
	if err := g.artifacts.StoreRows(ctx, courseID, reportName, rows); err != nil {
		return nil, err
	}
	if err := g.artifacts.StoreRows(ctx, courseID, errName, errRows); err != nil {
		return nil, err
	}

	g.logger.Info("grade report stored",
		"course_id", courseID,
		"report", reportName,
		"graded", p.Succeeded,
		"failed", p.Failed)

	p.DurationMS = time.Since(started).Milliseconds()
	return p, nil
}

// composeRow renders one successful learner under the established
// header. Sections the learner has no score for read 0.0.
func (g *Generator) composeRow(header []string, t core.GradeTriple) []string {
	byLabel := make(map[string]float64, len(t.Grade.SectionBreakdown))
	for _, s := range t.Grade.SectionBreakdown {
		byLabel[s.Label] = s.Percent
	}

	row := []string{
		strconv.FormatInt(t.Learner.ID, 10),
		t.Learner.Email,
		t.Learner.Username,
		formatPercent(t.Grade.Percent),
	}
	for _, label := range header[len(fixedColumns):] {
		row = append(row, formatPercent(byLabel[label]))
	}
	return row
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
