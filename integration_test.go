package coursetasks_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	coursetasks "github.com/campusworks/coursetasks"
	"github.com/campusworks/coursetasks/pkg/artifact"
	"github.com/campusworks/coursetasks/pkg/storage"
)

const (
	testCourse  = "edX/DemoX/Demo_Course"
	testProblem = "i4x://edX/DemoX/problem/quiz1"
)

// ──────────────────────────────────────────────────────────────────────────────
// fakes for the external collaborators
// ──────────────────────────────────────────────────────────────────────────────

type fakeDescriptor struct {
	location   string
	rescorable bool
}

func (d fakeDescriptor) Location() string      { return d.location }
func (d fakeDescriptor) SupportsRescore() bool { return d.rescorable }

type fakeModule struct {
	result     coursetasks.RescoreResult
	rescoreErr error
}

func (m *fakeModule) Rescore(context.Context) (coursetasks.RescoreResult, error) {
	return m.result, m.rescoreErr
}

func (m *fakeModule) Save(context.Context) error { return nil }

type fakeBlocks struct {
	known      map[string]fakeDescriptor
	results    map[int64]coursetasks.RescoreResult
	rescoreErr error
}

func (b *fakeBlocks) LoadDescriptor(_ context.Context, _ string, location string) (coursetasks.Descriptor, error) {
	d, ok := b.known[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", coursetasks.ErrModuleNotFound, location)
	}
	return d, nil
}

func (b *fakeBlocks) Instantiate(_ context.Context, _ coursetasks.Descriptor, student *coursetasks.User, _ string, _ coursetasks.InstanceArgs) (coursetasks.ProblemModule, error) {
	return &fakeModule{result: b.results[student.ID], rescoreErr: b.rescoreErr}, nil
}

type fakeGrades struct {
	triples map[string]coursetasks.GradeTriple
}

func (f *fakeGrades) IterateGrades(_ context.Context, _ string, learners []*coursetasks.User, fn func(coursetasks.GradeTriple) error) error {
	for _, u := range learners {
		t := f.triples[u.Username]
		t.Learner = u
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// environment
// ──────────────────────────────────────────────────────────────────────────────

type testSystem struct {
	*coursetasks.System
	blocks    *fakeBlocks
	grades    *fakeGrades
	artifacts *artifact.MemoryStore
}

func newEagerSystem(t *testing.T) *testSystem {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.MaxOpenConns(1), storage.MaxIdleConns(1)))

	blocks := &fakeBlocks{
		known:   map[string]fakeDescriptor{testProblem: {location: testProblem, rescorable: true}},
		results: map[int64]coursetasks.RescoreResult{},
	}
	grades := &fakeGrades{triples: map[string]coursetasks.GradeTriple{}}
	artifacts := artifact.NewMemoryStore()

	sys, err := coursetasks.NewSystem(ctx, coursetasks.SystemConfig{
		DB:            db,
		Blocks:        blocks,
		Grades:        grades,
		Artifacts:     artifacts,
		EngineOptions: []coursetasks.EngineOption{coursetasks.Eager()},
	})
	require.NoError(t, err)

	return &testSystem{System: sys, blocks: blocks, grades: grades, artifacts: artifacts}
}

func (s *testSystem) addStudent(t *testing.T, id int64, username, stateJSON string) *coursetasks.User {
	t.Helper()
	ctx := context.Background()
	u := &coursetasks.User{ID: id, Username: username, Email: username + "@example.com"}
	require.NoError(t, s.Platform.SaveUser(ctx, u))
	require.NoError(t, s.Platform.Enroll(ctx, id, testCourse))
	if stateJSON != "" {
		require.NoError(t, s.Platform.Save(ctx, &coursetasks.StudentModule{
			StudentID:      id,
			CourseID:       testCourse,
			ModuleStateKey: testProblem,
			ModuleType:     "problem",
			StateJSON:      stateJSON,
		}))
	}
	return u
}

// ──────────────────────────────────────────────────────────────────────────────
// full lifecycle
// ──────────────────────────────────────────────────────────────────────────────

func TestLifecycle_RescoreForAllStudents(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 1}`)
	sys.addStudent(t, 2, "bob", `{"attempts": 2}`)
	sys.blocks.results[1] = coursetasks.RescoreResult{"success": "correct"}
	sys.blocks.results[2] = coursetasks.RescoreResult{"success": "incorrect"}

	rec, err := sys.Submitter.RescoreProblemForAllStudents(ctx, testCourse, testProblem, 99)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateSuccess, rec.State, "eager mode finishes before Submit returns")

	st, err := sys.Projector.Status(ctx, rec.EngineTaskID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.False(t, st.InProgress)
	require.NotNil(t, st.Succeeded)
	assert.True(t, *st.Succeeded)
	assert.Equal(t, "Problem successfully rescored for 2 students", st.Message)
}

func TestLifecycle_RescoreSingleStudent(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 1}`)
	sys.addStudent(t, 2, "bob", `{"attempts": 1}`)
	sys.blocks.results[1] = coursetasks.RescoreResult{"success": "correct"}

	rec, err := sys.Submitter.RescoreProblemForStudent(ctx, testCourse, testProblem, "alice", 99)
	require.NoError(t, err)

	st, err := sys.Projector.Status(ctx, rec.EngineTaskID)
	require.NoError(t, err)
	assert.Equal(t, "Problem successfully rescored for student 'alice'", st.Message)

	// Bob's state was never touched.
	rows, err := sys.Platform.List(ctx, testCourse, testProblem, 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"attempts": 1}`, rows[0].StateJSON)
}

func TestLifecycle_UnknownStudentFailsInsideTask(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	rec, err := sys.Submitter.RescoreProblemForStudent(ctx, testCourse, testProblem, "ghost@example.com", 99)
	require.NoError(t, err, "submission succeeds; resolution fails in the body")
	assert.Equal(t, coursetasks.StateFailure, rec.State)

	out, err := rec.Output()
	require.NoError(t, err)
	assert.Equal(t, "UnknownStudent", out.Exception)

	recs, err := sys.Submitter.History(ctx, testCourse, testProblem, "ghost@example.com", "")
	require.NoError(t, err)
	require.Len(t, recs, 1, "the failure leaves a durable record")
	assert.Equal(t, rec.ID, recs[0].ID)
}

func TestLifecycle_BodyFailureIsNarrated(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 1}`)
	sys.blocks.rescoreErr = errors.New("response parser exploded")

	rec, err := sys.Submitter.RescoreProblemForAllStudents(ctx, testCourse, testProblem, 99)
	require.NoError(t, err, "submission succeeds; the body fails")
	assert.Equal(t, coursetasks.StateFailure, rec.State)

	st, err := sys.Projector.Status(ctx, rec.EngineTaskID)
	require.NoError(t, err)
	require.NotNil(t, st.Succeeded)
	assert.False(t, *st.Succeeded)
	assert.Contains(t, st.Message, "response parser exploded")

	out, err := rec.Output()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out.Traceback), coursetasks.MaxTracebackBytes)
}

func TestLifecycle_ResetAndDelete(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 4}`)

	rec, err := sys.Submitter.ResetProblemAttemptsForAllStudents(ctx, testCourse, testProblem, 99)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateSuccess, rec.State)

	rows, err := sys.Platform.List(ctx, testCourse, testProblem, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"attempts": 0}`, rows[0].StateJSON)

	rec, err = sys.Submitter.DeleteProblemStateForAllStudents(ctx, testCourse, testProblem, 99)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateSuccess, rec.State)

	rows, err = sys.Platform.List(ctx, testCourse, testProblem, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// ──────────────────────────────────────────────────────────────────────────────
// reservation gate
// ──────────────────────────────────────────────────────────────────────────────

func TestGate_DuplicateRejectedUntilTerminal(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 1}`)

	// Eager tasks finish immediately, so drive the gate with records
	// reserved by hand instead.
	key, _ := coursetasks.EncodeTaskKey(testProblem, "")
	first, err := sys.Store.Reserve(ctx, testCourse, coursetasks.OpResetProblemAttempts, key, `{"problem_url":"p"}`, 1)
	require.NoError(t, err)

	_, err = sys.Submitter.ResetProblemAttemptsForAllStudents(ctx, testCourse, testProblem, 1)
	require.ErrorIs(t, err, coursetasks.ErrAlreadyRunning)

	first.State = coursetasks.StateRevoked
	first.OutputJSON = `{"message":"Task revoked before running"}`
	require.NoError(t, sys.Store.SaveNow(ctx, first))

	_, err = sys.Submitter.ResetProblemAttemptsForAllStudents(ctx, testCourse, testProblem, 1)
	require.NoError(t, err, "the gate opens once the blocker is terminal")
}

// ──────────────────────────────────────────────────────────────────────────────
// revocation
// ──────────────────────────────────────────────────────────────────────────────

func TestRevocation_SurfacesThroughStatus(t *testing.T) {
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db, storage.MaxOpenConns(1), storage.MaxIdleConns(1)))

	blocks := &fakeBlocks{known: map[string]fakeDescriptor{testProblem: {location: testProblem, rescorable: true}}}

	// No Eager option and no Start call: submissions stay queued.
	sys, err := coursetasks.NewSystem(ctx, coursetasks.SystemConfig{
		DB:     db,
		Blocks: blocks,
		Grades: &fakeGrades{},
	})
	require.NoError(t, err)

	rec, err := sys.Submitter.ResetProblemAttemptsForAllStudents(ctx, testCourse, testProblem, 1)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StatePending, rec.State)

	require.NoError(t, sys.Engine.Revoke(ctx, rec.EngineTaskID))

	st, err := sys.Projector.Status(ctx, rec.EngineTaskID)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateRevoked, st.TaskState)
	assert.Equal(t, "Task revoked before running", st.Message)

	stored, err := sys.Store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateRevoked, stored.State, "revocation is folded into the record")
}

func TestStatus_UnknownTaskID(t *testing.T) {
	sys := newEagerSystem(t)

	st, err := sys.Projector.Status(context.Background(), "no-such-task")
	require.NoError(t, err)
	assert.Nil(t, st)
}

// ──────────────────────────────────────────────────────────────────────────────
// grade report
// ──────────────────────────────────────────────────────────────────────────────

func TestLifecycle_GradeReport(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", "")
	sys.addStudent(t, 2, "bob", "")
	sys.grades.triples["alice"] = coursetasks.GradeTriple{Grade: &coursetasks.CourseGrade{
		Percent:          0.9,
		SectionBreakdown: []coursetasks.SectionScore{{Label: "HW", Percent: 0.9}},
	}}
	sys.grades.triples["bob"] = coursetasks.GradeTriple{Err: "missing grades"}

	rec, err := sys.Submitter.GradeReport(ctx, testCourse, 99)
	require.NoError(t, err)
	assert.Equal(t, coursetasks.StateSuccess, rec.State)

	out, err := rec.Output()
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempted)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "Uploading CSVs", out.Step)

	keys := sys.artifacts.List()
	assert.Len(t, keys, 2, "report and error report are both stored")
}

// ──────────────────────────────────────────────────────────────────────────────
// history and schedules
// ──────────────────────────────────────────────────────────────────────────────

func TestHistory_AcrossOperations(t *testing.T) {
	ctx := context.Background()
	sys := newEagerSystem(t)

	sys.addStudent(t, 1, "alice", `{"attempts": 1}`)

	_, err := sys.Submitter.ResetProblemAttemptsForAllStudents(ctx, testCourse, testProblem, 1)
	require.NoError(t, err)
	_, err = sys.Submitter.DeleteProblemStateForAllStudents(ctx, testCourse, testProblem, 1)
	require.NoError(t, err)

	recs, err := sys.Submitter.History(ctx, testCourse, testProblem, "", "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, coursetasks.OpDeleteProblemState, recs[0].Kind, "newest first")
}

func TestScheduleFacade(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Hour), coursetasks.Every(time.Hour).Next(now))

	daily := coursetasks.Daily(2, 30).Next(now)
	assert.Equal(t, 2, daily.Hour())
	assert.Equal(t, 30, daily.Minute())
	assert.True(t, daily.After(now))

	weekly := coursetasks.Weekly(time.Sunday, 4, 0).Next(now)
	assert.Equal(t, time.Sunday, weekly.Weekday())
	assert.True(t, weekly.After(now))

	cron := coursetasks.Cron("0 3 * * *").Next(now)
	assert.Equal(t, 3, cron.Hour())
	assert.True(t, cron.After(now))
}
