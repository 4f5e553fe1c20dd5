package core

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStore is the durable store of task records. Writes are atomic
// at the record level; SaveNow commits immediately so the web process
// and workers observe partial progress.
type TaskStore interface {
	Migrate(ctx context.Context) error

	// Reserve atomically checks that no unfinished task exists for the
	// same (course, kind, key) tuple and inserts a QUEUING record,
	// committing before it returns. Fails with ErrAlreadyRunning.
	Reserve(ctx context.Context, courseID string, kind OperationKind, key, inputJSON string, requesterID int64) (*TaskRecord, error)

	Get(ctx context.Context, id int64) (*TaskRecord, error)
	GetByEngineTaskID(ctx context.Context, engineTaskID string) (*TaskRecord, error)

	// SaveNow persists the record immediately. It refuses to replace a
	// terminal state with a different state (ErrTaskFinished) and
	// refuses input mutation (ErrInputImmutable).
	SaveNow(ctx context.Context, rec *TaskRecord) error

	// ListRunning returns the course's records not in a terminal state.
	ListRunning(ctx context.Context, courseID string) ([]*TaskRecord, error)

	// HistoryForKey returns records for the (course, key) group ordered
	// by id descending. An empty kind matches every operation.
	HistoryForKey(ctx context.Context, courseID, key string, kind OperationKind) ([]*TaskRecord, error)
}

// EngineResult is the engine's view of an in-flight or finished task.
// Result holds the last-published progress payload for non-terminal
// states and the failure payload for FAILURE.
type EngineResult struct {
	State     TaskState       `json:"state"`
	Result    json.RawMessage `json:"result,omitempty"`
	Traceback string          `json:"traceback,omitempty"`
}

// Engine is the async execution substrate: queue, worker pool and a
// state store for in-flight tasks.
type Engine interface {
	// Submit enqueues the task body for the record under a
	// caller-chosen engine task id (generated before enqueueing so the
	// record carries it by the time a worker picks the task up) and
	// returns the state the engine reports at submit time. In eager
	// mode that state may already be terminal.
	Submit(ctx context.Context, kind OperationKind, recordID int64, engineTaskID string) (TaskState, error)

	// Query returns the engine's latest state for the task.
	Query(ctx context.Context, engineTaskID string) (*EngineResult, error)

	// Revoke cancels a task that has not started running.
	Revoke(ctx context.Context, engineTaskID string) error
}

// Publisher is the progress publication handle handed to a running
// task body. It replaces ambient "current task" state with an explicit
// parameter.
type Publisher interface {
	Publish(ctx context.Context, engineTaskID string, p *TaskProgress) error
}

// Descriptor is the static definition of a course module.
type Descriptor interface {
	Location() string
	// SupportsRescore reports whether the module's definition
	// advertises the rescore capability.
	SupportsRescore() bool
}

// RescoreResult is a module's response to a rescore request. A nil
// Success means the response lacked a success field.
type RescoreResult map[string]any

// Success returns the response's success value and whether it was
// present at all.
func (r RescoreResult) Success() (string, bool) {
	v, ok := r["success"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ProblemModule is an instantiated module bound to one student's
// state.
type ProblemModule interface {
	Rescore(ctx context.Context) (RescoreResult, error)
	Save(ctx context.Context) error
}

// InstanceArgs carries the extras passed when instantiating a module
// inside a task body.
type InstanceArgs struct {
	// EngineTaskID lets per-student grade writes be bucketed under the
	// rescoring task.
	EngineTaskID string
	// RescoreBucket puts grade events in a rescore bucket rather than
	// the normal submission bucket.
	RescoreBucket bool
}

// CourseBlocks is the narrow interface onto the course content model.
type CourseBlocks interface {
	// LoadDescriptor resolves a module definition; the error wraps
	// ErrModuleNotFound when the location does not exist.
	LoadDescriptor(ctx context.Context, courseID, location string) (Descriptor, error)

	// Instantiate binds a descriptor to one student's state.
	Instantiate(ctx context.Context, d Descriptor, student *User, courseID string, args InstanceArgs) (ProblemModule, error)
}

// User is the platform account a task targets or audits against.
type User struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	Username string `gorm:"uniqueIndex;size:150;not null"`
	Email    string `gorm:"uniqueIndex;size:254;not null"`
}

// UserDirectory resolves submitted student identifiers. Lookups are
// exact matches, never fuzzy.
type UserDirectory interface {
	ByID(ctx context.Context, id int64) (*User, error)
	ByUsername(ctx context.Context, username string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
}

// StudentModule is one (student, problem) state row owned by the
// content subsystem. The task core only reads and mutates it through
// StudentStateStore.
type StudentModule struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	StudentID      int64  `gorm:"uniqueIndex:idx_student_module;not null"`
	CourseID       string `gorm:"uniqueIndex:idx_student_module;size:255;not null"`
	ModuleStateKey string `gorm:"uniqueIndex:idx_student_module;size:255;not null"`
	ModuleType     string `gorm:"size:32"`
	StateJSON      string `gorm:"type:text"`
	Grade          *float64
	MaxGrade       *float64
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// StudentStateStore iterates and mutates per-student state rows.
// Writes land immediately (autocommit) so concurrent web reads observe
// partial progress.
type StudentStateStore interface {
	// List returns rows matching (course, problem). A zero studentID
	// matches all students.
	List(ctx context.Context, courseID, moduleStateKey string, studentID int64) ([]*StudentModule, error)
	Save(ctx context.Context, m *StudentModule) error
	Delete(ctx context.Context, m *StudentModule) error
}

// EnrollmentStore lists the learners currently enrolled in a course.
type EnrollmentStore interface {
	ListEnrolled(ctx context.Context, courseID string) ([]*User, error)
}

// SectionScore is one graded section's contribution to a course grade.
type SectionScore struct {
	Label   string
	Percent float64
}

// CourseGrade is a learner's computed course grade.
type CourseGrade struct {
	Percent          float64
	SectionBreakdown []SectionScore
}

// GradeTriple is one learner's grading outcome. Exactly one of Grade
// and Err is meaningful.
type GradeTriple struct {
	Learner *User
	Grade   *CourseGrade
	Err     string
}

// GradingFacade computes grades for a sequence of learners. A
// per-learner grading failure is reported through the triple's Err;
// the iteration itself only fails on infrastructure errors.
type GradingFacade interface {
	IterateGrades(ctx context.Context, courseID string, learners []*User, fn func(GradeTriple) error) error
}

// ArtifactStore persists report files. A call either stores the
// complete named artifact or nothing.
type ArtifactStore interface {
	StoreRows(ctx context.Context, courseID, filename string, rows [][]string) error
}

// EventTracker emits tracking-log events for auditable per-row
// mutations (problem_reset_attempts, problem_delete_state).
type EventTracker interface {
	Emit(ctx context.Context, eventName string, data map[string]any)
}
