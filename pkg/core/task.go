package core

import (
	"encoding/json"
	"time"
)

// TaskState represents the current state of a task record. The first
// three states are non-terminal; a record in a terminal state is
// immutable.
type TaskState string

const (
	// StateQueuing is set by the reservation, before the task has been
	// handed to the engine.
	StateQueuing TaskState = "QUEUING"
	// StatePending means the engine has accepted the task but no worker
	// has reported progress yet.
	StatePending TaskState = "PENDING"
	// StateProgress means a worker is publishing incremental updates.
	StateProgress TaskState = "PROGRESS"

	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"
	StateRevoked TaskState = "REVOKED"
)

// TerminalStates are the states a record can never leave.
var TerminalStates = []TaskState{StateSuccess, StateFailure, StateRevoked}

// IsTerminal reports whether the state is one of SUCCESS, FAILURE or
// REVOKED.
func (s TaskState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateRevoked
}

// OperationKind identifies one of the course-wide operations a task
// can run.
type OperationKind string

const (
	OpRescoreProblem       OperationKind = "rescore_problem"
	OpResetProblemAttempts OperationKind = "reset_problem_attempts"
	OpDeleteProblemState   OperationKind = "delete_problem_state"
	OpGradeReport          OperationKind = "grade_report"
)

// ActionName returns the past-tense verb used in user-visible status
// messages for this operation.
func (k OperationKind) ActionName() string {
	switch k {
	case OpRescoreProblem:
		return "rescored"
	case OpResetProblemAttempts:
		return "reset"
	case OpDeleteProblemState:
		return "deleted"
	case OpGradeReport:
		return "graded"
	}
	return string(k)
}

// TaskRecord is the durable row tracking one submitted course-wide
// operation. Records are created in QUEUING by the reservation and
// retained indefinitely once terminal.
type TaskRecord struct {
	ID           int64         `gorm:"primaryKey;autoIncrement"`
	EngineTaskID string        `gorm:"index;size:255"`
	CourseID     string        `gorm:"index:idx_course_kind_key;size:255;not null"`
	Kind         OperationKind `gorm:"index:idx_course_kind_key;size:50;not null"`
	Key          string        `gorm:"column:task_key;index:idx_course_kind_key;size:32;not null"`
	InputJSON    string        `gorm:"type:text"`
	State        TaskState     `gorm:"index;size:20;default:'QUEUING'"`
	OutputJSON   string        `gorm:"type:text"`
	RequesterID  int64         `gorm:"index"`
	SubtaskJSON  string        `gorm:"type:text"`
	CreatedAt    time.Time     `gorm:"autoCreateTime"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime"`
}

// TableName keeps the table name stable regardless of the struct name.
func (TaskRecord) TableName() string { return "course_tasks" }

// HasSubtasks reports whether this record has spawned children. When
// true, the subtasks own the terminal transition and the runner leaves
// the record's state alone.
func (r *TaskRecord) HasSubtasks() bool {
	if r.SubtaskJSON == "" {
		return false
	}
	var ids []string
	if err := json.Unmarshal([]byte(r.SubtaskJSON), &ids); err != nil {
		// Malformed lists are treated as present so the runner does not
		// clobber a state owned by someone else.
		return true
	}
	return len(ids) > 0
}

// Input decodes the record's immutable input payload.
func (r *TaskRecord) Input() (TaskInput, error) {
	var in TaskInput
	if r.InputJSON == "" {
		return in, nil
	}
	err := json.Unmarshal([]byte(r.InputJSON), &in)
	return in, err
}

// Output decodes the record's output payload, or nil when absent.
func (r *TaskRecord) Output() (*TaskProgress, error) {
	if r.OutputJSON == "" {
		return nil, nil
	}
	var p TaskProgress
	if err := json.Unmarshal([]byte(r.OutputJSON), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TaskInput is the wire shape of a task's input payload. The student
// field carries the literal username at submission time, not an id.
type TaskInput struct {
	ProblemURL string `json:"problem_url,omitempty"`
	Student    string `json:"student,omitempty"`
}

// UpdateOutcome is the result of applying an update function to a
// single per-student state row.
type UpdateOutcome int

const (
	OutcomeSucceeded UpdateOutcome = iota
	OutcomeSkipped
	OutcomeFailed
)

func (o UpdateOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}
