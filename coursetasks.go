// Package coursetasks coordinates long-running per-course background
// tasks: rescoring a problem, resetting attempt counters, deleting
// student state, and generating grade reports.
//
// This is the main package users should import. It re-exports the
// public types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Wire a single-process deployment
//	db, _ := gorm.Open(sqlite.Open("tasks.db"), &gorm.Config{})
//	sys, _ := coursetasks.NewSystem(ctx, coursetasks.SystemConfig{
//	    DB:        db,
//	    Blocks:    contentModel,
//	    Grades:    gradingFacade,
//	    Artifacts: artifactStore,
//	})
//	go sys.Engine.Start(ctx)
//
//	// Launch a task from a request handler
//	rec, err := sys.Submitter.RescoreProblemForAllStudents(ctx, courseID, problemURL, staff.ID)
//
//	// Poll it
//	st, _ := sys.Projector.Status(ctx, rec.EngineTaskID)
package coursetasks

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/campusworks/coursetasks/pkg/artifact"
	"github.com/campusworks/coursetasks/pkg/core"
	"github.com/campusworks/coursetasks/pkg/engine"
	"github.com/campusworks/coursetasks/pkg/runner"
	"github.com/campusworks/coursetasks/pkg/schedule"
	"github.com/campusworks/coursetasks/pkg/security"
	"github.com/campusworks/coursetasks/pkg/status"
	"github.com/campusworks/coursetasks/pkg/storage"
	"github.com/campusworks/coursetasks/pkg/submit"
	"github.com/campusworks/coursetasks/pkg/taskkey"
)

// Type aliases for the public API surface
type (
	// TaskRecord is the durable record of one submitted task.
	TaskRecord = core.TaskRecord

	// TaskProgress is a task's progress or terminal payload.
	TaskProgress = core.TaskProgress

	// TaskInput is the decoded input of a problem-scoped task.
	TaskInput = core.TaskInput

	// TaskState is a task's lifecycle state.
	TaskState = core.TaskState

	// OperationKind identifies one of the supported operations.
	OperationKind = core.OperationKind

	// TaskStatus is the public status shape served to course staff.
	TaskStatus = status.TaskStatus

	// EngineResult is the engine's view of an in-flight task.
	EngineResult = core.EngineResult

	// TaskStore is the durable store of task records.
	TaskStore = core.TaskStore

	// Engine is the async execution substrate.
	Engine = core.Engine

	// Publisher publishes progress for a running task body.
	Publisher = core.Publisher

	// CourseBlocks is the narrow interface onto the course content
	// model.
	CourseBlocks = core.CourseBlocks

	// Descriptor is the static definition of a course module.
	Descriptor = core.Descriptor

	// ProblemModule is an instantiated module bound to one student's
	// state.
	ProblemModule = core.ProblemModule

	// RescoreResult is a module's response to a rescore request.
	RescoreResult = core.RescoreResult

	// InstanceArgs carries the extras passed when instantiating a
	// module inside a task body.
	InstanceArgs = core.InstanceArgs

	// CourseGrade is a learner's computed course grade.
	CourseGrade = core.CourseGrade

	// SectionScore is one graded section's contribution to a course
	// grade.
	SectionScore = core.SectionScore

	// GradeTriple is one learner's grading outcome.
	GradeTriple = core.GradeTriple

	// User is a platform account.
	User = core.User

	// StudentModule is one (student, problem) state row.
	StudentModule = core.StudentModule

	// UserDirectory resolves submitted student identifiers.
	UserDirectory = core.UserDirectory

	// StudentStateStore iterates and mutates per-student state rows.
	StudentStateStore = core.StudentStateStore

	// EnrollmentStore lists a course's enrolled learners.
	EnrollmentStore = core.EnrollmentStore

	// GradingFacade computes grades for a sequence of learners.
	GradingFacade = core.GradingFacade

	// ArtifactStore persists report files.
	ArtifactStore = core.ArtifactStore

	// EventTracker emits tracking-log events for per-row mutations.
	EventTracker = core.EventTracker

	// GormTaskStore implements TaskStore using GORM.
	GormTaskStore = storage.GormTaskStore

	// GormPlatformStore implements the platform-side stores using GORM.
	GormPlatformStore = storage.GormPlatformStore

	// LocalEngine runs task bodies on an in-process worker pool.
	LocalEngine = engine.LocalEngine

	// EngineOption configures a LocalEngine.
	EngineOption = engine.Option

	// ResultBackend stores engine-side task state.
	ResultBackend = engine.ResultBackend

	// Runner executes operation bodies on worker processes.
	Runner = runner.Runner

	// RunnerConfig wires the runner to its collaborators.
	RunnerConfig = runner.Config

	// Submitter launches course tasks from request handlers.
	Submitter = submit.Submitter

	// Projector builds public task status from the record and engine.
	Projector = status.Projector

	// Schedule defines when a recurring submission next fires.
	Schedule = schedule.Schedule
)

// Task states
const (
	StateQueuing  = core.StateQueuing
	StatePending  = core.StatePending
	StateProgress = core.StateProgress
	StateSuccess  = core.StateSuccess
	StateFailure  = core.StateFailure
	StateRevoked  = core.StateRevoked
)

// Operation kinds
const (
	OpRescoreProblem       = core.OpRescoreProblem
	OpResetProblemAttempts = core.OpResetProblemAttempts
	OpDeleteProblemState   = core.OpDeleteProblemState
	OpGradeReport          = core.OpGradeReport
)

// Security limits
const (
	MaxTracebackBytes     = security.MaxTracebackBytes
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxIdentifierLength   = security.MaxIdentifierLength
	MaxConcurrency        = security.MaxConcurrency
)

// Error variables
var (
	ErrAlreadyRunning      = core.ErrAlreadyRunning
	ErrRescoreNotSupported = core.ErrRescoreNotSupported
	ErrModuleNotFound      = core.ErrModuleNotFound
	ErrUnknownStudent      = core.ErrUnknownStudent
	ErrTaskFinished        = core.ErrTaskFinished
	ErrInputImmutable      = core.ErrInputImmutable
	ErrMissingRecord       = core.ErrMissingRecord
)

// NewGormTaskStore creates a GORM-backed task record store.
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return storage.NewGormTaskStore(db)
}

// NewGormPlatformStore creates the GORM-backed platform stores
// (student state rows, user directory, enrollments).
func NewGormPlatformStore(db *gorm.DB) *GormPlatformStore {
	return storage.NewGormPlatformStore(db)
}

// NewEngine creates a LocalEngine.
func NewEngine(opts ...EngineOption) *LocalEngine {
	return engine.New(opts...)
}

// NewRunner creates a Runner from its collaborators.
func NewRunner(cfg RunnerConfig) *Runner {
	return runner.New(cfg)
}

// NewSubmitter creates a Submitter.
func NewSubmitter(store TaskStore, eng Engine, blocks CourseBlocks, logger *slog.Logger) *Submitter {
	return submit.New(store, eng, blocks, logger)
}

// NewProjector creates a status Projector.
func NewProjector(store TaskStore, eng Engine, logger *slog.Logger) *Projector {
	return status.NewProjector(store, eng, logger)
}

// StatusHandler serves task status over HTTP.
func StatusHandler(p *Projector) http.Handler {
	return status.Handler(p)
}

// NewMinioArtifactStore creates an S3-compatible artifact store.
func NewMinioArtifactStore(cfg artifact.Config) (*artifact.MinioStore, error) {
	return artifact.NewMinioStore(cfg)
}

// NewMemoryArtifactStore creates an in-memory artifact store for
// tests and single-host setups.
func NewMemoryArtifactStore() *artifact.MemoryStore {
	return artifact.NewMemoryStore()
}

// NewMemoryResults creates the in-process engine result backend.
func NewMemoryResults() ResultBackend {
	return engine.NewMemoryResults()
}

// NewRedisResults creates a Redis-backed engine result backend shared
// between web and worker processes.
func NewRedisResults(redisURL string, ttl time.Duration) (*engine.RedisResults, error) {
	return engine.NewRedisResults(redisURL, ttl)
}

// EncodeTaskKey computes the idempotency key and wire input for a
// (problem, student) pair.
func EncodeTaskKey(problemURL, student string) (string, TaskInput) {
	return taskkey.Encode(problemURL, student)
}

// Narrate maps a terminal record to (succeeded, message).
func Narrate(rec *TaskRecord) (bool, string) {
	return status.Narrate(rec)
}

// Engine option functions

// Eager makes Submit run bodies synchronously, for tests and
// management commands.
func Eager() EngineOption {
	return engine.Eager()
}

// Concurrency sets the engine's worker goroutine count.
func Concurrency(n int) EngineOption {
	return engine.Concurrency(n)
}

// WithResults sets the engine's result backend.
func WithResults(r ResultBackend) EngineOption {
	return engine.WithResults(r)
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return engine.WithLogger(l)
}

// Schedule functions

// Every creates a schedule that fires at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that fires at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that fires at a specific day and time
// each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}

// SystemConfig holds everything NewSystem needs. DB, Blocks and
// Grades are required; the rest defaults sensibly.
type SystemConfig struct {
	DB     *gorm.DB
	Blocks CourseBlocks
	Grades GradingFacade

	// Artifacts defaults to an in-memory store.
	Artifacts ArtifactStore
	// Tracker may be nil when no event pipeline exists.
	Tracker EventTracker
	Logger  *slog.Logger

	EngineOptions []EngineOption
}

// System is a fully wired single-database deployment of the task
// core.
type System struct {
	Store     *GormTaskStore
	Platform  *GormPlatformStore
	Engine    *LocalEngine
	Runner    *Runner
	Submitter *Submitter
	Projector *Projector
}

// NewSystem wires stores, engine, runner, submitter and projector
// over one database, migrates the schema, and registers every
// operation body. Call Engine.Start to begin processing (not needed
// with the Eager option).
func NewSystem(ctx context.Context, cfg SystemConfig) (*System, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	artifacts := cfg.Artifacts
	if artifacts == nil {
		artifacts = artifact.NewMemoryStore()
	}

	store := storage.NewGormTaskStore(cfg.DB)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	platform := storage.NewGormPlatformStore(cfg.DB)
	if err := platform.Migrate(ctx); err != nil {
		return nil, err
	}

	eng := engine.New(append([]EngineOption{engine.WithLogger(logger)}, cfg.EngineOptions...)...)

	r := runner.New(runner.Config{
		Store:       store,
		Blocks:      cfg.Blocks,
		States:      platform,
		Users:       platform,
		Enrollments: platform,
		Grades:      cfg.Grades,
		Artifacts:   artifacts,
		Tracker:     cfg.Tracker,
		Logger:      logger,
	})
	r.RegisterAll(eng)

	return &System{
		Store:     store,
		Platform:  platform,
		Engine:    eng,
		Runner:    r,
		Submitter: submit.New(store, eng, cfg.Blocks, logger),
		Projector: status.NewProjector(store, eng, logger),
	}, nil
}
