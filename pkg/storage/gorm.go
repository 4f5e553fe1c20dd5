package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/campusworks/coursetasks/pkg/core"
)

// GormTaskStore implements core.TaskStore using GORM.
type GormTaskStore struct {
	db *gorm.DB
}

// NewGormTaskStore creates a new GORM-backed task store.
func NewGormTaskStore(db *gorm.DB) *GormTaskStore {
	return &GormTaskStore{db: db}
}

// DB returns the underlying *gorm.DB.
func (s *GormTaskStore) DB() *gorm.DB { return s.db }

// Migrate creates the necessary tables.
func (s *GormTaskStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.TaskRecord{})
}

// Reserve checks for an unfinished task in the same (course, kind,
// key) group and inserts a QUEUING record. The whole check-and-insert
// runs in one transaction so a racing submission sees either the
// reservation or the conflict, never neither. The commit happens
// before the caller enqueues anything.
func (s *GormTaskStore) Reserve(ctx context.Context, courseID string, kind core.OperationKind, key, inputJSON string, requesterID int64) (*core.TaskRecord, error) {
	rec := &core.TaskRecord{
		CourseID:    courseID,
		Kind:        kind,
		Key:         key,
		InputJSON:   inputJSON,
		State:       core.StateQueuing,
		RequesterID: requesterID,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&core.TaskRecord{}).
			Where("course_id = ? AND kind = ? AND task_key = ?", courseID, kind, key).
			Where("state NOT IN ?", core.TerminalStates).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return core.ErrAlreadyRunning
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve task: %w", err)
	}
	return rec, nil
}

// Get retrieves a record by primary id.
func (s *GormTaskStore) Get(ctx context.Context, id int64) (*core.TaskRecord, error) {
	var rec core.TaskRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrMissingRecord
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByEngineTaskID retrieves a record by the engine's task id.
func (s *GormTaskStore) GetByEngineTaskID(ctx context.Context, engineTaskID string) (*core.TaskRecord, error) {
	var rec core.TaskRecord
	err := s.db.WithContext(ctx).First(&rec, "engine_task_id = ?", engineTaskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrMissingRecord
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveNow persists the record immediately, in its own transaction,
// even when the caller is mid-way through a larger unit of work. The
// worker and the web process both need to observe partial progress.
//
// A terminal state is never replaced: attempts fail with
// ErrTaskFinished. Input is immutable after creation.
func (s *GormTaskStore) SaveNow(ctx context.Context, rec *core.TaskRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current core.TaskRecord
		err := tx.First(&current, "id = ?", rec.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrMissingRecord
		}
		if err != nil {
			return err
		}
		if current.State.IsTerminal() && rec.State != current.State {
			return core.ErrTaskFinished
		}
		if rec.InputJSON != current.InputJSON {
			return core.ErrInputImmutable
		}
		return tx.Save(rec).Error
	})
}

// ListRunning returns the course's records not yet in a terminal
// state.
func (s *GormTaskStore) ListRunning(ctx context.Context, courseID string) ([]*core.TaskRecord, error) {
	var recs []*core.TaskRecord
	err := s.db.WithContext(ctx).
		Where("course_id = ?", courseID).
		Where("state NOT IN ?", core.TerminalStates).
		Find(&recs).Error
	return recs, err
}

// HistoryForKey returns all records for the (course, key) group,
// newest first. An empty kind matches every operation.
func (s *GormTaskStore) HistoryForKey(ctx context.Context, courseID, key string, kind core.OperationKind) ([]*core.TaskRecord, error) {
	q := s.db.WithContext(ctx).
		Where("course_id = ? AND task_key = ?", courseID, key)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var recs []*core.TaskRecord
	err := q.Order("id DESC").Find(&recs).Error
	return recs, err
}
