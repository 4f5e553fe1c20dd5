package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/campusworks/coursetasks/pkg/core"
)

// CourseEnrollment records one learner's membership in a course.
type CourseEnrollment struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	UserID   int64  `gorm:"uniqueIndex:idx_enrollment;not null"`
	CourseID string `gorm:"uniqueIndex:idx_enrollment;size:255;not null"`
	Active   bool
}

// GormPlatformStore implements the worker-side collaborator stores
// (per-student state rows, user directory, enrollments) over one GORM
// connection. The task core only depends on the core interfaces; this
// implementation exists so the module runs end to end against a real
// database.
type GormPlatformStore struct {
	db *gorm.DB
}

// NewGormPlatformStore creates a platform store over db.
func NewGormPlatformStore(db *gorm.DB) *GormPlatformStore {
	return &GormPlatformStore{db: db}
}

// Migrate creates the platform tables.
func (s *GormPlatformStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.User{},
		&core.StudentModule{},
		&CourseEnrollment{},
	)
}

// ── StudentStateStore ────────────────────────────────────────────────

// List returns state rows for (course, problem), optionally narrowed
// to one student. Rows come back in primary-key order; the visitor
// relies on a stable order, not a particular one.
func (s *GormPlatformStore) List(ctx context.Context, courseID, moduleStateKey string, studentID int64) ([]*core.StudentModule, error) {
	q := s.db.WithContext(ctx).
		Where("course_id = ? AND module_state_key = ?", courseID, moduleStateKey)
	if studentID != 0 {
		q = q.Where("student_id = ?", studentID)
	}
	var rows []*core.StudentModule
	err := q.Order("id ASC").Find(&rows).Error
	return rows, err
}

// Save writes one state row immediately. Each row lands in its own
// implicit transaction so watchers see progress as it happens.
func (s *GormPlatformStore) Save(ctx context.Context, m *core.StudentModule) error {
	return s.db.WithContext(ctx).Save(m).Error
}

// Delete removes one state row immediately.
func (s *GormPlatformStore) Delete(ctx context.Context, m *core.StudentModule) error {
	return s.db.WithContext(ctx).Delete(m).Error
}

// SaveUser upserts a platform account.
func (s *GormPlatformStore) SaveUser(ctx context.Context, u *core.User) error {
	return s.db.WithContext(ctx).Save(u).Error
}

// Enroll records an active enrollment for the user.
func (s *GormPlatformStore) Enroll(ctx context.Context, userID int64, courseID string) error {
	return s.db.WithContext(ctx).Create(&CourseEnrollment{
		UserID:   userID,
		CourseID: courseID,
		Active:   true,
	}).Error
}

// ── UserDirectory ────────────────────────────────────────────────────

// ByID resolves a user by primary key.
func (s *GormPlatformStore) ByID(ctx context.Context, id int64) (*core.User, error) {
	var u core.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrUnknownStudent
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ByUsername resolves a user by exact username.
func (s *GormPlatformStore) ByUsername(ctx context.Context, username string) (*core.User, error) {
	var u core.User
	err := s.db.WithContext(ctx).First(&u, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrUnknownStudent
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ByEmail resolves a user by exact email address.
func (s *GormPlatformStore) ByEmail(ctx context.Context, email string) (*core.User, error) {
	var u core.User
	err := s.db.WithContext(ctx).First(&u, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrUnknownStudent
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ── EnrollmentStore ──────────────────────────────────────────────────

// ListEnrolled returns the users actively enrolled in the course, in
// enrollment order.
func (s *GormPlatformStore) ListEnrolled(ctx context.Context, courseID string) ([]*core.User, error) {
	var users []*core.User
	err := s.db.WithContext(ctx).
		Model(&core.User{}).
		Joins("JOIN course_enrollments ON course_enrollments.user_id = users.id").
		Where("course_enrollments.course_id = ? AND course_enrollments.active = ?", courseID, true).
		Order("course_enrollments.id ASC").
		Find(&users).Error
	return users, err
}
