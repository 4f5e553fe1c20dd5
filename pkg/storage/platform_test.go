package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campusworks/coursetasks/pkg/core"
)

func newTestPlatform(t *testing.T) *GormPlatformStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, ConfigurePool(db, MaxOpenConns(1), MaxIdleConns(1)))

	s := NewGormPlatformStore(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedUser(t *testing.T, s *GormPlatformStore, username string) *core.User {
	t.Helper()
	u := &core.User{Username: username, Email: username + "@test.com"}
	require.NoError(t, s.db.Create(u).Error)
	return u
}

func TestPlatformStore_UserLookupIsExact(t *testing.T) {
	ctx := context.Background()
	s := newTestPlatform(t)
	u := seedUser(t, s, "u1")
	seedUser(t, s, "u11")

	got, err := s.ByUsername(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = s.ByEmail(ctx, "u1@test.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.ByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, core.ErrUnknownStudent)
	_, err = s.ByEmail(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, core.ErrUnknownStudent)
}

func TestPlatformStore_StateRows(t *testing.T) {
	ctx := context.Background()
	s := newTestPlatform(t)
	u1 := seedUser(t, s, "u1")
	u2 := seedUser(t, s, "u2")

	for _, u := range []*core.User{u1, u2} {
		require.NoError(t, s.Save(ctx, &core.StudentModule{
			StudentID:      u.ID,
			CourseID:       "course-1",
			ModuleStateKey: "problem/p1",
			StateJSON:      `{"attempts":2}`,
		}))
	}
	require.NoError(t, s.Save(ctx, &core.StudentModule{
		StudentID:      u1.ID,
		CourseID:       "course-1",
		ModuleStateKey: "problem/p2",
		StateJSON:      `{}`,
	}))

	rows, err := s.List(ctx, "course-1", "problem/p1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.List(ctx, "course-1", "problem/p1", u2.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, u2.ID, rows[0].StudentID)

	require.NoError(t, s.Delete(ctx, rows[0]))
	rows, err = s.List(ctx, "course-1", "problem/p1", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPlatformStore_ListEnrolled(t *testing.T) {
	ctx := context.Background()
	s := newTestPlatform(t)
	u1 := seedUser(t, s, "u1")
	u2 := seedUser(t, s, "u2")
	u3 := seedUser(t, s, "u3")

	require.NoError(t, s.db.Create(&CourseEnrollment{UserID: u1.ID, CourseID: "course-1", Active: true}).Error)
	require.NoError(t, s.db.Create(&CourseEnrollment{UserID: u2.ID, CourseID: "course-1", Active: false}).Error)
	require.NoError(t, s.db.Create(&CourseEnrollment{UserID: u3.ID, CourseID: "course-2", Active: true}).Error)

	users, err := s.ListEnrolled(ctx, "course-1")
	require.NoError(t, err)
	require.Len(t, users, 1, "inactive and other-course enrollments are excluded")
	assert.Equal(t, "u1", users[0].Username)
}
