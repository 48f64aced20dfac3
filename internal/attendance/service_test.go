package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first n calls with the given error, then succeeds.
type flakyStore struct {
	failures int
	err      error
	calls    int
}

func (s *flakyStore) upsert() error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *flakyStore) UpsertStudent(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time, status Status) (Record, bool, error) {
	if err := s.upsert(); err != nil {
		return Record{}, false, err
	}
	return Record{ID: uuid.New(), StudentID: studentID, ScheduleID: scheduleID, Date: date, Status: status}, true, nil
}

func (s *flakyStore) UpsertTeacher(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, status Status, subjectID *uuid.UUID) (Record, bool, error) {
	if err := s.upsert(); err != nil {
		return Record{}, false, err
	}
	return Record{ID: uuid.New(), TeacherID: teacherID, ScheduleID: scheduleID, Date: date, Status: status, SubjectID: subjectID}, true, nil
}

func (s *flakyStore) InsertStudentAbsentIfMissing(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time) (bool, error) {
	if err := s.upsert(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *flakyStore) InsertTeacherAbsentIfMissing(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, subjectID *uuid.UUID) (bool, error) {
	if err := s.upsert(); err != nil {
		return false, err
	}
	return true, nil
}

func serializationFailure() error {
	return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestServiceRetriesOnConflict(t *testing.T) {
	store := &flakyStore{failures: 2, err: serializationFailure()}
	svc := NewService(store, time.Second, 3, nil)

	rec, created, err := svc.RecordStudent(context.Background(), uuid.New(), uuid.New(), uuid.New(), time.Now(), StatusPresent)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPresent, rec.Status)
	assert.Equal(t, 3, store.calls)
}

func TestServiceGivesUpAfterBoundedAttempts(t *testing.T) {
	store := &flakyStore{failures: 10, err: serializationFailure()}
	svc := NewService(store, time.Second, 3, nil)

	_, _, err := svc.RecordStudent(context.Background(), uuid.New(), uuid.New(), uuid.New(), time.Now(), StatusPresent)
	require.Error(t, err)
	assert.Equal(t, 3, store.calls)

	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
}

func TestServiceDoesNotRetryOtherErrors(t *testing.T) {
	store := &flakyStore{failures: 10, err: errors.New("connection refused")}
	svc := NewService(store, time.Second, 3, nil)

	_, _, err := svc.RecordStudent(context.Background(), uuid.New(), uuid.New(), uuid.New(), time.Now(), StatusPresent)
	require.Error(t, err)
	assert.Equal(t, 1, store.calls)
}

func TestServiceSweepWriteRetries(t *testing.T) {
	store := &flakyStore{failures: 1, err: serializationFailure()}
	svc := NewService(store, time.Second, 3, nil)

	created, err := svc.MarkStudentAbsentIfMissing(context.Background(), uuid.New(), uuid.New(), uuid.New(), time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, store.calls)
}
