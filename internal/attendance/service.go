package attendance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store is the persistence surface the service needs. *Repository satisfies
// it; tests substitute an in-memory implementation.
type Store interface {
	UpsertStudent(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time, status Status) (Record, bool, error)
	UpsertTeacher(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, status Status, subjectID *uuid.UUID) (Record, bool, error)
	InsertStudentAbsentIfMissing(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time) (bool, error)
	InsertTeacherAbsentIfMissing(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, subjectID *uuid.UUID) (bool, error)
}

// Service wraps ledger writes with a per-call timeout and a small bounded
// retry on serialization conflicts. Both the scan pipeline and the absence
// sweep go through it so the same atomicity rules apply everywhere.
type Service struct {
	store    Store
	timeout  time.Duration
	attempts int
	logger   *slog.Logger
}

// NewService creates a service backed by a store.
func NewService(store Store, timeout time.Duration, attempts int, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, timeout: timeout, attempts: attempts, logger: logger}
}

// RecordStudent upserts a student's attendance decision.
func (s *Service) RecordStudent(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time, status Status) (Record, bool, error) {
	var rec Record
	var created bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rec, created, err = s.store.UpsertStudent(ctx, tenantID, studentID, scheduleID, date, status)
		return err
	})
	return rec, created, err
}

// RecordTeacher upserts a teacher's attendance decision, overwriting subject
// along with status.
func (s *Service) RecordTeacher(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, status Status, subjectID *uuid.UUID) (Record, bool, error) {
	var rec Record
	var created bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		rec, created, err = s.store.UpsertTeacher(ctx, tenantID, teacherID, scheduleID, date, status, subjectID)
		return err
	})
	return rec, created, err
}

// MarkStudentAbsentIfMissing is the sweep's write path: it never overwrites an
// existing record.
func (s *Service) MarkStudentAbsentIfMissing(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time) (bool, error) {
	var created bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.InsertStudentAbsentIfMissing(ctx, tenantID, studentID, scheduleID, date)
		return err
	})
	return created, err
}

// MarkTeacherAbsentIfMissing is the teacher-side sweep write.
func (s *Service) MarkTeacherAbsentIfMissing(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, subjectID *uuid.UUID) (bool, error) {
	var created bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.store.InsertTeacherAbsentIfMissing(ctx, tenantID, teacherID, scheduleID, date, subjectID)
		return err
	})
	return created, err
}

func (s *Service) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err = op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		s.logger.Warn("ledger write conflict, retrying",
			"attempt", attempt,
			"error", err,
		)
		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// isConflict reports whether the error is a concurrent-writer conflict worth
// retrying: serialization failure, deadlock, or a unique violation racing the
// upsert.
func isConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}
