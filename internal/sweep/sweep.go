// Package sweep marks actors absent when they never scanned. It is the
// compensating path for the real-time pipeline: once a slot's lateness window
// has closed, anyone in scope without a record gets an absent one. Writes use
// insert-if-missing only, so a scan that raced the sweep is never overwritten.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/directory"
	"qrattend/internal/timetable"
)

// Timetable lists today's slots across tenants.
type Timetable interface {
	StudentSlotsForDay(ctx context.Context, day timetable.Weekday) ([]timetable.Slot, error)
	TeacherSlotsForDay(ctx context.Context, day timetable.Weekday) ([]timetable.Slot, error)
}

// Roster lists the students expected in a slot.
type Roster interface {
	StudentsByLevel(ctx context.Context, tenantID, levelID uuid.UUID) ([]directory.Student, error)
}

// Ledger is the insert-if-missing write path.
type Ledger interface {
	MarkStudentAbsentIfMissing(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time) (bool, error)
	MarkTeacherAbsentIfMissing(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, subjectID *uuid.UUID) (bool, error)
}

// Sweeper runs the periodic absence sweep.
type Sweeper struct {
	tt     Timetable
	roster Roster
	ledger Ledger

	window   time.Duration
	interval time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper builds a sweeper. window is how long after slot start a missing
// scan becomes an absence; interval is how often the sweep runs.
func NewSweeper(tt Timetable, roster Roster, ledger Ledger, window, interval time.Duration, loc *time.Location, logger *slog.Logger) *Sweeper {
	if window <= 0 {
		window = 20 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		tt:       tt,
		roster:   roster,
		ledger:   ledger,
		window:   window,
		interval: interval,
		loc:      loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the periodic loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("absence sweep started", "interval", s.interval, "window", s.window)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("absence sweep stopped")
				return
			case <-ticker.C:
				created, err := s.RunOnce(ctx)
				if err != nil {
					s.logger.Error("absence sweep failed", "error", err)
					continue
				}
				if created > 0 {
					s.logger.Info("absences marked", "count", created)
				}
			}
		}
	}()
}

// Stop halts the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// RunOnce performs a single sweep pass and reports how many absent records it
// created. Idempotent: actors with any existing record are untouched.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now().In(s.loc)
	day := timetable.WeekdayOf(now)
	created := 0

	studentSlots, err := s.tt.StudentSlotsForDay(ctx, day)
	if err != nil {
		return created, err
	}
	for _, slot := range studentSlots {
		deadline := slot.StartOn(now, s.loc).Add(s.window)
		if !now.After(deadline) {
			continue
		}
		students, err := s.roster.StudentsByLevel(ctx, slot.TenantID, slot.LevelID)
		if err != nil {
			return created, err
		}
		for _, st := range students {
			ok, err := s.ledger.MarkStudentAbsentIfMissing(ctx, slot.TenantID, st.ID, slot.ID, now)
			if err != nil {
				s.logger.Error("sweep write failed",
					"student_id", st.ID,
					"schedule_id", slot.ID,
					"error", err,
				)
				continue
			}
			if ok {
				created++
			}
		}
	}

	teacherSlots, err := s.tt.TeacherSlotsForDay(ctx, day)
	if err != nil {
		return created, err
	}
	for _, slot := range teacherSlots {
		deadline := slot.StartOn(now, s.loc).Add(s.window)
		if !now.After(deadline) {
			continue
		}
		subject := &slot.SubjectID
		if slot.SubjectID == uuid.Nil {
			subject = nil
		}
		ok, err := s.ledger.MarkTeacherAbsentIfMissing(ctx, slot.TenantID, slot.TeacherID, slot.ID, now, subject)
		if err != nil {
			s.logger.Error("sweep write failed",
				"teacher_id", slot.TeacherID,
				"schedule_id", slot.ID,
				"error", err,
			)
			continue
		}
		if ok {
			created++
		}
	}

	return created, nil
}
