// Package ingest drives the reconciliation pipeline: raw broker message in,
// attendance record and broadcast out. Every per-event failure is terminal:
// it is logged with the payload, counted, and dropped, and the loop moves on.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/broker"
	"qrattend/internal/directory"
	"qrattend/internal/timetable"
)

// Directory resolves scanned identities.
type Directory interface {
	FindStudent(ctx context.Context, numero, nom, prenom string) (directory.Student, error)
	FindTeacherByEmail(ctx context.Context, mail string) (directory.Teacher, error)
}

// Timetable supplies candidate slots for a weekday.
type Timetable interface {
	SlotsForLevel(ctx context.Context, tenantID, levelID uuid.UUID, day timetable.Weekday) ([]timetable.Slot, error)
	SlotsForTeacher(ctx context.Context, tenantID, teacherID uuid.UUID, day timetable.Weekday) ([]timetable.Slot, error)
}

// Ledger records attendance decisions.
type Ledger interface {
	RecordStudent(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time, status attendance.Status) (attendance.Record, bool, error)
	RecordTeacher(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, status attendance.Status, subjectID *uuid.UUID) (attendance.Record, bool, error)
}

// Notifier fans the resulting update out to live observers.
type Notifier interface {
	Broadcast(topic string, v any)
}

// Topics names the broker topics the listener consumes and the hub topic it
// publishes on.
type Topics struct {
	Student string
	Teacher string
	Live    string
}

// Update is the broadcast payload for one attendance decision.
type Update struct {
	Type       string `json:"type"`
	StudentID  string `json:"studentId,omitempty"`
	TeacherID  string `json:"teacherId,omitempty"`
	ScheduleID string `json:"scheduleId"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	SubjectID  string `json:"subjectId,omitempty"`
}

// Listener owns the consumption loop. Construct once, Start, Stop on
// shutdown.
type Listener struct {
	src    broker.Source
	dir    Directory
	tt     Timetable
	ledger Ledger
	hub    Notifier

	topics Topics
	policy attendance.GracePolicy
	loc    *time.Location
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewListener wires the pipeline's collaborators.
func NewListener(src broker.Source, dir Directory, tt Timetable, ledger Ledger, hub Notifier, topics Topics, policy attendance.GracePolicy, loc *time.Location, logger *slog.Logger) *Listener {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		src:    src,
		dir:    dir,
		tt:     tt,
		ledger: ledger,
		hub:    hub,
		topics: topics,
		policy: policy,
		loc:    loc,
		logger: logger,
	}
}

// Start launches the consumption loop.
func (l *Listener) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop halts the loop and waits for the in-flight message to finish.
func (l *Listener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()
	l.logger.Info("listener started", "student_topic", l.topics.Student, "teacher_topic", l.topics.Teacher)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("listener stopped")
			return
		case msg, ok := <-l.src.Messages():
			if !ok {
				l.logger.Info("message source closed")
				return
			}
			l.Handle(ctx, msg)
		}
	}
}

// Handle processes a single message to completion. Exported so tests can
// drive the pipeline without the loop.
func (l *Listener) Handle(ctx context.Context, msg broker.Message) {
	defer func() {
		if r := recover(); r != nil {
			droppedCounter.WithLabelValues("panic").Inc()
			l.logger.Error("panic handling message", "topic", msg.Topic, "payload", string(msg.Payload), "panic", r)
		}
	}()

	ev, err := ParseScan(msg.Payload, l.loc)
	if err != nil {
		l.drop(msg, "malformed", err)
		return
	}

	switch ev := ev.(type) {
	case StudentScan:
		if msg.Topic != l.topics.Student {
			l.drop(msg, "malformed", errors.New("student scan on wrong topic"))
			return
		}
		err = l.handleStudent(ctx, ev)
	case TeacherScan:
		if msg.Topic != l.topics.Teacher {
			l.drop(msg, "malformed", errors.New("teacher scan on wrong topic"))
			return
		}
		err = l.handleTeacher(ctx, ev)
	}

	if err != nil {
		l.drop(msg, reasonFor(err), err)
	}
}

func (l *Listener) handleStudent(ctx context.Context, scan StudentScan) error {
	student, err := l.dir.FindStudent(ctx, scan.Numero, scan.Nom, scan.Prenom)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrActorNotFound
		}
		return err
	}

	day := timetable.WeekdayOf(scan.At.In(l.loc))
	slots, err := l.tt.SlotsForLevel(ctx, student.TenantID, student.LevelID, day)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return ErrNoScheduleToday
	}

	slot, offset, ok := attendance.BestMatch(slots, scan.At, l.loc, l.policy.PresentGrace)
	if !ok {
		return ErrNoMatchingSlot
	}

	status := l.policy.ForStudent(offset)
	date := scan.At.In(l.loc)

	rec, created, err := l.ledger.RecordStudent(ctx, student.TenantID, student.ID, slot.ID, date, status)
	if err != nil {
		return err
	}

	l.logger.Info("student attendance recorded",
		"student_id", student.ID,
		"schedule_id", slot.ID,
		"date", date.Format("2006-01-02"),
		"status", status,
		"offset_min", int(offset.Minutes()),
		"created", created,
	)
	processedCounter.WithLabelValues("student", string(status)).Inc()

	l.hub.Broadcast(l.topics.Live, Update{
		Type:       "attendance_update",
		StudentID:  student.ID.String(),
		ScheduleID: slot.ID.String(),
		Date:       date.Format("2006-01-02"),
		Status:     string(rec.Status),
	})
	return nil
}

func (l *Listener) handleTeacher(ctx context.Context, scan TeacherScan) error {
	teacher, err := l.dir.FindTeacherByEmail(ctx, scan.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return ErrActorNotFound
		}
		return err
	}

	day := timetable.WeekdayOf(scan.At.In(l.loc))
	slots, err := l.tt.SlotsForTeacher(ctx, teacher.TenantID, teacher.ID, day)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		return ErrNoScheduleToday
	}

	slot, offset, ok := attendance.BestMatch(slots, scan.At, l.loc, l.policy.TeacherGrace)
	if !ok {
		return ErrNoMatchingSlot
	}

	status := l.policy.ForTeacher(offset)
	date := scan.At.In(l.loc)

	rec, created, err := l.ledger.RecordTeacher(ctx, teacher.TenantID, teacher.ID, slot.ID, date, status, teacher.SubjectID)
	if err != nil {
		return err
	}

	l.logger.Info("teacher attendance recorded",
		"teacher_id", teacher.ID,
		"schedule_id", slot.ID,
		"date", date.Format("2006-01-02"),
		"status", status,
		"offset_min", int(offset.Minutes()),
		"created", created,
	)
	processedCounter.WithLabelValues("teacher", string(status)).Inc()

	update := Update{
		Type:       "attendance_update",
		TeacherID:  teacher.ID.String(),
		ScheduleID: slot.ID.String(),
		Date:       date.Format("2006-01-02"),
		Status:     string(rec.Status),
	}
	if teacher.SubjectID != nil {
		update.SubjectID = teacher.SubjectID.String()
	}
	l.hub.Broadcast(l.topics.Live, update)
	return nil
}

func (l *Listener) drop(msg broker.Message, reason string, err error) {
	droppedCounter.WithLabelValues(reason).Inc()
	l.logger.Warn("scan event dropped",
		"reason", reason,
		"topic", msg.Topic,
		"payload", string(msg.Payload),
		"error", err,
	)
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrActorNotFound):
		return "actor_not_found"
	case errors.Is(err, ErrNoScheduleToday):
		return "no_schedule_today"
	case errors.Is(err, ErrNoMatchingSlot):
		return "no_matching_slot"
	case errors.Is(err, context.DeadlineExceeded):
		return "persistence_timeout"
	default:
		return "persistence_error"
	}
}
