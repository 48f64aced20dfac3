package sweep

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
	"qrattend/internal/directory"
	"qrattend/internal/timetable"
)

type fakeTimetable struct {
	studentSlots []timetable.Slot
	teacherSlots []timetable.Slot
}

func (f *fakeTimetable) StudentSlotsForDay(context.Context, timetable.Weekday) ([]timetable.Slot, error) {
	return f.studentSlots, nil
}

func (f *fakeTimetable) TeacherSlotsForDay(context.Context, timetable.Weekday) ([]timetable.Slot, error) {
	return f.teacherSlots, nil
}

type fakeRoster struct {
	byLevel map[uuid.UUID][]directory.Student
}

func (f *fakeRoster) StudentsByLevel(_ context.Context, _, levelID uuid.UUID) ([]directory.Student, error) {
	return f.byLevel[levelID], nil
}

// fakeLedger honors insert-if-missing: existing records are never replaced.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]attendance.Status
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[string]attendance.Status)}
}

func key(actor, schedule uuid.UUID, date time.Time) string {
	return fmt.Sprintf("%s|%s|%s", actor, schedule, date.Format("2006-01-02"))
}

func (l *fakeLedger) MarkStudentAbsentIfMissing(_ context.Context, _, studentID, scheduleID uuid.UUID, date time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(studentID, scheduleID, date)
	if _, exists := l.records[k]; exists {
		return false, nil
	}
	l.records[k] = attendance.StatusAbsent
	return true, nil
}

func (l *fakeLedger) MarkTeacherAbsentIfMissing(_ context.Context, _, teacherID, scheduleID uuid.UUID, date time.Time, _ *uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(teacherID, scheduleID, date)
	if _, exists := l.records[k]; exists {
		return false, nil
	}
	l.records[k] = attendance.StatusAbsent
	return true, nil
}

// 2026-03-02 is a Monday; the slot runs 08:00-09:00 with a 20 minute window.
func sweepFixture() (*fakeTimetable, *fakeRoster, *fakeLedger, timetable.Slot, []directory.Student) {
	tenant := uuid.New()
	level := uuid.New()
	slot := timetable.Slot{
		ID:       uuid.New(),
		TenantID: tenant,
		Day:      timetable.Monday,
		LevelID:  level,
		Start:    8 * time.Hour,
		End:      9 * time.Hour,
	}
	students := []directory.Student{
		{ID: uuid.New(), TenantID: tenant, LevelID: level, Nom: "A", Prenom: "X"},
		{ID: uuid.New(), TenantID: tenant, LevelID: level, Nom: "B", Prenom: "Y"},
		{ID: uuid.New(), TenantID: tenant, LevelID: level, Nom: "C", Prenom: "Z"},
	}
	tt := &fakeTimetable{studentSlots: []timetable.Slot{slot}}
	roster := &fakeRoster{byLevel: map[uuid.UUID][]directory.Student{level: students}}
	return tt, roster, newFakeLedger(), slot, students
}

func newTestSweeper(tt Timetable, roster Roster, ledger Ledger, at time.Time) *Sweeper {
	s := NewSweeper(tt, roster, ledger, 20*time.Minute, time.Minute, time.UTC, nil)
	s.now = func() time.Time { return at }
	return s
}

func TestSweepMarksUnscannedStudentsAbsent(t *testing.T) {
	tt, roster, ledger, _, _ := sweepFixture()
	s := newTestSweeper(tt, roster, ledger, time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))

	created, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	assert.Len(t, ledger.records, 3)
}

func TestSweepSkipsSlotInsideWindow(t *testing.T) {
	tt, roster, ledger, _, _ := sweepFixture()

	// 08:15 is before start+20m; 08:20 is the boundary, still not past it.
	for _, at := range []time.Time{
		time.Date(2026, 3, 2, 8, 15, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 20, 0, 0, time.UTC),
	} {
		s := newTestSweeper(tt, roster, ledger, at)
		created, err := s.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, created)
	}
}

func TestSweepNeverDowngradesExistingRecords(t *testing.T) {
	tt, roster, ledger, slot, students := sweepFixture()
	date := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	// One student already scanned present, one is late.
	ledger.records[key(students[0].ID, slot.ID, date)] = attendance.StatusPresent
	ledger.records[key(students[1].ID, slot.ID, date)] = attendance.StatusLate

	s := newTestSweeper(tt, roster, ledger, date)
	created, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	assert.Equal(t, attendance.StatusPresent, ledger.records[key(students[0].ID, slot.ID, date)])
	assert.Equal(t, attendance.StatusLate, ledger.records[key(students[1].ID, slot.ID, date)])
	assert.Equal(t, attendance.StatusAbsent, ledger.records[key(students[2].ID, slot.ID, date)])
}

func TestSweepIsIdempotent(t *testing.T) {
	tt, roster, ledger, _, _ := sweepFixture()
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

	s := newTestSweeper(tt, roster, ledger, at)
	created, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, created)

	created, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, ledger.records, 3)
}

func TestSweepCoversTeacherSlots(t *testing.T) {
	tt, roster, ledger, _, _ := sweepFixture()
	teacherID := uuid.New()
	subject := uuid.New()
	tt.teacherSlots = []timetable.Slot{{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Day:       timetable.Monday,
		TeacherID: teacherID,
		SubjectID: subject,
		Start:     8 * time.Hour,
		End:       9 * time.Hour,
	}}

	s := newTestSweeper(tt, roster, ledger, time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC))
	created, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	// 3 students + 1 teacher.
	assert.Equal(t, 4, created)
}
