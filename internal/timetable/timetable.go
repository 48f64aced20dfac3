// Package timetable is the read-only schedule index. It answers "which slots
// could a scan on this weekday belong to" for students (by level) and teachers
// (by direct assignment), always ordered by start time so callers get a
// deterministic tie-break.
package timetable

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Weekday is the three-letter day symbol stored on schedule rows.
type Weekday string

const (
	Monday    Weekday = "MON"
	Tuesday   Weekday = "TUE"
	Wednesday Weekday = "WED"
	Thursday  Weekday = "THU"
	Friday    Weekday = "FRI"
	Saturday  Weekday = "SAT"
	Sunday    Weekday = "SUN"
)

// WeekdayOf derives the day symbol from a point in time.
func WeekdayOf(t time.Time) Weekday {
	return Weekday(strings.ToUpper(t.Format("Mon")))
}

// Slot is a single timetable entry. Start and End are offsets from midnight
// in the tenant's local day; End is strictly after Start by construction.
type Slot struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Day       Weekday
	LevelID   uuid.UUID // set for student slots
	TeacherID uuid.UUID
	ClasseID  uuid.UUID
	SubjectID uuid.UUID
	Start     time.Duration
	End       time.Duration
}

// StartOn anchors the slot's start time onto the calendar day of t in loc.
func (s Slot) StartOn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(s.Start)
}

// Length is the scheduled duration of the slot.
func (s Slot) Length() time.Duration {
	return s.End - s.Start
}
