package timetable

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Repository reads schedule slots from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// SlotsForLevel returns a level's slots on the given weekday, earliest first.
func (r *Repository) SlotsForLevel(ctx context.Context, tenantID, levelID uuid.UUID, day Weekday) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, day, level_id, teacher_id, classe_id, subject_id, start_time, end_time
		FROM student_schedules
		WHERE admin_id = $1 AND level_id = $2 AND day = $3
		ORDER BY start_time
	`, tenantID, levelID, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudentSlots(rows)
}

// SlotsForTeacher returns a teacher's slots on the given weekday, earliest first.
func (r *Repository) SlotsForTeacher(ctx context.Context, tenantID, teacherID uuid.UUID, day Weekday) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, day, teacher_id, classe_id, subject_id, start_time, end_time
		FROM teacher_schedules
		WHERE admin_id = $1 AND teacher_id = $2 AND day = $3
		ORDER BY start_time
	`, tenantID, teacherID, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTeacherSlots(rows)
}

// StudentSlotsForDay returns every student slot scheduled on the weekday,
// across all tenants. Used by the absence sweep.
func (r *Repository) StudentSlotsForDay(ctx context.Context, day Weekday) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, day, level_id, teacher_id, classe_id, subject_id, start_time, end_time
		FROM student_schedules
		WHERE day = $1
		ORDER BY start_time
	`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStudentSlots(rows)
}

// TeacherSlotsForDay returns every teacher slot scheduled on the weekday.
func (r *Repository) TeacherSlotsForDay(ctx context.Context, day Weekday) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, day, teacher_id, classe_id, subject_id, start_time, end_time
		FROM teacher_schedules
		WHERE day = $1
		ORDER BY start_time
	`, string(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTeacherSlots(rows)
}

func scanStudentSlots(rows *sql.Rows) ([]Slot, error) {
	var res []Slot
	for rows.Next() {
		var s Slot
		var dayStr string
		var start, end pgtype.Time
		if err := rows.Scan(&s.ID, &s.TenantID, &dayStr, &s.LevelID, &s.TeacherID, &s.ClasseID, &s.SubjectID, &start, &end); err != nil {
			return nil, err
		}
		s.Day = Weekday(dayStr)
		s.Start = time.Duration(start.Microseconds) * time.Microsecond
		s.End = time.Duration(end.Microseconds) * time.Microsecond
		res = append(res, s)
	}
	return res, rows.Err()
}

func scanTeacherSlots(rows *sql.Rows) ([]Slot, error) {
	var res []Slot
	for rows.Next() {
		var s Slot
		var dayStr string
		var start, end pgtype.Time
		if err := rows.Scan(&s.ID, &s.TenantID, &dayStr, &s.TeacherID, &s.ClasseID, &s.SubjectID, &start, &end); err != nil {
			return nil, err
		}
		s.Day = Weekday(dayStr)
		s.Start = time.Duration(start.Microseconds) * time.Microsecond
		s.End = time.Duration(end.Microseconds) * time.Microsecond
		res = append(res, s)
	}
	return res, rows.Err()
}
