package attendance

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Record is one canonical attendance row. Exactly one exists per
// (actor, schedule, date) key; re-processing overwrites status in place.
type Record struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	StudentID  uuid.UUID // zero for teacher records
	TeacherID  uuid.UUID // zero for student records
	ScheduleID uuid.UUID
	Date       time.Time
	Status     Status
	SubjectID  *uuid.UUID // teacher records only
}

// Repository persists attendance records in Postgres. All writes go through
// atomic upsert statements so concurrent writers on the same key cannot
// produce duplicate rows.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertStudent writes a student's record, overwriting status when the key
// already exists. The bool reports whether a new row was created.
func (r *Repository) UpsertStudent(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time, status Status) (Record, bool, error) {
	rec := Record{
		TenantID:   tenantID,
		StudentID:  studentID,
		ScheduleID: scheduleID,
		Date:       date,
		Status:     status,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO student_attendance (admin_id, student_id, schedule_id, date, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, schedule_id, date)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, tenantID, studentID, scheduleID, date, string(status))
	var created bool
	if err := row.Scan(&rec.ID, &created); err != nil {
		return Record{}, false, err
	}
	return rec, created, nil
}

// UpsertTeacher writes a teacher's record. Status and subject are always
// overwritten together; other fields are left untouched.
func (r *Repository) UpsertTeacher(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, status Status, subjectID *uuid.UUID) (Record, bool, error) {
	rec := Record{
		TenantID:   tenantID,
		TeacherID:  teacherID,
		ScheduleID: scheduleID,
		Date:       date,
		Status:     status,
		SubjectID:  subjectID,
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO teacher_attendance (admin_id, teacher_id, schedule_id, date, status, subject_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (teacher_id, schedule_id, date)
		DO UPDATE SET status = EXCLUDED.status, subject_id = EXCLUDED.subject_id, updated_at = NOW()
		RETURNING id, (xmax = 0)
	`, tenantID, teacherID, scheduleID, date, string(status), nullUUID(subjectID))
	var created bool
	if err := row.Scan(&rec.ID, &created); err != nil {
		return Record{}, false, err
	}
	return rec, created, nil
}

// InsertStudentAbsentIfMissing creates an absent record only when no record
// exists for the key. A concurrent real scan always wins: DO NOTHING never
// touches an existing row.
func (r *Repository) InsertStudentAbsentIfMissing(ctx context.Context, tenantID, studentID, scheduleID uuid.UUID, date time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO student_attendance (admin_id, student_id, schedule_id, date, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id, schedule_id, date) DO NOTHING
	`, tenantID, studentID, scheduleID, date, string(StatusAbsent))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InsertTeacherAbsentIfMissing is the teacher-side sweep write.
func (r *Repository) InsertTeacherAbsentIfMissing(ctx context.Context, tenantID, teacherID, scheduleID uuid.UUID, date time.Time, subjectID *uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO teacher_attendance (admin_id, teacher_id, schedule_id, date, status, subject_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (teacher_id, schedule_id, date) DO NOTHING
	`, tenantID, teacherID, scheduleID, date, string(StatusAbsent), nullUUID(subjectID))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// StudentRecordView is a record joined with the student's name, for the read API.
type StudentRecordView struct {
	ID         uuid.UUID `json:"id"`
	StudentID  uuid.UUID `json:"studentId"`
	Nom        string    `json:"nom"`
	Prenom     string    `json:"prenom"`
	ScheduleID uuid.UUID `json:"scheduleId"`
	Date       string    `json:"date"`
	Status     Status    `json:"status"`
}

// TeacherRecordView is a record joined with the teacher's name.
type TeacherRecordView struct {
	ID         uuid.UUID  `json:"id"`
	TeacherID  uuid.UUID  `json:"teacherId"`
	Nom        string     `json:"nom"`
	Prenom     string     `json:"prenom"`
	ScheduleID uuid.UUID  `json:"scheduleId"`
	Date       string     `json:"date"`
	Status     Status     `json:"status"`
	SubjectID  *uuid.UUID `json:"subjectId,omitempty"`
}

// ListStudentRecords returns recent student records, newest day first.
// date (YYYY-MM-DD) and status filters are optional.
func (r *Repository) ListStudentRecords(ctx context.Context, date, status string, limit int) ([]StudentRecordView, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.student_id, s.nom, s.prenom, a.schedule_id, to_char(a.date, 'YYYY-MM-DD'), a.status
		FROM student_attendance a
		JOIN students s ON s.id = a.student_id
		WHERE ($1 = '' OR a.date = $1::date)
		  AND ($2 = '' OR a.status = $2)
		ORDER BY a.date DESC, a.updated_at DESC
		LIMIT $3
	`, date, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StudentRecordView
	for rows.Next() {
		var v StudentRecordView
		if err := rows.Scan(&v.ID, &v.StudentID, &v.Nom, &v.Prenom, &v.ScheduleID, &v.Date, &v.Status); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

// ListTeacherRecords returns recent teacher records, newest day first.
func (r *Repository) ListTeacherRecords(ctx context.Context, date, status string, limit int) ([]TeacherRecordView, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.teacher_id, t.nom, t.prenom, a.schedule_id, to_char(a.date, 'YYYY-MM-DD'), a.status, a.subject_id
		FROM teacher_attendance a
		JOIN teachers t ON t.id = a.teacher_id
		WHERE ($1 = '' OR a.date = $1::date)
		  AND ($2 = '' OR a.status = $2)
		ORDER BY a.date DESC, a.updated_at DESC
		LIMIT $3
	`, date, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TeacherRecordView
	for rows.Next() {
		var v TeacherRecordView
		var subject uuid.NullUUID
		if err := rows.Scan(&v.ID, &v.TeacherID, &v.Nom, &v.Prenom, &v.ScheduleID, &v.Date, &v.Status, &subject); err != nil {
			return nil, err
		}
		if subject.Valid {
			v.SubjectID = &subject.UUID
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
