// Package directory resolves scanned identities to enrolled actors. Students
// are looked up by their natural key (numero, nom, prenom), teachers by email,
// matching what the QR payloads carry.
package directory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no actor matches the identifying fields.
var ErrNotFound = errors.New("actor not found")

// Student is an enrolled student.
type Student struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Nom      string
	Prenom   string
	Numero   string
	Mail     string
	LevelID  uuid.UUID
}

// Teacher is an enrolled teacher. SubjectID is nil for teachers without an
// assigned subject.
type Teacher struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Nom       string
	Prenom    string
	Numero    string
	Mail      string
	SubjectID *uuid.UUID
}

// Repository reads actors from Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// FindStudent resolves a student by the natural key carried in scan payloads.
func (r *Repository) FindStudent(ctx context.Context, numero, nom, prenom string) (Student, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, admin_id, nom, prenom, numero, mail, level_id
		FROM students
		WHERE numero = $1 AND nom = $2 AND prenom = $3
	`, numero, nom, prenom)
	var s Student
	if err := row.Scan(&s.ID, &s.TenantID, &s.Nom, &s.Prenom, &s.Numero, &s.Mail, &s.LevelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Student{}, ErrNotFound
		}
		return Student{}, err
	}
	return s, nil
}

// FindTeacherByEmail resolves a teacher by email.
func (r *Repository) FindTeacherByEmail(ctx context.Context, mail string) (Teacher, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, admin_id, nom, prenom, numero, mail, subject_id
		FROM teachers
		WHERE mail = $1
	`, mail)
	var t Teacher
	var subject uuid.NullUUID
	if err := row.Scan(&t.ID, &t.TenantID, &t.Nom, &t.Prenom, &t.Numero, &t.Mail, &subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Teacher{}, ErrNotFound
		}
		return Teacher{}, err
	}
	if subject.Valid {
		t.SubjectID = &subject.UUID
	}
	return t, nil
}

// StudentsByLevel lists a level's students within a tenant. Used by the
// absence sweep to find who was expected in a slot.
func (r *Repository) StudentsByLevel(ctx context.Context, tenantID, levelID uuid.UUID) ([]Student, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, admin_id, nom, prenom, numero, mail, level_id
		FROM students
		WHERE admin_id = $1 AND level_id = $2
		ORDER BY nom, prenom
	`, tenantID, levelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Nom, &s.Prenom, &s.Numero, &s.Mail, &s.LevelID); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
