package store

import (
	"context"
	"fmt"
)

// schema is applied on listener startup. Statements are idempotent so repeated
// runs against an existing database are safe.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,
	`CREATE TABLE IF NOT EXISTS students (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id   UUID NOT NULL,
		nom        TEXT NOT NULL,
		prenom     TEXT NOT NULL,
		numero     TEXT NOT NULL,
		mail       TEXT NOT NULL UNIQUE,
		level_id   UUID NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS teachers (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id   UUID NOT NULL,
		nom        TEXT NOT NULL,
		prenom     TEXT NOT NULL,
		numero     TEXT NOT NULL,
		mail       TEXT NOT NULL UNIQUE,
		subject_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS student_schedules (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id   UUID NOT NULL,
		day        VARCHAR(3) NOT NULL,
		level_id   UUID NOT NULL,
		teacher_id UUID NOT NULL,
		classe_id  UUID NOT NULL,
		subject_id UUID NOT NULL,
		start_time TIME NOT NULL,
		end_time   TIME NOT NULL,
		CHECK (end_time > start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS teacher_schedules (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id   UUID NOT NULL,
		day        VARCHAR(3) NOT NULL,
		teacher_id UUID NOT NULL,
		classe_id  UUID NOT NULL,
		subject_id UUID NOT NULL,
		start_time TIME NOT NULL,
		end_time   TIME NOT NULL,
		CHECK (end_time > start_time)
	)`,
	`CREATE TABLE IF NOT EXISTS student_attendance (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id    UUID NOT NULL,
		student_id  UUID NOT NULL,
		schedule_id UUID NOT NULL,
		date        DATE NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, schedule_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS teacher_attendance (
		id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		admin_id    UUID NOT NULL,
		teacher_id  UUID NOT NULL,
		schedule_id UUID NOT NULL,
		date        DATE NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		subject_id  UUID,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (teacher_id, schedule_id, date)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_student_schedules_day ON student_schedules (day, level_id)`,
	`CREATE INDEX IF NOT EXISTS idx_teacher_schedules_day ON teacher_schedules (day, teacher_id)`,
	`CREATE INDEX IF NOT EXISTS idx_student_attendance_date ON student_attendance (date)`,
	`CREATE INDEX IF NOT EXISTS idx_teacher_attendance_date ON teacher_attendance (date)`,
}

// Migrate applies the embedded schema.
func (d *DB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
