package attendance

import "time"

// Status is the attendance decision for one (actor, slot, date) key.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusPending Status = "pending"
)

// GracePolicy holds the configurable minute thresholds that turn a scan
// offset into a status.
type GracePolicy struct {
	PresentGrace time.Duration
	LateGrace    time.Duration
	TeacherGrace time.Duration
}

// DefaultGracePolicy mirrors the deployed defaults: 15 minutes to count as
// present, 20 to count as late, 15 for teachers.
func DefaultGracePolicy() GracePolicy {
	return GracePolicy{
		PresentGrace: 15 * time.Minute,
		LateGrace:    20 * time.Minute,
		TeacherGrace: 15 * time.Minute,
	}
}

// ForStudent classifies a student's offset from slot start.
func (p GracePolicy) ForStudent(offset time.Duration) Status {
	switch {
	case offset < 0:
		return StatusAbsent
	case offset <= p.PresentGrace:
		return StatusPresent
	case offset <= p.LateGrace:
		return StatusLate
	default:
		return StatusAbsent
	}
}

// ForTeacher classifies a teacher's offset from slot start. Teachers have no
// late band.
func (p GracePolicy) ForTeacher(offset time.Duration) Status {
	if offset >= 0 && offset <= p.TeacherGrace {
		return StatusPresent
	}
	return StatusAbsent
}
