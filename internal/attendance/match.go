package attendance

import (
	"time"

	"qrattend/internal/timetable"
)

// BestMatch selects the slot a scan belongs to. A slot is eligible when the
// scan falls between the slot's start and its end plus grace, on the scan's
// calendar day in loc. Candidates arrive ordered by start time, so the
// earliest-starting eligible slot wins; that is the documented tie-break for
// overlapping windows.
//
// The returned offset is the signed distance from slot start, and is
// non-negative for any match.
func BestMatch(candidates []timetable.Slot, scanAt time.Time, loc *time.Location, grace time.Duration) (timetable.Slot, time.Duration, bool) {
	for _, slot := range candidates {
		start := slot.StartOn(scanAt, loc)
		offset := scanAt.Sub(start)
		if offset >= 0 && offset <= slot.Length()+grace {
			return slot, offset, true
		}
	}
	return timetable.Slot{}, 0, false
}
