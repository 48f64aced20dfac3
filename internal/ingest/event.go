package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Per-event failures. Each is terminal for the event: logged, counted, dropped.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrActorNotFound    = errors.New("actor not found")
	ErrNoScheduleToday  = errors.New("no schedule today")
	ErrNoMatchingSlot   = errors.New("no matching slot")
)

// Event is a parsed scan: either a StudentScan or a TeacherScan.
type Event interface {
	scanEvent()
}

// StudentScan is a student QR scan.
type StudentScan struct {
	Numero string
	Nom    string
	Prenom string
	At     time.Time
}

func (StudentScan) scanEvent() {}

// TeacherScan is a teacher QR scan.
type TeacherScan struct {
	Nom    string
	Prenom string
	Email  string
	Numero string
	At     time.Time
}

func (TeacherScan) scanEvent() {}

// envelope covers both payload shapes; the type tag picks the variant.
type envelope struct {
	Type      string `json:"type"`
	Numero    string `json:"numero"`
	Nom       string `json:"nom"`
	Prenom    string `json:"prenom"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// Accepted timestamp layouts. Readers send ISO-8601-ish strings, sometimes
// without zone info; naive values are interpreted in the tenant timezone.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseScan turns a raw payload into a typed event. All failures wrap
// ErrMalformedPayload; nothing escapes as a panic or a raw decode error.
func ParseScan(payload []byte, loc *time.Location) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch env.Type {
	case "student":
		if env.Numero == "" || env.Nom == "" || env.Prenom == "" || env.Timestamp == "" {
			return nil, fmt.Errorf("%w: student scan missing required fields", ErrMalformedPayload)
		}
		at, err := parseTimestamp(env.Timestamp, loc)
		if err != nil {
			return nil, err
		}
		return StudentScan{Numero: env.Numero, Nom: env.Nom, Prenom: env.Prenom, At: at}, nil

	case "teacher":
		if env.Email == "" || env.Timestamp == "" {
			return nil, fmt.Errorf("%w: teacher scan missing required fields", ErrMalformedPayload)
		}
		at, err := parseTimestamp(env.Timestamp, loc)
		if err != nil {
			return nil, err
		}
		return TeacherScan{Nom: env.Nom, Prenom: env.Prenom, Email: env.Email, Numero: env.Numero, At: at}, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedPayload, env.Type)
	}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrMalformedPayload, s)
}
