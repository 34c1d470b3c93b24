package audit

import (
	"time"

	"rollcall/internal/geo"
)

// Entry is one immutable line in the suspicious-activity log. Entries are
// appended for every rejected claim and never mutated or deleted.
type Entry struct {
	ID         string       `json:"id"`
	AttendeeID string       `json:"attendee_id"`
	SessionID  string       `json:"session_id,omitempty"`
	Reason     string       `json:"reason"`
	DeviceID   string       `json:"device_id"`
	Location   geo.Location `json:"location"`
	Details    string       `json:"details,omitempty"`
	At         time.Time    `json:"at"`
}
