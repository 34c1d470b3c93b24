package checkin

import (
	"errors"
	"time"

	"rollcall/internal/geo"
)

// Status of a presence record.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPresent || s == StatusLate || s == StatusAbsent
}

// Reason codes for rejected claims. Closed enumeration; the audit log and
// the claim response both speak this vocabulary.
type Reason string

const (
	ReasonInvalidQR           Reason = "INVALID_QR"
	ReasonExpiredQR           Reason = "EXPIRED_QR"
	ReasonWindowClosed        Reason = "WINDOW_CLOSED"
	ReasonDuplicateAttendance Reason = "DUPLICATE_ATTENDANCE"
	ReasonDuplicateDevice     Reason = "DUPLICATE_DEVICE"
	ReasonGPSOutOfRange       Reason = "GPS_OUT_OF_RANGE"
	ReasonLateRejected        Reason = "LATE_REJECTED"
)

// ManualDeviceID is the sentinel stored on records created by a manual
// override, where no real device ever scanned.
const ManualDeviceID = "manual"

var (
	// ErrDuplicateAttendee means the (session, attendee) pair already has a record.
	ErrDuplicateAttendee = errors.New("attendee already has a record for this session")
	// ErrDuplicateDevice means the device already produced an accepted claim.
	ErrDuplicateDevice = errors.New("device already used in this session")
	// ErrRecordNotFound means no record exists for the pair.
	ErrRecordNotFound = errors.New("presence record not found")
	// ErrInvalidStatus means the status is outside the closed enumeration.
	ErrInvalidStatus = errors.New("invalid presence status")
)

// Claim is one attendee's attempt to register presence.
type Claim struct {
	Token      string       `json:"token"`
	DeviceID   string       `json:"device_id"`
	AttendeeID string       `json:"attendee_id"`
	Location   geo.Location `json:"location"`
}

// Record is a persisted attendance mark.
type Record struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	AttendeeID string       `json:"attendee_id"`
	ClassID    string       `json:"class_id"`
	Status     Status       `json:"status"`
	DeviceID   string       `json:"device_id"`
	DistanceM  float64      `json:"distance_m"`
	Location   geo.Location `json:"location"`
	Suspicious bool         `json:"suspicious"`
	IsManual   bool         `json:"is_manual"`
	MarkedAt   time.Time    `json:"marked_at"`
}

// Outcome is the single resolution of a claim: accepted with a status, or
// rejected with a reason.
type Outcome struct {
	Accepted   bool    `json:"accepted"`
	Status     Status  `json:"status,omitempty"`
	DistanceM  float64 `json:"distance_m,omitempty"`
	Suspicious bool    `json:"suspicious,omitempty"`
	Reason     Reason  `json:"reason,omitempty"`
}
