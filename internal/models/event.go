package models

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventCheckIn        EventKind = "check_in"
	EventCheckOut       EventKind = "check_out"
	EventUnknownVisitor EventKind = "unknown_visitor"
	EventExitAlert      EventKind = "exit_alert"
	EventOrphanExit     EventKind = "orphan_exit"
)

// AttendanceEvent is published for every ledger transition and alert.
type AttendanceEvent struct {
	Kind       EventKind  `json:"kind"`
	CameraID   uuid.UUID  `json:"camera_id"`
	CameraName string     `json:"camera_name,omitempty"`
	Role       Role       `json:"role"`
	Label      string     `json:"label,omitempty"`
	UserID     *int64     `json:"user_id,omitempty"`
	RecordID   *int64     `json:"record_id,omitempty"`
	BBox       [4]float32 `json:"bbox"` // x1, y1, x2, y2
	Distance   float64    `json:"distance,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ExitAlert signals a face leaving through an exit camera that matched no
// enrolled identity.
type ExitAlert struct {
	CameraID   uuid.UUID  `json:"camera_id"`
	CameraName string     `json:"camera_name,omitempty"`
	BBox       [4]float32 `json:"bbox"`
	Timestamp  time.Time  `json:"timestamp"`
}
