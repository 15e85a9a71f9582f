package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is the semantic purpose of a camera feed.
type Role string

const (
	RoleEntry     Role = "entry"
	RoleExit      Role = "exit"
	RoleUntracked Role = "untracked"
)

// ParseRole validates a role string. Empty means untracked.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEntry, RoleExit, RoleUntracked:
		return Role(s), nil
	case "":
		return RoleUntracked, nil
	default:
		return "", fmt.Errorf("unknown camera role %q", s)
	}
}

type CameraStatus string

const (
	CameraStatusStarting CameraStatus = "starting"
	CameraStatusRunning  CameraStatus = "running"
	CameraStatusStopped  CameraStatus = "stopped"
	CameraStatusError    CameraStatus = "error"
)

// Camera describes one configured stream source.
type Camera struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	Source       string       `json:"source"` // device index ("0") or network URL
	Role         Role         `json:"role"`
	Detect       bool         `json:"detect"`
	Status       CameraStatus `json:"status"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Frames       uint64       `json:"frames"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Label returns a human readable name for logs and metric labels.
func (c Camera) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID.String()
}
