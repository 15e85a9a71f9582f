package dto

import (
	"github.com/google/uuid"

	"github.com/your-org/facegate/internal/models"
)

type RecordResponse struct {
	ID           int64  `json:"id"`
	UserID       *int64 `json:"user_id,omitempty"`
	UserName     string `json:"user_name,omitempty"`
	CheckInTime  string `json:"check_in_time"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	Open         bool   `json:"open"`
	ImageURL     string `json:"image_url,omitempty"`
}

type RecordListResponse struct {
	Records []RecordResponse `json:"records"`
	Total   int              `json:"total"`
}

type RecordQuery struct {
	UserID *int64 `form:"user_id"`
	Open   *bool  `form:"open"`
	From   string `form:"from"`
	To     string `form:"to"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// WS message types.
const (
	WSTypeFrame = "frame"
	WSTypeEvent = "event"
	WSTypeAlert = "alert"
)

// WSMessage is a WebSocket message for real-time frame and event delivery.
type WSMessage struct {
	Type     string                  `json:"type"`
	CameraID uuid.UUID               `json:"camera_id"`
	JPEG     []byte                  `json:"jpeg,omitempty"` // base64 in JSON
	Event    *models.AttendanceEvent `json:"event,omitempty"`
	Alert    *models.ExitAlert       `json:"alert,omitempty"`
}
