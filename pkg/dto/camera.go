package dto

import "github.com/google/uuid"

type CreateCameraRequest struct {
	Name   string `json:"name"`
	Source string `json:"source" binding:"required"`
	Role   string `json:"role" binding:"omitempty,oneof=entry exit untracked"`
	Detect *bool  `json:"detect"`
}

type CameraResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	Role         string    `json:"role"`
	Detect       bool      `json:"detect"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Frames       uint64    `json:"frames"`
	CreatedAt    string    `json:"created_at"`
}

type CameraListResponse struct {
	Cameras []CameraResponse `json:"cameras"`
	Total   int              `json:"total"`
}
