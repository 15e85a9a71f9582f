package dto

// CreateIdentityRequest registers a person. Name becomes the gallery label.
type CreateIdentityRequest struct {
	Name    string `json:"name" binding:"required,max=128"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email" binding:"omitempty,email"`
}

type IdentityResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type UploadImagesResponse struct {
	IdentityID int64    `json:"identity_id"`
	Saved      []string `json:"saved"`
	Retraining bool     `json:"retraining"`
}

// CaptureImagesRequest enrolls frames grabbed from a running camera.
type CaptureImagesRequest struct {
	CameraID string `json:"camera_id" binding:"required,uuid"`
	Count    int    `json:"count" binding:"omitempty,min=1,max=10"`
}
