package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

type RecordStore interface {
	ListRecords(ctx context.Context, f models.RecordFilter) ([]models.Record, int, error)
	GetRecordImage(ctx context.Context, id int64) ([]byte, error)
}

type RecordHandler struct {
	db RecordStore
}

func NewRecordHandler(db RecordStore) *RecordHandler {
	return &RecordHandler{db: db}
}

func (h *RecordHandler) List(c *gin.Context) {
	var q dto.RecordQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := models.RecordFilter{
		UserID: q.UserID,
		Open:   q.Open,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		filter.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		filter.To = &t
	}

	records, total, err := h.db.ListRecords(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RecordResponse, 0, len(records))
	for _, r := range records {
		item := dto.RecordResponse{
			ID:          r.ID,
			UserID:      r.UserID,
			UserName:    r.UserName,
			CheckInTime: r.CheckInTime.Format(time.RFC3339),
			Open:        r.Open(),
			ImageURL:    "/v1/records/" + strconv.FormatInt(r.ID, 10) + "/image",
		}
		if r.CheckOutTime != nil {
			item.CheckOutTime = r.CheckOutTime.Format(time.RFC3339)
		}
		resp = append(resp, item)
	}

	c.JSON(http.StatusOK, dto.RecordListResponse{Records: resp, Total: total})
}

// Image returns the snapshot captured at check-in.
func (h *RecordHandler) Image(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return
	}

	data, err := h.db.GetRecordImage(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "record image not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}
