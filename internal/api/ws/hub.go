package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"log/slog"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
	"github.com/your-org/facegate/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	cameraID uuid.UUID // uuid.Nil receives every camera
}

type outbound struct {
	cameraID uuid.UUID
	data     []byte
	// frames are dropped for slow clients; events disconnect them
	frame bool
}

// Hub fans rendered frames and attendance events out to WebSocket clients and
// keeps the latest rendered JPEG per camera.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	quality  int
	framesMu sync.RWMutex
	latest   map[uuid.UUID][]byte
}

func NewHub(jpegQuality int) *Hub {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 80
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		quality:    jpegQuality,
		latest:     make(map[uuid.UUID][]byte),
	}
}

// Run starts the hub event loop until ctx is cancelled. Call this in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "camera_id", client.cameraID)

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				h.drop(client)
			}
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if client.cameraID != uuid.Nil && client.cameraID != msg.cameraID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					if !msg.frame {
						h.drop(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop must be called with h.mu held.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Render stores the frame as the camera's latest JPEG and forwards it to
// subscribed clients. It never blocks the capture loop.
func (h *Hub) Render(cameraID uuid.UUID, frame image.Image) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame, imaging.JPEG, imaging.JPEGQuality(h.quality)); err != nil {
		slog.Warn("encode frame", "camera_id", cameraID, "error", err)
		return
	}
	jpg := buf.Bytes()

	h.framesMu.Lock()
	h.latest[cameraID] = jpg
	h.framesMu.Unlock()

	if h.Clients() == 0 {
		return
	}
	h.enqueue(outbound{cameraID: cameraID, frame: true}, dto.WSMessage{
		Type:     dto.WSTypeFrame,
		CameraID: cameraID,
		JPEG:     jpg,
	})
}

// LatestFrame returns the last rendered JPEG of a camera.
func (h *Hub) LatestFrame(cameraID uuid.UUID) ([]byte, bool) {
	h.framesMu.RLock()
	defer h.framesMu.RUnlock()
	jpg, ok := h.latest[cameraID]
	return jpg, ok
}

// Forget drops the cached frame of a removed camera.
func (h *Hub) Forget(cameraID uuid.UUID) {
	h.framesMu.Lock()
	delete(h.latest, cameraID)
	h.framesMu.Unlock()
}

// PublishAttendance delivers an attendance event to clients.
func (h *Hub) PublishAttendance(_ context.Context, ev models.AttendanceEvent) error {
	h.enqueue(outbound{cameraID: ev.CameraID}, dto.WSMessage{
		Type:     dto.WSTypeEvent,
		CameraID: ev.CameraID,
		Event:    &ev,
	})
	return nil
}

// PublishAlert delivers an exit alert to clients.
func (h *Hub) PublishAlert(_ context.Context, a models.ExitAlert) error {
	h.enqueue(outbound{cameraID: a.CameraID}, dto.WSMessage{
		Type:     dto.WSTypeAlert,
		CameraID: a.CameraID,
		Alert:    &a,
	})
	return nil
}

func (h *Hub) enqueue(out outbound, msg dto.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("marshal ws message", "type", msg.Type, "error", err)
		return
	}
	out.data = data

	select {
	case h.broadcast <- out:
	default:
		if !out.frame {
			slog.Warn("ws broadcast queue full, message dropped", "type", msg.Type, "camera_id", msg.CameraID)
		}
	}
}

// HandleWS handles WebSocket upgrade requests. ?camera_id= narrows delivery
// to one camera.
func (h *Hub) HandleWS(c *gin.Context) {
	var filter uuid.UUID
	if raw := c.Query("camera_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
			return
		}
		filter = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:     conn,
		send:     make(chan []byte, 64),
		cameraID: filter,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
