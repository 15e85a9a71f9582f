package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/pkg/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(80)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	r := gin.New()
	r.GET("/ws", h.HandleWS)
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, srv
}

func dial(t *testing.T, h *Hub, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	before := h.Clients()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() <= before {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) dto.WSMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg dto.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func solid(c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRenderKeepsLatestFrame(t *testing.T) {
	h := NewHub(90)
	cam := uuid.New()

	if _, ok := h.LatestFrame(cam); ok {
		t.Fatal("unexpected frame before render")
	}

	h.Render(cam, solid(color.White))
	h.Render(cam, solid(color.Black))

	jpg, ok := h.LatestFrame(cam)
	if !ok {
		t.Fatal("no frame after render")
	}
	img, err := jpeg.Decode(bytes.NewReader(jpg))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r, _, _, _ := img.At(4, 4).RGBA(); r > 0x1000 {
		t.Errorf("latest frame is not the black one (r=%d)", r)
	}

	h.Forget(cam)
	if _, ok := h.LatestFrame(cam); ok {
		t.Error("frame kept after Forget")
	}
}

func TestFramesAreFilteredByCamera(t *testing.T) {
	h, srv := startHub(t)
	camA, camB := uuid.New(), uuid.New()

	conn := dial(t, h, srv, "?camera_id="+camB.String())

	h.Render(camA, solid(color.White))
	h.Render(camB, solid(color.Black))

	msg := readMessage(t, conn)
	if msg.Type != dto.WSTypeFrame || msg.CameraID != camB {
		t.Fatalf("got %s for %s, want frame for %s", msg.Type, msg.CameraID, camB)
	}
	if _, err := jpeg.Decode(bytes.NewReader(msg.JPEG)); err != nil {
		t.Errorf("frame payload is not a jpeg: %v", err)
	}
}

func TestEventsAndAlertsReachClients(t *testing.T) {
	h, srv := startHub(t)
	cam := uuid.New()
	conn := dial(t, h, srv, "")

	userID := int64(7)
	if err := h.PublishAttendance(context.Background(), models.AttendanceEvent{
		Kind:     models.EventCheckIn,
		CameraID: cam,
		Label:    "alice",
		UserID:   &userID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := h.PublishAlert(context.Background(), models.ExitAlert{CameraID: cam}); err != nil {
		t.Fatal(err)
	}

	ev := readMessage(t, conn)
	if ev.Type != dto.WSTypeEvent || ev.Event == nil || ev.Event.Label != "alice" || ev.Event.Kind != models.EventCheckIn {
		t.Errorf("event message = %+v", ev)
	}
	alert := readMessage(t, conn)
	if alert.Type != dto.WSTypeAlert || alert.Alert == nil || alert.Alert.CameraID != cam {
		t.Errorf("alert message = %+v", alert)
	}
}

func TestHandleWSRejectsBadCameraID(t *testing.T) {
	h := NewHub(0)
	r := gin.New()
	r.GET("/ws", h.HandleWS)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ws?camera_id=lobby", nil))
	if w.Code != 400 {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestClientUnregistersOnClose(t *testing.T) {
	h, srv := startHub(t)
	conn := dial(t, h, srv, "")
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
