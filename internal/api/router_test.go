package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/capture"
)

func newTestRouter(t *testing.T, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(80)
	manager := capture.NewManager(context.Background(), nil, capture.Deps{})
	return NewRouter(RouterConfig{
		APIKey:     apiKey,
		Identities: handlers.NewIdentityHandler(context.Background(), nil, nil, nil, t.TempDir()),
		Cameras:    handlers.NewCameraHandler(manager, hub),
		System:     handlers.NewSystemHandler(nil),
		Hub:        hub,
	})
}

func TestSystemRoutesSkipAuth(t *testing.T) {
	r := newTestRouter(t, "s3cret")

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestV1RequiresAPIKey(t *testing.T) {
	r := newTestRouter(t, "s3cret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/cameras", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/cameras", nil)
	req.Header.Set("X-API-Key", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid key: status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"total":0`) {
		t.Errorf("body = %s", w.Body)
	}
}

func TestMetricsExposeRequestDuration(t *testing.T) {
	r := newTestRouter(t, "")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/cameras", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `facegate_http_request_duration_seconds`) {
		t.Error("request duration histogram missing from /metrics")
	}
	if !strings.Contains(w.Body.String(), `path="/v1/cameras"`) {
		t.Error("route label missing")
	}
}
