package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/auth"
)

type RouterConfig struct {
	APIKey string

	Identities *handlers.IdentityHandler
	Gallery    *handlers.GalleryHandler
	Cameras    *handlers.CameraHandler
	Records    *handlers.RecordHandler
	System     *handlers.SystemHandler
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	r.GET("/healthz", cfg.System.Healthz)
	r.GET("/readyz", cfg.System.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	v1.POST("/identities", cfg.Identities.Create)
	v1.GET("/identities", cfg.Identities.List)
	v1.GET("/identities/:id", cfg.Identities.Get)
	v1.POST("/identities/:id/images", cfg.Identities.UploadImages)
	v1.POST("/identities/:id/capture", cfg.Identities.CaptureImages)

	v1.GET("/gallery", cfg.Gallery.Status)
	v1.POST("/gallery/retrain", cfg.Gallery.Retrain)

	v1.POST("/cameras", cfg.Cameras.Create)
	v1.GET("/cameras", cfg.Cameras.List)
	v1.GET("/cameras/:id", cfg.Cameras.Get)
	v1.DELETE("/cameras/:id", cfg.Cameras.Delete)
	v1.GET("/cameras/:id/frame", cfg.Cameras.Frame)

	v1.GET("/records", cfg.Records.List)
	v1.GET("/records/:id/image", cfg.Records.Image)

	return r
}
