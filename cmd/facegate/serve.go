package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/your-org/facegate/internal/alert"
	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/attendance"
	"github.com/your-org/facegate/internal/capture"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/queue"
	"github.com/your-org/facegate/internal/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cameras, the attendance ledger and the HTTP API",
	Long: `Start every camera from the config, recognize faces against the trained
gallery, record check-ins and check-outs, and serve the HTTP / WebSocket API.
The gallery is loaded from the configured backend, or trained on first start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	policy, err := vision.ParsePolicy(cfg.Vision.MatchPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("starting facegate", "port", cfg.Server.Port, "cameras", len(cfg.Cameras), "policy", policy)

	shutdownRuntime, err := vision.InitRuntime(cfg.Vision.ONNXLibrary)
	if err != nil {
		return err
	}
	defer shutdownRuntime()

	analyzer, err := vision.NewONNXAnalyzer(cfg.Vision)
	if err != nil {
		return fmt.Errorf("load face models: %w", err)
	}
	defer analyzer.Close()

	b, err := openBackends(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer b.close()

	// Gallery
	store := gallery.NewStore(nil)
	trainer := gallery.NewTrainer(
		gallery.NewBuilder(vision.TrainingEmbedder(analyzer)),
		b.galleryPersister(cfg.Gallery),
		store,
		cfg.Gallery.ImagesDir,
	)
	// Retrains use the analyzer, so they must finish before it is closed.
	defer func() {
		cancel()
		trainer.Close()
	}()
	g, err := trainer.LoadOrTrain(ctx)
	if err != nil {
		return fmt.Errorf("load gallery: %w", err)
	}
	slog.Info("gallery ready", "entries", g.Len(), "labels", len(g.Labels()), "backend", cfg.Gallery.Backend)

	// Event delivery: through JetStream when configured, straight to the
	// WebSocket hub otherwise.
	hub := ws.NewHub(cfg.Attendance.SnapshotQuality)
	go hub.Run(ctx)

	var (
		publisher   attendance.Publisher = hub
		alertTarget alert.Publisher      = hub
		producer    *queue.Producer
	)
	if cfg.NATS.URL != "" {
		producer, err = startEventBus(ctx, cfg.NATS.URL, hub)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher, alertTarget = producer, producer
	}

	machine := attendance.NewMachine(b.db, publisher, alert.NewNotifier(cfg.Attendance.AlertCommand, alertTarget), attendance.Options{
		UnknownCooldown: cfg.Attendance.UnknownCooldown,
		AlertCooldown:   cfg.Attendance.AlertCooldown,
		SnapshotQuality: cfg.Attendance.SnapshotQuality,
	})

	// Cameras
	manager := capture.NewManager(ctx, func(cam models.Camera) capture.Source {
		return capture.NewFFmpegSource(cam.Source, cfg.Vision.FPS, cfg.Vision.FrameWidth)
	}, capture.Deps{
		Recognizer: vision.NewEngine(analyzer, cfg.Vision.Tolerance, policy),
		Galleries:  store,
		Recorder:   machine,
		Sink:       hub,
		Tracking: capture.TrackingOptions{
			Enabled: cfg.Tracking.On(),
			MaxAge:  cfg.Tracking.MaxAge,
			MinHits: cfg.Tracking.MinHits,
		},
	})
	defer manager.StopAll()

	for _, cc := range cfg.Cameras {
		if _, err := manager.Start(cameraFromConfig(cc)); err != nil {
			return fmt.Errorf("start camera %q: %w", cc.Name, err)
		}
	}

	// HTTP API
	var archive handlers.ObjectArchive
	if b.minio != nil {
		archive = b.minio
	}
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Identities: handlers.NewIdentityHandler(ctx, b.db, archive, trainer, cfg.Gallery.ImagesDir).WithCapture(manager),
		Gallery:    handlers.NewGalleryHandler(trainer),
		Cameras:    handlers.NewCameraHandler(manager, hub),
		Records:    handlers.NewRecordHandler(b.db),
		System:     handlers.NewSystemHandler(readinessChecks(b, producer)),
		Hub:        hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /v1/gallery/retrain waits for the build
		IdleTimeout:  60 * time.Second,
		// request contexts end with ctx, so in-flight retrains stop at shutdown
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	manager.StopAll()
	cancel()

	slog.Info("facegate stopped")
	return nil
}

// startEventBus publishes attendance events to JetStream and feeds them back
// into the WebSocket hub through a consumer.
func startEventBus(ctx context.Context, url string, hub *ws.Hub) (*queue.Producer, error) {
	producer, err := queue.NewProducer(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	if err := producer.EnsureStream(ctx); err != nil {
		producer.Close()
		return nil, fmt.Errorf("ensure nats stream: %w", err)
	}

	consumer, err := queue.NewConsumer(url)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("create event consumer: %w", err)
	}
	go func() {
		<-ctx.Done()
		consumer.Close()
	}()

	err = consumer.Consume(ctx, "facegate-ws", func(ctx context.Context, ev *models.AttendanceEvent, a *models.ExitAlert) error {
		if ev != nil {
			return hub.PublishAttendance(ctx, *ev)
		}
		return hub.PublishAlert(ctx, *a)
	})
	if err != nil {
		slog.Warn("start event consumer, websocket clients will not receive events", "error", err)
	}
	return producer, nil
}

func readinessChecks(b *backends, producer *queue.Producer) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{}
	if b.db != nil {
		checks["postgres"] = b.db.Ping
	}
	if b.minio != nil {
		checks["minio"] = b.minio.Ping
	}
	if producer != nil {
		checks["nats"] = func(context.Context) error { return producer.Ping() }
	}
	return checks
}

func cameraFromConfig(cc config.CameraConfig) models.Camera {
	return models.Camera{
		Name:   cc.Name,
		Source: cc.Source,
		Role:   models.Role(cc.Role),
		Detect: cc.Detect,
	}
}
