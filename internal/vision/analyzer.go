package vision

import (
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/gallery"
	"github.com/your-org/facegate/internal/observability"
)

// FaceAnalyzer finds faces and turns them into embeddings.
type FaceAnalyzer interface {
	// Detect returns face regions ordered by descending confidence.
	Detect(img image.Image) ([]Detection, error)
	Embed(img image.Image, det Detection) ([]float32, error)
}

// ONNXAnalyzer serializes access to one detector and one embedder session.
// ONNX sessions bind fixed tensors, so capture loops take turns.
type ONNXAnalyzer struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// InitRuntime loads the ONNX Runtime shared library. The returned function
// tears the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = SharedLibraryPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime (%s): %w", libPath, err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

// SharedLibraryPath returns the platform's default ONNX Runtime library name.
func SharedLibraryPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

// NewONNXAnalyzer loads det_10g.onnx and w600k_r50.onnx from the models dir.
func NewONNXAnalyzer(cfg config.VisionConfig) (*ONNXAnalyzer, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXAnalyzer{detector: det, embedder: emb}, nil
}

func (a *ONNXAnalyzer) Detect(img image.Image) ([]Detection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	dets, err := a.detector.Detect(img)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	return dets, err
}

func (a *ONNXAnalyzer) Embed(img image.Image, det Detection) ([]float32, error) {
	face := cropFace(img, det.BBox)
	if face == nil {
		return nil, fmt.Errorf("face box %v outside image", det.BBox)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	emb, err := a.embedder.Embed(face)
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return emb, err
}

func (a *ONNXAnalyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	a.embedder.Close()
}

// TrainingEmbedder adapts an analyzer for the gallery builder: each image
// contributes the embedding of its most confident face.
func TrainingEmbedder(a FaceAnalyzer) gallery.Embedder {
	return firstFace{a}
}

type firstFace struct {
	analyzer FaceAnalyzer
}

func (f firstFace) EmbedFirst(img image.Image) ([]float32, bool, error) {
	dets, err := f.analyzer.Detect(img)
	if err != nil {
		return nil, false, err
	}
	if len(dets) == 0 {
		return nil, false, nil
	}
	emb, err := f.analyzer.Embed(img, dets[0])
	if err != nil {
		return nil, false, err
	}
	return emb, true, nil
}
