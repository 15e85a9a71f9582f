package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Vision     VisionConfig     `yaml:"vision"`
	Gallery    GalleryConfig    `yaml:"gallery"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Cameras    []CameraConfig   `yaml:"cameras"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ONNXLibrary        string  `yaml:"onnx_library"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	// Tolerance is the maximum cosine distance (1 - similarity) accepted as a
	// match. 0.6 admits ArcFace pairs with similarity 0.4 or more.
	Tolerance   float64 `yaml:"tolerance"`
	MatchPolicy string  `yaml:"match_policy"` // first | nearest
	FrameWidth  int     `yaml:"frame_width"`
	FPS         int     `yaml:"fps"` // 0 keeps the source rate
}

type GalleryConfig struct {
	ImagesDir string `yaml:"images_dir"`
	Backend   string `yaml:"backend"` // file | postgres | minio
	Path      string `yaml:"path"`    // file path or object key
}

type TrackingConfig struct {
	Enabled *bool `yaml:"enabled"`
	MaxAge  int   `yaml:"max_age"`
	MinHits int   `yaml:"min_hits"`
}

// On reports whether decision de-duplication is enabled (default true).
func (t TrackingConfig) On() bool {
	return t.Enabled == nil || *t.Enabled
}

type AttendanceConfig struct {
	UnknownCooldown time.Duration `yaml:"unknown_cooldown"`
	AlertCooldown   time.Duration `yaml:"alert_cooldown"`
	AlertCommand    []string      `yaml:"alert_command"`
	SnapshotQuality int           `yaml:"snapshot_quality"`
}

type CameraConfig struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Role   string `yaml:"role"`
	Detect bool   `yaml:"detect"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Vision.MatchPolicy {
	case "first", "nearest":
	default:
		return fmt.Errorf("vision.match_policy must be first or nearest, got %q", c.Vision.MatchPolicy)
	}
	switch c.Gallery.Backend {
	case "file", "postgres", "minio":
	default:
		return fmt.Errorf("gallery.backend must be file, postgres or minio, got %q", c.Gallery.Backend)
	}
	if c.Vision.Tolerance <= 0 {
		return fmt.Errorf("vision.tolerance must be positive")
	}
	for i, cam := range c.Cameras {
		if cam.Source == "" {
			return fmt.Errorf("cameras[%d]: source is required", i)
		}
		switch cam.Role {
		case "", "entry", "exit", "untracked":
		default:
			return fmt.Errorf("cameras[%d]: unknown role %q", i, cam.Role)
		}
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facegate"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.Tolerance == 0 {
		cfg.Vision.Tolerance = 0.6
	}
	if cfg.Vision.MatchPolicy == "" {
		cfg.Vision.MatchPolicy = "first"
	}
	if cfg.Vision.FrameWidth == 0 {
		cfg.Vision.FrameWidth = 640
	}
	if cfg.Gallery.ImagesDir == "" {
		cfg.Gallery.ImagesDir = "images"
	}
	if cfg.Gallery.Backend == "" {
		cfg.Gallery.Backend = "file"
	}
	if cfg.Gallery.Path == "" {
		cfg.Gallery.Path = "trained_gallery.gob"
	}
	if cfg.Tracking.MaxAge == 0 {
		cfg.Tracking.MaxAge = 15
	}
	if cfg.Tracking.MinHits == 0 {
		cfg.Tracking.MinHits = 1
	}
	if cfg.Attendance.SnapshotQuality == 0 {
		cfg.Attendance.SnapshotQuality = 85
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FG_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FG_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FG_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FG_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FG_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FG_ONNX_LIBRARY"); v != "" {
		cfg.Vision.ONNXLibrary = v
	}
	if v := os.Getenv("FG_TOLERANCE"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Vision.Tolerance = t
		}
	}
	if v := os.Getenv("FG_MATCH_POLICY"); v != "" {
		cfg.Vision.MatchPolicy = v
	}
	if v := os.Getenv("FG_IMAGES_DIR"); v != "" {
		cfg.Gallery.ImagesDir = v
	}
	if v := os.Getenv("FG_GALLERY_BACKEND"); v != "" {
		cfg.Gallery.Backend = v
	}
	if v := os.Getenv("FG_GALLERY_PATH"); v != "" {
		cfg.Gallery.Path = v
	}
	if v := os.Getenv("FG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
