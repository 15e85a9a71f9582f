package config

import (
	"path/filepath"
	"runtime"
	"testing"
)

func TestSampleConfigLoads(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "configs", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%s): %v", path, err)
	}
	if len(cfg.Cameras) != 2 || cfg.Cameras[0].Role != "entry" || cfg.Cameras[1].Role != "exit" {
		t.Errorf("cameras = %+v", cfg.Cameras)
	}
	if cfg.Gallery.Backend != "file" || cfg.Vision.MatchPolicy != "first" {
		t.Errorf("gallery/vision = %+v / %+v", cfg.Gallery, cfg.Vision)
	}
}
