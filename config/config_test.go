package config

import (
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Width != 1280 || s.Height != 720 || s.FPS != 30 || s.Quality != 80 {
		t.Errorf("unexpected default geometry: %dx%d@%d q=%d", s.Width, s.Height, s.FPS, s.Quality)
	}
	if !s.EnableStream || !s.EnableSnapshots || !s.EnableRecording {
		t.Error("pipelines should be enabled by default")
	}
	if s.MJPEGBoundary != "FRAME" {
		t.Errorf("unexpected boundary %q", s.MJPEGBoundary)
	}
	if s.SnapshotPrefix != "snap" || s.VideoPrefix != "rec" {
		t.Errorf("unexpected prefixes %q/%q", s.SnapshotPrefix, s.VideoPrefix)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PICAM_WIDTH", "640")
	t.Setenv("PICAM_HEIGHT", "480")
	t.Setenv("PICAM_FPS", "15")
	t.Setenv("PICAM_ENABLE_RECORDING", "off")
	t.Setenv("PICAM_DEVICE", "/dev/video2")
	t.Setenv("PICAM_STORAGE_ROOT", t.TempDir())

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Width != 640 || s.Height != 480 || s.FPS != 15 {
		t.Errorf("env geometry not applied: %dx%d@%d", s.Width, s.Height, s.FPS)
	}
	if s.EnableRecording {
		t.Error("PICAM_ENABLE_RECORDING=off not applied")
	}
	if s.Device != "/dev/video2" {
		t.Errorf("device override not applied: %q", s.Device)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PICAM_QUALITY", "5")
	if _, err := Load(); err == nil {
		t.Error("expected error for quality below 10")
	}
}

func TestEnvBoolParsing(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"YES", true}, {"on", true},
		{"0", false}, {"false", false}, {"no", false}, {"off", false},
		{"garbage", true}, // falls back to the default
	}
	for _, c := range cases {
		t.Setenv("PICAM_TEST_BOOL", c.value)
		if got := getEnvBool("PICAM_TEST_BOOL", true); got != c.want {
			t.Errorf("getEnvBool(%q) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	s := &Settings{
		StorageRoot: root,
		SnapshotDir: filepath.Join(root, "snapshots"),
		VideoDir:    filepath.Join(root, "videos"),
	}
	if err := s.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	// Idempotent.
	if err := s.EnsureDirectories(); err != nil {
		t.Fatalf("second EnsureDirectories failed: %v", err)
	}
}
