// Package config resolves camera service settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Settings is the immutable configuration snapshot loaded at startup.
// Mutable working copies of geometry/quality/transform live in the
// controller.
type Settings struct {
	Name   string
	Driver string // capture backend: "gocv" or "mock"
	Device string

	Width   int
	Height  int
	FPS     int
	Quality int
	HFlip   bool
	VFlip   bool

	EnableStream    bool
	EnableSnapshots bool
	EnableRecording bool

	// RecordBitrate overrides the resolution-based bitrate tier when > 0.
	RecordBitrate int

	AutoStartStream bool
	AutoFreeCamera  bool
	ManagePipeWire  bool

	LogSize int

	StorageRoot string
	SnapshotDir string
	VideoDir    string

	Host string
	Port int

	MJPEGBoundary     string
	SnapshotPrefix    string
	SnapshotExtension string
	VideoPrefix       string
	VideoExtension    string
}

// Load builds Settings from PICAM_* environment variables, applying
// defaults for anything unset.
func Load() (*Settings, error) {
	root := getEnv("PICAM_STORAGE_ROOT", "storage")

	s := &Settings{
		Name:   getEnv("PICAM_NAME", "default"),
		Driver: getEnv("PICAM_DRIVER", "gocv"),
		Device: getEnv("PICAM_DEVICE", "/dev/video0"),

		Width:   getEnvInt("PICAM_WIDTH", 1280),
		Height:  getEnvInt("PICAM_HEIGHT", 720),
		FPS:     getEnvInt("PICAM_FPS", 30),
		Quality: getEnvInt("PICAM_QUALITY", 80),
		HFlip:   getEnvBool("PICAM_HFLIP", false),
		VFlip:   getEnvBool("PICAM_VFLIP", false),

		EnableStream:    getEnvBool("PICAM_ENABLE_STREAM", true),
		EnableSnapshots: getEnvBool("PICAM_ENABLE_SNAPSHOTS", true),
		EnableRecording: getEnvBool("PICAM_ENABLE_RECORDING", true),

		RecordBitrate: getEnvInt("PICAM_RECORD_BITRATE", 0),

		AutoStartStream: getEnvBool("PICAM_AUTO_START_STREAM", true),
		AutoFreeCamera:  getEnvBool("PICAM_AUTO_FREE_CAMERA", true),
		ManagePipeWire:  getEnvBool("PICAM_MANAGE_PIPEWIRE", true),

		LogSize: getEnvInt("PICAM_LOG_SIZE", 400),

		StorageRoot: root,
		SnapshotDir: getEnv("PICAM_SNAPSHOT_DIR", filepath.Join(root, "snapshots")),
		VideoDir:    getEnv("PICAM_VIDEO_DIR", filepath.Join(root, "videos")),

		Host: getEnv("PICAM_HOST", "0.0.0.0"),
		Port: getEnvInt("PICAM_PORT", 8001),

		MJPEGBoundary:     getEnv("PICAM_MJPEG_BOUNDARY", "FRAME"),
		SnapshotPrefix:    getEnv("PICAM_SNAPSHOT_PREFIX", "snap"),
		SnapshotExtension: getEnv("PICAM_SNAPSHOT_EXTENSION", "jpg"),
		VideoPrefix:       getEnv("PICAM_VIDEO_PREFIX", "rec"),
		VideoExtension:    getEnv("PICAM_VIDEO_EXTENSION", "mp4"),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the controller cannot run with.
func (s *Settings) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.Width <= 0 || s.Height <= 0 || s.FPS <= 0 {
		return fmt.Errorf("invalid geometry %dx%d@%d", s.Width, s.Height, s.FPS)
	}
	if s.Quality < 10 || s.Quality > 100 {
		return fmt.Errorf("quality %d out of range [10,100]", s.Quality)
	}
	return nil
}

// EnsureDirectories creates the media directories so they can be served
// safely.
func (s *Settings) EnsureDirectories() error {
	for _, dir := range []string{s.StorageRoot, s.SnapshotDir, s.VideoDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Address returns the host:port the HTTP server listens on.
func (s *Settings) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
