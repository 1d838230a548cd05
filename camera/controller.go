package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"picam/config"
	"picam/metrics"
)

// Resolver frees the capture device from a competing desktop media service
// and restores it on shutdown.
type Resolver interface {
	Free() error
	Restore() error
}

const (
	sinkStream = "stream"
	sinkRecord = "record"
)

// Controller coordinates exclusive access to the capture device across the
// preview stream, video recording, and snapshot pipelines. A single mutex
// serializes every pipeline-state transition and is held across the
// corresponding hardware calls; callers must treat operations as bounded
// blocking calls. Pause and resume are lock-free.
type Controller struct {
	settings *config.Settings
	resolver Resolver
	session  *Session
	store    *MediaStore
	ringlog  *RingLog

	// OnChange, when set before Initialize, is invoked after every state
	// transition (outside the lock) so listeners can push updates.
	OnChange func()

	mu     sync.Mutex
	paused atomic.Bool

	running   bool
	recActive bool
	recFile   string
	lastOp    string

	width, height, fps, quality int
	hflip, vflip                bool

	sink *FrameSink
	rec  Sink

	// newRecorder builds the video encoder sink; replaceable in tests.
	newRecorder func(path string, opts FFmpegOptions) (Sink, error)
}

// NewController wires a controller to its settings, capture backend, and
// optional conflict resolver.
func NewController(settings *config.Settings, backend Backend, resolver Resolver) *Controller {
	c := &Controller{
		settings: settings,
		resolver: resolver,
		session:  NewSession(backend, settings.Device),
		ringlog:  NewRingLog(settings.LogSize),
		store: &MediaStore{
			SnapshotDir:    settings.SnapshotDir,
			VideoDir:       settings.VideoDir,
			SnapshotPrefix: settings.SnapshotPrefix,
			SnapshotExt:    settings.SnapshotExtension,
			VideoPrefix:    settings.VideoPrefix,
			VideoExt:       settings.VideoExtension,
		},
		lastOp:  "idle",
		width:   settings.Width,
		height:  settings.Height,
		fps:     settings.FPS,
		quality: settings.Quality,
		hflip:   settings.HFlip,
		vflip:   settings.VFlip,
	}
	c.newRecorder = func(path string, opts FFmpegOptions) (Sink, error) {
		return NewFFmpegSink(path, opts)
	}
	c.ringlog.Add("controller instantiated")
	return c
}

// Store exposes the media store for file serving.
func (c *Controller) Store() *MediaStore { return c.store }

// Logf appends a line to the operator ring log.
func (c *Controller) Logf(format string, args ...interface{}) {
	c.ringlog.Add(format, args...)
}

// Initialize frees the device from competing holders when configured,
// opens the session, and auto-starts streaming when enabled. An unresolved
// device-busy condition surfaces as ErrDeviceUnavailable.
func (c *Controller) Initialize() error {
	if c.settings.AutoFreeCamera && c.resolver != nil {
		c.ringlog.Add("freeing camera resources")
		if err := c.resolver.Free(); err != nil {
			if errors.Is(err, ErrDeviceBusy) {
				return fmt.Errorf("device still held after eviction: %w", ErrDeviceUnavailable)
			}
			c.ringlog.Add("free camera: %v", err)
			log.Warnf("Conflict resolver: %v", err)
		}
	}

	c.mu.Lock()
	err := c.session.Ensure()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if c.settings.AutoStartStream && c.settings.EnableStream {
		if err := c.StartStream(); err != nil {
			c.ringlog.Add("auto-start failed: %v", err)
			log.Errorf("Stream auto-start failed: %v", err)
		}
	}
	return nil
}

// Shutdown stops all pipelines, releases the device, and restores any
// externally-stopped service. The ordering is strict: recording first, then
// streaming, then the device session, then the desktop service.
func (c *Controller) Shutdown() {
	c.ringlog.Add("shutting down controller")
	c.mu.Lock()
	if c.recActive {
		c.stopRecordingLocked()
	}
	if c.running {
		c.stopStreamLocked()
	}
	c.session.Close()
	c.mu.Unlock()

	if c.settings.ManagePipeWire && c.resolver != nil {
		if err := c.resolver.Restore(); err != nil {
			log.Errorf("Failed to restore desktop services: %v", err)
		}
	}
	c.changed()
}

// StartStream transitions the preview pipeline to running. No-op if already
// running.
func (c *Controller) StartStream() error {
	if !c.settings.EnableStream {
		return fmt.Errorf("streaming: %w", ErrFeatureDisabled)
	}
	c.mu.Lock()
	defer c.unlockChanged()
	if c.running {
		return nil
	}
	return c.startStreamLocked()
}

func (c *Controller) startStreamLocked() error {
	if !c.settings.EnableStream {
		return nil
	}
	if err := c.session.Ensure(); err != nil {
		return err
	}
	c.setOperation("start stream %dx%d@%d q=%d", c.width, c.height, c.fps, c.quality)
	if err := c.session.Configure(c.captureConfig()); err != nil {
		return err
	}
	sink := NewFrameSink(&c.paused, DefaultWakeInterval)
	if err := c.session.Attach(sinkStream, sink); err != nil {
		sink.Close()
		return err
	}
	c.sink = sink
	c.running = true
	c.paused.Store(false)
	c.setOperation("running")
	return nil
}

// StopStream tears down the preview pipeline. Readers observe shutdown
// within one wake interval.
func (c *Controller) StopStream() {
	c.mu.Lock()
	defer c.unlockChanged()
	if !c.running {
		return
	}
	c.stopStreamLocked()
	c.setOperation("stopped")
}

func (c *Controller) stopStreamLocked() {
	if !c.running {
		return
	}
	c.setOperation("stopping stream")
	c.session.Detach(sinkStream)
	if c.sink != nil {
		// Clears the current frame and wakes all readers.
		c.sink.Close()
		c.sink = nil
	}
	c.running = false
	c.paused.Store(false)
}

// PauseStream suspends frame publication without detaching the encoder, so
// resume is near-instant. Lock-free: the flag flips immediately and the
// controller mutex is never taken, even while another operation holds it.
// The last-operation marker is left alone; State carries the paused flag.
func (c *Controller) PauseStream() {
	c.paused.Store(true)
	c.ringlog.Add("paused")
	log.Info("paused")
	c.changed()
}

// ResumeStream resumes a paused stream. Lock-free.
func (c *Controller) ResumeStream() {
	c.paused.Store(false)
	c.ringlog.Add("resumed")
	log.Info("resumed")
	c.changed()
}

// StartRecording attaches the video encoder, auto-starting streaming first
// when needed, and returns the recording filename.
func (c *Controller) StartRecording() (string, error) {
	if !c.settings.EnableRecording {
		return "", fmt.Errorf("recording: %w", ErrFeatureDisabled)
	}
	c.mu.Lock()
	defer c.unlockChanged()
	return c.startRecordingLocked()
}

func (c *Controller) startRecordingLocked() (string, error) {
	if c.recActive {
		return c.recFile, nil
	}
	if !c.running {
		if err := c.startStreamLocked(); err != nil {
			return "", err
		}
	}
	if err := c.session.Ensure(); err != nil {
		return "", err
	}
	if !c.running {
		// Streaming disabled; configure the device for recording alone.
		if err := c.session.Configure(c.captureConfig()); err != nil {
			return "", err
		}
	}

	bitrate := c.bitrateFor()
	name := c.store.VideoName(c.width, c.height, time.Now())
	path := c.store.VideoPath(name)
	c.setOperation("start recording -> %s", name)

	rec, err := c.newRecorder(path, FFmpegOptions{FPS: c.fps, Bitrate: bitrate})
	if err != nil {
		c.setOperation("recording failed: %v", err)
		return "", fmt.Errorf("video encoder: %v: %w", err, ErrOperationFailed)
	}
	if err := c.session.Attach(sinkRecord, rec); err != nil {
		rec.Close()
		return "", err
	}
	c.rec = rec
	c.recActive = true
	c.recFile = name
	c.setOperation("recording -> %s", name)
	metrics.RecordingsStarted.Inc()
	return name, nil
}

// StopRecording detaches the video encoder. Idempotent: missing encoder or
// session resets the flags without error.
func (c *Controller) StopRecording() {
	c.mu.Lock()
	defer c.unlockChanged()
	if !c.recActive {
		return
	}
	c.stopRecordingLocked()
	c.setOperation("recording stopped")
}

func (c *Controller) stopRecordingLocked() {
	if !c.recActive || c.rec == nil {
		c.recActive = false
		c.recFile = ""
		return
	}
	c.setOperation("stop recording")
	c.session.Detach(sinkRecord)
	c.rec.Close()
	c.rec = nil
	c.recActive = false
}

// Snapshot captures a still image using the current configuration and
// returns its path. If the capture fails while streaming, the stream is
// stopped, the capture retried, and the stream restarted.
func (c *Controller) Snapshot() (string, error) {
	if !c.settings.EnableSnapshots {
		return "", fmt.Errorf("snapshots: %w", ErrFeatureDisabled)
	}
	c.mu.Lock()
	defer c.unlockChanged()

	if !c.running {
		if err := c.startStreamLocked(); err != nil {
			return "", err
		}
	}

	name := c.store.SnapshotName(c.width, c.height, time.Now())
	path := c.store.SnapshotPath(name)

	if err := c.session.Capture(path); err != nil {
		// Fall back to a direct capture with the stream torn down. Costs
		// a brief preview gap, but succeeds whenever the hardware can
		// capture at all.
		wasRunning := c.running
		if wasRunning {
			c.stopStreamLocked()
		}
		if err := c.session.Capture(path); err != nil {
			if wasRunning {
				c.startStreamLocked()
			}
			c.setOperation("snapshot failed: %v", err)
			return "", err
		}
		if wasRunning {
			if err := c.startStreamLocked(); err != nil {
				log.Errorf("Failed to restart stream after snapshot: %v", err)
			}
		}
	}

	c.ringlog.Add("snapshot %s", name)
	metrics.SnapshotsTaken.Inc()
	return path, nil
}

// ApplyConfig validates and applies new geometry and quality, restarting
// whatever pipelines were active so no encoder remains attached to stale
// geometry.
func (c *Controller) ApplyConfig(width, height, fps, quality int) error {
	if width <= 0 || height <= 0 || fps <= 0 {
		return fmt.Errorf("geometry %dx%d@%d: %w", width, height, fps, ErrConfigInvalid)
	}
	if quality < 10 || quality > 100 {
		return fmt.Errorf("quality %d not in [10,100]: %w", quality, ErrConfigInvalid)
	}
	c.mu.Lock()
	defer c.unlockChanged()

	c.setOperation("reconfig to %dx%d@%d q=%d", width, height, fps, quality)
	c.restartPipelinesLocked(func() {
		c.width, c.height, c.fps, c.quality = width, height, fps, quality
	})
	return nil
}

// UpdateFlip applies a new transform with the same teardown-and-restart
// sequence as ApplyConfig.
func (c *Controller) UpdateFlip(hflip, vflip bool) error {
	c.mu.Lock()
	defer c.unlockChanged()

	c.setOperation("flip to h=%v v=%v", hflip, vflip)
	c.restartPipelinesLocked(func() {
		c.hflip, c.vflip = hflip, vflip
	})
	return nil
}

// restartPipelinesLocked stops recording then streaming, applies the
// mutation, and restarts both in reverse order subject to their enable
// flags. The full teardown is kept even for no-op mutations; the capture
// stack does not support in-place reconfiguration of attached encoders.
func (c *Controller) restartPipelinesLocked(mutate func()) {
	wasRecording := c.recActive
	if wasRecording {
		c.stopRecordingLocked()
	}
	if c.running {
		c.stopStreamLocked()
	}

	mutate()

	if c.settings.EnableStream {
		if err := c.startStreamLocked(); err != nil {
			log.Errorf("Failed to restart stream: %v", err)
		}
	}
	if wasRecording && c.settings.EnableRecording {
		if _, err := c.startRecordingLocked(); err != nil {
			log.Errorf("Failed to restart recording: %v", err)
		}
	}
}

// bitrateFor selects the recording bitrate by resolution tier unless an
// explicit override is configured.
func (c *Controller) bitrateFor() int {
	if c.settings.RecordBitrate > 0 {
		return c.settings.RecordBitrate
	}
	pixels := c.width * c.height
	switch {
	case pixels >= 1920*1080:
		return 10_000_000
	case pixels >= 1280*720:
		return 6_000_000
	default:
		return 3_000_000
	}
}

func (c *Controller) captureConfig() CaptureConfig {
	return CaptureConfig{
		Width:   c.width,
		Height:  c.height,
		FPS:     c.fps,
		Quality: c.quality,
		HFlip:   c.hflip,
		VFlip:   c.vflip,
	}
}

// StreamSink returns the current frame sink for readers, or false when the
// stream is not running.
func (c *Controller) StreamSink() (*FrameSink, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.sink == nil {
		return nil, false
	}
	return c.sink, true
}

// Config returns the active capture geometry and quality.
func (c *Controller) Config() (width, height, fps, quality int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height, c.fps, c.quality
}

// Flips returns the active transform flags.
func (c *Controller) Flips() (hflip, vflip bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hflip, c.vflip
}

// Running reports whether the preview stream is active. The controller is
// the sole authority on this flag; stream readers exit once it is false.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Paused reports whether frame publication is suspended.
func (c *Controller) Paused() bool {
	return c.paused.Load()
}

// MJPEGBoundary returns the multipart boundary token for stream responses.
func (c *Controller) MJPEGBoundary() string {
	return c.settings.MJPEGBoundary
}

// State is the serializable controller status consumed by the API and UI.
type State struct {
	Running   bool           `json:"running"`
	Paused    bool           `json:"paused"`
	HFlip     bool           `json:"hflip"`
	VFlip     bool           `json:"vflip"`
	Recording RecordingState `json:"recording"`
	Config    ConfigState    `json:"config"`
	Op        OperationState `json:"op"`
	Settings  SettingsState  `json:"settings"`
}

type RecordingState struct {
	Active bool   `json:"active"`
	File   string `json:"file"`
}

type ConfigState struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	FPS     int `json:"fps"`
	Quality int `json:"quality"`
}

type OperationState struct {
	Status string `json:"status"`
}

type SettingsState struct {
	Name             string `json:"name"`
	Driver           string `json:"driver"`
	Device           string `json:"device"`
	SnapshotsEnabled bool   `json:"snapshots_enabled"`
	RecordingEnabled bool   `json:"recording_enabled"`
}

// State returns a consistent snapshot of the runtime state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Running: c.running,
		Paused:  c.paused.Load(),
		HFlip:   c.hflip,
		VFlip:   c.vflip,
		Recording: RecordingState{
			Active: c.recActive,
			File:   c.recFile,
		},
		Config: ConfigState{
			Width:   c.width,
			Height:  c.height,
			FPS:     c.fps,
			Quality: c.quality,
		},
		Op: OperationState{Status: c.lastOp},
		Settings: SettingsState{
			Name:             c.settings.Name,
			Driver:           c.settings.Driver,
			Device:           c.settings.Device,
			SnapshotsEnabled: c.settings.EnableSnapshots,
			RecordingEnabled: c.settings.EnableRecording,
		},
	}
}

// ListSnapshots returns snapshot filenames sorted alphabetically.
func (c *Controller) ListSnapshots() []string { return c.store.ListSnapshots() }

// ListVideos returns recorded video filenames sorted alphabetically.
func (c *Controller) ListVideos() []string { return c.store.ListVideos() }

// ClearSnapshots removes all snapshots and returns the count.
func (c *Controller) ClearSnapshots() int {
	removed := c.store.ClearSnapshots()
	if removed > 0 {
		c.ringlog.Add("removed %d snapshots", removed)
	}
	c.changed()
	return removed
}

// ClearVideos removes all recorded videos and returns the count.
func (c *Controller) ClearVideos() int {
	removed := c.store.ClearVideos()
	if removed > 0 {
		c.ringlog.Add("removed %d videos", removed)
	}
	c.changed()
	return removed
}

// Logs returns the ring buffer contents.
func (c *Controller) Logs() []string {
	return c.ringlog.Lines()
}

// setOperation updates the last-operation marker and records the event.
// Caller holds the lock.
func (c *Controller) setOperation(format string, args ...interface{}) {
	c.lastOp = fmt.Sprintf(format, args...)
	c.ringlog.Add("%s", c.lastOp)
	log.Info(c.lastOp)
}

// unlockChanged releases the lock and fires the change hook.
func (c *Controller) unlockChanged() {
	c.mu.Unlock()
	c.changed()
}

func (c *Controller) changed() {
	if c.OnChange != nil {
		c.OnChange()
	}
}
