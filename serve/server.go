// Package serve exposes the camera controller over HTTP: the MJPEG stream,
// the JSON control API, a websocket state push, and the saved media files.
package serve

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"picam/camera"
	"picam/config"
)

type Server struct {
	C        *camera.Controller
	Settings *config.Settings
	Updater  *StateUpdater
}

func New(c *camera.Controller, settings *config.Settings) *Server {
	s := &Server{
		C:        c,
		Settings: settings,
		Updater:  NewStateUpdater(),
	}
	c.OnChange = s.Updater.StateChanged
	return s
}

// Routes builds the HTTP handler with request logging and recovery
// middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stream.mjpg", s.handleStream)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/events", s.Updater)

	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stop", s.handleStop)
	mux.HandleFunc("/api/pause", s.handlePause)
	mux.HandleFunc("/api/resume", s.handleResume)
	mux.HandleFunc("/api/flip", s.handleFlip)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/snaps", s.handleSnaps)
	mux.HandleFunc("/api/snaps/clear", s.handleSnapsClear)
	mux.HandleFunc("/api/videos", s.handleVideos)
	mux.HandleFunc("/api/videos/clear", s.handleVideosClear)
	mux.HandleFunc("/api/record", s.handleRecord)

	mux.Handle("/snapshots/", http.StripPrefix("/snapshots/",
		http.FileServer(http.Dir(s.Settings.SnapshotDir))))
	mux.Handle("/videos/", http.StripPrefix("/videos/",
		http.FileServer(http.Dir(s.Settings.VideoDir))))

	var h http.Handler = mux
	h = handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
	)(h)
	h = handlers.RecoveryHandler()(h)
	h = handlers.CombinedLoggingHandler(log.StandardLogger().WriterLevel(log.DebugLevel), h)
	return h
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// httpStatus maps controller errors onto response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, camera.ErrFeatureDisabled):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrDeviceUnavailable), errors.Is(err, camera.ErrDeviceBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.C.State())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"lines": s.C.Logs()})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.C.StartStream(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

// handleStop halts both the stream and any active recording.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.C.StopStream()
	s.C.StopRecording()
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.C.PauseStream()
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.C.ResumeStream()
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleFlip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st := s.C.State()
	hflip := formBool(r, "h", st.HFlip)
	vflip := formBool(r, "v", st.VFlip)
	if err := s.C.UpdateFlip(hflip, vflip); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"ok": true, "hflip": hflip, "vflip": vflip})
}

// handleConfig returns the current configuration when called without
// parameters; otherwise it merges the provided values with the current ones
// and applies the result.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cur := s.C.State().Config
	if r.Form.Get("width") == "" && r.Form.Get("height") == "" &&
		r.Form.Get("fps") == "" && r.Form.Get("quality") == "" {
		writeJSON(w, cur)
		return
	}
	width := formInt(r, "width", cur.Width)
	height := formInt(r, "height", cur.Height)
	fps := formInt(r, "fps", cur.FPS)
	quality := formInt(r, "quality", cur.Quality)
	if err := s.C.ApplyConfig(width, height, fps, quality); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.C.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	name := filepath.Base(path)
	writeJSON(w, map[string]interface{}{"ok": true, "file": name, "url": "/snapshots/" + name})
}

func (s *Server) handleSnaps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"files": s.C.ListSnapshots()})
}

func (s *Server) handleSnapsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{"ok": true, "removed": s.C.ClearSnapshots()})
}

// VideoEntry pairs a recorded filename with its duration where one could be
// extracted from the mp4 container.
type VideoEntry struct {
	Name        string `json:"name"`
	DurationSec int    `json:"duration_sec"`
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	names := s.C.ListVideos()
	items := make([]VideoEntry, 0, len(names))
	for _, name := range names {
		items = append(items, VideoEntry{
			Name:        name,
			DurationSec: s.C.Store().VideoDurationSec(name),
		})
	}
	writeJSON(w, map[string]interface{}{"files": names, "items": items})
}

func (s *Server) handleVideosClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]interface{}{"ok": true, "removed": s.C.ClearVideos()})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch r.Form.Get("cmd") {
	case "start":
		name, err := s.C.StartRecording()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"ok": true, "active": true, "file": name})
	case "stop":
		s.C.StopRecording()
		writeJSON(w, map[string]interface{}{"ok": true, "active": false, "file": s.C.State().Recording.File})
	default:
		http.Error(w, "unsupported command", http.StatusBadRequest)
	}
}

func formInt(r *http.Request, key string, def int) int {
	v := r.Form.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func formBool(r *http.Request, key string, def bool) bool {
	v := r.Form.Get(key)
	if v == "" {
		return def
	}
	return v != "0" && v != "false"
}
