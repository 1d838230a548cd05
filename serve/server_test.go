package serve

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"picam/camera"
	"picam/config"
)

type nopResolver struct{}

func (nopResolver) Free() error    { return nil }
func (nopResolver) Restore() error { return nil }

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	root := t.TempDir()
	s := &config.Settings{
		Name:    "test",
		Driver:  "mock",
		Device:  "/dev/video0",
		Width:   320,
		Height:  240,
		FPS:     15,
		Quality: 80,

		EnableStream:    true,
		EnableSnapshots: true,
		EnableRecording: true,

		LogSize: 50,

		StorageRoot: root,
		SnapshotDir: filepath.Join(root, "snapshots"),
		VideoDir:    filepath.Join(root, "videos"),

		MJPEGBoundary:     "FRAME",
		SnapshotPrefix:    "snap",
		SnapshotExtension: "jpg",
		VideoPrefix:       "rec",
		VideoExtension:    "mp4",
	}
	if err := s.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return s
}

func testServer(t *testing.T, settings *config.Settings) (*Server, *httptest.Server) {
	t.Helper()
	c := camera.NewController(settings, camera.MockBackend{}, nopResolver{})
	if err := c.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(c.Shutdown)
	s := New(c, settings)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func postForm(t *testing.T, ts *httptest.Server, path string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	var out map[string]bool
	resp := getJSON(t, ts, "/health", &out)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !out["ok"] {
		t.Error("expected ok response")
	}
}

func TestStateEndpoint(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	var st camera.State
	getJSON(t, ts, "/api/state", &st)
	if st.Config.Width != 320 || st.Config.Height != 240 {
		t.Errorf("config = %dx%d, want 320x240", st.Config.Width, st.Config.Height)
	}
	if st.Settings.Driver != "mock" {
		t.Errorf("driver = %q", st.Settings.Driver)
	}
}

func TestStartAndStop(t *testing.T) {
	srv, ts := testServer(t, testSettings(t))
	postForm(t, ts, "/api/start", nil)
	if !srv.C.Running() {
		t.Fatal("stream not running after /api/start")
	}
	postForm(t, ts, "/api/stop", nil)
	if srv.C.Running() {
		t.Fatal("stream still running after /api/stop")
	}
}

func TestStartStreamDisabled(t *testing.T) {
	settings := testSettings(t)
	settings.EnableStream = false
	_, ts := testServer(t, settings)
	resp := postForm(t, ts, "/api/start", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestPauseResume(t *testing.T) {
	srv, ts := testServer(t, testSettings(t))
	postForm(t, ts, "/api/start", nil)
	postForm(t, ts, "/api/pause", nil)
	if !srv.C.Paused() {
		t.Fatal("not paused after /api/pause")
	}
	postForm(t, ts, "/api/resume", nil)
	if srv.C.Paused() {
		t.Fatal("still paused after /api/resume")
	}
}

func TestConfigMerge(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	postForm(t, ts, "/api/config", url.Values{"width": {"640"}, "height": {"480"}})

	var cfg camera.ConfigState
	getJSON(t, ts, "/api/config", &cfg)
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("config = %dx%d, want 640x480", cfg.Width, cfg.Height)
	}
	if cfg.FPS != 15 {
		t.Errorf("fps = %d, want 15 (unspecified values keep current)", cfg.FPS)
	}
}

func TestConfigInvalid(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	resp := postForm(t, ts, "/api/config", url.Values{"quality": {"5"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestFlip(t *testing.T) {
	srv, ts := testServer(t, testSettings(t))
	postForm(t, ts, "/api/flip", url.Values{"h": {"1"}})
	st := srv.C.State()
	if !st.HFlip || st.VFlip {
		t.Errorf("flips = h:%v v:%v, want h:true v:false", st.HFlip, st.VFlip)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	settings := testSettings(t)
	_, ts := testServer(t, settings)
	postForm(t, ts, "/api/start", nil)

	var out struct {
		OK   bool   `json:"ok"`
		File string `json:"file"`
		URL  string `json:"url"`
	}
	resp, err := http.Post(ts.URL+"/api/snapshot", "", nil)
	if err != nil {
		t.Fatalf("POST /api/snapshot: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.File == "" {
		t.Fatalf("snapshot response = %+v", out)
	}
	if _, err := os.Stat(filepath.Join(settings.SnapshotDir, out.File)); err != nil {
		t.Errorf("snapshot file missing: %v", err)
	}

	// The saved file is also reachable through the static file server.
	fresp, err := http.Get(ts.URL + out.URL)
	if err != nil {
		t.Fatalf("GET %s: %v", out.URL, err)
	}
	fresp.Body.Close()
	if fresp.StatusCode != http.StatusOK {
		t.Errorf("file status = %d", fresp.StatusCode)
	}
}

func TestSnapshotDisabled(t *testing.T) {
	settings := testSettings(t)
	settings.EnableSnapshots = false
	_, ts := testServer(t, settings)
	resp := postForm(t, ts, "/api/snapshot", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestSnapsListAndClear(t *testing.T) {
	settings := testSettings(t)
	_, ts := testServer(t, settings)
	for _, name := range []string{"snap-a.jpg", "snap-b.jpg"} {
		if err := os.WriteFile(filepath.Join(settings.SnapshotDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var list map[string][]string
	getJSON(t, ts, "/api/snaps", &list)
	if len(list["files"]) != 2 {
		t.Fatalf("files = %v, want 2 entries", list["files"])
	}

	// Clearing is POST only.
	resp := getJSON(t, ts, "/api/snaps/clear", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET clear status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
	postForm(t, ts, "/api/snaps/clear", nil)
	getJSON(t, ts, "/api/snaps", &list)
	if len(list["files"]) != 0 {
		t.Errorf("files = %v after clear, want none", list["files"])
	}
}

func TestVideosList(t *testing.T) {
	settings := testSettings(t)
	_, ts := testServer(t, settings)
	if err := os.WriteFile(filepath.Join(settings.VideoDir, "rec-a.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var out struct {
		Files []string     `json:"files"`
		Items []VideoEntry `json:"items"`
	}
	getJSON(t, ts, "/api/videos", &out)
	if len(out.Files) != 1 || out.Files[0] != "rec-a.mp4" {
		t.Fatalf("files = %v", out.Files)
	}
	if len(out.Items) != 1 || out.Items[0].Name != "rec-a.mp4" {
		t.Fatalf("items = %v", out.Items)
	}
}

func TestRecordBadCommand(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	resp := postForm(t, ts, "/api/record", url.Values{"cmd": {"rewind"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRecordStopIdle(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	resp := postForm(t, ts, "/api/record", url.Values{"cmd": {"stop"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestStreamResponse(t *testing.T) {
	srv, ts := testServer(t, testSettings(t))
	postForm(t, ts, "/api/start", nil)

	resp, err := http.Get(ts.URL + "/stream.mjpg")
	if err != nil {
		t.Fatalf("GET /stream.mjpg: %v", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/x-mixed-replace") || !strings.Contains(ct, "FRAME") {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Read until the first JPEG payload arrives, then disconnect.
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 0, 64<<10)
		tmp := make([]byte, 4096)
		for {
			n, err := resp.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if idx := strings.Index(string(buf), "\xff\xd8"); idx >= 0 {
				done <- buf
				return
			}
			if err != nil {
				done <- buf
				return
			}
		}
	}()
	select {
	case buf := <-done:
		body := string(buf)
		if !strings.Contains(body, "--FRAME") {
			t.Errorf("missing boundary marker in %q", body[:min(len(body), 128)])
		}
		if !strings.Contains(body, "Content-Type: image/jpeg") {
			t.Errorf("missing part header in %q", body[:min(len(body), 128)])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame delivered within 5s")
	}
	srv.C.StopStream()
}

func TestIndexPage(t *testing.T) {
	_, ts := testServer(t, testSettings(t))
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(b), "stream.mjpg") {
		t.Error("index page does not reference the stream")
	}
}
