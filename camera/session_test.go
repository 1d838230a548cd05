package camera

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	frames int32
}

func (s *countingSink) Put([]byte) { atomic.AddInt32(&s.frames, 1) }
func (s *countingSink) Close()     {}
func (s *countingSink) count() int32 {
	return atomic.LoadInt32(&s.frames)
}

func testSession(t *testing.T) *Session {
	t.Helper()
	s := NewSession(MockBackend{}, "0")
	s.cfg = CaptureConfig{Width: 160, Height: 120, FPS: 60, Quality: 70}
	t.Cleanup(s.Close)
	return s
}

func TestSessionEnsureIdempotent(t *testing.T) {
	s := testSession(t)
	if err := s.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	feed := s.feed
	if err := s.Ensure(); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if s.feed != feed {
		t.Error("Ensure must not reopen an open session")
	}
}

func TestSessionNoBackend(t *testing.T) {
	s := NewSession(nil, "0")
	if err := s.Ensure(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable without a backend, got %v", err)
	}
}

func TestSessionReopenAfterClose(t *testing.T) {
	s := testSession(t)
	if err := s.Ensure(); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if s.Open() {
		t.Fatal("session still open after Close")
	}
	if err := s.Ensure(); err != nil {
		t.Fatalf("reopen after close failed: %v", err)
	}
	if !s.Open() {
		t.Error("expected a fresh session after reopen")
	}
}

func TestSessionPumpFanout(t *testing.T) {
	s := testSession(t)

	a := &countingSink{}
	b := &countingSink{}
	if err := s.Attach("a", a); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach("b", b); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.count() < 3 || b.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("pump delivered a=%d b=%d frames, want >= 3 each", a.count(), b.count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionDetachStopsPump(t *testing.T) {
	s := testSession(t)

	sink := &countingSink{}
	if err := s.Attach("only", sink); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pump never delivered a frame")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Detach("only")
	if s.pumping {
		t.Fatal("pump still running with no sinks attached")
	}
	after := sink.count()
	time.Sleep(100 * time.Millisecond)
	if sink.count() != after {
		t.Error("frames delivered after detach")
	}
}

func TestSessionCaptureOneShot(t *testing.T) {
	s := testSession(t)
	path := filepath.Join(t.TempDir(), "still.jpg")

	if err := s.Capture(path); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 2 || data[0] != 0xff || data[1] != 0xd8 {
		t.Error("captured file is not a JPEG")
	}
}

func TestSessionCaptureFromPump(t *testing.T) {
	s := testSession(t)
	sink := &countingSink{}
	if err := s.Attach("stream", sink); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "still.jpg")
	if err := s.Capture(path); err != nil {
		t.Fatalf("Capture while pumping failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("capture file missing: %v", err)
	}
}
