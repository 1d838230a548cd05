package camera

import (
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"picam/metrics"
)

// Session owns the opened hardware handle. It is created lazily on first
// use and is invalid after Close; a later Ensure reopens a fresh feed.
// Methods are called under the controller's lock; only the pump goroutine
// runs concurrently, sharing the sink map and latest frame behind l.
type Session struct {
	backend Backend
	device  string

	feed Feed
	cfg  CaptureConfig

	l     sync.Mutex
	sinks map[string]Sink
	last  []byte

	pumping bool
	stop    chan struct{}
	done    chan struct{}

	// captureWait bounds how long Capture waits for the pump to deliver
	// a first frame.
	captureWait time.Duration
}

func NewSession(backend Backend, device string) *Session {
	return &Session{
		backend:     backend,
		device:      device,
		sinks:       make(map[string]Sink),
		captureWait: 2 * time.Second,
	}
}

// Ensure opens the device if it is not already open. Idempotent.
func (s *Session) Ensure() error {
	if s.feed != nil {
		return nil
	}
	if s.backend == nil {
		return fmt.Errorf("no capture backend: %w", ErrDeviceUnavailable)
	}
	feed, err := s.backend.Open(s.device)
	if err != nil {
		return fmt.Errorf("open %v via %v: %v: %w", s.device, s.backend.Name(), err, ErrDeviceUnavailable)
	}
	log.WithField("device", s.device).Infof("Opened capture device via %v backend", s.backend.Name())
	metrics.DeviceOpens.Inc()
	s.feed = feed
	if s.cfg != (CaptureConfig{}) {
		if err := feed.Configure(s.cfg); err != nil {
			return fmt.Errorf("configure: %v: %w", err, ErrOperationFailed)
		}
	}
	return nil
}

// Configure builds the capture configuration from the given geometry and
// transform. It does not start any pipeline and is safe to call repeatedly.
func (s *Session) Configure(cfg CaptureConfig) error {
	s.cfg = cfg
	if s.feed == nil {
		return nil
	}
	if err := s.feed.Configure(cfg); err != nil {
		return fmt.Errorf("configure: %v: %w", err, ErrOperationFailed)
	}
	return nil
}

// Attach registers an encoder sink under a name and starts the frame pump
// when it is the first one.
func (s *Session) Attach(name string, sink Sink) error {
	if err := s.Ensure(); err != nil {
		return err
	}
	s.l.Lock()
	s.sinks[name] = sink
	s.l.Unlock()
	if !s.pumping {
		s.startPump()
	}
	return nil
}

// Detach removes an encoder sink. The pump stops once no sinks remain so the
// device is not read for nobody. The sink itself is closed by the caller.
func (s *Session) Detach(name string) {
	s.l.Lock()
	delete(s.sinks, name)
	empty := len(s.sinks) == 0
	s.l.Unlock()
	if empty && s.pumping {
		s.stopPump()
	}
}

// Attached reports whether an encoder sink is registered under the name.
func (s *Session) Attached(name string) bool {
	s.l.Lock()
	defer s.l.Unlock()
	_, ok := s.sinks[name]
	return ok
}

func (s *Session) startPump() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.pumping = true
	go s.pump(s.feed, s.stop, s.done)
}

func (s *Session) stopPump() {
	close(s.stop)
	<-s.done
	s.pumping = false
	s.l.Lock()
	s.last = nil
	s.l.Unlock()
}

// pump is the encoder-callback thread: it reads frames from the feed and
// fans each one out to every attached sink.
func (s *Session) pump(feed Feed, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		frame, err := feed.Read()
		if err != nil {
			metrics.CaptureErrors.Inc()
			log.Errorf("Frame read failure: %v", err)
			select {
			case <-stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		s.l.Lock()
		s.last = frame
		for _, sink := range s.sinks {
			sink.Put(frame)
		}
		s.l.Unlock()
	}
}

// Capture writes one still frame to path. While the pump is running it uses
// the most recent frame; otherwise it performs a one-shot read on the feed.
func (s *Session) Capture(path string) error {
	if err := s.Ensure(); err != nil {
		return err
	}

	if s.pumping {
		deadline := time.Now().Add(s.captureWait)
		for {
			s.l.Lock()
			frame := s.last
			s.l.Unlock()
			if frame != nil {
				return os.WriteFile(path, frame, 0644)
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("no frame available for capture: %w", ErrOperationFailed)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	if err := s.feed.Configure(s.cfg); err != nil {
		return fmt.Errorf("configure for capture: %v: %w", err, ErrOperationFailed)
	}
	frame, err := s.feed.Read()
	if err != nil {
		return fmt.Errorf("capture read: %v: %w", err, ErrOperationFailed)
	}
	return os.WriteFile(path, frame, 0644)
}

// Open reports whether the device handle is currently open.
func (s *Session) Open() bool {
	return s.feed != nil
}

// Close releases the handle. A later Ensure reopens a fresh session.
func (s *Session) Close() {
	if s.pumping {
		s.stopPump()
	}
	s.l.Lock()
	s.sinks = make(map[string]Sink)
	s.l.Unlock()
	if s.feed != nil {
		if err := s.feed.Close(); err != nil {
			log.Errorf("Error closing capture device: %v", err)
		}
		s.feed = nil
	}
}
