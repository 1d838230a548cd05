package camera

import (
	"sync"
	"sync/atomic"
	"time"

	"picam/metrics"
)

// DefaultWakeInterval bounds how long a stream reader can sleep between
// frames, so a stopped pipeline is detected within one polling interval.
const DefaultWakeInterval = 500 * time.Millisecond

// FrameSink receives JPEG encoder output in arbitrary chunk sizes, detects
// frame boundaries via the JPEG start-of-image marker, and fans the latest
// complete frame out to any number of stream readers.
//
// There is a single writer (the session pump) and many readers. Readers wake
// on every published frame and at least once per wake interval.
type FrameSink struct {
	paused *atomic.Bool

	mu     sync.Mutex
	cond   *sync.Cond
	frame  []byte
	seq    uint64
	closed bool

	// buf accumulates the in-progress frame. Writer-only, no lock needed.
	buf []byte

	done chan struct{}
}

// NewFrameSink creates a sink sharing the given pause flag with the
// controller. The pause flag is consulted lock-free on the write path.
func NewFrameSink(paused *atomic.Bool, wake time.Duration) *FrameSink {
	if wake <= 0 {
		wake = DefaultWakeInterval
	}
	s := &FrameSink{
		paused: paused,
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.wakeLoop(wake)
	return s
}

// wakeLoop periodically wakes all waiting readers so that Next never blocks
// longer than one interval, even when no frames arrive.
func (s *FrameSink) wakeLoop(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.cond.Broadcast()
		}
	}
}

// Write ingests encoded bytes from the device session. A chunk beginning with
// the JPEG SOI marker finalizes the previously accumulated buffer as the
// current frame and notifies all waiters. While paused, input is discarded
// but still reported as written so encoder throughput is unaffected.
func (s *FrameSink) Write(b []byte) (int, error) {
	if s.paused.Load() {
		return len(b), nil
	}
	if len(b) >= 2 && b[0] == 0xff && b[1] == 0xd8 {
		s.publish()
		s.buf = s.buf[:0]
	}
	s.buf = append(s.buf, b...)
	return len(b), nil
}

// Put implements the session sink contract.
func (s *FrameSink) Put(b []byte) {
	s.Write(b)
}

// Flush publishes whatever has accumulated as a complete frame.
func (s *FrameSink) Flush() {
	s.publish()
	s.buf = s.buf[:0]
}

func (s *FrameSink) publish() {
	if len(s.buf) == 0 {
		return
	}
	frame := make([]byte, len(s.buf))
	copy(frame, s.buf)

	s.mu.Lock()
	s.frame = frame
	s.seq++
	s.cond.Broadcast()
	s.mu.Unlock()

	metrics.FramesPublished.Inc()
}

// Next blocks until a frame newer than last is published, the sink is
// closed, or one wake interval elapses. It returns the current frame (nil
// when none) and its sequence number. Callers must not modify the returned
// slice.
func (s *FrameSink) Next(last uint64) ([]byte, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == last && !s.closed {
		s.cond.Wait()
	}
	return s.frame, s.seq
}

// Closed reports whether the sink has been shut down. Readers holding a
// closed sink should re-acquire the current one from the controller.
func (s *FrameSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Frame returns the latest complete frame without waiting.
func (s *FrameSink) Frame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// Close drops the current frame and wakes all readers so they observe
// shutdown promptly. Safe to call more than once.
func (s *FrameSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.frame = nil
	s.cond.Broadcast()
	s.mu.Unlock()
	close(s.done)
}
