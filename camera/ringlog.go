package camera

import (
	"fmt"
	"sync"
	"time"
)

// RingLog is a bounded, timestamped audit trail for operator feedback.
// Oldest entries are evicted once the buffer exceeds its capacity.
type RingLog struct {
	size int

	l   sync.Mutex
	buf []string
}

func NewRingLog(size int) *RingLog {
	if size <= 0 {
		size = 200
	}
	return &RingLog{size: size}
}

// Add appends a timestamped line, trimming the oldest entries past capacity.
func (r *RingLog) Add(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", time.Now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	r.l.Lock()
	defer r.l.Unlock()
	r.buf = append(r.buf, line)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
}

// Lines returns an independent copy so a concurrent Add cannot corrupt an
// in-flight read.
func (r *RingLog) Lines() []string {
	r.l.Lock()
	defer r.l.Unlock()
	out := make([]string, len(r.buf))
	copy(out, r.buf)
	return out
}
