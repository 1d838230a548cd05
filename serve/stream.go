package serve

import (
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"picam/camera"
	"picam/metrics"
)

// handleStream serves the live preview as multipart/x-mixed-replace. Each
// complete frame is written as one multipart segment. The reader never
// raises mid-stream; it terminates cleanly once the pipeline is no longer
// running.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Connecting a viewer starts the pipeline when it isn't running yet.
	if err := s.C.StartStream(); err != nil {
		writeError(w, err)
		return
	}
	sink, ok := s.C.StreamSink()
	if !ok {
		writeError(w, fmt.Errorf("no stream available: %w", camera.ErrOperationFailed))
		return
	}

	boundary := s.C.MJPEGBoundary()
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, private, no-transform")
	w.Header().Set("Pragma", "no-cache")

	flusher, _ := w.(http.Flusher)

	clog := log.WithField("addr", r.RemoteAddr)
	clog.Info("MJPEG stream connected")
	metrics.StreamClients.Inc()
	defer func() {
		metrics.StreamClients.Dec()
		clog.Info("MJPEG stream disconnected")
	}()

	var seq uint64
	for {
		frame, nseq := sink.Next(seq)
		if !s.C.Running() {
			return
		}
		if sink.Closed() {
			// The pipeline was restarted (reconfigure/flip); pick up
			// the fresh sink so the client survives the transition.
			sink, ok = s.C.StreamSink()
			if !ok {
				return
			}
			seq = 0
			continue
		}
		if frame == nil || nseq == seq {
			seq = nseq
			continue
		}
		seq = nseq

		header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(frame))
		if _, err := w.Write([]byte(header)); err != nil {
			return
		}
		if _, err := w.Write(frame); err != nil {
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		metrics.BytesStreamed.Add(float64(len(header) + len(frame) + 2))
	}
}
