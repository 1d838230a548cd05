// Package metrics exposes Prometheus collectors for the camera service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_frames_published_total",
		Help: "Complete JPEG frames published to stream readers.",
	})

	BytesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_stream_bytes_total",
		Help: "Bytes written to MJPEG stream clients.",
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "picam_stream_clients",
		Help: "Currently connected MJPEG stream clients.",
	})

	SnapshotsTaken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_snapshots_total",
		Help: "Snapshots captured.",
	})

	RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_recordings_started_total",
		Help: "Video recordings started.",
	})

	DeviceOpens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_device_opens_total",
		Help: "Times the capture device was opened.",
	})

	CaptureErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "picam_capture_errors_total",
		Help: "Frame read failures from the capture device.",
	})
)
