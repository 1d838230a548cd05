package camera

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gocv.io/x/gocv"
)

// GoCVBackend captures frames through OpenCV's VideoCapture.
type GoCVBackend struct{}

func (GoCVBackend) Name() string { return "gocv" }

func (GoCVBackend) Open(device string) (Feed, error) {
	cap, err := gocv.OpenVideoCapture(captureSource(device))
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", device, err)
	}
	return &gocvFeed{
		cap:  cap,
		mat:  gocv.NewMat(),
		flip: gocv.NewMat(),
	}, nil
}

// captureSource maps a device identifier onto what OpenCV expects: a numeric
// index where one can be extracted, otherwise the raw string.
func captureSource(device string) interface{} {
	if n, err := strconv.Atoi(device); err == nil {
		return n
	}
	if rest := strings.TrimPrefix(device, "/dev/video"); rest != device {
		if n, err := strconv.Atoi(rest); err == nil {
			return n
		}
	}
	return device
}

type gocvFeed struct {
	cap *gocv.VideoCapture

	l    sync.Mutex
	cfg  CaptureConfig
	mat  gocv.Mat
	flip gocv.Mat
}

func (f *gocvFeed) Configure(cfg CaptureConfig) error {
	f.l.Lock()
	defer f.l.Unlock()
	f.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	f.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	f.cap.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	f.cfg = cfg
	return nil
}

func (f *gocvFeed) Read() ([]byte, error) {
	f.l.Lock()
	defer f.l.Unlock()
	if ok := f.cap.Read(&f.mat); !ok {
		return nil, fmt.Errorf("frame read failed")
	}
	if f.mat.Empty() {
		return nil, fmt.Errorf("empty frame")
	}

	src := f.mat
	if f.cfg.HFlip || f.cfg.VFlip {
		gocv.Flip(f.mat, &f.flip, flipCode(f.cfg.HFlip, f.cfg.VFlip))
		src = f.flip
	}

	quality := f.cfg.Quality
	if quality == 0 {
		quality = 80
	}
	buf, err := gocv.IMEncodeWithParams(".jpg", src, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	defer buf.Close()
	// The buffer aliases native memory; copy before it is freed.
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// flipCode maps flip flags to OpenCV's axis convention: positive for
// horizontal, zero for vertical, negative for both.
func flipCode(h, v bool) int {
	switch {
	case h && v:
		return -1
	case h:
		return 1
	default:
		return 0
	}
}

func (f *gocvFeed) Close() error {
	f.l.Lock()
	defer f.l.Unlock()
	f.mat.Close()
	f.flip.Close()
	return f.cap.Close()
}
