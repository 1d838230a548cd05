package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// MockBackend synthesizes JPEG frames in software. It stands in for the real
// capture stack in test environments and on machines without a camera.
type MockBackend struct{}

func (MockBackend) Name() string { return "mock" }

func (MockBackend) Open(device string) (Feed, error) {
	return &mockFeed{}, nil
}

type mockFeed struct {
	l      sync.Mutex
	cfg    CaptureConfig
	count  int
	closed bool
	last   time.Time
}

func (f *mockFeed) Configure(cfg CaptureConfig) error {
	f.l.Lock()
	defer f.l.Unlock()
	f.cfg = cfg
	return nil
}

// Read paces itself at the configured frame rate and returns a small
// synthetic JPEG whose tint shifts per frame.
func (f *mockFeed) Read() ([]byte, error) {
	f.l.Lock()
	cfg := f.cfg
	f.count++
	count := f.count
	closed := f.closed
	last := f.last
	f.last = time.Now()
	f.l.Unlock()

	if closed {
		return nil, ErrDeviceUnavailable
	}

	fps := cfg.FPS
	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)
	if sleep := interval - time.Since(last); sleep > 0 {
		time.Sleep(sleep)
	}

	w, h := cfg.Width, cfg.Height
	if w <= 0 || h <= 0 {
		w, h = 160, 120
	}
	// Frames are rendered at reduced size; the mock only needs to be a
	// valid JPEG, not an accurate render.
	if w > 160 {
		h = h * 160 / w
		w = 160
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: uint8(count * 8), G: uint8(count * 4), B: 0x60, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}

	quality := cfg.Quality
	if quality == 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *mockFeed) Close() error {
	f.l.Lock()
	defer f.l.Unlock()
	f.closed = true
	return nil
}
