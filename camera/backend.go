package camera

// CaptureConfig is the declarative device configuration built from the
// controller's current geometry and transform.
type CaptureConfig struct {
	Width   int
	Height  int
	FPS     int
	Quality int
	HFlip   bool
	VFlip   bool
}

// Feed is an open, exclusively-owned handle to the capture hardware
// delivering complete JPEG frames. A Feed is invalid after Close and must be
// reopened through the Backend, never reused.
type Feed interface {
	// Configure applies the capture configuration. It does not start any
	// pipeline and is safe to call repeatedly before frames are read.
	Configure(cfg CaptureConfig) error

	// Read blocks until the next frame is available and returns it as one
	// complete JPEG.
	Read() ([]byte, error)

	Close() error
}

// Backend abstracts the capture stack so a synthetic implementation can
// stand in where the hardware library is unavailable.
type Backend interface {
	Name() string
	Open(device string) (Feed, error)
}

// Sink consumes encoded frames fanned out by the device session. Frames
// passed to Put must not be modified.
type Sink interface {
	Put(frame []byte)
	Close()
}
