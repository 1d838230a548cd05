package camera

import (
	"fmt"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"
)

// FFmpegOptions configures the video encoder attached for recording.
type FFmpegOptions struct {
	FPS     int
	Bitrate int // bits per second
}

// FFmpegSink pipes JPEG frames into an ffmpeg child process that writes an
// H.264 mp4 file. Frames are handed off through a buffered channel so a slow
// encoder drops frames instead of stalling the capture pump.
type FFmpegSink struct {
	path  string
	b     chan []byte
	close chan chan error
}

// LocateFFmpeg finds the ffmpeg binary, honoring the FFMPEG environment
// variable over $PATH.
func LocateFFmpeg() (string, error) {
	if p := os.Getenv("FFMPEG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("FFMPEG=%v: %w", p, err)
		}
		return p, nil
	}
	return exec.LookPath("ffmpeg")
}

func NewFFmpegSink(path string, opts FFmpegOptions) (*FFmpegSink, error) {
	bin, err := LocateFFmpeg()
	if err != nil {
		return nil, fmt.Errorf("locate ffmpeg: %w", err)
	}

	f := &FFmpegSink{
		path:  path,
		b:     make(chan []byte, 64),
		close: make(chan chan error, 1),
	}

	c := exec.Command(
		bin,
		// Read an MJPEG stream from stdin.
		"-f", "mjpeg",
		"-framerate", fmt.Sprintf("%d", opts.FPS),
		"-i", "-",
		// Encode h264 at the requested bitrate. "preset" can be lowered
		// if the system is too slow to keep up.
		"-c:v", "libx264",
		"-preset", "superfast",
		"-b:v", fmt.Sprintf("%d", opts.Bitrate),
		// Enable fast-start so videos can be viewed in the browser
		// without a full download.
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-y",
		path,
	)

	pipe, err := c.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	log.WithField("path", path).Infof("Recording via ffmpeg pid %d", c.Process.Pid)

	go func() {
		var closer chan error
	loop:
		for {
			select {
			case closer = <-f.close:
				pipe.Close()
				break loop
			case b := <-f.b:
				if _, err := pipe.Write(b); err != nil {
					log.Errorf("Error writing frame to ffmpeg: %v", err)
					pipe.Close()
					closer = <-f.close
					break loop
				}
			}
		}
		err := c.Wait()
		if err != nil {
			log.Errorf("ffmpeg exited with %v", err)
		} else {
			log.WithField("path", path).Info("Recording finalized")
		}
		closer <- err
	}()
	return f, nil
}

// Put implements the session sink contract. Frames are dropped when the
// encoder falls behind.
func (f *FFmpegSink) Put(frame []byte) {
	select {
	case f.b <- frame:
	default:
		log.Debug("Recording encoder behind; frame dropped")
	}
}

// Close flushes and waits for the ffmpeg process to finalize the file.
func (f *FFmpegSink) Close() {
	c := make(chan error, 1)
	f.close <- c
	<-c
}
