package config

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Applier receives override updates from the watched file. Unset override
// fields are merged against the applier's current values, so a partial file
// never reverts changes made through other surfaces. The camera controller
// satisfies this interface.
type Applier interface {
	ApplyConfig(width, height, fps, quality int) error
	UpdateFlip(hflip, vflip bool) error
	Config() (width, height, fps, quality int)
	Flips() (hflip, vflip bool)
}

// Overrides is the shape of the optional hot-reload file. Zero geometry
// fields fall back to the values supplied as defaults when applying.
type Overrides struct {
	Width   int   `json:"width"`
	Height  int   `json:"height"`
	FPS     int   `json:"fps"`
	Quality int   `json:"quality"`
	HFlip   *bool `json:"hflip"`
	VFlip   *bool `json:"vflip"`
}

func overridesFromFile(path string) (*Overrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var o Overrides
	if err := json.NewDecoder(f).Decode(&o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Overrides) apply(a Applier) {
	cw, ch, cfps, cq := a.Config()
	w, h, fps, q := o.Width, o.Height, o.FPS, o.Quality
	if w == 0 {
		w = cw
	}
	if h == 0 {
		h = ch
	}
	if fps == 0 {
		fps = cfps
	}
	if q == 0 {
		q = cq
	}
	if err := a.ApplyConfig(w, h, fps, q); err != nil {
		log.Errorf("Failed to apply config overrides: %v", err)
	}
	if o.HFlip != nil || o.VFlip != nil {
		hf, vf := a.Flips()
		if o.HFlip != nil {
			hf = *o.HFlip
		}
		if o.VFlip != nil {
			vf = *o.VFlip
		}
		if err := a.UpdateFlip(hf, vf); err != nil {
			log.Errorf("Failed to apply flip overrides: %v", err)
		}
	}
}

func waitForChange(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-watcher.Events:
	}
	// Editors often write in several events; settle briefly.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second / 10):
	}
	return ctx.Err()
}

// Watch applies the override file immediately and then re-applies it each
// time it changes on disk. Blocks until the context is cancelled.
func Watch(ctx context.Context, path string, a Applier) error {
	o, err := overridesFromFile(path)
	if err != nil {
		return err
	}
	o.apply(a)
	for ctx.Err() == nil {
		if err := waitForChange(ctx, path); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorf("Error waiting for override change: %v", err)
			time.Sleep(time.Second)
			continue
		}
		o, err := overridesFromFile(path)
		if err != nil {
			log.Errorf("Failed to load overrides: %v", err)
			continue
		}
		log.Infof("Applying configuration overrides from %v", path)
		o.apply(a)
	}
	return nil
}
