package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	log "github.com/sirupsen/logrus"

	"picam/camera"
	"picam/config"
	"picam/serve"
	"picam/sysfree"
)

var (
	host          = flag.String("host", "", "Listen address, overrides PICAM_HOST.")
	port          = flag.Int("port", 0, "Listen port, overrides PICAM_PORT.")
	override      = flag.String("override", "", "Path to a JSON override file watched for live config changes.")
	debug         = flag.Bool("debug", false, "Enable debug logging.")
	freeCamera    = flag.Bool("free-camera", false, "Evict camera device holders and exit.")
	resumeDesktop = flag.Bool("resume-desktop", false, "Restore desktop media services and exit.")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\nCamera pipeline controller. Configuration comes from PICAM_* environment\nvariables; flags override.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *host != "" {
		settings.Host = *host
	}
	if *port != 0 {
		settings.Port = *port
	}
	log.Debugf("Settings: %v", spew.Sdump(settings))

	resolver := sysfree.New(settings.ManagePipeWire, []string{settings.Device})

	// One-shot maintenance commands run without starting the service.
	if *freeCamera {
		if err := resolver.Free(); err != nil {
			log.Fatalf("Failed to free camera: %v", err)
		}
		log.Info("Camera device freed")
		return
	}
	if *resumeDesktop {
		if err := resolver.Restore(); err != nil {
			log.Fatalf("Failed to restore desktop services: %v", err)
		}
		log.Info("Desktop media services restored")
		return
	}

	if err := settings.EnsureDirectories(); err != nil {
		log.Fatalf("Failed to create storage directories: %v", err)
	}

	if settings.EnableRecording {
		ffmpegp, err := camera.LocateFFmpeg()
		if err != nil {
			log.Fatal("Unable to locate ffmpeg binary; ensure it is in $PATH or set FFMPEG")
		}
		log.Infof("Located ffmpeg binary, %v", ffmpegp)
	}

	var backend camera.Backend
	switch settings.Driver {
	case "mock":
		backend = camera.MockBackend{}
	case "gocv":
		backend = camera.GoCVBackend{}
	default:
		log.Fatalf("Unknown capture driver %q", settings.Driver)
	}

	// Fail fast when the port is already taken rather than after the
	// camera has been claimed.
	probe, err := net.Listen("tcp", settings.Address())
	if err != nil {
		log.Fatalf("Address %s unavailable: %v", settings.Address(), err)
	}
	probe.Close()

	c := camera.NewController(settings, backend, resolver)
	resolver.Log = c.Logf

	if err := c.Initialize(); err != nil {
		log.Fatalf("Failed to initialize camera: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *override != "" {
		go func() {
			if err := config.Watch(ctx, *override, c); err != nil && ctx.Err() == nil {
				log.Errorf("Override watcher stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:    settings.Address(),
		Handler: serve.New(c, settings).Routes(),
	}
	go func() {
		log.Infof("Hosting web frontend on %s", settings.Address())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Caught signal %v, shutting down", sig)

	cancel()
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warnf("Server shutdown: %v", err)
	}
	c.Shutdown()
}
