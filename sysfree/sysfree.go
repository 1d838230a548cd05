// Package sysfree frees the camera device nodes from a competing desktop
// media service (PipeWire) and restores it afterwards.
package sysfree

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"picam/camera"
)

var (
	pipewireServices = []string{"pipewire", "pipewire-pulse", "wireplumber"}
	pipewireSockets  = []string{"pipewire.socket", "pipewire-pulse.socket"}

	// DefaultDevices are the nodes a competing service typically holds.
	DefaultDevices = []string{"/dev/media0", "/dev/video0"}
)

// Resolver implements best-effort eviction of processes holding the camera
// device nodes. All failures short of a still-busy device are non-fatal.
type Resolver struct {
	ManagePipeWire bool
	Devices        []string

	// Log, when set, receives operator-facing progress lines (the
	// controller's ring log).
	Log func(format string, args ...interface{})
}

func New(managePipeWire bool, devices []string) *Resolver {
	if len(devices) == 0 {
		devices = DefaultDevices
	}
	return &Resolver{
		ManagePipeWire: managePipeWire,
		Devices:        devices,
	}
}

func (r *Resolver) logf(format string, args ...interface{}) {
	log.Infof(format, args...)
	if r.Log != nil {
		r.Log(format, args...)
	}
}

func run(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Free stops the PipeWire stack when managed, then terminates any remaining
// holders of the device nodes, gracefully first and forcefully after a grace
// period. Returns ErrDeviceBusy when holders survive.
func (r *Resolver) Free() error {
	if r.ManagePipeWire {
		r.stopPipeWire()
	}
	if holders := r.pidsHoldingDevices(); len(holders) > 0 {
		r.killPIDs(holders)
	}
	if remaining := r.pidsHoldingDevices(); len(remaining) > 0 {
		r.logf("camera still busy: %v", remaining)
		return fmt.Errorf("processes %v still hold %v: %w", remaining, r.Devices, camera.ErrDeviceBusy)
	}
	return nil
}

// Restore restarts the previously stopped desktop services.
func (r *Resolver) Restore() error {
	if !r.ManagePipeWire {
		return nil
	}
	r.logf("starting PipeWire stack")
	for _, sock := range pipewireSockets {
		run("systemctl", "--user", "start", sock)
	}
	for _, svc := range pipewireServices {
		if err := run("systemctl", "--user", "start", svc); err != nil {
			log.Warnf("Failed to start %v: %v", svc, err)
		}
	}
	return nil
}

func (r *Resolver) stopPipeWire() {
	r.logf("stopping PipeWire stack")
	for _, svc := range pipewireServices {
		run("systemctl", "--user", "stop", svc)
	}
	for _, sock := range pipewireSockets {
		run("systemctl", "--user", "stop", sock)
	}
	run("pkill", "-f", "^pipewire( |$)")
	run("pkill", "-f", "^wireplumber( |$)")
}

// pidsHoldingDevices enumerates processes with the device nodes open.
func (r *Resolver) pidsHoldingDevices() []int {
	seen := make(map[int]bool)
	for _, device := range r.Devices {
		if _, err := os.Stat(device); err != nil {
			continue
		}
		out, err := exec.Command("lsof", device).Output()
		if err != nil {
			// lsof exits non-zero when nothing holds the device.
			continue
		}
		for _, pid := range parseLsofPIDs(string(out)) {
			seen[pid] = true
		}
	}
	pids := make([]int, 0, len(seen))
	for pid := range seen {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	if len(pids) > 0 {
		r.logf("processes holding camera devices: %v", pids)
	}
	return pids
}

// parseLsofPIDs extracts PIDs from lsof's tabular output.
func parseLsofPIDs(out string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}

// killPIDs signals our own processes holding the device, SIGTERM first and
// SIGKILL after a grace period.
func (r *Resolver) killPIDs(pids []int) {
	uid := os.Getuid()
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL} {
		for _, pid := range pids {
			var st syscall.Stat_t
			if err := syscall.Stat(fmt.Sprintf("/proc/%d", pid), &st); err != nil {
				continue // already gone
			}
			if int(st.Uid) != uid {
				r.logf("cannot signal pid %d: not owner", pid)
				continue
			}
			if err := syscall.Kill(pid, sig); err == nil {
				r.logf("sent %v to pid %d", sig, pid)
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
}
