package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pillash/mp4util"
	log "github.com/sirupsen/logrus"
)

// NameTimeLayout defines the timestamp portion of artifact filenames.
const NameTimeLayout = "20060102-150405"

// MediaStore names, lists, and clears the snapshot and video artifacts on
// disk. Artifacts are immutable once written.
type MediaStore struct {
	SnapshotDir string
	VideoDir    string

	SnapshotPrefix string
	SnapshotExt    string
	VideoPrefix    string
	VideoExt       string
}

// SnapshotName builds `<prefix>-<W>x<H>-<timestamp>.<ext>`.
func (m *MediaStore) SnapshotName(width, height int, t time.Time) string {
	return fmt.Sprintf("%s-%dx%d-%s.%s", m.SnapshotPrefix, width, height, t.Format(NameTimeLayout), m.SnapshotExt)
}

// VideoName builds `<prefix>-<W>x<H>-<timestamp>.<ext>`.
func (m *MediaStore) VideoName(width, height int, t time.Time) string {
	return fmt.Sprintf("%s-%dx%d-%s.%s", m.VideoPrefix, width, height, t.Format(NameTimeLayout), m.VideoExt)
}

func (m *MediaStore) SnapshotPath(name string) string {
	return filepath.Join(m.SnapshotDir, name)
}

func (m *MediaStore) VideoPath(name string) string {
	return filepath.Join(m.VideoDir, name)
}

// ListSnapshots returns snapshot filenames sorted alphabetically.
func (m *MediaStore) ListSnapshots() []string {
	return listByExt(m.SnapshotDir, m.SnapshotExt)
}

// ListVideos returns recorded video filenames sorted alphabetically.
func (m *MediaStore) ListVideos() []string {
	return listByExt(m.VideoDir, m.VideoExt)
}

// VideoDurationSec extracts the duration of a recorded mp4. Returns 0 when
// the duration cannot be determined (e.g. the file is still being written).
func (m *MediaStore) VideoDurationSec(name string) int {
	d, err := mp4util.Duration(m.VideoPath(name))
	if err != nil {
		return 0
	}
	return d
}

// ClearSnapshots removes all snapshot files and returns how many were
// deleted. Individual failures are logged, not fatal.
func (m *MediaStore) ClearSnapshots() int {
	return clearByExt(m.SnapshotDir, m.SnapshotExt)
}

// ClearVideos removes all recorded videos and returns how many were deleted.
func (m *MediaStore) ClearVideos() int {
	return clearByExt(m.VideoDir, m.VideoExt)
}

func listByExt(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	suffix := "." + ext
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func clearByExt(dir, ext string) int {
	removed := 0
	for _, name := range listByExt(dir, ext) {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Errorf("Failed to remove %v: %v", name, err)
			continue
		}
		removed++
	}
	return removed
}
