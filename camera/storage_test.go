package camera

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

func testStore(t *testing.T) *MediaStore {
	t.Helper()
	return &MediaStore{
		SnapshotDir:    t.TempDir(),
		VideoDir:       t.TempDir(),
		SnapshotPrefix: "snap",
		SnapshotExt:    "jpg",
		VideoPrefix:    "rec",
		VideoExt:       "mp4",
	}
}

func TestArtifactNames(t *testing.T) {
	m := testStore(t)
	at := time.Date(2026, 8, 29, 13, 45, 7, 0, time.UTC)

	snap := m.SnapshotName(1280, 720, at)
	if snap != "snap-1280x720-20260829-134507.jpg" {
		t.Errorf("unexpected snapshot name %q", snap)
	}
	video := m.VideoName(640, 480, at)
	if video != "rec-640x480-20260829-134507.mp4" {
		t.Errorf("unexpected video name %q", video)
	}
	if !regexp.MustCompile(`^rec-\d+x\d+-\d{8}-\d{6}\.mp4$`).MatchString(video) {
		t.Errorf("video name %q does not match artifact pattern", video)
	}
}

func TestListSortedAndFiltered(t *testing.T) {
	m := testStore(t)
	for _, name := range []string{"b.jpg", "a.jpg", "ignore.txt", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(m.SnapshotDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got := m.ListSnapshots()
	want := []string{"a.jpg", "b.jpg", "c.jpg"}
	if len(got) != len(want) {
		t.Fatalf("ListSnapshots = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListSnapshots = %v, want %v", got, want)
		}
	}
}

func TestClearSnapshots(t *testing.T) {
	m := testStore(t)
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if err := os.WriteFile(filepath.Join(m.SnapshotDir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	if removed := m.ClearSnapshots(); removed != 3 {
		t.Errorf("ClearSnapshots = %d, want 3", removed)
	}
	if left := m.ListSnapshots(); len(left) != 0 {
		t.Errorf("expected empty listing after clear, got %v", left)
	}
	// Clearing an already-empty directory is a no-op.
	if removed := m.ClearSnapshots(); removed != 0 {
		t.Errorf("second ClearSnapshots = %d, want 0", removed)
	}
}

func TestListMissingDirectory(t *testing.T) {
	m := &MediaStore{VideoDir: "/nonexistent/path", VideoExt: "mp4"}
	if got := m.ListVideos(); got != nil {
		t.Errorf("expected nil listing for missing dir, got %v", got)
	}
}
