package manager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jarvishq/mcp-bridge/internal/testutil"
)

func TestPIDTracker_AddAndRemove(t *testing.T) {
	testutil.SetupTestHome(t)

	pt, err := NewPIDTracker()
	if err != nil {
		t.Fatalf("NewPIDTracker failed: %v", err)
	}

	if err := pt.Add("alpha", 12345); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Verify it was saved
	pt2, err := NewPIDTracker()
	if err != nil {
		t.Fatalf("NewPIDTracker (reload) failed: %v", err)
	}
	if pid, ok := pt2.pids["alpha"]; !ok || pid != 12345 {
		t.Fatalf("expected alpha tracked as 12345, got %d (ok=%v)", pid, ok)
	}

	if err := pt.Remove("alpha"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Verify removal was saved
	pt3, err := NewPIDTracker()
	if err != nil {
		t.Fatalf("NewPIDTracker (reload after remove) failed: %v", err)
	}
	if _, ok := pt3.pids["alpha"]; ok {
		t.Error("expected alpha to be removed")
	}
}

func TestPIDTracker_CleanupOrphans_ProcessGone(t *testing.T) {
	pt := newPIDTrackerAt(filepath.Join(t.TempDir(), "pids.json"))

	// A PID that almost certainly doesn't exist
	pt.pids["gone-server"] = 999999

	killed := pt.CleanupOrphans()

	// Should not have killed anything (process doesn't exist)
	if killed != 0 {
		t.Errorf("expected 0 killed, got %d", killed)
	}
	if _, ok := pt.pids["gone-server"]; ok {
		t.Error("expected gone-server to be removed from tracking")
	}
}

func TestPIDTracker_LoadCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pids.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	pt := newPIDTrackerAt(path)
	if len(pt.pids) != 0 {
		t.Errorf("expected empty tracker after corrupt file, got %v", pt.pids)
	}

	// Must still be usable
	if err := pt.Add("alpha", 42); err != nil {
		t.Fatalf("Add after corrupt load failed: %v", err)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("expected current process to be reported running")
	}
	if isProcessRunning(999999) {
		t.Error("expected bogus PID to be reported not running")
	}
}
