package manager

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

const pidsFile = "pids.json"

// PIDTracker records child PIDs on disk so a new run can detect and clean
// up processes orphaned by an earlier crash.
type PIDTracker struct {
	mu   sync.Mutex
	path string
	pids map[string]int // connection name -> PID
}

// NewPIDTracker creates a PID tracker backed by the default state file.
func NewPIDTracker() (*PIDTracker, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return newPIDTrackerAt(filepath.Join(home, ".config", "mcp-bridge", pidsFile)), nil
}

func newPIDTrackerAt(path string) *PIDTracker {
	pt := &PIDTracker{
		path: path,
		pids: make(map[string]int),
	}
	pt.load()
	return pt
}

// load reads PIDs from the tracking file.
func (pt *PIDTracker) load() {
	data, err := os.ReadFile(pt.path)
	if err != nil {
		// File doesn't exist or can't be read, start fresh
		return
	}
	if err := json.Unmarshal(data, &pt.pids); err != nil {
		log.Printf("Failed to parse PID file: %v", err)
		pt.pids = make(map[string]int)
	}
}

// save writes PIDs to the tracking file. Caller holds pt.mu.
func (pt *PIDTracker) save() error {
	dir := filepath.Dir(pt.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(pt.pids, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(pt.path, data, 0600)
}

// Add tracks a new PID for a connection.
func (pt *PIDTracker) Add(conn string, pid int) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.pids[conn] = pid
	return pt.save()
}

// Remove stops tracking a connection's PID.
func (pt *PIDTracker) Remove(conn string) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.pids, conn)
	return pt.save()
}

// CleanupOrphans terminates any still-running processes left over from a
// previous run. Returns the number of orphans killed.
func (pt *PIDTracker) CleanupOrphans() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	killed := 0
	for conn, pid := range pt.pids {
		if isProcessRunning(pid) {
			log.Printf("Found orphan process: connection=%s pid=%d, terminating", conn, pid)
			if err := killProcess(pid); err != nil {
				log.Printf("Failed to kill orphan pid=%d: %v", pid, err)
			} else {
				killed++
			}
		}
		delete(pt.pids, conn)
	}

	if err := pt.save(); err != nil {
		log.Printf("Failed to save PID file after cleanup: %v", err)
	}
	return killed
}

// isProcessRunning checks if a process with the given PID exists.
func isProcessRunning(pid int) bool {
	// Signal 0 doesn't send a signal but checks if the process exists
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// killProcess sends SIGTERM. The orphan is not waited on; the OS reaps it.
func killProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		// Process might already be gone
		return nil
	}
	return nil
}
