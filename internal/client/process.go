package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jarvishq/mcp-bridge/internal/events"
)

// gracefulShutdownTimeout is how long to wait for SIGTERM before SIGKILL.
const gracefulShutdownTimeout = 5 * time.Second

// maxLogLines bounds the retained stderr history per process.
const maxLogLines = 1000

// proc owns one spawned child process and its pipes. Only the Client that
// spawned a process may signal it.
type proc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	done    chan struct{} // closed when the process exits
	exitErr error         // valid after done is closed

	logs   []string
	logsMu sync.RWMutex
}

// spawn starts the configured command with stdio pipes and a drained stderr.
// Stderr lines are retained in a bounded ring and published to the bus.
func spawn(name, command string, args []string, cwd string, env map[string]string, bus *events.Bus) (*proc, error) {
	cmd := exec.Command(command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	cmd.Env = buildEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	p := &proc{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
	}

	go p.readStderr(name, stderr, bus)
	go p.watch()

	return p, nil
}

// pid returns the process ID, or 0 if the process never started.
func (p *proc) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// exited reports whether the process has exited, without blocking.
func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// terminate signals the process to exit and waits for it, escalating from
// SIGTERM to SIGKILL after a grace period. It does not return until the
// process has been reaped.
func (p *proc) terminate() {
	// Closing stdin gives well-behaved servers an EOF to exit on.
	_ = p.stdin.Close()

	if p.cmd.Process == nil {
		return
	}

	select {
	case <-p.done:
		return
	default:
	}

	_ = p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(gracefulShutdownTimeout):
		_ = p.cmd.Process.Signal(syscall.SIGKILL)
		<-p.done
	}
}

// watch reaps the process and records its exit status.
func (p *proc) watch() {
	err := p.cmd.Wait()
	p.exitErr = err
	close(p.done)
}

// exitStatus describes how the process ended, for diagnostics.
func (p *proc) exitStatus() string {
	if p.cmd.ProcessState == nil {
		return "unknown"
	}
	if ws, ok := p.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return "signal: " + ws.Signal().String()
	}
	return fmt.Sprintf("exit code %d", p.cmd.ProcessState.ExitCode())
}

// readStderr drains stderr into the log ring and the event bus.
func (p *proc) readStderr(name string, stderr io.ReadCloser, bus *events.Bus) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		p.logsMu.Lock()
		p.logs = append(p.logs, line)
		if len(p.logs) > maxLogLines {
			p.logs = p.logs[len(p.logs)-maxLogLines:]
		}
		p.logsMu.Unlock()

		if bus != nil {
			bus.Publish(events.NewLogReceived(name, line))
		}
	}
}

// logLines returns a copy of the retained stderr history.
func (p *proc) logLines() []string {
	p.logsMu.RLock()
	defer p.logsMu.RUnlock()
	logs := make([]string, len(p.logs))
	copy(logs, p.logs)
	return logs
}

// buildEnv creates the environment for a subprocess with PATH augmentation.
func buildEnv(customEnv map[string]string) []string {
	// Start with current environment
	env := os.Environ()

	// Augment PATH with common binary locations
	pathDirs := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}

	// Find and update PATH
	for i, e := range env {
		if strings.HasPrefix(e, "PATH=") {
			currentPath := strings.TrimPrefix(e, "PATH=")
			newPath := strings.Join(pathDirs, ":") + ":" + currentPath
			env[i] = "PATH=" + newPath
			break
		}
	}

	// Add custom environment variables
	for k, v := range customEnv {
		found := false
		prefix := k + "="
		for i, e := range env {
			if strings.HasPrefix(e, prefix) {
				env[i] = k + "=" + v
				found = true
				break
			}
		}
		if !found {
			env = append(env, k+"="+v)
		}
	}

	return env
}
