package plugin

import (
	"bufio"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxLineSize is the longest line a plugin may write to stdout.
	maxLineSize = 1 << 20
	// stderrTailSize is how much of a plugin's stderr is kept for crash diagnostics.
	stderrTailSize = 64 << 10
	// outboxSize is how many lines may wait for a plugin to read its stdin.
	outboxSize = 256
)

var (
	// ErrProcessClosed is returned when writing to a process whose stdin has been closed.
	ErrProcessClosed = errors.New("plugin process stdin closed")

	// ErrOutboxFull is returned when a plugin has stopped reading stdin and its queue is full.
	// The line is dropped.
	ErrOutboxFull = errors.New("plugin outbox full")
)

// Process holds the streams of a running plugin.
// Stdout is read by exactly one reader. Lines for stdin are queued and written one at a time
// by a writer goroutine, so a plugin that stops reading never blocks its callers.
// Stderr is drained continuously in the background.
type Process struct {
	cmd *exec.Cmd

	stdin  io.WriteCloser
	stdout io.Reader

	outMut     sync.Mutex
	closed     bool
	outbox     chan []byte
	writeErr   atomic.Pointer[writeFailure]
	writerDone chan struct{}
	dropped    atomic.Int64

	stderrMut     sync.Mutex
	stderrTail    []byte
	stderrDropped int64
	stderrDone    chan struct{}

	waitOnce sync.Once
	exitCode int
	waitErr  error
}

// NewProcess wraps a set of plugin streams. cmd may be nil for plugins that are not OS processes.
func NewProcess(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.Reader) *Process {
	p := &Process{
		cmd:        cmd,
		stdin:      stdin,
		stdout:     stdout,
		outbox:     make(chan []byte, outboxSize),
		writerDone: make(chan struct{}),
		stderrDone: make(chan struct{}),
	}
	go p.writeStdin()
	if stderr == nil {
		close(p.stderrDone)
	} else {
		go p.drainStderr(stderr)
	}
	return p
}

func (p *Process) drainStderr(r io.Reader) {
	defer close(p.stderrDone)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			p.stderrMut.Lock()
			p.stderrTail = append(p.stderrTail, buf[:n]...)
			if over := len(p.stderrTail) - stderrTailSize; over > 0 {
				p.stderrTail = append(p.stderrTail[:0], p.stderrTail[over:]...)
				p.stderrDropped += int64(over)
			}
			p.stderrMut.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Lines returns a scanner over the process's stdout. It must only be used by a single goroutine.
func (p *Process) Lines() *bufio.Scanner {
	s := bufio.NewScanner(p.stdout)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	return s
}

// writeStdin writes queued lines until the outbox is closed, then closes stdin.
// Each line is a single write, so it is flushed immediately and lines never interleave.
// After a write error the remaining lines are discarded.
func (p *Process) writeStdin() {
	defer close(p.writerDone)
	for line := range p.outbox {
		if p.writeErr.Load() != nil {
			continue
		}
		if _, err := p.stdin.Write(line); err != nil {
			p.writeErr.Store(&writeFailure{err: err})
		}
	}
	if err := p.stdin.Close(); err != nil && p.writeErr.Load() == nil {
		p.writeErr.Store(&writeFailure{err: err})
	}
}

type writeFailure struct {
	err error
}

// WriteLine queues one line for the process's stdin without blocking.
// It fails with ErrOutboxFull if the process is not keeping up, and with the earlier
// write error if stdin is broken.
func (p *Process) WriteLine(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line[:len(line):len(line)], '\n')
	}
	if f := p.writeErr.Load(); f != nil {
		return f.err
	}
	p.outMut.Lock()
	defer p.outMut.Unlock()
	if p.closed {
		return ErrProcessClosed
	}
	select {
	case p.outbox <- line:
		return nil
	default:
		p.dropped.Add(1)
		return ErrOutboxFull
	}
}

// Dropped returns how many lines were dropped because the outbox was full.
func (p *Process) Dropped() int64 {
	return p.dropped.Load()
}

// CloseStdin closes the process's stdin once the lines already queued have been written.
// It does not wait for that to happen. It is safe to call more than once.
func (p *Process) CloseStdin() error {
	p.outMut.Lock()
	defer p.outMut.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.outbox)
	return nil
}

// StderrDropped returns how many bytes from the start of stderr no longer fit in the kept tail.
func (p *Process) StderrDropped() int64 {
	p.stderrMut.Lock()
	defer p.stderrMut.Unlock()
	return p.stderrDropped
}

// Stderr waits up to timeout for stderr to reach EOF, then returns whatever has been collected.
// The boolean is false if stderr was still open when the timeout expired.
func (p *Process) Stderr(timeout time.Duration) (string, bool) {
	complete := true
	select {
	case <-p.stderrDone:
	case <-time.After(timeout):
		complete = false
	}
	p.stderrMut.Lock()
	defer p.stderrMut.Unlock()
	return string(p.stderrTail), complete
}

// OSPid returns the pid the process was started with, or 0 if there is no OS process.
func (p *Process) OSPid() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Wait waits for the OS process to exit and returns its exit code.
// Callers must have finished reading stdout before calling Wait. Repeated calls return the first result.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		if p.cmd == nil {
			return
		}
		err := p.cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				p.exitCode = exitErr.ExitCode()
				return
			}
			p.exitCode, p.waitErr = -1, err
			return
		}
		p.exitCode = p.cmd.ProcessState.ExitCode()
	})
	return p.exitCode, p.waitErr
}

// Kill kills the OS process.
func (p *Process) Kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
