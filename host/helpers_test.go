package host

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/plughost/plugin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// lineRecorder is a plugin stdin that records every line written to it.
type lineRecorder struct {
	mut    sync.Mutex
	buf    bytes.Buffer
	closed bool
	lines  chan string

	onClose func()
}

func newLineRecorder() *lineRecorder {
	return &lineRecorder{lines: make(chan string, 100)}
}

func (r *lineRecorder) Write(b []byte) (int, error) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	r.buf.Write(b)
	for {
		line, err := r.buf.ReadString('\n')
		if err != nil {
			// put back the partial line
			rest := line
			r.buf.Reset()
			r.buf.WriteString(rest)
			break
		}
		r.lines <- strings.TrimSuffix(line, "\n")
	}
	return len(b), nil
}

func (r *lineRecorder) Close() error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.closed = true
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}

func (r *lineRecorder) next(t *testing.T) string {
	t.Helper()
	select {
	case l := <-r.lines:
		return l
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a line from the host")
		return ""
	}
}

func (r *lineRecorder) requireNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case l := <-r.lines:
		t.Fatalf("unexpected line from the host: %s", l)
	case <-time.After(d):
	}
}

// fakePlugin is a plugin whose stdout is written by the test.
type fakePlugin struct {
	plugin.Plugin
	stdout *io.PipeWriter
	stdin  *lineRecorder
}

func newFakePlugin(name, stderr string) *fakePlugin {
	outR, outW := io.Pipe()
	stdin := newLineRecorder()
	// like a well-behaved plugin, exit once stdin is closed
	stdin.onClose = func() { outW.Close() }
	proc := plugin.NewProcess(nil, stdin, outR, strings.NewReader(stderr))
	return &fakePlugin{
		Plugin: plugin.New(name, "/plugins/"+name, proc),
		stdout: outW,
		stdin:  stdin,
	}
}

func (f *fakePlugin) write(t *testing.T, line string) {
	t.Helper()
	_, err := f.stdout.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

func (f *fakePlugin) crash() {
	f.stdout.Close()
}

type fakeConn struct {
	addr string

	mut  sync.Mutex
	sent []string
}

func (c *fakeConn) Address() string    { return c.addr }
func (c *fakeConn) Nickname() string   { return "bot" }
func (c *fakeConn) Username() string   { return "botuser" }
func (c *fakeConn) Channels() []string { return []string{"#chan"} }

func (c *fakeConn) SendRaw(line string) error {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.sent = append(c.sent, line)
	return nil
}

func (c *fakeConn) Sent() []string {
	c.mut.Lock()
	defer c.mut.Unlock()
	return append([]string(nil), c.sent...)
}

// startHost runs a host until the test ends.
func startHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithStderrWait(100 * time.Millisecond),
		WithShutdownTimeout(time.Second),
	}, opts...)
	h, err := New(opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("host did not shut down")
		}
	})
	return h
}

func (h *Host) hasPlugin(p plugin.Plugin) bool {
	_, ok := h.reg.Plugin(p.ID)
	return ok
}
