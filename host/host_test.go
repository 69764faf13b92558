package host

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/guseggert/plughost/irc"
	"github.com/guseggert/plughost/plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestSendToKnownServer(t *testing.T) {
	h := startHost(t)
	conn := &fakeConn{addr: "irc.example.net"}
	require.NoError(t, h.AddConnection(conn))

	p := newFakePlugin("sender", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	p.write(t, `{"method":"send","params":["irc.example.net","PRIVMSG #chan :hi"],"id":7}`)
	assert.Equal(t, `{"result":"Message sent.","error":null,"id":7}`, p.stdin.next(t))
	assert.Equal(t, []string{"PRIVMSG #chan :hi"}, conn.Sent())
}

func TestSendToUnknownServer(t *testing.T) {
	h := startHost(t)
	conn := &fakeConn{addr: "irc.example.net"}
	require.NoError(t, h.AddConnection(conn))

	p := newFakePlugin("sender", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	p.write(t, `{"method":"send","params":["irc.nowhere.org","PRIVMSG #chan :hi"],"id":3}`)
	assert.Equal(t, `{"result":"error","error":"Server doesn't exist.","id":3}`, p.stdin.next(t))
	assert.Empty(t, conn.Sent())
}

func TestSendFirstMatchingConnectionWins(t *testing.T) {
	h := startHost(t)
	first := &fakeConn{addr: "irc.example.net"}
	second := &fakeConn{addr: "irc.example.net"}
	require.NoError(t, h.AddConnection(first))
	require.NoError(t, h.AddConnection(second))

	p := newFakePlugin("sender", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	p.write(t, `{"method":"send","params":["irc.example.net","QUIT"],"id":1}`)
	p.stdin.next(t)
	assert.Equal(t, []string{"QUIT"}, first.Sent())
	assert.Empty(t, second.Sent())

	require.NoError(t, h.RemoveConnection(first))
	p.write(t, `{"method":"send","params":["irc.example.net","QUIT"],"id":2}`)
	p.stdin.next(t)
	assert.Equal(t, []string{"QUIT"}, second.Sent())
}

func TestRegisterCommand(t *testing.T) {
	h := startHost(t)
	p := newFakePlugin("weather", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	p.write(t, `{"method":"cmdadd","params":["weather"],"id":2}`)
	assert.Equal(t, `{"result":"Command added.","error":null,"id":2}`, p.stdin.next(t))
	p.write(t, `{"method":"cmdadd","params":["weather"],"id":3}`)
	assert.Equal(t, `{"result":"Command added.","error":null,"id":3}`, p.stdin.next(t))

	got, ok := h.Registry().Plugin(p.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"weather", "weather"}, got.Commands)
}

func TestReportPid(t *testing.T) {
	h := startHost(t)
	p := newFakePlugin("pidder", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	p.write(t, `{"method":"pid","params":["4242"],"id":null}`)
	p.write(t, `{"method":"pid","params":["4343"],"id":null}`)
	// a later request is handled after the pids, so its reply means both were applied
	p.write(t, `{"method":"cmdadd","params":["x"],"id":1}`)
	p.stdin.next(t)

	got, ok := h.Registry().Plugin(p.ID)
	require.True(t, ok)
	require.NotNil(t, got.Pid)
	assert.Equal(t, 4343, *got.Pid)
	p.stdin.requireNone(t, 50*time.Millisecond)
}

func TestBadLinesAreIgnored(t *testing.T) {
	h := startHost(t)
	p := newFakePlugin("noisy", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	for _, line := range []string{
		"just some debug output",
		"",
		`  {"method":"cmdadd","params":["x"],"id":1}`,
		`{"method":"cmdadd"`,
		`{"method":"frobnicate","params":[],"id":1}`,
		`{"method":"send","params":["a","b"]}`,
		`{"method":"send","params":["a","b"],"id":1.5}`,
		`{"result":"ok","error":null,"id":1}`,
	} {
		p.write(t, line)
	}
	p.stdin.requireNone(t, 50*time.Millisecond)

	// the loop is still alive
	p.write(t, `{"method":"cmdadd","params":["x"],"id":9}`)
	assert.Equal(t, `{"result":"Command added.","error":null,"id":9}`, p.stdin.next(t))
	assert.True(t, h.hasPlugin(p.Plugin))
}

func TestCrashRemovesPlugin(t *testing.T) {
	h := startHost(t)
	crashy := newFakePlugin("crashy", "panic: boom\n")
	healthy := newFakePlugin("healthy", "")
	require.NoError(t, h.AddPlugin(crashy.Plugin))
	require.NoError(t, h.AddPlugin(healthy.Plugin))

	crashy.write(t, `{"method":"cmdadd","params":["weather"],"id":2}`)
	assert.Equal(t, `{"result":"Command added.","error":null,"id":2}`, crashy.stdin.next(t))
	crashy.crash()

	require.Eventually(t, func() bool { return !h.hasPlugin(crashy.Plugin) }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, h.hasPlugin(healthy.Plugin))

	n := h.Broadcast(irc.Message{Command: "PING", Params: []string{"x"}}, &fakeConn{addr: "a"})
	assert.Equal(t, 1, n)
	healthy.stdin.next(t)
	crashy.stdin.requireNone(t, 50*time.Millisecond)
}

func TestBroadcast(t *testing.T) {
	h := startHost(t)
	a := newFakePlugin("a", "")
	b := newFakePlugin("b", "")
	require.NoError(t, h.AddPlugin(a.Plugin))
	require.NoError(t, h.AddPlugin(b.Plugin))

	// a plugin whose stdin is already closed does not stop delivery to the others
	require.NoError(t, a.Process().CloseStdin())

	msg, err := irc.ParseMessage(":alice!a@host PRIVMSG #chan :hello")
	require.NoError(t, err)
	n := h.Broadcast(msg, &fakeConn{addr: "irc.example.net"})
	assert.Equal(t, 1, n)

	var got struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		ID     *int64            `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(b.stdin.next(t)), &got))
	assert.Equal(t, "recv", got.Method)
	assert.Nil(t, got.ID)
	require.Len(t, got.Params, 2)
	assert.JSONEq(t, `{"address":"irc.example.net","nickname":"bot","username":"botuser","chans":["#chan"]}`, string(got.Params[1]))

	var event irc.Message
	require.NoError(t, json.Unmarshal(got.Params[0], &event))
	assert.Equal(t, msg, event)
}

func TestHandleMessageRoutesCommands(t *testing.T) {
	h := startHost(t)
	p := newFakePlugin("weather", "")
	require.NoError(t, h.AddPlugin(p.Plugin))
	p.write(t, `{"method":"cmdadd","params":["weather"],"id":1}`)
	p.stdin.next(t)

	conn := &fakeConn{addr: "irc.example.net"}

	cases := []struct {
		name         string
		line         string
		expCmd       bool
		expPrefix    string
		expRemainder string
	}{
		{
			name:         "registered command",
			line:         ":alice!a@host PRIVMSG #chan :!weather  london uk ",
			expCmd:       true,
			expPrefix:    "!weather",
			expRemainder: "london uk",
		},
		{
			name:      "registered command without args",
			line:      ":alice!a@host PRIVMSG #chan :!weather",
			expCmd:    true,
			expPrefix: "!weather",
		},
		{
			name: "unregistered command",
			line: ":alice!a@host PRIVMSG #chan :!karma alice",
		},
		{
			name: "no prefix",
			line: ":alice!a@host PRIVMSG #chan :weather london",
		},
		{
			name: "bare prefix",
			line: ":alice!a@host PRIVMSG #chan :! weather",
		},
		{
			name: "not a privmsg",
			line: ":alice!a@host NOTICE #chan :!weather london",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			msg, err := irc.ParseMessage(c.line)
			require.NoError(t, err)
			h.HandleMessage(conn, msg)

			var recv struct {
				Method string `json:"method"`
			}
			require.NoError(t, json.Unmarshal([]byte(p.stdin.next(t)), &recv))
			assert.Equal(t, "recv", recv.Method)

			if !c.expCmd {
				p.stdin.requireNone(t, 20*time.Millisecond)
				return
			}
			var cmd struct {
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			require.NoError(t, json.Unmarshal([]byte(p.stdin.next(t)), &cmd))
			assert.Equal(t, "cmd", cmd.Method)
			require.Len(t, cmd.Params, 4)
			assert.JSONEq(t, `"`+c.expPrefix+`"`, string(cmd.Params[2]))
			assert.JSONEq(t, `"`+c.expRemainder+`"`, string(cmd.Params[3]))
		})
	}
}

func TestShutdownSendsQuit(t *testing.T) {
	h, err := New(WithStderrWait(100*time.Millisecond), WithShutdownTimeout(time.Second))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	p := newFakePlugin("a", "")
	require.NoError(t, h.AddPlugin(p.Plugin))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("host did not shut down")
	}
	assert.Equal(t, `{"method":"quit","params":[],"id":null}`, p.stdin.next(t))
	assert.Empty(t, h.Registry().Plugins())

	assert.ErrorIs(t, h.AddPlugin(newFakePlugin("late", "").Plugin), ErrStopped)
	assert.Error(t, h.Run(ctx))
}

func TestBroadcastSkipsPluginThatStopsReading(t *testing.T) {
	h := startHost(t)

	// a plugin that never reads its stdin
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() {
		stdinR.Close()
		stdoutW.Close()
	})
	stuck := plugin.New("stuck", "/plugins/stuck", plugin.NewProcess(nil, stdinW, stdoutR, nil))
	healthy := newFakePlugin("healthy", "")
	require.NoError(t, h.AddPlugin(stuck))
	require.NoError(t, h.AddPlugin(healthy.Plugin))

	conn := &fakeConn{addr: "irc.example.net"}
	done := make(chan int, 1)
	go func() {
		n := 0
		for i := 0; i < 300; i++ {
			n = h.Broadcast("event", conn)
		}
		done <- n
	}()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a plugin that is not reading")
	}
	for i := 0; i < 300; i++ {
		assert.Contains(t, healthy.stdin.next(t), `"method":"recv"`)
	}
	assert.Greater(t, stuck.Process().Dropped(), int64(0))
}

func TestCallsBeforeRunWaitForRun(t *testing.T) {
	h, err := New(WithLogger(zaptest.NewLogger(t)), WithShutdownTimeout(time.Second))
	require.NoError(t, err)

	added := make(chan error, 1)
	go func() { added <- h.AddConnection(&fakeConn{addr: "irc.example.net"}) }()
	select {
	case err := <-added:
		t.Fatalf("AddConnection returned before Run started: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AddConnection did not complete once Run started")
	}
	_, ok := h.Registry().FindConnection("irc.example.net")
	assert.True(t, ok)

	cancel()
	require.NoError(t, <-runErr)
}

func TestNewUsesGivenLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h, err := New(WithLogger(zap.New(core)))
	require.NoError(t, err)

	p := newFakePlugin("closed", "")
	require.NoError(t, p.Process().CloseStdin())
	h.Registry().AddPlugin(p.Plugin)

	assert.Equal(t, 0, h.Broadcast("event", &fakeConn{addr: "a"}))
	entries := logs.FilterMessage("error delivering to plugin").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "host", entries[0].LoggerName)
}

func TestStderrReport(t *testing.T) {
	assert.Equal(t, "boom\n", stderrReport("boom\n", 0))
	assert.Equal(t, "[4096 earlier bytes of stderr truncated]\nboom\n", stderrReport("boom\n", 4096))
}
