package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/protocol"
	"github.com/guseggert/plughost/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Host struct {
	log      *zap.SugaredLogger
	reg      *registry.Registry
	launcher *plugin.Launcher

	commandPrefix   string
	stderrWait      time.Duration
	shutdownTimeout time.Duration

	ops      chan op
	stopping chan struct{}
	stopped  chan struct{}
	runOnce  sync.Once
	loops    sync.WaitGroup
}

// op is a registry write, applied by the owner goroutine.
type op struct {
	apply func()
	done  chan struct{}
}

type Option func(h *Host)

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.log = l.Named("host").Sugar()
	}
}

// WithRegistry shares a registry with other components, such as the admin server.
func WithRegistry(r *registry.Registry) Option {
	return func(h *Host) {
		h.reg = r
	}
}

// WithLauncher makes Run start every plugin the launcher discovers.
func WithLauncher(l *plugin.Launcher) Option {
	return func(h *Host) {
		h.launcher = l
	}
}

// WithCommandPrefix sets the prefix that marks a chat message as a command, "!" by default.
// An empty prefix disables command routing.
func WithCommandPrefix(p string) Option {
	return func(h *Host) {
		h.commandPrefix = p
	}
}

// WithStderrWait bounds how long a read loop waits for a dead plugin's stderr to close.
func WithStderrWait(d time.Duration) Option {
	return func(h *Host) {
		h.stderrWait = d
	}
}

// WithShutdownTimeout bounds how long plugins get to exit after being told to quit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(h *Host) {
		h.shutdownTimeout = d
	}
}

// New builds a host. Without WithLogger it logs with zap's production config.
func New(opts ...Option) (*Host, error) {
	h := &Host{
		reg:             registry.New(),
		commandPrefix:   "!",
		stderrWait:      2 * time.Second,
		shutdownTimeout: 5 * time.Second,
		ops:             make(chan op),
		stopping:        make(chan struct{}),
		stopped:         make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	if h.log == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
		h.log = logger.Named("host").Sugar()
	}
	return h, nil
}

func (h *Host) Registry() *registry.Registry {
	return h.reg
}

// Run launches the plugins and then applies registry writes until ctx is done,
// at which point it tells every plugin to quit and waits for them to exit.
// Run may only be called once.
func (h *Host) Run(ctx context.Context) error {
	err := errors.New("host already ran")
	h.runOnce.Do(func() { err = h.run(ctx) })
	return err
}

func (h *Host) run(ctx context.Context) error {
	defer close(h.stopped)

	if h.launcher != nil {
		plugins, err := h.launcher.Launch()
		if err != nil {
			if !errors.Is(err, plugin.ErrSpawnFailure) {
				close(h.stopping)
				return fmt.Errorf("launching plugins: %w", err)
			}
			h.log.Warnw("some plugins failed to start", "Error", err)
		}
		for _, p := range plugins {
			h.startPlugin(p)
		}
	}

	for {
		select {
		case o := <-h.ops:
			o.apply()
			close(o.done)
		case <-ctx.Done():
			h.shutdown()
			return nil
		}
	}
}

// do hands f to the owner goroutine and waits for it to be applied.
// Before Run has started it blocks until Run starts; after Run has returned it fails with ErrStopped.
func (h *Host) do(f func()) error {
	o := op{apply: f, done: make(chan struct{})}
	select {
	case h.ops <- o:
	case <-h.stopped:
		return ErrStopped
	}
	<-o.done
	return nil
}

// startPlugin registers p and starts its read loop. It must run on the owner goroutine.
func (h *Host) startPlugin(p plugin.Plugin) {
	h.reg.AddPlugin(p)
	h.loops.Add(1)
	go h.readLoop(p)
}

// AddPlugin registers an already running plugin and starts its read loop.
// Like AddConnection and RemoveConnection, it blocks until Run is running.
func (h *Host) AddPlugin(p plugin.Plugin) error {
	return h.do(func() { h.startPlugin(p) })
}

func (h *Host) AddConnection(c registry.Conn) error {
	return h.do(func() { h.reg.AddConnection(c) })
}

func (h *Host) RemoveConnection(c registry.Conn) error {
	return h.do(func() { h.reg.RemoveConnection(c) })
}

func (h *Host) shuttingDown() bool {
	select {
	case <-h.stopping:
		return true
	default:
		return false
	}
}

// shutdown quits all plugins and waits for their read loops, killing stragglers after the timeout.
// Registry writes keep being applied meanwhile, since exiting read loops need them.
func (h *Host) shutdown() {
	close(h.stopping)
	plugins := h.reg.Plugins()
	h.log.Infow("shutting down", "Plugins", len(plugins))

	go func() {
		var group errgroup.Group
		for _, p := range plugins {
			p := p
			group.Go(func() error {
				sendErr := p.Send(protocol.Quit{})
				closeErr := p.Process().CloseStdin()
				if sendErr != nil {
					return fmt.Errorf("%s: sending quit: %w", p, sendErr)
				}
				return closeErr
			})
		}
		if err := group.Wait(); err != nil {
			h.log.Debugw("error quitting plugin", "Error", err)
		}
	}()

	loopsDone := make(chan struct{})
	go func() {
		h.loops.Wait()
		close(loopsDone)
	}()

	timeout := time.NewTimer(h.shutdownTimeout)
	defer timeout.Stop()
	var giveUp <-chan time.Time
	for {
		select {
		case o := <-h.ops:
			o.apply()
			close(o.done)
		case <-loopsDone:
			return
		case <-timeout.C:
			remaining := h.reg.Plugins()
			h.log.Warnw("plugins did not exit in time, killing them", "Plugins", len(remaining))
			h.killAll(remaining)
			giveUp = time.After(time.Second)
		case <-giveUp:
			h.log.Warnw("giving up waiting for plugins", "Plugins", len(h.reg.Plugins()))
			return
		}
	}
}

func (h *Host) killAll(plugins []plugin.Plugin) {
	var group errgroup.Group
	for _, p := range plugins {
		p := p
		group.Go(func() error {
			if err := p.Process().Kill(); err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		h.log.Debugw("error killing plugin", "Error", err)
	}
}
