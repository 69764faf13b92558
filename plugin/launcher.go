package plugin

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DefaultEntryPoint is the executable started inside each plugin directory.
const DefaultEntryPoint = "run.sh"

// ErrSpawnFailure wraps every error that prevented a plugin from starting.
var ErrSpawnFailure = errors.New("spawning plugin")

type Launcher struct {
	Dir        string
	EntryPoint string
	Log        *zap.SugaredLogger
}

type LauncherOption func(l *Launcher)

func WithEntryPoint(name string) LauncherOption {
	return func(l *Launcher) {
		l.EntryPoint = name
	}
}

func WithLauncherLogger(log *zap.SugaredLogger) LauncherOption {
	return func(l *Launcher) {
		l.Log = log.Named("launcher")
	}
}

func NewLauncher(dir string, opts ...LauncherOption) *Launcher {
	l := &Launcher{
		Dir:        dir,
		EntryPoint: DefaultEntryPoint,
		Log:        zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Discover lists the plugin directories under l.Dir, skipping files and names starting with ".".
func (l *Launcher) Discover() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("reading plugins dir %q: %w", l.Dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Launch starts every discovered plugin. A plugin that fails to start is logged and skipped;
// the returned error combines those failures and is non-nil even when some plugins started.
// The plugins that did start are always returned.
func (l *Launcher) Launch() ([]Plugin, error) {
	names, err := l.Discover()
	if err != nil {
		return nil, err
	}
	var (
		plugins []Plugin
		errs    error
	)
	for _, name := range names {
		p, err := l.Start(name)
		if err != nil {
			l.Log.Warnw("skipping plugin", "Plugin", name, "Error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		l.Log.Infow("started plugin", "Plugin", name, "ID", p.ID, "PID", p.Process().OSPid())
		plugins = append(plugins, p)
	}
	return plugins, errs
}

// Start spawns the plugin in the named subdirectory of l.Dir.
func (l *Launcher) Start(name string) (Plugin, error) {
	dir, err := filepath.Abs(filepath.Join(l.Dir, name))
	if err != nil {
		return Plugin{}, fmt.Errorf("%w %q: resolving path: %w", ErrSpawnFailure, name, err)
	}

	cmd := exec.Command(filepath.Join(dir, l.EntryPoint))
	cmd.Dir = dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Plugin{}, fmt.Errorf("%w %q: %w", ErrSpawnFailure, name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Plugin{}, fmt.Errorf("%w %q: %w", ErrSpawnFailure, name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Plugin{}, fmt.Errorf("%w %q: %w", ErrSpawnFailure, name, err)
	}
	if err := cmd.Start(); err != nil {
		return Plugin{}, fmt.Errorf("%w %q: %w", ErrSpawnFailure, name, err)
	}

	return New(name, dir, NewProcess(cmd, stdin, stdout, stderr)), nil
}
