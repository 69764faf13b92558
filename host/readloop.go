package host

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/protocol"
	"go.uber.org/zap"
)

// readLoop handles every line p writes to stdout, in order, until EOF.
// p is the loop's own copy of the plugin; it is the only writer of p's commands and pid.
func (h *Host) readLoop(p plugin.Plugin) {
	defer h.loops.Done()
	log := h.log.Named("read_loop").With("Plugin", p.Name, "ID", p.ID)
	log.Debug("starting read loop")

	lines := p.Process().Lines()
	for lines.Scan() {
		line := lines.Bytes()
		if !bytes.HasPrefix(line, []byte("{")) {
			log.Infow("plugin output", "Line", string(line))
			continue
		}
		req, err := protocol.Decode(line)
		if err != nil {
			log.Warnw("ignoring bad request", "Line", string(line), "Error", err)
			continue
		}
		p = h.dispatch(log, p, req)
	}
	if err := lines.Err(); err != nil {
		// the plugin may still be alive, but nothing it writes will be read anymore
		log.Warnw("error reading plugin output, killing plugin", "Error", err)
		if err := p.Process().Kill(); err != nil {
			log.Debugf("error killing plugin: %s", err)
		}
	}

	tail, complete := p.Process().Stderr(h.stderrWait)
	stderr := stderrReport(tail, p.Process().StderrDropped())
	if h.shuttingDown() {
		log.Infow("plugin stopped", "Stderr", stderr)
	} else {
		log.Errorw("plugin stdout closed", "Error", ErrPluginCrashed, "Stderr", stderr, "StderrComplete", complete)
	}

	if err := h.do(func() { h.reg.RemovePlugin(p.ID) }); err != nil && !errors.Is(err, ErrStopped) {
		log.Warnw("error removing plugin", "Error", err)
	}

	if err := p.Process().CloseStdin(); err != nil {
		log.Debugf("error closing stdin: %s", err)
	}
	h.reap(log, p)
}

// reap waits for the plugin's process to exit so it does not linger as a zombie.
func (h *Host) reap(log *zap.SugaredLogger, p plugin.Plugin) {
	code, err := p.Process().Wait()
	if err != nil {
		log.Warnw("error waiting for plugin", "Error", err)
		return
	}
	log.Infow("plugin exited", "ExitCode", code)
}

// stderrReport marks where the start of a long stderr was cut off.
func stderrReport(tail string, dropped int64) string {
	if dropped == 0 {
		return tail
	}
	return fmt.Sprintf("[%d earlier bytes of stderr truncated]\n%s", dropped, tail)
}
