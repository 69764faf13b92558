package host

import (
	"fmt"

	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/protocol"
	"go.uber.org/zap"
)

// dispatch handles one request from p and returns p as updated by the request.
func (h *Host) dispatch(log *zap.SugaredLogger, p plugin.Plugin, req protocol.Request) plugin.Plugin {
	switch req := req.(type) {
	case protocol.Send:
		h.reply(log, p, h.send(log, req))

	case protocol.RegisterCommand:
		p = p.WithCommand(req.Name)
		h.persist(log, p)
		log.Infow("registered command", "Command", req.Name)
		h.reply(log, p, protocol.Success{Message: protocol.MsgCommandAdded, ID: req.ID})

	case protocol.ReportPid:
		p = p.WithPid(req.Pid)
		h.persist(log, p)
		log.Debugw("plugin reported pid", "PID", req.Pid)

	default:
		log.Warnw("no handler for request", "Method", req.Method())
	}
	return p
}

func (h *Host) send(log *zap.SugaredLogger, req protocol.Send) protocol.Command {
	conn, ok := h.reg.FindConnection(req.Server)
	if !ok {
		log.Debugw("send failed", "Error", fmt.Errorf("%w: %q", ErrConnectionNotFound, req.Server))
		return protocol.Failure{Message: protocol.MsgServerNotFound, ID: req.ID}
	}
	if err := conn.SendRaw(req.Text); err != nil {
		log.Warnw("error sending on connection", "Server", req.Server, "Error", err)
		return protocol.Failure{Message: fmt.Sprintf("Sending failed: %s", err), ID: req.ID}
	}
	return protocol.Success{Message: protocol.MsgMessageSent, ID: req.ID}
}

// persist stores the read loop's latest copy of p in the registry.
func (h *Host) persist(log *zap.SugaredLogger, p plugin.Plugin) {
	if err := h.do(func() { h.reg.PutPlugin(p) }); err != nil {
		log.Debugw("error storing plugin", "Error", err)
	}
}

func (h *Host) reply(log *zap.SugaredLogger, p plugin.Plugin, c protocol.Command) {
	if err := p.Send(c); err != nil {
		log.Warnw("error replying to plugin", "Error", err)
	}
}
