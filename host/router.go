package host

import (
	"errors"
	"strings"

	"github.com/guseggert/plughost/irc"
	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/protocol"
	"github.com/guseggert/plughost/registry"
)

// ConnectionInfo queries conn for the details plugins receive alongside every event.
func ConnectionInfo(conn registry.Conn) protocol.ConnectionInfo {
	return protocol.ConnectionInfo{
		Address:  conn.Address(),
		Nickname: conn.Nickname(),
		Username: conn.Username(),
		Chans:    conn.Channels(),
	}
}

// Broadcast sends event to every live plugin as a recv notification.
// It returns the number of plugins the event was written to.
func (h *Host) Broadcast(event any, conn registry.Conn) int {
	return h.broadcast(protocol.Deliver{Event: event, Conn: ConnectionInfo(conn)})
}

// BroadcastCommand sends event to every live plugin as a cmd notification.
func (h *Host) BroadcastCommand(event any, conn registry.Conn, prefix, remainder string) int {
	return h.broadcast(protocol.DeliverCommand{
		Event:     event,
		Conn:      ConnectionInfo(conn),
		Prefix:    prefix,
		Remainder: remainder,
	})
}

func (h *Host) broadcast(c protocol.Command) int {
	line, err := protocol.Encode(c)
	if err != nil {
		h.log.Warnw("error encoding broadcast", "Error", err)
		return 0
	}
	delivered := 0
	for _, p := range h.reg.Plugins() {
		// the plugin may have exited since the snapshot was taken
		if err := p.SendLine(line); err != nil {
			if errors.Is(err, plugin.ErrOutboxFull) {
				h.log.Warnw("plugin is not reading, dropped event", "Plugin", p.Name, "ID", p.ID, "Dropped", p.Process().Dropped())
				continue
			}
			h.log.Debugw("error delivering to plugin", "Plugin", p.Name, "ID", p.ID, "Error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// HandleMessage is the entry point for chat events. Every message is broadcast as recv,
// including command messages, so plugins that only watch recv still see all traffic.
// A PRIVMSG whose text starts with the command prefix and a command some plugin registered
// is broadcast as cmd after its recv.
func (h *Host) HandleMessage(conn registry.Conn, msg irc.Message) {
	h.Broadcast(msg, conn)
	if msg.Command != "PRIVMSG" {
		return
	}
	if prefix, remainder, ok := h.matchCommand(msg.Trailing()); ok {
		h.BroadcastCommand(msg, conn, prefix, remainder)
	}
}

// matchCommand returns the command trigger, such as "!weather", and the text after it.
func (h *Host) matchCommand(text string) (string, string, bool) {
	if h.commandPrefix == "" || !strings.HasPrefix(text, h.commandPrefix) {
		return "", "", false
	}
	name, rest, _ := strings.Cut(text[len(h.commandPrefix):], " ")
	if name == "" {
		return "", "", false
	}
	for _, p := range h.reg.Plugins() {
		if p.HasCommand(name) {
			return h.commandPrefix + name, strings.TrimSpace(rest), true
		}
	}
	return "", "", false
}
