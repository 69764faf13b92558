// Package irc is a minimal IRC client used to feed chat events into the plugin host.
// It handles registration, PING, and channel membership, and hands every other line to a handler.
package irc

import (
	"errors"
	"strings"
)

var ErrEmptyMessage = errors.New("empty IRC message")

// Message is a parsed IRC line. It is what plugins receive as the event in recv and cmd notifications.
type Message struct {
	Raw     string   `json:"raw"`
	Tags    string   `json:"tags,omitempty"`
	Prefix  string   `json:"prefix,omitempty"`
	Nick    string   `json:"nick,omitempty"`
	User    string   `json:"user,omitempty"`
	Host    string   `json:"host,omitempty"`
	Command string   `json:"command"`
	Params  []string `json:"params"`
}

// ParseMessage parses a single IRC line, with or without its trailing CRLF.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	msg := Message{Raw: line, Params: []string{}}
	rest := line

	if strings.HasPrefix(rest, "@") {
		msg.Tags, rest = cut(rest[1:])
	}
	if strings.HasPrefix(rest, ":") {
		msg.Prefix, rest = cut(rest[1:])
		msg.Nick, msg.User, msg.Host = splitPrefix(msg.Prefix)
	}
	msg.Command, rest = cut(rest)
	if msg.Command == "" {
		return Message{}, ErrEmptyMessage
	}
	msg.Command = strings.ToUpper(msg.Command)

	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		var p string
		p, rest = cut(rest)
		msg.Params = append(msg.Params, p)
	}
	return msg, nil
}

// Trailing returns the last parameter, which holds the text of PRIVMSG and NOTICE.
func (m Message) Trailing() string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

func cut(s string) (string, string) {
	s = strings.TrimLeft(s, " ")
	before, after, _ := strings.Cut(s, " ")
	return before, strings.TrimLeft(after, " ")
}

// splitPrefix splits nick!user@host. Server prefixes come back as the nick.
func splitPrefix(prefix string) (nick, user, host string) {
	nick, host, _ = strings.Cut(prefix, "@")
	nick, user, _ = strings.Cut(nick, "!")
	return nick, user, host
}
