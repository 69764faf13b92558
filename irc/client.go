package irc

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	// Addr is the host:port to dial. The host part is the connection's address.
	Addr     string
	Nick     string
	User     string
	RealName string
	Channels []string
}

// Handler is called for every line read from the server, after the client has updated its own state.
type Handler func(c *Client, msg Message)

// Client is a single IRC server connection. It is safe for concurrent use.
type Client struct {
	log  *zap.SugaredLogger
	cfg  Config
	host string
	conn net.Conn

	writeMut sync.Mutex

	stateMut sync.RWMutex
	nick     string
	chans    []string
}

// Dial connects to the server and sends the registration lines.
func Dial(ctx context.Context, log *zap.SugaredLogger, cfg Config) (*Client, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("parsing address %q: %w", cfg.Addr, err)
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.RealName == "" {
		cfg.RealName = cfg.User
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.Addr, err)
	}

	c := &Client{
		log:  log.Named("irc").With("Addr", cfg.Addr),
		cfg:  cfg,
		host: host,
		conn: conn,
		nick: cfg.Nick,
	}
	if err := c.SendRaw("NICK " + cfg.Nick); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering nick: %w", err)
	}
	if err := c.SendRaw(fmt.Sprintf("USER %s 0 * :%s", cfg.User, cfg.RealName)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("registering user: %w", err)
	}
	return c, nil
}

func (c *Client) Address() string  { return c.host }
func (c *Client) Username() string { return c.cfg.User }

func (c *Client) Nickname() string {
	c.stateMut.RLock()
	defer c.stateMut.RUnlock()
	return c.nick
}

// Channels returns the channels the client is currently in.
func (c *Client) Channels() []string {
	c.stateMut.RLock()
	defer c.stateMut.RUnlock()
	return append([]string(nil), c.chans...)
}

// SendRaw writes line to the server, terminated with CRLF.
func (c *Client) SendRaw(line string) error {
	line = strings.TrimRight(line, "\r\n")
	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Run reads from the server until the connection fails or ctx is done.
func (c *Client) Run(ctx context.Context, handler Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.conn.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(c.conn)
	for scanner.Scan() {
		msg, err := ParseMessage(scanner.Text())
		if err != nil {
			c.log.Debugw("ignoring line", "Line", scanner.Text(), "Error", err)
			continue
		}
		c.track(msg)
		if handler != nil {
			handler(c, msg)
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading from %s: %w", c.cfg.Addr, err)
	}
	return fmt.Errorf("connection to %s closed", c.cfg.Addr)
}

// track keeps the client's own state in sync with the server.
func (c *Client) track(msg Message) {
	switch msg.Command {
	case "PING":
		if err := c.SendRaw("PONG :" + msg.Trailing()); err != nil {
			c.log.Debugf("error sending PONG: %s", err)
		}
	case "001":
		for _, ch := range c.cfg.Channels {
			if err := c.SendRaw("JOIN " + ch); err != nil {
				c.log.Debugf("error joining %s: %s", ch, err)
			}
		}
	case "JOIN":
		if c.isSelf(msg.Nick) && len(msg.Params) > 0 {
			c.addChannel(msg.Params[0])
		}
	case "PART":
		if c.isSelf(msg.Nick) && len(msg.Params) > 0 {
			c.removeChannel(msg.Params[0])
		}
	case "KICK":
		if len(msg.Params) > 1 && c.isSelf(msg.Params[1]) {
			c.removeChannel(msg.Params[0])
		}
	case "NICK":
		if c.isSelf(msg.Nick) && len(msg.Params) > 0 {
			c.stateMut.Lock()
			c.nick = msg.Params[0]
			c.stateMut.Unlock()
		}
	}
}

func (c *Client) isSelf(nick string) bool {
	return nick != "" && strings.EqualFold(nick, c.Nickname())
}

func (c *Client) addChannel(ch string) {
	c.stateMut.Lock()
	defer c.stateMut.Unlock()
	for _, cur := range c.chans {
		if strings.EqualFold(cur, ch) {
			return
		}
	}
	c.chans = append(c.chans, ch)
}

func (c *Client) removeChannel(ch string) {
	c.stateMut.Lock()
	defer c.stateMut.Unlock()
	var next []string
	for _, cur := range c.chans {
		if !strings.EqualFold(cur, ch) {
			next = append(next, cur)
		}
	}
	c.chans = next
}
