package plugin

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/guseggert/plughost/protocol"
)

// Plugin is a running plugin. Copies share the same Process.
type Plugin struct {
	// ID identifies this launch of the plugin. It is the key used by the registry.
	ID uuid.UUID
	// Name is derived from the plugin's directory name.
	Name string
	Dir  string

	// Pid is the pid the plugin reported about itself, nil until it sends a pid request.
	Pid *int
	// Commands are the command names the plugin registered, in registration order.
	Commands []string

	// Capabilities and Version are reserved for protocol extensions and are not interpreted.
	Capabilities []string
	Version      string

	proc *Process
}

// New returns a Plugin for an already running process.
func New(name, dir string, proc *Process) Plugin {
	return Plugin{
		ID:   uuid.New(),
		Name: name,
		Dir:  dir,
		proc: proc,
	}
}

// Process returns the plugin's streams.
func (p Plugin) Process() *Process { return p.proc }

// WithPid returns a copy of p with its self-reported pid set.
func (p Plugin) WithPid(pid int) Plugin {
	p.Pid = &pid
	return p
}

// WithCommand returns a copy of p with name appended to its commands. Duplicates are kept.
func (p Plugin) WithCommand(name string) Plugin {
	cmds := make([]string, len(p.Commands), len(p.Commands)+1)
	copy(cmds, p.Commands)
	p.Commands = append(cmds, name)
	return p
}

// HasCommand reports whether the plugin registered name.
func (p Plugin) HasCommand(name string) bool {
	for _, c := range p.Commands {
		if c == name {
			return true
		}
	}
	return false
}

// Send encodes c and queues it for the plugin's stdin.
func (p Plugin) Send(c protocol.Command) error {
	b, err := protocol.Encode(c)
	if err != nil {
		return err
	}
	return p.SendLine(b)
}

// SendLine queues an already encoded line for the plugin's stdin.
func (p Plugin) SendLine(line []byte) error {
	if p.proc == nil {
		return ErrProcessClosed
	}
	return p.proc.WriteLine(line)
}

func (p Plugin) String() string {
	return fmt.Sprintf("plugin %s (%s)", p.Name, p.ID)
}
