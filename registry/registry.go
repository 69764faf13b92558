// Package registry holds the set of live plugins and the set of chat-network connections.
//
// Readers get a snapshot that is never mutated afterwards. Writers build a new set and swap it in,
// so a broadcast that is iterating a snapshot is never affected by a concurrent removal.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/guseggert/plughost/plugin"
)

// Conn is a chat-network connection, as seen by the plugin host.
type Conn interface {
	Address() string
	Nickname() string
	Username() string
	Channels() []string
	// SendRaw writes a raw protocol line on the connection.
	SendRaw(line string) error
}

type Registry struct {
	mut     sync.RWMutex
	plugins []plugin.Plugin
	conns   []Conn
}

func New() *Registry {
	return &Registry{}
}

// Plugins returns a snapshot of the live plugins.
func (r *Registry) Plugins() []plugin.Plugin {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.plugins
}

// Plugin returns the live plugin with the given id.
func (r *Registry) Plugin(id uuid.UUID) (plugin.Plugin, bool) {
	for _, p := range r.Plugins() {
		if p.ID == id {
			return p, true
		}
	}
	return plugin.Plugin{}, false
}

// UpdatePlugins replaces the plugin set with f applied to the current snapshot.
// f must not modify its argument in place.
func (r *Registry) UpdatePlugins(f func(cur []plugin.Plugin) []plugin.Plugin) {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.plugins = f(r.plugins)
}

// AddPlugin adds p to the plugin set.
func (r *Registry) AddPlugin(p plugin.Plugin) {
	r.UpdatePlugins(func(cur []plugin.Plugin) []plugin.Plugin {
		next := make([]plugin.Plugin, 0, len(cur)+1)
		next = append(next, cur...)
		return append(next, p)
	})
}

// PutPlugin replaces the plugin with p's ID. It reports false, and changes nothing,
// if that plugin has already been removed.
func (r *Registry) PutPlugin(p plugin.Plugin) bool {
	found := false
	r.UpdatePlugins(func(cur []plugin.Plugin) []plugin.Plugin {
		next := make([]plugin.Plugin, len(cur))
		for i, q := range cur {
			if q.ID == p.ID {
				q = p
				found = true
			}
			next[i] = q
		}
		if !found {
			return cur
		}
		return next
	})
	return found
}

// RemovePlugin removes the plugin with the given id and reports whether it was present.
func (r *Registry) RemovePlugin(id uuid.UUID) bool {
	found := false
	r.UpdatePlugins(func(cur []plugin.Plugin) []plugin.Plugin {
		next := make([]plugin.Plugin, 0, len(cur))
		for _, q := range cur {
			if q.ID == id {
				found = true
				continue
			}
			next = append(next, q)
		}
		if !found {
			return cur
		}
		return next
	})
	return found
}

// Connections returns a snapshot of the active connections.
func (r *Registry) Connections() []Conn {
	r.mut.RLock()
	defer r.mut.RUnlock()
	return r.conns
}

func (r *Registry) AddConnection(c Conn) {
	r.mut.Lock()
	defer r.mut.Unlock()
	next := make([]Conn, 0, len(r.conns)+1)
	next = append(next, r.conns...)
	r.conns = append(next, c)
}

// RemoveConnection removes c and reports whether it was present.
func (r *Registry) RemoveConnection(c Conn) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	next := make([]Conn, 0, len(r.conns))
	for _, cur := range r.conns {
		if cur != c {
			next = append(next, cur)
		}
	}
	if len(next) == len(r.conns) {
		return false
	}
	r.conns = next
	return true
}

// FindConnection returns the first connection whose address is addr.
func (r *Registry) FindConnection(addr string) (Conn, bool) {
	for _, c := range r.Connections() {
		if c.Address() == addr {
			return c, true
		}
	}
	return nil, false
}
