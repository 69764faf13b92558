package host

import "errors"

var (
	// ErrPluginCrashed is logged when a plugin's stdout reaches EOF while the host is running.
	ErrPluginCrashed = errors.New("plugin crashed")

	// ErrConnectionNotFound is logged when a plugin asks to send on an unknown server.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrStopped is returned by operations that need the owner goroutine after Run has returned.
	ErrStopped = errors.New("host stopped")
)
