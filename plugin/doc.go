/*
Package plugin launches plugin processes and holds their state.

A plugin is a directory under the plugins directory containing an executable entry point,
run.sh by default. The Launcher starts one process per plugin directory, with the directory
as its working directory, and wires up its stdin, stdout and stderr as pipes.

Plugin is a value type. Updates such as registering a command produce a new Plugin that shares
the same underlying Process, so a Plugin can be stored in a registry snapshot and replaced atomically.
*/
package plugin
