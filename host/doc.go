/*
Package host routes messages between chat-network connections and a set of plugin processes.

The Host runs one read loop per plugin. A read loop decodes each line the plugin writes,
handles the request, and writes the reply back to the plugin. When the plugin's stdout
reaches EOF, the loop logs whatever the plugin wrote to stderr and removes the plugin.

All writes to the registry go through a single owner goroutine, the one calling Run.
Read loops and callers hand it work over a channel and wait for it to be applied, so once
a removal returns, no later broadcast will see the removed plugin. Readers such as Broadcast
take a snapshot of the registry without going through the owner.

There is no timeout on plugin reads, and crashed plugins are not restarted.
*/
package host
