/*
Package protocol implements the line-delimited JSON protocol spoken between the host and its plugins.

Every message is a single JSON object terminated by a newline. There are two directions:

Plugin->host messages are requests of the form {"method": ..., "params": [...], "id": ...}.
The supported methods are "send", "cmdadd" and "pid". Requests that carry an id get exactly one response.

Host->plugin messages are either notifications, which reuse the request envelope with a null id
("recv", "cmd" and "quit"), or responses of the form {"result": ..., "error": ..., "id": ...}.

Decoding never panics on bad input. Every rejected line produces an error wrapping one of the
sentinel errors in errors.go, so callers can log the line and keep reading.
*/
package protocol
