package protocol

// Method names used on the wire.
const (
	MethodSend   = "send"
	MethodCmdAdd = "cmdadd"
	MethodPid    = "pid"

	MethodRecv = "recv"
	MethodCmd  = "cmd"
	MethodQuit = "quit"
)

// Response messages sent back to plugins.
const (
	MsgMessageSent    = "Message sent."
	MsgServerNotFound = "Server doesn't exist."
	MsgCommandAdded   = "Command added."

	// failureResult is the result field of every failure response.
	failureResult = "error"
)

// Request is a decoded plugin->host message. It is one of Send, RegisterCommand or ReportPid.
type Request interface {
	// Method returns the wire method name of the request.
	Method() string
}

// Send asks the host to write Text verbatim on the connection whose address is Server.
type Send struct {
	Server string
	Text   string
	ID     int64
}

func (Send) Method() string { return MethodSend }

// RegisterCommand adds Name to the plugin's command list.
type RegisterCommand struct {
	Name string
	ID   int64
}

func (RegisterCommand) Method() string { return MethodCmdAdd }

// ReportPid tells the host the plugin's own view of its pid. It never gets a reply.
type ReportPid struct {
	Pid int
}

func (ReportPid) Method() string { return MethodPid }

// ConnectionInfo describes a chat-network connection to a plugin.
type ConnectionInfo struct {
	Address  string   `json:"address"`
	Nickname string   `json:"nickname"`
	Username string   `json:"username"`
	Chans    []string `json:"chans"`
}

// Command is a host->plugin message. It is one of Deliver, DeliverCommand, Quit, Success or Failure.
type Command interface {
	wire() any
}

// Deliver notifies a plugin of an inbound chat event.
type Deliver struct {
	Event any
	Conn  ConnectionInfo
}

// DeliverCommand notifies a plugin of a chat message that matched a registered command.
type DeliverCommand struct {
	Event     any
	Conn      ConnectionInfo
	Prefix    string
	Remainder string
}

// Quit asks a plugin to exit.
type Quit struct{}

// Success is the reply to a request that was handled.
type Success struct {
	Message string
	ID      int64
}

// Failure is the reply to a request that could not be handled.
type Failure struct {
	Message string
	ID      int64
}

// notification is the wire envelope for unsolicited host->plugin messages.
// ID is always encoded as null.
type notification struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     *int64 `json:"id"`
}

type response struct {
	Result string  `json:"result"`
	Error  *string `json:"error"`
	ID     int64   `json:"id"`
}

func (c ConnectionInfo) normalized() ConnectionInfo {
	if c.Chans == nil {
		c.Chans = []string{}
	}
	return c
}

func (d Deliver) wire() any {
	return notification{Method: MethodRecv, Params: []any{d.Event, d.Conn.normalized()}}
}

func (d DeliverCommand) wire() any {
	return notification{Method: MethodCmd, Params: []any{d.Event, d.Conn.normalized(), d.Prefix, d.Remainder}}
}

func (Quit) wire() any {
	return notification{Method: MethodQuit, Params: []any{}}
}

func (s Success) wire() any {
	return response{Result: s.Message, ID: s.ID}
}

func (f Failure) wire() any {
	msg := f.Message
	return response{Result: failureResult, Error: &msg, ID: f.ID}
}
