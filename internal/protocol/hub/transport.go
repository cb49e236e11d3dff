package hub

import (
	"context"
	"encoding/json"
	"fmt"
)

// Target names the endpoint and hub to connect to.
type Target struct {
	URL string
	Hub string
}

// Push is one hub client method call sent by the server.
type Push struct {
	Hub    string
	Method string
	Args   []json.RawMessage
}

// Response answers the invoke issued at position Index.
type Response struct {
	Index  int
	Result json.RawMessage
	Error  string
}

// Hooks receive connection events. They run on the connection's read
// goroutine and must not block for long.
type Hooks struct {
	OnPush     func(Push)
	OnResponse func(Response)
	OnError    func(error)
}

func (h Hooks) push(p Push) {
	if h.OnPush != nil {
		h.OnPush(p)
	}
}

func (h Hooks) response(r Response) {
	if h.OnResponse != nil {
		h.OnResponse(r)
	}
}

func (h Hooks) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

type Dialer interface {
	Dial(ctx context.Context, target Target, hooks Hooks) (Conn, error)
}

// Conn is one live hub connection.
type Conn interface {
	// Invoke sends method(args...) and returns the transport's invocation index.
	Invoke(method string, args ...any) (int, error)
	// Close terminates the connection; Wait then reports a local close.
	Close() error
	// Wait blocks until the connection is gone and returns its *CloseError.
	Wait() error
}

// Close codes used by the hub transport.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseAbnormal  = 1006
	CloseInternal  = 1011
)

// CloseError describes why a connection terminated. Local is set when the
// client closed it on purpose.
type CloseError struct {
	Code   int
	Reason string
	Local  bool
}

func (e *CloseError) Error() string {
	if e.Local {
		return fmt.Sprintf("hub: connection closed locally (%d)", e.Code)
	}
	return "hub: " + DescribeClose(e.Code, e.Reason)
}

// DescribeClose renders a human readable reason for a close code.
func DescribeClose(code int, reason string) string {
	var what string
	switch code {
	case CloseNormal:
		what = "server closed the connection"
	case CloseGoingAway:
		what = "server is going away"
	case CloseAbnormal:
		what = "connection dropped abnormally"
	case CloseInternal:
		what = "server error"
	default:
		what = "connection terminated"
	}
	if reason == "" {
		return fmt.Sprintf("%s (%d)", what, code)
	}
	return fmt.Sprintf("%s (%d): %s", what, code, reason)
}

// HandshakeError is returned when the hub refuses the websocket upgrade.
type HandshakeError struct {
	StatusCode int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("hub: status code not 101: %d", e.StatusCode)
}
