package socket

import (
	"github.com/danmuck/tickerctl/internal/auth"
	"github.com/danmuck/tickerctl/internal/protocol/hub"
)

type CommandKind uint8

const (
	CommandConnect CommandKind = iota
	CommandSubscribe
	CommandReconnect
	CommandClose
	CommandAuthenticate
	commandResolve
)

func (k CommandKind) String() string {
	switch k {
	case CommandConnect:
		return "connect"
	case CommandSubscribe:
		return "subscribe"
	case CommandReconnect:
		return "reconnect"
	case CommandClose:
		return "close"
	case CommandAuthenticate:
		return "authenticate"
	case commandResolve:
		return "resolve"
	default:
		return "unknown"
	}
}

// Command is one unit of work for the control loop. Only the fields of its
// Kind are set.
type Command struct {
	Kind CommandKind

	Method string
	Args   []any

	Reason string
	// ConnID names the connection a Reconnect refers to. Empty means no
	// connection was live.
	ConnID string

	Credentials auth.Credentials

	response hub.Response
}

func Connect() Command {
	return Command{Kind: CommandConnect}
}

func Subscribe(method string, args ...any) Command {
	return Command{Kind: CommandSubscribe, Method: method, Args: args}
}

func Reconnect(connID, reason string) Command {
	return Command{Kind: CommandReconnect, ConnID: connID, Reason: reason}
}

func Close() Command {
	return Command{Kind: CommandClose}
}

func Authenticate(creds auth.Credentials) Command {
	return Command{Kind: CommandAuthenticate, Credentials: creds}
}

func resolve(connID string, resp hub.Response) Command {
	return Command{Kind: commandResolve, ConnID: connID, response: resp}
}
