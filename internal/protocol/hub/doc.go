// Package hub is the transport boundary of the streaming client.
//
// A Dialer opens one hub connection and wires three hooks to it: pushes from
// hub client methods, responses to invokes, and transport errors. Termination
// is observed through Conn.Wait, which reports a *CloseError.
//
// WebsocketDialer speaks the classic hub JSON framing over a websocket opened
// on the hub /connect endpoint. Negotiation of connection tokens is left to
// the caller's URL.
package hub
