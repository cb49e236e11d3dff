// Package socket is the streaming client: a single control loop that owns
// the session, a connection supervisor that watches the live hub
// connection, and handler lanes that deliver decoded messages without
// stalling the transport.
//
// Every session mutation happens on the control loop. Other goroutines only
// submit Commands to its queue.
package socket
