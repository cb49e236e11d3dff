// Package protocol owns the hub contract shared by the streaming client.
//
// Ownership boundary:
// - hub method and push channel names
// - invoke correlation records
// - error taxonomy used across codec, session and socket
package protocol
