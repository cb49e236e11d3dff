// Package session owns the per-connection bookkeeping of the streaming client.
//
// Ownership boundary:
// - invoke registry (position -> invoke correlation)
// - reliability config defaults
// - reconnect backoff policy
package session
