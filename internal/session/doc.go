// Package session owns one connection to a flight controller at a time.
//
// Ownership boundary:
// - the connect -> verify liveness -> active -> closed state machine
// - the read task, the single writer of inbound state
// - the ground station heartbeat and heartbeat-loss watchdog
// - retry/backoff primitives shared by request layers
package session
