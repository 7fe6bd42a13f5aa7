// ABOUTME: Package session manages one transcription session per connected participant
// ABOUTME: Creation and teardown are asynchronous and safe under connect/disconnect churn

// Package session owns the per-participant session lifecycle:
//
//	Starting -> Active -> Draining -> Closed
//
// Manager creates a session when a participant connects and drains and
// closes it when they disconnect or the room shuts down. A pending entry
// per identity makes duplicate connects no-ops. A disconnect while the
// session is still Starting cancels the creation; the creating goroutine
// then closes whatever it already built. A reconnect waits until the
// previous lifecycle for the same identity reaches Closed before it
// constructs a new session, so at most one session per identity is ever
// open.
//
// Transcriber is the default Session. It queues finalized utterances and
// hands each to a TurnHook, which reports whether the turn was handled.
package session
