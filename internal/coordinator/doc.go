// ABOUTME: Package coordinator runs the silence-driven turn-taking loop of a room
// ABOUTME: After enough silence it asks the model for a turn and broadcasts the reply

// Package coordinator implements the room's activity coordinator.
//
// The coordinator ticks at a fixed period. On each tick, unless a turn is
// already running or it is waiting for a participant to speak after its
// own reply, it checks whether the room has been silent for longer than
// the silence threshold. If so it builds the combined conversation view,
// lets the model call room capabilities, then broadcasts the final text
// and appends it to its own context.
//
// Phases:
//
//	Idle            -> Processing      silence exceeded threshold
//	Processing      -> WaitingForUser  turn finished (success or failure)
//	WaitingForUser  -> Idle            participant activity or poll finalized
//
// Every turn, successful or not, resets the silence clock and waits for a
// participant before the next turn.
package coordinator
