// ABOUTME: Package room wires transport, sessions, conversation, polls and the coordinator
// ABOUTME: It owns the event loop, the participant RPCs and the shutdown order

// Package room assembles one huddle room.
//
// Transport events drive the session manager. Each session's turn hook
// publishes the finalized utterance on the transcription topic, records it
// in the ledger and tells the coordinator there was activity. Participants
// reach the room through three RPCs: summarize_meeting, add_message and
// submit_poll_response.
//
// Shutdown runs in a fixed order: coordinator, poll engine, sessions,
// transport, ledger.
package room
