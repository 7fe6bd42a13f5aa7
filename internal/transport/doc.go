// ABOUTME: Package transport connects participants to the room over WebSockets
// ABOUTME: Defines the Transport interface, topic payloads, and the Hub implementation

// Package transport moves data between the room and its participants.
//
// The room core depends only on the Transport interface: it publishes
// JSON payloads on named topics, registers request/response RPC handlers,
// and consumes connect, disconnect and finalized-utterance events.
//
// Hub is the WebSocket implementation. Clients connect to the hub's HTTP
// handler and exchange JSON frames:
//
//	client -> hub  {"type":"utterance","text":"..."}
//	client -> hub  {"type":"rpc","id":"r1","method":"add_message","payload":"..."}
//	hub -> client  {"type":"text","topic":"coordinator_broadcast","payload":"..."}
//	hub -> client  {"type":"rpc_result","id":"r1","payload":"..."}
//
// RPC responses are cached per caller and request id so a retried
// request is answered without re-running its handler.
package transport
