// Package builtins provides the room's capability packs for the coordinator.
//
// # Overview
//
// Built-in capabilities are the actions the coordinator model may take in
// the room. Each one publishes a typed payload on an outbound topic or
// opens a poll, and returns a short confirmation the model sees.
//
// # Packs
//
// Messaging Pack (builtin:messaging):
//
//   - send_private_message: Send a private message to a specific user
//   - broadcast_message: Broadcast a message to all users
//   - show_popup: Show a popup message to all users or a specific user
//
// Poll Pack (builtin:poll):
//
//   - create_poll: Create a poll for users to vote on
//
// Media Pack (builtin:media):
//
//   - start_game: Start an interactive game
//   - generate_image: Generate an image and show it to everyone
//
// # Registration
//
// Register all packs:
//
//	builtins.RegisterAll(registry, sender, polls, logger)
//
// Inputs are declared as structs; capability.Define reflects their JSON
// schema and validates decoded input before a handler runs.
package builtins
