// Package conversation holds the shared conversational record of a room.
//
// # Overview
//
// Every connected participant owns a ChatContext: an ordered, append-only log
// of messages. The Store keys contexts by participant identity and is the
// only place that creates or discards them.
//
//	store := conversation.NewStore(logger)
//	store.Append("alice", conversation.RoleUser, "hello")
//
// # Combined Views
//
// The coordinator reasons over a single merged record built on demand:
//
//   - CombinedView(seed): seed messages plus every participant message,
//     merged chronologically by CreatedAt. Nothing is dropped; the view length
//     always equals seed.Len() plus Store.Count().
//   - CombinedBlocks(seed): seed messages followed by one attributed block per
//     participant. Kept for prompts that prefer per-speaker grouping.
//
// # Lifecycle
//
// A context is created when the participant's session is created (or lazily by
// Append) and dropped when the participant disconnects. Message count never
// decreases except through DropParticipant.
//
// # Thread Safety
//
// Store and ChatContext are safe for concurrent use.
package conversation
