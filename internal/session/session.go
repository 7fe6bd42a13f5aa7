// ABOUTME: Session lifecycle states and the Session and Factory interfaces
// ABOUTME: Implementations are created by a Factory and driven by the Manager

package session

import (
	"context"
	"errors"

	"github.com/2389/coven-huddle/internal/conversation"
)

// ErrNoSession indicates the identity has no active session.
var ErrNoSession = errors.New("no active session")

// ErrBacklogFull indicates too many utterances arrived before the session
// finished starting.
var ErrBacklogFull = errors.New("session start backlog full")

// ErrSessionClosed indicates the session no longer accepts input.
var ErrSessionClosed = errors.New("session closed")

// State is a session lifecycle state.
type State int

const (
	StateStarting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one participant's sub-conversation.
type Session interface {
	// Start begins processing. ctx is cancelled if the participant leaves
	// before Start returns.
	Start(ctx context.Context) error
	// Deliver hands the session a finalized utterance.
	Deliver(ctx context.Context, text string) error
	// Drain stops accepting input and finishes queued work.
	Drain(ctx context.Context) error
	// Close releases resources. Safe after a failed Drain.
	Close() error
}

// Factory builds sessions. chat is the participant's conversation log.
type Factory interface {
	NewSession(ctx context.Context, identity string, chat *conversation.ChatContext) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, identity string, chat *conversation.ChatContext) (Session, error)

// NewSession calls f.
func (f FactoryFunc) NewSession(ctx context.Context, identity string, chat *conversation.ChatContext) (Session, error) {
	return f(ctx, identity, chat)
}
