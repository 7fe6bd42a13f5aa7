// ABOUTME: Message and ChatContext types for per-participant conversation logs
// ABOUTME: ChatContext is an append-only, mutex-guarded ordered message log

package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry in a chat context.
// ParticipantID is empty for messages that belong to a seed context
// (e.g. the coordinator's own running dialogue).
type Message struct {
	ID            string
	ParticipantID string
	Role          Role
	Content       string
	CreatedAt     time.Time
}

// ChatContext is one ordered message log. It is safe for concurrent use.
type ChatContext struct {
	owner string
	mu    sync.RWMutex
	items []Message
	now   func() time.Time
}

// NewChatContext creates an empty context. owner is stamped onto every
// appended message as ParticipantID; pass "" for a seed context.
func NewChatContext(owner string) *ChatContext {
	return &ChatContext{owner: owner, now: time.Now}
}

// Owner returns the participant identity this context belongs to.
func (c *ChatContext) Owner() string {
	return c.owner
}

// Append adds a message stamped with the current time and returns it.
func (c *ChatContext) Append(role Role, content string) Message {
	return c.AppendAt(role, content, c.now())
}

// AppendAt adds a message with an explicit timestamp and returns it.
func (c *ChatContext) AppendAt(role Role, content string, at time.Time) Message {
	msg := Message{
		ID:            uuid.New().String(),
		ParticipantID: c.owner,
		Role:          role,
		Content:       content,
		CreatedAt:     at,
	}

	c.mu.Lock()
	c.items = append(c.items, msg)
	c.mu.Unlock()

	return msg
}

// Items returns a copy of the messages in append order.
func (c *ChatContext) Items() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Message, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of messages in the context.
func (c *ChatContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Last returns the most recent message, if any.
func (c *ChatContext) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.items) == 0 {
		return Message{}, false
	}
	return c.items[len(c.items)-1], true
}
