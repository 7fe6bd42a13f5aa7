// ABOUTME: Store holds one ChatContext per participant and builds combined views
// ABOUTME: Combined views merge every participant log plus an optional seed context

package conversation

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Store is the shared conversational record of a room. Each participant owns
// an append-only ChatContext; contexts are discarded only by DropParticipant.
type Store struct {
	mu       sync.RWMutex
	contexts map[string]*ChatContext
	logger   *slog.Logger
}

// NewStore creates an empty store. Pass nil logger for default.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		contexts: make(map[string]*ChatContext),
		logger:   logger.With("component", "conversation"),
	}
}

// Ensure returns the participant's context, creating it if absent.
func (s *Store) Ensure(participantID string) *ChatContext {
	s.mu.RLock()
	cc, ok := s.contexts[participantID]
	s.mu.RUnlock()
	if ok {
		return cc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cc, ok := s.contexts[participantID]; ok {
		return cc
	}
	cc = NewChatContext(participantID)
	s.contexts[participantID] = cc
	s.logger.Debug("created chat context", "participant", participantID)
	return cc
}

// Append adds a message to the participant's context, creating it if absent.
func (s *Store) Append(participantID string, role Role, content string) Message {
	return s.Ensure(participantID).Append(role, content)
}

// AppendAt is Append with an explicit timestamp.
func (s *Store) AppendAt(participantID string, role Role, content string, at time.Time) Message {
	return s.Ensure(participantID).AppendAt(role, content, at)
}

// Context returns the participant's context if one exists.
func (s *Store) Context(participantID string) (*ChatContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cc, ok := s.contexts[participantID]
	return cc, ok
}

// Participants returns the identities that currently have a context, sorted.
func (s *Store) Participants() []string {
	s.mu.RLock()
	ids := lo.Keys(s.contexts)
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// DropParticipant deletes the participant's context and returns how many
// messages were discarded. Irreversible.
func (s *Store) DropParticipant(participantID string) int {
	s.mu.Lock()
	cc, ok := s.contexts[participantID]
	delete(s.contexts, participantID)
	s.mu.Unlock()

	if !ok {
		return 0
	}
	n := cc.Len()
	s.logger.Info("cleaned up chat context", "participant", participantID, "messages", n)
	return n
}

// Count returns the total number of messages across all participant contexts.
func (s *Store) Count() int {
	total := 0
	for _, cc := range s.snapshot() {
		total += cc.Len()
	}
	return total
}

// snapshot returns the participant contexts ordered by identity.
func (s *Store) snapshot() []*ChatContext {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := lo.Keys(s.contexts)
	slices.Sort(ids)
	return lo.Map(ids, func(id string, _ int) *ChatContext {
		return s.contexts[id]
	})
}

// CombinedView returns every message of seed followed by every participant
// message, merged chronologically by CreatedAt. Ties keep seed messages first,
// then participants in identity order, then append order. seed may be nil.
func (s *Store) CombinedView(seed *ChatContext) []Message {
	var view []Message
	if seed != nil {
		view = append(view, seed.Items()...)
	}
	for _, cc := range s.snapshot() {
		view = append(view, cc.Items()...)
	}

	slices.SortStableFunc(view, func(a, b Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return view
}

// CombinedBlocks returns seed messages in order followed by one attributed
// user message per participant that summarizes that participant's whole
// history, stamped with the participant's most recent message time.
func (s *Store) CombinedBlocks(seed *ChatContext) []Message {
	var view []Message
	if seed != nil {
		view = append(view, seed.Items()...)
	}

	for _, cc := range s.snapshot() {
		items := cc.Items()
		if len(items) == 0 {
			continue
		}

		var b strings.Builder
		for _, item := range items {
			b.WriteString(item.Content)
			b.WriteString("\n")
		}
		last := items[len(items)-1]
		view = append(view, Message{
			ID:            last.ID,
			ParticipantID: cc.Owner(),
			Role:          RoleUser,
			Content:       Attribute(cc.Owner(), b.String()),
			CreatedAt:     last.CreatedAt,
		})
	}
	return view
}

// Attribute labels text with the participant who said it.
func Attribute(participantID, text string) string {
	return fmt.Sprintf("Participant Name: %s\nMessage: ```%s```", participantID, text)
}

// Transcript renders a view as one attributed line per message.
func Transcript(view []Message) string {
	lines := lo.Map(view, func(m Message, _ int) string {
		speaker := m.ParticipantID
		if speaker == "" {
			speaker = string(m.Role)
		}
		return fmt.Sprintf("[%s] %s: %s", m.CreatedAt.UTC().Format(time.RFC3339), speaker, m.Content)
	})
	return strings.Join(lines, "\n\n")
}
