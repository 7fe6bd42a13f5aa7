// ABOUTME: Coordinator state owned by one instance and shared with callbacks by reference
// ABOUTME: Every check-then-mutate sequence runs under a single mutex

package coordinator

import (
	"sync"
	"time"
)

// Phase is the coordinator's derived state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseProcessing
	PhaseWaitingForUser
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProcessing:
		return "processing"
	case PhaseWaitingForUser:
		return "waiting_for_user"
	default:
		return "unknown"
	}
}

// State holds the silence clock and turn flags.
type State struct {
	mu             sync.Mutex
	lastActivity   time.Time
	processing     bool
	waitingForUser bool
	nudged         bool // Nudge arrived mid-turn
}

// NewState starts the silence clock at now.
func NewState(now time.Time) *State {
	return &State{lastActivity: now}
}

// Touch records participant activity.
func (s *State) Touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = now
	s.waitingForUser = false
}

// TryBegin starts a turn if the room has been silent for longer than
// threshold and no turn is running or awaiting a participant.
func (s *State) TryBegin(now time.Time, threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing || s.waitingForUser {
		return false
	}
	if now.Sub(s.lastActivity) <= threshold {
		return false
	}
	s.processing = true
	return true
}

// Finish ends a turn and starts the cooldown.
func (s *State) Finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	if s.nudged {
		s.nudged = false
		s.waitingForUser = false
		s.lastActivity = time.Time{}
		return
	}
	s.lastActivity = now
	s.waitingForUser = true
}

// Nudge makes the next evaluation trigger a turn. A nudge during a turn
// takes effect when that turn finishes.
func (s *State) Nudge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitingForUser = false
	s.lastActivity = time.Time{}
	if s.processing {
		s.nudged = true
	}
}

// Phase reports the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.processing:
		return PhaseProcessing
	case s.waitingForUser:
		return PhaseWaitingForUser
	default:
		return PhaseIdle
	}
}

// LastActivity returns the silence clock origin.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
