// ABOUTME: Poll data types: the open poll, its finalized result and finalize reasons
// ABOUTME: Result renders the summary fed back into the coordinator's context

package poll

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Reason says which path finalized a poll.
type Reason string

const (
	ReasonTimeout  Reason = "timeout"
	ReasonComplete Reason = "complete"
)

// Poll is an open poll.
type Poll struct {
	ID                     string
	Question               string
	Options                []string
	Responses              map[string]string // identity -> answer
	ParticipantsAtCreation []string
	CreatedAt              time.Time
	Deadline               time.Time
}

// Snapshot returns a deep copy safe to hand outside the engine lock.
func (p *Poll) Snapshot() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = slices.Clone(p.Options)
	cp.Responses = maps.Clone(p.Responses)
	cp.ParticipantsAtCreation = slices.Clone(p.ParticipantsAtCreation)
	return &cp
}

// complete reports whether enough distinct participants have answered.
// An empty snapshot never completes early; the deadline finalizes it.
func (p *Poll) complete() bool {
	return len(p.ParticipantsAtCreation) > 0 && len(p.Responses) >= len(p.ParticipantsAtCreation)
}

// tally counts answers actually given.
func (p *Poll) tally() map[string]int {
	results := make(map[string]int)
	for _, answer := range p.Responses {
		results[answer]++
	}
	return results
}

// Result is a finalized poll.
type Result struct {
	PollID    string
	Question  string
	Options   []string
	Tally     map[string]int
	Responses int
	Reason    Reason
}

// Summary renders the result as a line for the coordinator's context.
func (r Result) Summary() string {
	tally, err := json.Marshal(r.Tally)
	if err != nil {
		tally = []byte("{}")
	}
	return fmt.Sprintf("Poll results for '%s': %s", r.Question, tally)
}
