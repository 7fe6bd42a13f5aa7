// ABOUTME: Thread-safe registry of capabilities keyed by name
// ABOUTME: Rejects name collisions and dispatches invocations to handlers

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// ErrCapabilityCollision indicates a capability with the same name is already registered.
var ErrCapabilityCollision = errors.New("capability name collision")

// ErrCapabilityNotFound indicates no capability is registered under the name.
var ErrCapabilityNotFound = errors.New("capability not found")

// ErrInvalidInput indicates the input failed to decode or validate.
var ErrInvalidInput = errors.New("invalid capability input")

// Handler executes a capability. callerID names who invoked it (the
// coordinator for model tool calls). The returned text is fed back to the model.
type Handler func(ctx context.Context, callerID string, input json.RawMessage) (string, error)

// Capability is a named action the model may invoke.
type Capability struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Pack is a named group of capabilities registered together.
type Pack struct {
	ID           string
	Capabilities []*Capability
}

// Registry maintains the set of registered capabilities.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]*Capability
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		caps:   make(map[string]*Capability),
		logger: logger.With("component", "capabilities"),
	}
}

// Register adds capabilities atomically: if any name collides with a
// registered capability or another in the same call, nothing is added.
func (r *Registry) Register(caps ...*Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if c == nil || c.Name == "" || c.Handler == nil {
			return fmt.Errorf("%w: capability requires a name and a handler", ErrInvalidInput)
		}
		if _, exists := r.caps[c.Name]; exists {
			return fmt.Errorf("%w: '%s' already registered", ErrCapabilityCollision, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: '%s' appears twice", ErrCapabilityCollision, c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	for _, c := range caps {
		r.caps[c.Name] = c
	}

	r.logger.Info("capabilities registered",
		"names", strings.Join(lo.Map(caps, func(c *Capability, _ int) string { return c.Name }), ","),
		"total", len(r.caps),
	)
	return nil
}

// RegisterPack registers every capability of the pack atomically.
func (r *Registry) RegisterPack(pack *Pack) error {
	if err := r.Register(pack.Capabilities...); err != nil {
		return fmt.Errorf("registering pack %s: %w", pack.ID, err)
	}
	r.logger.Info("=== CAPABILITY PACK REGISTERED ===", "pack_id", pack.ID, "count", len(pack.Capabilities))
	return nil
}

// Get returns the capability registered under name, or nil.
func (r *Registry) Get(name string) *Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// List returns all capabilities sorted by name.
func (r *Registry) List() []*Capability {
	r.mu.RLock()
	caps := lo.Values(r.caps)
	r.mu.RUnlock()

	slices.SortFunc(caps, func(a, b *Capability) int { return strings.Compare(a.Name, b.Name) })
	return caps
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Invoke runs the named capability with the raw JSON input.
func (r *Registry) Invoke(ctx context.Context, callerID, name string, input json.RawMessage) (string, error) {
	c := r.Get(name)
	if c == nil {
		return "", fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}

	r.logger.Debug("invoking capability", "name", name, "caller", callerID)
	out, err := c.Handler(ctx, callerID, input)
	if err != nil {
		r.logger.Warn("capability failed", "name", name, "caller", callerID, "error", err)
		return "", err
	}
	return out, nil
}
