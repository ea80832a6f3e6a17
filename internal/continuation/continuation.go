// Package continuation tracks multi-turn conversation threads across
// agent invocations.
//
// A conversation is identified by an opaque continuation id minted by
// the store. Turns are append-only with strictly increasing, gap-free
// indices; appends on one id are serialized while different ids proceed
// fully in parallel. Conversations idle past the inactivity window are
// evicted.
package continuation

import (
	"errors"
	"time"

	"clink/internal/result"
)

// ErrNotFound is returned for a supplied continuation id the store did
// not mint (or has evicted). A conversation is never silently created
// under a caller-specified id.
var ErrNotFound = errors.New("continuation not found")

// DefaultInactivityWindow is how long an idle conversation survives.
const DefaultInactivityWindow = 3 * time.Hour

// Turn is one exchange in a conversation. Turns may originate from any
// tool, not just this subsystem.
type Turn struct {
	Index     int           `json:"index"`
	Agent     string        `json:"agent"`
	Role      string        `json:"role,omitempty"`
	Task      string        `json:"task"`             // the caller's ask, rendered into later histories
	Prompt    string        `json:"prompt,omitempty"` // full composed prompt actually sent
	Result    result.Result `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
}

// Conversation is an ordered sequence of turns. Identity is the id, not
// any in-memory reference.
type Conversation struct {
	ID         string    `json:"id"`
	Turns      []Turn    `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Store is the interface for conversation persistence.
type Store interface {
	// Create mints a fresh conversation and returns its id.
	Create() (string, error)

	// Get returns a copy of the conversation, or ErrNotFound.
	Get(id string) (*Conversation, error)

	// Append adds a turn, assigning the next index, and returns the
	// updated conversation. Appends to one id are linearizable.
	Append(id string, turn Turn) (*Conversation, error)

	// Close removes a conversation explicitly.
	Close(id string) error
}
