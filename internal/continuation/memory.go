package continuation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"clink/internal/logging"
)

// MemoryStore is the process-wide in-memory Store.
//
// Locking discipline: the map lock guards membership only; every
// conversation carries its own mutex, so appends to unrelated ids never
// serialize behind one lock. Eviction takes the conversation lock
// before removal and re-checks the activity timestamp under it, so an
// in-flight append either completes first or observes the conversation
// closed — an evicted id is never resurrected.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memEntry

	window time.Duration
	log    *logging.Logger
	now    func() time.Time

	sweeper *cron.Cron
}

type memEntry struct {
	mu     sync.Mutex
	conv   Conversation
	closed bool
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	InactivityWindow time.Duration // 0 means DefaultInactivityWindow
	Logger           *logging.Logger
	Now              func() time.Time // test hook
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	window := cfg.InactivityWindow
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		conversations: make(map[string]*memEntry),
		window:        window,
		log:           log.WithComponent("continuation"),
		now:           now,
	}
}

// Create mints a fresh conversation id.
func (s *MemoryStore) Create() (string, error) {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = &memEntry{
		conv: Conversation{
			ID:         id,
			CreatedAt:  now,
			LastActive: now,
		},
	}
	return id, nil
}

func (s *MemoryStore) lookup(id string) (*memEntry, error) {
	s.mu.RLock()
	entry, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return entry, nil
}

// Get returns a copy of the conversation.
func (s *MemoryStore) Get(id string) (*Conversation, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	conv := copyConversation(entry.conv)
	return &conv, nil
}

// Append adds a turn under the conversation's own lock, assigning the
// next gap-free index.
func (s *MemoryStore) Append(id string, turn Turn) (*Conversation, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	turn.Index = len(entry.conv.Turns)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now()
	}
	entry.conv.Turns = append(entry.conv.Turns, turn)
	entry.conv.LastActive = s.now()

	conv := copyConversation(entry.conv)
	return &conv, nil
}

// Close removes a conversation explicitly.
func (s *MemoryStore) Close(id string) error {
	s.mu.Lock()
	entry, ok := s.conversations[id]
	if ok {
		delete(s.conversations, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()
	return nil
}

// Sweep evicts conversations idle past the inactivity window and
// returns how many were removed.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.window)

	s.mu.RLock()
	candidates := make([]string, 0)
	for id, entry := range s.conversations {
		entry.mu.Lock()
		idle := entry.conv.LastActive.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			candidates = append(candidates, id)
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, id := range candidates {
		s.mu.Lock()
		entry, ok := s.conversations[id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		entry.mu.Lock()
		// Re-check under the conversation lock: an append that slipped
		// in since the scan keeps the conversation alive.
		if entry.conv.LastActive.Before(cutoff) {
			entry.closed = true
			delete(s.conversations, id)
			evicted++
			s.log.ConversationEvicted(id, s.now().Sub(entry.conv.LastActive))
		}
		entry.mu.Unlock()
		s.mu.Unlock()
	}
	return evicted
}

// Len reports how many conversations are live.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}

// StartSweeper runs Sweep on the given interval until StopSweeper.
func (s *MemoryStore) StartSweeper(interval time.Duration) error {
	if s.sweeper != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.Sweep() }); err != nil {
		return err
	}
	c.Start()
	s.sweeper = c
	return nil
}

// StopSweeper stops the background sweep.
func (s *MemoryStore) StopSweeper() {
	if s.sweeper != nil {
		s.sweeper.Stop()
		s.sweeper = nil
	}
}

func copyConversation(conv Conversation) Conversation {
	out := conv
	out.Turns = make([]Turn, len(conv.Turns))
	copy(out.Turns, conv.Turns)
	return out
}
