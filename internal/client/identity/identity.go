/*
Package identity keeps the local user's presence identity for one session.

The identity is created once, stored in session-scoped storage and changed only by an
explicit profile update. Whether session storage exists at all is decided by the caller:
a Store built without storage never remembers anything.
*/
package identity

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"

	"viewsync/internal/pkg/logx"
)

// StorageKey is the session storage key holding the serialized identity.
const StorageKey = "viewsync-identity"

// Palette is the set of colors a new identity picks from.
var Palette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#eab308",
	"#22c55e", "#10b981", "#14b8a6", "#06b6d4",
	"#0ea5e9", "#3b82f6", "#6366f1", "#8b5cf6",
	"#a855f7", "#d946ef", "#ec4899", "#f973b5",
}

// UserIdentity is the self-chosen identity a client presents to its room.
type UserIdentity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// SessionStorage is a string key-value store scoped to one session.
type SessionStorage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// Patch is a partial identity update. Nil fields are left unchanged.
type Patch struct {
	Name  *string
	Color *string
}

// Store reads and writes the identity through a SessionStorage.
type Store struct {
	storage SessionStorage

	// mu serializes read-modify-write cycles.
	mu sync.Mutex
}

// NewStore returns a Store over storage. A nil storage means the platform has no session
// storage: Get always reports no identity and nothing is persisted.
func NewStore(storage SessionStorage) *Store {
	return &Store{storage: storage}
}

// Get returns the stored identity, or nil when none is stored or it cannot be parsed.
func (s *Store) Get() *UserIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() *UserIdentity {
	if s.storage == nil {
		return nil
	}

	raw, ok := s.storage.Get(StorageKey)
	if !ok || raw == "" {
		return nil
	}

	var id UserIdentity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		logx.Error(err, "Failed to parse identity")
		return nil
	}
	return &id
}

func (s *Store) save(id *UserIdentity) error {
	if s.storage == nil {
		return nil
	}

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.storage.Set(StorageKey, string(raw))
}

// Create makes a fresh identity with a random id and palette color and stores it,
// replacing any previous one. The identity is returned even if storing it failed.
func (s *Store) Create(name string) (*UserIdentity, error) {
	id := &UserIdentity{
		ID:    uuid.NewString(),
		Name:  strings.TrimSpace(name),
		Color: RandomColor(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return id, s.save(id)
}

// Update merges p into the stored identity. It returns nil when there is no identity.
func (s *Store) Update(p Patch) (*UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.load()
	if current == nil {
		return nil, nil
	}

	if p.Name != nil {
		current.Name = *p.Name
	}
	if p.Color != nil {
		current.Color = *p.Color
	}
	return current, s.save(current)
}

// RandomColor picks a palette color uniformly.
func RandomColor() string {
	return Palette[rand.IntN(len(Palette))]
}
