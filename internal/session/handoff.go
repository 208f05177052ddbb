// Package session hands a recipe from one view to another through an opaque
// handle instead of encoding the payload into a URL.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/l0p7/recipectl/internal/clock"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/storage"
)

const (
	DefaultTTL = 30 * time.Minute
	keyPrefix  = "session:"
)

var ErrHandleNotFound = errors.New("session: handle not found")

type Options struct {
	// Store defaults to a process-local memory store.
	Store storage.Store
	TTL   time.Duration
	Clock clock.Clock
}

type envelope struct {
	Recipe   recipe.Recipe `json:"recipe"`
	StoredAt time.Time     `json:"storedAt"`
}

// Store keeps handed-off recipes until they are released or their TTL
// passes. Expired handles are swept on every Put, so the backing store stays
// bounded by the write rate times the TTL.
type Store struct {
	store storage.Store
	ttl   time.Duration
	clock clock.Clock
}

func New(opts Options) *Store {
	backing := opts.Store
	if backing == nil {
		backing = storage.NewMemory(0)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{store: backing, ttl: ttl, clock: clk}
}

// Put saves r and returns the handle that retrieves it.
func (s *Store) Put(ctx context.Context, r recipe.Recipe) (string, error) {
	if strings.TrimSpace(r.URI) == "" {
		return "", errors.New("session: recipe uri required")
	}
	now := s.clock.Now()
	if _, err := s.Sweep(ctx, now); err != nil {
		return "", err
	}
	payload, err := json.Marshal(envelope{Recipe: r, StoredAt: now.UTC()})
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	handle := uuid.NewString()
	if err := s.store.Set(ctx, keyPrefix+handle, payload); err != nil {
		return "", fmt.Errorf("session: put: %w", err)
	}
	return handle, nil
}

// Get returns the recipe stored under handle. Expired handles are deleted
// and reported as not found.
func (s *Store) Get(ctx context.Context, handle string) (recipe.Recipe, error) {
	if _, err := uuid.Parse(handle); err != nil {
		return recipe.Recipe{}, ErrHandleNotFound
	}
	key := keyPrefix + handle
	entry, ok, err := s.read(ctx, key)
	if err != nil {
		return recipe.Recipe{}, err
	}
	if !ok {
		return recipe.Recipe{}, ErrHandleNotFound
	}
	if s.expired(entry, s.clock.Now()) {
		if err := s.store.Delete(ctx, key); err != nil {
			return recipe.Recipe{}, fmt.Errorf("session: release: %w", err)
		}
		return recipe.Recipe{}, ErrHandleNotFound
	}
	return entry.Recipe, nil
}

// Release drops a handle. Unknown handles are ignored.
func (s *Store) Release(ctx context.Context, handle string) error {
	if _, err := uuid.Parse(handle); err != nil {
		return nil
	}
	if err := s.store.Delete(ctx, keyPrefix+handle); err != nil {
		return fmt.Errorf("session: release: %w", err)
	}
	return nil
}

// Sweep deletes expired or unreadable handles and returns how many went.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.store.Keys(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	removed := 0
	for _, key := range keys {
		entry, ok, err := s.read(ctx, key)
		if err == nil && (!ok || !s.expired(entry, now)) {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("session: sweep: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) read(ctx context.Context, key string) (envelope, bool, error) {
	payload, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return envelope{}, false, fmt.Errorf("session: get: %w", err)
	}
	if !ok {
		return envelope{}, false, nil
	}
	var entry envelope
	if err := json.Unmarshal(payload, &entry); err != nil {
		return envelope{}, false, fmt.Errorf("session: decode: %w", err)
	}
	return entry, true, nil
}

func (s *Store) expired(entry envelope, now time.Time) bool {
	return now.Sub(entry.StoredAt) >= s.ttl
}
