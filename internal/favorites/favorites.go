// Package favorites keeps a per-user ordered list of saved recipes on the
// shared storage substrate.
package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/l0p7/recipectl/internal/metrics"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/storage"
)

const keyPrefix = "favorites_"

var (
	ErrUserRequired      = errors.New("favorites: user required")
	ErrRecipeURIRequired = errors.New("favorites: recipe uri required")
)

// PersistenceError reports a failed favorites write. Unlike cache writes
// these are always surfaced.
type PersistenceError struct {
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("favorites: persist for %q: %v", e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Toggle is the membership change applied by Store.Toggle.
type Toggle string

const (
	Added   Toggle = "added"
	Removed Toggle = "removed"
)

type Options struct {
	Store storage.Store
	// Namespace prefixes every key, shared with the result cache.
	Namespace string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

type Store struct {
	store     storage.Store
	namespace string
	logger    *slog.Logger
	metrics   *metrics.Recorder

	// mu serialises read-modify-write cycles on a user's list.
	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	if opts.Store == nil {
		return nil, errors.New("favorites: store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		store:     opts.Store,
		namespace: opts.Namespace,
		logger:    logger.With(slog.String("agent", "favorites")),
		metrics:   opts.Metrics,
	}, nil
}

// Key returns the un-namespaced storage key for a user's list.
func Key(userID string) string {
	return keyPrefix + userID
}

// List returns the user's favorites in insertion order.
func (s *Store) List(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, userID)
}

// Count returns the number of saved recipes.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	list, err := s.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// IsFavorite reports whether uri is saved for the user.
func (s *Store) IsFavorite(ctx context.Context, userID, uri string) (bool, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(uri) == "" {
		return false, ErrRecipeURIRequired
	}
	list, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return indexOf(list, uri) >= 0, nil
}

// Toggle removes the recipe when its uri is saved and appends it otherwise.
func (s *Store) Toggle(ctx context.Context, userID string, r recipe.Recipe) (Toggle, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(r.URI) == "" {
		return "", ErrRecipeURIRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	action := Added
	if idx := indexOf(list, r.URI); idx >= 0 {
		list = append(list[:idx], list[idx+1:]...)
		action = Removed
	} else {
		list = append(list, r)
	}
	if err := s.save(ctx, userID, list); err != nil {
		return "", err
	}
	s.metrics.ObserveFavoriteToggle(string(action))
	s.logger.Debug("favorite toggled",
		slog.String("user", userID),
		slog.String("uri", r.URI),
		slog.String("action", string(action)),
	)
	return action, nil
}

// Remove deletes uri from the user's list. It reports whether anything was
// removed.
func (s *Store) Remove(ctx context.Context, userID, uri string) (bool, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(uri) == "" {
		return false, ErrRecipeURIRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	idx := indexOf(list, uri)
	if idx < 0 {
		return false, nil
	}
	list = append(list[:idx], list[idx+1:]...)
	if err := s.save(ctx, userID, list); err != nil {
		return false, err
	}
	s.metrics.ObserveFavoriteToggle(string(Removed))
	return true, nil
}

func (s *Store) load(ctx context.Context, userID string) ([]recipe.Recipe, error) {
	payload, ok, err := s.store.Get(ctx, s.namespace+Key(userID))
	if err != nil {
		return nil, fmt.Errorf("favorites: load: %w", err)
	}
	list := []recipe.Recipe{}
	if !ok {
		return list, nil
	}
	if err := json.Unmarshal(payload, &list); err != nil {
		return nil, fmt.Errorf("favorites: decode list for %q: %w", userID, err)
	}
	return list, nil
}

func (s *Store) save(ctx context.Context, userID string, list []recipe.Recipe) error {
	payload, err := json.Marshal(list)
	if err != nil {
		return &PersistenceError{UserID: userID, Err: err}
	}
	if err := s.store.Set(ctx, s.namespace+Key(userID), payload); err != nil {
		s.logger.Warn("favorites write failed", slog.String("user", userID), slog.Any("error", err))
		return &PersistenceError{UserID: userID, Err: err}
	}
	return nil
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", ErrUserRequired
	}
	return userID, nil
}

func indexOf(list []recipe.Recipe, uri string) int {
	for i, r := range list {
		if r.URI == uri {
			return i
		}
	}
	return -1
}
