package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/l0p7/recipectl/internal/clock"
	"github.com/l0p7/recipectl/internal/recipe"
	"github.com/l0p7/recipectl/internal/storage"
)

func TestPutGetRoundTripKeepsPayload(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})

	var r recipe.Recipe
	require.NoError(t, json.Unmarshal([]byte(`{"uri":"urn:r1","label":"Stew","ingredientLines":["1 onion"]}`), &r))

	handle, err := s.Put(ctx, r)
	require.NoError(t, err)
	_, err = uuid.Parse(handle)
	require.NoError(t, err)

	got, err := s.Get(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, "Stew", got.Label)
	require.Contains(t, string(got.Raw()), "ingredientLines")
}

func TestHandlesAreDistinct(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	r := recipe.Recipe{URI: "urn:r1", Label: "Stew"}

	a, err := s.Put(ctx, r)
	require.NoError(t, err)
	b, err := s.Put(ctx, r)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestUnknownAndMalformedHandles(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})

	_, err := s.Get(ctx, "not-a-handle")
	require.ErrorIs(t, err, ErrHandleNotFound)
	_, err = s.Get(ctx, uuid.NewString())
	require.ErrorIs(t, err, ErrHandleNotFound)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	handle, err := s.Put(ctx, recipe.Recipe{URI: "urn:r1"})
	require.NoError(t, err)

	require.NoError(t, s.Release(ctx, handle))
	_, err = s.Get(ctx, handle)
	require.ErrorIs(t, err, ErrHandleNotFound)
}

func TestPutRequiresURI(t *testing.T) {
	_, err := New(Options{}).Put(context.Background(), recipe.Recipe{Label: "x"})
	require.Error(t, err)
}

func TestReleaseIgnoresUnknownHandles(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.Release(context.Background(), "not-a-handle"))
	require.NoError(t, s.Release(context.Background(), uuid.NewString()))
}

func TestHandleExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemory(0)
	manual := clock.NewManual(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	s := New(Options{Store: backing, TTL: time.Minute, Clock: manual})

	handle, err := s.Put(ctx, recipe.Recipe{URI: "urn:r1"})
	require.NoError(t, err)

	manual.Advance(59 * time.Second)
	_, err = s.Get(ctx, handle)
	require.NoError(t, err)

	manual.Advance(time.Second)
	_, err = s.Get(ctx, handle)
	require.ErrorIs(t, err, ErrHandleNotFound)

	keys, err := backing.Keys(ctx, "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPutSweepsExpiredHandles(t *testing.T) {
	ctx := context.Background()
	backing := storage.NewMemory(0)
	manual := clock.NewManual(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	s := New(Options{Store: backing, TTL: time.Minute, Clock: manual})

	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, recipe.Recipe{URI: "urn:old"})
		require.NoError(t, err)
	}
	require.NoError(t, backing.Set(ctx, keyPrefix+uuid.NewString(), []byte("{broken")))

	manual.Advance(2 * time.Minute)
	fresh, err := s.Put(ctx, recipe.Recipe{URI: "urn:new"})
	require.NoError(t, err)

	keys, err := backing.Keys(ctx, keyPrefix)
	require.NoError(t, err)
	require.Equal(t, []string{keyPrefix + fresh}, keys)
}
