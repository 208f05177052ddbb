package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T) *SlidingWindow {
	t.Helper()
	l, err := New(Config{})
	require.NoError(t, err)
	return l
}

func TestNewAppliesDefaults(t *testing.T) {
	l := newLimiter(t)
	require.Equal(t, time.Minute, l.Window())
	require.Equal(t, 10, l.MaxRequests())
}

func TestNewRejectsNegativeValues(t *testing.T) {
	_, err := New(Config{Window: -time.Second})
	require.Error(t, err)
	_, err = New(Config{MaxRequests: -1})
	require.Error(t, err)
}

func TestScenarioFillWindow(t *testing.T) {
	l := newLimiter(t)
	require.True(t, l.CanAdmit(t0))
	require.Zero(t, l.TimeUntilNextSlot(t0))

	for i := 0; i < 10; i++ {
		l.Record(t0.Add(time.Duration(i) * 5000 * time.Millisecond / 9))
	}
	now := t0.Add(5000 * time.Millisecond)
	require.False(t, l.CanAdmit(now))
	require.Equal(t, time.Minute-5000*time.Millisecond, l.TimeUntilNextSlot(now))
	require.Zero(t, l.RemainingCapacity(now))
}

func TestBoundaryReleasesOldestSlot(t *testing.T) {
	l := newLimiter(t)
	for i := 0; i < 10; i++ {
		l.Record(t0.Add(time.Duration(i) * time.Second))
	}
	require.False(t, l.CanAdmit(t0.Add(59*time.Second)))

	// At exactly WINDOW after the oldest it no longer counts.
	later := t0.Add(time.Minute)
	require.True(t, l.CanAdmit(later))
	require.Equal(t, 1, l.RemainingCapacity(later))
	require.Len(t, l.Snapshot(), 9)
}

func TestRemainingCapacityTracksRecords(t *testing.T) {
	l := newLimiter(t)
	require.Equal(t, 10, l.RemainingCapacity(t0))
	l.Record(t0)
	l.Record(t0.Add(time.Second))
	require.Equal(t, 8, l.RemainingCapacity(t0.Add(2*time.Second)))
	require.Equal(t, 10, l.RemainingCapacity(t0.Add(2*time.Minute)))
}

func TestTimeUntilNextSlotNeverNegative(t *testing.T) {
	l := newLimiter(t)
	l.Record(t0)
	require.Zero(t, l.TimeUntilNextSlot(t0.Add(5*time.Minute)))
}

func TestRestoreSortsAndCopies(t *testing.T) {
	l := newLimiter(t)
	input := []time.Time{t0.Add(2 * time.Second), t0}
	l.Restore(input)
	input[0] = time.Time{}

	snap := l.Snapshot()
	require.Equal(t, []time.Time{t0, t0.Add(2 * time.Second)}, snap)
	require.Equal(t, time.Minute-3*time.Second, l.TimeUntilNextSlot(t0.Add(3*time.Second)))
}
