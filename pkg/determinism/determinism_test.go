package determinism

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pinnedTS = time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)

func TestPinned_IDStreamIsReplayable(t *testing.T) {
	ctx := Context{Seed: 42, Timestamp: pinnedTS, RunID: "R1"}

	s1 := Pinned(ctx)
	s2 := Pinned(ctx)

	for i := 0; i < 10; i++ {
		assert.Equal(t, s1.NewAlertID(), s2.NewAlertID(), "draw %d", i)
	}
}

func TestPinned_DifferentSeedsDiverge(t *testing.T) {
	a := Pinned(Context{Seed: 1, Timestamp: pinnedTS})
	b := Pinned(Context{Seed: 2, Timestamp: pinnedTS})
	assert.NotEqual(t, a.NewAlertID(), b.NewAlertID())
}

func TestPinned_ClockReturnsPinnedTimestamp(t *testing.T) {
	s := Pinned(Context{Seed: 7, Timestamp: pinnedTS})
	assert.Equal(t, pinnedTS, s.Now())
	assert.Equal(t, pinnedTS, s.Now(), "clock must not advance")
}

func TestPinned_WallTimeIsViolation(t *testing.T) {
	s := Pinned(Context{Seed: 7, Timestamp: pinnedTS})
	_, err := s.WallTime()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrViolation))
}

func TestPinned_RunIDFromContext(t *testing.T) {
	s := Pinned(Context{Seed: 7, Timestamp: pinnedTS, RunID: "R1"})
	assert.Equal(t, "R1", s.NewRunID())
}

func TestLive_IDFormat(t *testing.T) {
	s := Live()
	id := s.NewAlertID()
	assert.Regexp(t, regexp.MustCompile(`^ALERT-\d{8}-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, s.NewAlertID())
}

func TestLive_WallTimeAllowed(t *testing.T) {
	s := Live()
	ts, err := s.WallTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, 5*time.Second)
}

func TestPinned_IDEmbedsPinnedDate(t *testing.T) {
	s := Pinned(Context{Seed: 42, Timestamp: pinnedTS})
	assert.Contains(t, s.NewAlertID(), "ALERT-20251229-")
}
