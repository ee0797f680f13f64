package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestParseLimit(t *testing.T) {
	cases := map[string]float64{
		"5-S":    5,
		"60-M":   1,
		"3600-H": 1,
		"8640-d": 0.1,
	}
	for in, want := range cases {
		r, err := ParseLimit(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, r.Rate, 1e-9, in)
	}

	for _, bad := range []string{"", "5", "x-S", "0-S", "5-W", "5-S-1"} {
		_, err := ParseLimit(bad)
		assert.Error(t, err, bad)
	}
}

func TestMemoryStoreReusesLimiterPerKey(t *testing.T) {
	s := NewMemoryStore(time.Hour)

	a := s.Get("1.2.3.4", rate.Every(time.Hour), 2)
	assert.Same(t, a, s.Get("1.2.3.4", rate.Every(time.Hour), 2))
	assert.NotSame(t, a, s.Get("5.6.7.8", rate.Every(time.Hour), 2))
	assert.Equal(t, 2, s.Len())

	assert.True(t, a.Allow())
	assert.True(t, a.Allow())
	assert.False(t, a.Allow())
}

func TestMemoryStoreEvictsIdleKeys(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(time.Hour)
	s.now = func() time.Time { return now }

	s.Get("old", rate.Inf, 1)
	now = now.Add(50 * time.Minute)
	s.Get("fresh", rate.Inf, 1)
	now = now.Add(20 * time.Minute)

	assert.Equal(t, 1, s.Evict())
	assert.Equal(t, 1, s.Len())
}

func TestRunJanitorStopsWithContext(t *testing.T) {
	s := NewMemoryStore(4 * time.Millisecond)
	s.Get("k", rate.Inf, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunJanitor(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 2*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
