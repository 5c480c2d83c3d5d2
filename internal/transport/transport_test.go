package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFullJitterBackoff_BoundedByCap(t *testing.T) {
	t.Parallel()
	for attempt := 0; attempt < 20; attempt++ {
		d := fullJitterBackoff(attempt, 1, 10)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestFullJitterBackoff_GrowsWithAttempt(t *testing.T) {
	t.Parallel()
	// Base 1s, cap 1000s: by attempt 6 the window should already exceed the
	// attempt-0 window (1s) with overwhelming probability across repeated draws.
	var sawLarge bool
	for i := 0; i < 50; i++ {
		if fullJitterBackoff(6, 1, 1000) > time.Second {
			sawLarge = true
			break
		}
	}
	require.True(t, sawLarge, "expected backoff window to grow with attempt count")
}

func TestMessageKindClassification(t *testing.T) {
	t.Parallel()
	classify := func(raw []byte) Kind {
		switch string(raw) {
		case "depth":
			return Depth
		case "trade":
			return Trade
		default:
			return Unknown
		}
	}
	require.Equal(t, Depth, classify([]byte("depth")))
	require.Equal(t, Trade, classify([]byte("trade")))
	require.Equal(t, Unknown, classify([]byte("garbage")))
}
