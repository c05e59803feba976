package fungeclock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/internal/testutil"
)

func TestCounter(t *testing.T) {
	c := NewCounter(1)
	c.Tick()
	// the buffer is full, so these are missed
	c.Tick()
	c.Tick()
	require.Equal(t, uint64(2), c.Missed())
	require.Equal(t, uint64(1), <-c.Ticks())

	// the next delivered index accounts for the missed ticks
	c.Tick()
	require.Equal(t, uint64(4), <-c.Ticks())
}

func TestTicker(t *testing.T) {
	ctx, cf := context.WithCancel(testutil.Context(t))
	tk := NewTicker(1000)
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case x := <-tk.Ticks():
			require.Greater(t, x, last)
			last = x
		case <-time.After(time.Second):
			t.Fatal("no tick")
		}
	}
	cf()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestManual(t *testing.T) {
	ctx := testutil.Context(t)
	m := NewManual()
	go func() {
		m.Tick(ctx, 1)
		m.Tick(ctx, 3)
	}()
	require.Equal(t, uint64(1), <-m.Ticks())
	require.Equal(t, uint64(4), <-m.Ticks())

	m.AddMissed(2)
	require.Equal(t, uint64(2), m.Missed())

	ctx2, cf := context.WithCancel(ctx)
	cf()
	require.ErrorIs(t, m.Tick(ctx2, 1), context.Canceled)
}
