// package fungeclock provides the beat sources which drive the engine.
package fungeclock

import (
	"context"
	"sync/atomic"
	"time"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
)

// Clock is a source of monotonically increasing tick indices.
type Clock interface {
	// Ticks returns a channel which receives tick indices.
	// Indices may skip values if the reader fell behind.
	Ticks() <-chan uint64
	// Missed is the number of ticks which could not be delivered in time.
	Missed() uint64
}

var _ Clock = &Counter{}

// Counter delivers ticks to a buffered channel without ever blocking the producer.
// When the channel is full the tick is counted as missed; the next delivered
// index still reflects every tick that occurred.
// Clocks embed a Counter and call Tick from whatever drives them.
type Counter struct {
	ch     chan uint64
	n      atomic.Uint64
	missed atomic.Uint64
}

func NewCounter(buf int) *Counter {
	return &Counter{ch: make(chan uint64, buf)}
}

// Tick records a tick. It never blocks.
func (c *Counter) Tick() {
	i := c.n.Add(1)
	select {
	case c.ch <- i:
	default:
		c.missed.Add(1)
	}
}

func (c *Counter) Ticks() <-chan uint64 {
	return c.ch
}

func (c *Counter) Missed() uint64 {
	return c.missed.Load()
}

var _ Clock = &Ticker{}

// Ticker is a software clock which ticks at a fixed rate.
type Ticker struct {
	*Counter
	interval time.Duration
}

// NewTicker returns a clock which will tick rate times per second once Run is called.
func NewTicker(rate float64) *Ticker {
	return &Ticker{
		Counter:  NewCounter(1),
		interval: time.Duration(float64(time.Second) / rate),
	}
}

// Run ticks until the context is cancelled.
func (t *Ticker) Run(ctx context.Context) error {
	logctx.Info(ctx, "ticker clock started", zap.Duration("interval", t.interval))
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tk.C:
			t.Tick()
		}
	}
}

var _ Clock = &Manual{}

// Manual is a clock which only ticks when Tick is called.
// It is useful for tests and for running programs headless.
type Manual struct {
	ch     chan uint64
	n      uint64
	missed atomic.Uint64
}

func NewManual() *Manual {
	return &Manual{ch: make(chan uint64)}
}

// Tick advances the clock by n ticks and blocks until the index has been received.
func (m *Manual) Tick(ctx context.Context, n uint64) error {
	m.n += n
	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.ch <- m.n:
		return nil
	}
}

// AddMissed increases the missed counter, as a real clock would under load.
func (m *Manual) AddMissed(n uint64) {
	m.missed.Add(n)
}

func (m *Manual) Ticks() <-chan uint64 {
	return m.ch
}

func (m *Manual) Missed() uint64 {
	return m.missed.Load()
}
