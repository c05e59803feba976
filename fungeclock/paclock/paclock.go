// package paclock implements a fungeclock.Clock driven by the audio device.
// Each buffer requested by portaudio is one tick.
package paclock

import (
	"context"
	"fmt"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"noisefunge.org/funged/fungeclock"
)

var _ fungeclock.Clock = &Clock{}

type Clock struct {
	*fungeclock.Counter
	sampleRate      float64
	framesPerBuffer int

	underflow atomic.Uint64
}

func New(sampleRate float64, framesPerBuffer int) *Clock {
	return &Clock{
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		Counter:         fungeclock.NewCounter(1),
	}
}

// Run opens the default output device and ticks once per buffer until the context is cancelled.
// The device is fed silence.
func (c *Clock) Run(ctx context.Context) error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("paclock: initializing portaudio: %w", err)
	}
	defer func() {
		if err := pa.Terminate(); err != nil {
			logctx.Error(ctx, "terminating portaudio", zap.Error(err))
		}
	}()
	stream, err := pa.OpenDefaultStream(0, 1, c.sampleRate, c.framesPerBuffer, c.callback)
	if err != nil {
		return fmt.Errorf("paclock: opening stream: %w", err)
	}
	defer stream.Close()
	logctx.Info(ctx, "audio clock started",
		zap.Float64("sample_rate", stream.Info().SampleRate),
		zap.Int("frames_per_buffer", c.framesPerBuffer),
	)
	if err := stream.Start(); err != nil {
		return fmt.Errorf("paclock: starting stream: %w", err)
	}
	<-ctx.Done()
	if err := stream.Stop(); err != nil {
		return err
	}
	return ctx.Err()
}

// callback runs on the audio thread and must not block.
func (c *Clock) callback(out []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
	clear(out)
	if flags&pa.OutputUnderflow != 0 {
		c.underflow.Add(1)
	}
	c.Tick()
}

// Missed counts ticks the control loop was not ready for, plus buffers the device underflowed on.
func (c *Clock) Missed() uint64 {
	return c.Counter.Missed() + c.underflow.Load()
}
