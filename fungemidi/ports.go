package fungemidi

import (
	"context"
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
)

// Outputs are the MIDI output ports opened for a route.
type Outputs struct {
	ports []drivers.Out
	sends []SendFunc
}

// OpenOutputs opens the first output port matching each name, using the registered driver.
func OpenOutputs(ctx context.Context, names []string) (*Outputs, error) {
	o := &Outputs{}
	for _, name := range names {
		out, err := midi.FindOutPort(name)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("finding midi output %q: %w", name, err)
		}
		send, err := midi.SendTo(out)
		if err != nil {
			o.Close()
			return nil, fmt.Errorf("opening midi output %q: %w", name, err)
		}
		logctx.Info(ctx, "opened midi output", zap.String("name", name), zap.String("port", out.String()))
		o.ports = append(o.ports, out)
		o.sends = append(o.sends, send)
	}
	return o, nil
}

// Send sends msg to every output.
func (o *Outputs) Send(msg midi.Message) error {
	return Fanout(o.sends...)(msg)
}

func (o *Outputs) Close() error {
	var errs []error
	for _, p := range o.ports {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}

// Fanout returns a SendFunc which sends every message to each of sends.
func Fanout(sends ...SendFunc) SendFunc {
	return func(msg midi.Message) error {
		var errs []error
		for _, send := range sends {
			errs = append(errs, send(msg))
		}
		return errors.Join(errs...)
	}
}
