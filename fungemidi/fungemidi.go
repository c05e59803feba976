// package fungemidi turns the notes emitted by funge processes into MIDI messages.
package fungemidi

import (
	"context"
	"errors"
	"fmt"

	"gitlab.com/gomidi/midi/v2"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess"
)

// ccBankSelect is the MSB bank select controller.
const ccBankSelect = 0

// SendFunc sends a message to one or more MIDI outputs.
type SendFunc = func(midi.Message) error

// Route sends the global channels Starting through Ending to Send.
type Route struct {
	Name     string
	Starting uint8
	Ending   uint8
	Send     SendFunc
}

// Voice is the bank and program selected on a global channel when the bridge starts.
type Voice struct {
	Bank    *uint8
	Program *uint8
}

type heldNote struct {
	route   int
	channel uint8
	key     uint8
}

var _ fungess.Bridge = &Bridge{}

// Bridge implements fungess.Bridge.
// Every note lasts exactly one beat.
type Bridge struct {
	routes []Route
	voices map[uint8]Voice
	held   []heldNote
}

func New(routes []Route, voices map[uint8]Voice) *Bridge {
	return &Bridge{routes: routes, voices: voices}
}

// Init selects the bank and program for every configured voice.
func (b *Bridge) Init(ctx context.Context) error {
	var errs []error
	for g, v := range b.voices {
		ri, ch, ok := b.route(g)
		if !ok {
			logctx.Warn(ctx, "voice on unrouted channel", zap.Uint8("channel", g))
			continue
		}
		send := b.routes[ri].Send
		if v.Bank != nil {
			errs = append(errs, send(midi.ControlChange(ch, ccBankSelect, *v.Bank)))
		}
		if v.Program != nil {
			errs = append(errs, send(midi.ProgramChange(ch, *v.Program)))
		}
	}
	return errors.Join(errs...)
}

// Step ends the notes from the previous beat, and starts the notes in log.
func (b *Bridge) Step(ctx context.Context, beat uint64, log befunge.StepLog) error {
	errs := b.release()
	for _, ev := range log.Notes() {
		n := ev.Note
		ri, ch, ok := b.route(n.Channel)
		if !ok {
			logctx.Debug(ctx, "dropping note on unrouted channel",
				zap.Uint64("pid", uint64(ev.PID)), zap.Uint8("channel", n.Channel))
			continue
		}
		if err := b.routes[ri].Send(midi.NoteOn(ch, n.Pitch, n.Velocity)); err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", b.routes[ri].Name, err))
			continue
		}
		b.held = append(b.held, heldNote{route: ri, channel: ch, key: n.Pitch})
	}
	return errors.Join(errs...)
}

// Close ends any held notes.
func (b *Bridge) Close() error {
	return errors.Join(b.release()...)
}

func (b *Bridge) release() (errs []error) {
	for _, h := range b.held {
		if err := b.routes[h.route].Send(midi.NoteOff(h.channel, h.key)); err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", b.routes[h.route].Name, err))
		}
	}
	b.held = b.held[:0]
	return errs
}

// route returns the index of the route covering the global channel g, and the MIDI channel on that route.
func (b *Bridge) route(g uint8) (int, uint8, bool) {
	for i, r := range b.routes {
		if r.Starting <= g && g <= r.Ending {
			return i, (g - r.Starting) % 16, true
		}
	}
	return 0, 0, false
}
