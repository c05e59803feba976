package fungemidi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/internal/testutil"
)

type recorder struct {
	msgs []midi.Message
}

func (r *recorder) send(msg midi.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func noteLog(notes ...befunge.Note) (log befunge.StepLog) {
	for i, n := range notes {
		log = append(log, befunge.Event{Kind: befunge.EventNote, PID: befunge.PID(i + 1), Note: n})
	}
	return log
}

func ptr[T any](x T) *T { return &x }

func TestBridgeStep(t *testing.T) {
	ctx := testutil.Context(t)
	var synth, drums recorder
	b := New([]Route{
		{Name: "synth", Starting: 0, Ending: 15, Send: synth.send},
		{Name: "drums", Starting: 16, Ending: 40, Send: drums.send},
	}, nil)

	require.NoError(t, b.Step(ctx, 1, noteLog(
		befunge.Note{Channel: 2, Pitch: 60, Velocity: 100},
		befunge.Note{Channel: 17, Pitch: 36, Velocity: 100},
		// 16 channels past the start of drums wraps to MIDI channel 0
		befunge.Note{Channel: 32, Pitch: 38, Velocity: 90},
		// unrouted
		befunge.Note{Channel: 200, Pitch: 1, Velocity: 100},
	)))
	require.Equal(t, []midi.Message{midi.NoteOn(2, 60, 100)}, synth.msgs)
	require.Equal(t, []midi.Message{midi.NoteOn(1, 36, 100), midi.NoteOn(0, 38, 90)}, drums.msgs)

	// the next beat releases the previous notes before starting new ones
	synth.msgs, drums.msgs = nil, nil
	require.NoError(t, b.Step(ctx, 2, noteLog(befunge.Note{Channel: 2, Pitch: 62, Velocity: 100})))
	require.Equal(t, []midi.Message{midi.NoteOff(2, 60), midi.NoteOn(2, 62, 100)}, synth.msgs)
	require.Equal(t, []midi.Message{midi.NoteOff(1, 36), midi.NoteOff(0, 38)}, drums.msgs)

	// other events are ignored
	synth.msgs = nil
	require.NoError(t, b.Step(ctx, 3, befunge.StepLog{{Kind: befunge.EventExit, PID: 1, Status: befunge.Finished()}}))
	require.Equal(t, []midi.Message{midi.NoteOff(2, 62)}, synth.msgs)

	synth.msgs = nil
	require.NoError(t, b.Close())
	require.Empty(t, synth.msgs)
}

func TestBridgeInit(t *testing.T) {
	ctx := testutil.Context(t)
	var synth recorder
	b := New([]Route{
		{Name: "synth", Starting: 4, Ending: 19, Send: synth.send},
	}, map[uint8]Voice{
		5: {Bank: ptr[uint8](1), Program: ptr[uint8](12)},
		// unrouted voices are skipped
		100: {Program: ptr[uint8](3)},
	})
	require.NoError(t, b.Init(ctx))
	require.Equal(t, []midi.Message{
		midi.ControlChange(1, ccBankSelect, 1),
		midi.ProgramChange(1, 12),
	}, synth.msgs)
}

func TestFanout(t *testing.T) {
	var a, b recorder
	send := Fanout(a.send, b.send)
	require.NoError(t, send(midi.NoteOn(0, 1, 2)))
	require.Equal(t, a.msgs, b.msgs)
	require.Len(t, a.msgs, 1)
}
