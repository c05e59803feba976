package fungecfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/internal/testutil"
)

const exampleConfig = `
port = 8080
period = 4
db = "funged.db"
beats_in = "portaudio"

[clock]
sample_rate = 48000
frames_per_buffer = 1024

[out.synth]
connect = "FLUID"
starting = 0

[out.drums]
connect = ["Drum Machine", "Recorder"]
starting = 16
ending = 17

[out.unused]
connect = "nowhere"

[channel.3]
bank = 1
program = 12

[channel.17]
program = 5
`

func TestLoad(t *testing.T) {
	p := testutil.WriteFile(t, "funged.toml", []byte(exampleConfig))
	cfg, err := Load(p)
	require.NoError(t, err)

	require.Equal(t, DefaultHost, cfg.Host)
	require.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	require.Equal(t, uint64(4), cfg.Period)
	require.Equal(t, "funged.db", cfg.DB)
	require.Equal(t, BeatsPortAudio, cfg.BeatsIn)
	require.Equal(t, 48000.0, cfg.Clock.SampleRate)
	require.Equal(t, 1024, cfg.Clock.FramesPerBuffer)

	routes, err := cfg.Routes()
	require.NoError(t, err)
	require.Equal(t, []Route{
		{Name: "synth", Connect: []string{"FLUID"}, Starting: 0, Ending: 15},
		{Name: "drums", Connect: []string{"Drum Machine", "Recorder"}, Starting: 16, Ending: 17},
	}, routes)

	chans, err := cfg.Channels(routes)
	require.NoError(t, err)
	require.Len(t, chans, 2)
	require.Equal(t, uint8(1), *chans[3].Bank)
	require.Equal(t, uint8(12), *chans[3].Program)
	require.Nil(t, chans[17].Bank)
	require.Equal(t, uint8(5), *chans[17].Program)
}

func TestDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), *cfg)
	require.Equal(t, "0.0.0.0:1312", cfg.ListenAddr())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/funged.toml")
	require.Error(t, err)
}

func TestInvalid(t *testing.T) {
	for _, tc := range []struct {
		Name string
		Data string
	}{
		{"period", `period = 0`},
		{"beats_in", `beats_in = "metronome"`},
		{"rate", "[clock]\nrate = 0"},
		{"unknown key", `colour = "blue"`},
		{"connect type", "[out.a]\nconnect = 3\nstarting = 0"},
		{"connect elem", "[out.a]\nconnect = [\"x\", 3]\nstarting = 0"},
		{"range", "[out.a]\nstarting = 250"},
		{"backwards", "[out.a]\nstarting = 10\nending = 5"},
		{"overlap", "[out.a]\nstarting = 0\n[out.b]\nstarting = 15"},
		{"channel key", "[out.a]\nstarting = 0\n[channel.x]\nbank = 1"},
		{"channel big", "[out.a]\nstarting = 0\n[channel.256]\nbank = 1"},
		{"channel unrouted", "[out.a]\nstarting = 0\n[channel.16]\nbank = 1"},
		{"program", "[out.a]\nstarting = 0\n[channel.1]\nprogram = 200"},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			_, err := Parse([]byte(tc.Data))
			require.Error(t, err)
		})
	}
}
