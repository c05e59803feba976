package fungecmd

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungecfg"
	"noisefunge.org/funged/fungess"
	"noisefunge.org/funged/internal/testutil"
)

func TestRunHeadless(t *testing.T) {
	var buf bytes.Buffer
	prog := befunge.MustParse("5c9.t@")
	require.NoError(t, RunHeadless(&buf, "demo", prog, 100, 1))
	require.Equal(t, strings.Join([]string{
		"4\tpid=1\tnote ch=5 pitch=9 vel=100",
		"5\tpid=2\tspawn parent=1",
		"6\tpid=1\texit finished",
		"6\tpid=2\texit dead: Pop from empty stack.",
	}, "\n")+"\n", buf.String())
}

func TestRunHeadlessLimit(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RunHeadless(&buf, "loop", befunge.MustParse(">v\n^<"), 10, 1))
	require.Equal(t, "10\tpid=1\trunning\n", buf.String())
}

func TestReadProgram(t *testing.T) {
	p := testutil.WriteFile(t, "melody.bf", []byte("@"))
	name, src, err := readProgram(p)
	require.NoError(t, err)
	require.Equal(t, "melody", name)
	require.Equal(t, []byte("@"), src)
}

func TestPrintHistory(t *testing.T) {
	var buf bytes.Buffer
	parent := befunge.PID(1)
	exit := uint64(9)
	require.NoError(t, printHistory(&buf, []fungess.ProcRecord{
		{PID: 2, Name: "b", ProgramHash: "00112233445566778899", Parent: &parent, StartBeat: 4, Status: "running"},
		{PID: 1, Name: "a", ProgramHash: "00112233445566778899", StartBeat: 3, ExitBeat: &exit, Status: "finished"},
	}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[1], "2\tb\t001122334455\t1\t4\t-\t@"))
	require.True(t, strings.HasPrefix(lines[2], "1\ta\t001122334455\t-\t3\t9\t@"))
}

func TestVoices(t *testing.T) {
	prog := uint8(7)
	vs := voices(map[uint8]fungecfg.ChannelConfig{3: {Program: &prog}})
	require.Len(t, vs, 1)
	require.Nil(t, vs[3].Bank)
	require.Equal(t, uint8(7), *vs[3].Program)
}

func TestNewClock(t *testing.T) {
	cfg := fungecfg.Default()
	clk, err := newClock(&cfg)
	require.NoError(t, err)
	require.NotNil(t, clk.Ticks())

	cfg.BeatsIn = "metronome"
	_, err = newClock(&cfg)
	require.Error(t, err)
}

func TestServeSetupError(t *testing.T) {
	ctx := testutil.Context(t)
	taken := testutil.Listen(t)
	dbPath := filepath.Join(t.TempDir(), "funged.db")

	cfg := fungecfg.Default()
	cfg.DB = dbPath
	cfg.Host = "127.0.0.1"
	cfg.Port = taken.Addr().(*net.TCPAddr).Port
	err := Serve(ctx, &cfg)
	require.Error(t, err)

	cfg.Port = 0
	cfg.BeatsIn = "metronome"
	require.Error(t, Serve(ctx, &cfg))

	// nothing is left holding the database
	db, err := fungess.OpenDB(dbPath)
	require.NoError(t, err)
	defer db.Close()
	j := fungess.NewJournal(db)
	maxPID, err := j.MaxPID(ctx)
	require.NoError(t, err)
	require.Equal(t, befunge.PID(0), maxPID)
}

func TestServeCancel(t *testing.T) {
	ctx, cf := context.WithCancel(testutil.Context(t))
	cfg := fungecfg.Default()
	cfg.DB = filepath.Join(t.TempDir(), "funged.db")
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, &cfg) }()
	cf()
	require.ErrorIs(t, <-done, context.Canceled)
}
