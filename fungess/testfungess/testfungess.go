package testfungess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungeclock"
	"noisefunge.org/funged/fungess"
	"noisefunge.org/funged/fungess/internal/dbutil"
	"noisefunge.org/funged/internal/testutil"
)

// New starts a server driven by a manual clock. It is stopped during cleanup.
func New(t testing.TB, params fungess.Params) (*fungess.Server, *fungeclock.Manual) {
	ctx, cf := context.WithCancel(testutil.Context(t))
	clk := fungeclock.NewManual()
	if params.Engine == nil {
		params.Engine = befunge.NewEngine(befunge.WithSeed(1))
	}
	params.Clock = clk
	s := fungess.New(params)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cf()
		<-done
	})
	return s, clk
}

// NewJournal creates a journal backed by an in memory database, and runs it until cleanup.
func NewJournal(t testing.TB) *fungess.Journal {
	ctx, cf := context.WithCancel(testutil.Context(t))
	db := dbutil.NewTestDB(t)
	require.NoError(t, fungess.SetupDB(ctx, db))
	j := fungess.NewJournal(db)
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	t.Cleanup(func() {
		cf()
		<-done
	})
	return j
}

// Tick advances clk by n, and waits for the server to handle it.
func Tick(t testing.TB, s *fungess.Server, clk *fungeclock.Manual, n uint64) {
	ctx := testutil.Context(t)
	require.NoError(t, clk.Tick(ctx, n))
	_, err := s.Stats(ctx)
	require.NoError(t, err)
}

// Start starts a process and fails the test on error.
func Start(t testing.TB, s *fungess.Server, name, src string) befunge.PID {
	pid, err := s.StartProcess(testutil.Context(t), name, []byte(src))
	require.NoError(t, err)
	return pid
}
