package fungess

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess/internal/dbutil"
	"noisefunge.org/funged/internal/testutil"
)

func newTestJournal(t testing.TB) *Journal {
	ctx := testutil.Context(t)
	db := dbutil.NewTestDB(t)
	require.NoError(t, SetupDB(ctx, db))
	// setup is idempotent
	require.NoError(t, SetupDB(ctx, db))
	return NewJournal(db)
}

func TestJournalWrite(t *testing.T) {
	ctx := testutil.Context(t)
	j := newTestJournal(t)
	src := []byte("t@")

	for _, e := range []journalEntry{
		{kind: entryStart, pid: 1, name: "forker", source: src, beat: 3},
		{kind: entryStart, pid: 2, name: "again", source: src, beat: 3},
		{kind: entrySpawn, pid: 3, parent: 1, beat: 4},
		{kind: entryExit, pid: 1, status: befunge.Finished().String(), beat: 5},
	} {
		require.NoError(t, j.write(ctx, e))
	}

	maxPID, err := j.MaxPID(ctx)
	require.NoError(t, err)
	require.Equal(t, befunge.PID(3), maxPID)

	recs, err := j.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	hash := ProgramHash(src)
	hashHex := hex.EncodeToString(hash[:])

	// newest first
	child := recs[0]
	require.Equal(t, befunge.PID(3), child.PID)
	require.Equal(t, "forker", child.Name)
	require.Equal(t, hashHex, child.ProgramHash)
	require.NotNil(t, child.Parent)
	require.Equal(t, befunge.PID(1), *child.Parent)
	require.Nil(t, child.ExitBeat)
	require.Equal(t, "running", child.Status)

	parent := recs[2]
	require.Nil(t, parent.Parent)
	require.NotNil(t, parent.ExitBeat)
	require.Equal(t, uint64(5), *parent.ExitBeat)
	require.Equal(t, "finished", parent.Status)
	require.Len(t, parent.Started(), 1+16+8)

	recs, err = j.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	data, err := j.Program(ctx, hashHex)
	require.NoError(t, err)
	require.Equal(t, src, data)
	_, err = j.Program(ctx, hex.EncodeToString(make([]byte, 32)))
	require.ErrorIs(t, err, ErrProgramNotFound)
}

func TestJournalRun(t *testing.T) {
	ctx := testutil.Context(t)
	j := newTestJournal(t)
	go j.Run(ctx)

	j.RecordStart(7, "a", []byte("@"), 0)
	j.RecordExit(7, befunge.Dead(befunge.ReasonKilled), 2)
	require.Eventually(t, func() bool {
		recs, err := j.History(ctx, 10)
		require.NoError(t, err)
		return len(recs) == 1 && recs[0].Status == "dead: killed"
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(0), j.Dropped())
}

func TestServerJournal(t *testing.T) {
	ctx := testutil.Context(t)
	j := newTestJournal(t)
	go j.Run(ctx)
	s := newTestServer(t, Params{Journal: j})

	pid, err := s.StartProcess(ctx, "forker", []byte("t@"))
	require.NoError(t, err)
	s.tick(t, 1)
	s.tick(t, 1)

	require.Eventually(t, func() bool {
		recs, err := j.History(ctx, 10)
		require.NoError(t, err)
		if len(recs) != 2 {
			return false
		}
		return recs[0].Parent != nil && *recs[0].Parent == pid &&
			recs[0].Status == "finished" && recs[1].Status == "finished"
	}, time.Second, 10*time.Millisecond)
}
