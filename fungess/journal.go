package fungess

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.brendoncarroll.net/tai64"
	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess/internal/dbutil"
)

type entryKind uint8

const (
	entryStart entryKind = iota + 1
	entrySpawn
	entryExit
)

type journalEntry struct {
	kind   entryKind
	pid    befunge.PID
	parent befunge.PID
	name   string
	source []byte
	beat   uint64
	status string
	at     tai64.TAI64N
}

// Journal records program submissions and process lifetimes to the database.
// Recording never blocks; entries are written by Run.
type Journal struct {
	db      *sqlx.DB
	entries chan journalEntry
	dropped atomic.Uint64
}

func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{
		db:      db,
		entries: make(chan journalEntry, 1024),
	}
}

// Run writes entries until the context is cancelled.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-j.entries:
			if err := j.write(ctx, e); err != nil {
				logctx.Error(ctx, "writing journal", zap.Uint64("pid", uint64(e.pid)), zap.Error(err))
			}
		}
	}
}

// Dropped is the number of entries dropped because the journal fell behind.
func (j *Journal) Dropped() uint64 {
	return j.dropped.Load()
}

func (j *Journal) RecordStart(pid befunge.PID, name string, src []byte, beat uint64) {
	j.submit(journalEntry{kind: entryStart, pid: pid, name: name, source: src, beat: beat})
}

func (j *Journal) RecordSpawn(pid, parent befunge.PID, beat uint64) {
	j.submit(journalEntry{kind: entrySpawn, pid: pid, parent: parent, beat: beat})
}

func (j *Journal) RecordExit(pid befunge.PID, status befunge.Status, beat uint64) {
	j.submit(journalEntry{kind: entryExit, pid: pid, status: status.String(), beat: beat})
}

func (j *Journal) submit(e journalEntry) {
	e.at = tai64.Now()
	select {
	case j.entries <- e:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) write(ctx context.Context, e journalEntry) error {
	s, ns := int64(e.at.Seconds), int64(e.at.Nanoseconds)
	return dbutil.DoTx(ctx, j.db, func(tx *sqlx.Tx) error {
		switch e.kind {
		case entryStart:
			hash := ProgramHash(e.source)
			if _, err := tx.ExecContext(ctx, `INSERT INTO programs (hash, source, created_s, created_ns)
				VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`, hash[:], e.source, s, ns); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO procs (pid, name, program_hash, start_beat, status, started_s, started_ns)
				VALUES (?, ?, ?, ?, 'running', ?, ?)`, e.pid, e.name, hash[:], e.beat, s, ns)
			return err
		case entrySpawn:
			_, err := tx.ExecContext(ctx, `INSERT INTO procs (pid, name, program_hash, parent, start_beat, status, started_s, started_ns)
				SELECT ?, name, program_hash, pid, ?, 'running', ?, ? FROM procs WHERE pid = ?`,
				e.pid, e.beat, s, ns, e.parent)
			return err
		case entryExit:
			_, err := tx.ExecContext(ctx, `UPDATE procs
				SET exit_beat = ?, status = ?, exited_s = ?, exited_ns = ?
				WHERE pid = ?`, e.beat, e.status, s, ns, e.pid)
			return err
		default:
			return fmt.Errorf("unknown journal entry kind %d", e.kind)
		}
	})
}

// MaxPID returns the largest PID ever recorded, or 0.
func (j *Journal) MaxPID(ctx context.Context) (befunge.PID, error) {
	var pid befunge.PID
	err := j.db.GetContext(ctx, &pid, `SELECT COALESCE(MAX(pid), 0) FROM procs`)
	return pid, err
}

// ProcRecord is the journaled history of a single process.
type ProcRecord struct {
	PID         befunge.PID  `db:"pid" json:"pid"`
	Name        string       `db:"name" json:"name"`
	ProgramHash string       `db:"program_hash" json:"program_hash"`
	Parent      *befunge.PID `db:"parent" json:"parent,omitempty"`
	StartBeat   uint64       `db:"start_beat" json:"start_beat"`
	ExitBeat    *uint64      `db:"exit_beat" json:"exit_beat,omitempty"`
	Status      string       `db:"status" json:"status"`
	StartedS    int64        `db:"started_s" json:"-"`
	StartedNS   int64        `db:"started_ns" json:"-"`
}

// Started returns the start time as an external TAI64N label.
func (r ProcRecord) Started() string {
	return fmt.Sprintf("@%016x%08x", uint64(r.StartedS), uint32(r.StartedNS))
}

// History returns up to limit of the most recently started processes, newest first.
func (j *Journal) History(ctx context.Context, limit int) ([]ProcRecord, error) {
	var recs []ProcRecord
	if err := j.db.SelectContext(ctx, &recs, `SELECT pid, name, lower(hex(program_hash)) AS program_hash,
		parent, start_beat, exit_beat, status, started_s, started_ns
		FROM procs
		ORDER BY pid DESC
		LIMIT ?`, limit); err != nil {
		return nil, err
	}
	return recs, nil
}

var ErrProgramNotFound = errors.New("program not found")

// Program returns the source of a program by its hex encoded hash.
func (j *Journal) Program(ctx context.Context, hashHex string) ([]byte, error) {
	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, err
	}
	var src []byte
	if err := j.db.GetContext(ctx, &src, `SELECT source FROM programs WHERE hash = ?`, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}
	return src, nil
}

// ProgramHash is the content ID of program source.
func ProgramHash(src []byte) [32]byte {
	return blake3.Sum256(src)
}
