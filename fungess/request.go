package fungess

import (
	"context"
	"sync"

	"noisefunge.org/funged/befunge"
)

// Request is a unit of work handled by the control loop.
type Request interface {
	isRequest()
}

// StartProcessReq parses Source and starts a new process.
type StartProcessReq struct {
	Name   string
	Source []byte
	Resp   *Responder[StartResult]
}

type StartResult struct {
	PID befunge.PID
	// Err is a *befunge.ParseError if the source could not be parsed
	Err error
}

// GetStateReq asks for the first snapshot with a beat greater than Prev.
// A nil Prev is treated as 0.
// The response is nil if Prev is ahead of the engine, or if the request could not be queued.
type GetStateReq struct {
	Prev *uint64
	// Ctx is the requester's context. Queued requests are dropped once it is done.
	Ctx  context.Context
	Resp *Responder[*Snapshot]
}

// CurrentReq asks for the latest snapshot without waiting.
type CurrentReq struct {
	Resp *Responder[*Snapshot]
}

// RecentReq asks for the most recent step events, oldest first.
type RecentReq struct {
	Resp *Responder[[]BeatEvent]
}

// BeatEvent is a step log event, and the beat it happened on.
type BeatEvent struct {
	Beat   uint64        `json:"beat"`
	Kind   string        `json:"kind"`
	PID    befunge.PID   `json:"pid"`
	Parent befunge.PID   `json:"parent,omitempty"`
	Note   *befunge.Note `json:"note,omitempty"`
	Status string        `json:"status,omitempty"`
}

func newBeatEvent(beat uint64, ev befunge.Event) BeatEvent {
	be := BeatEvent{Beat: beat, Kind: ev.Kind.String(), PID: ev.PID}
	switch ev.Kind {
	case befunge.EventNote:
		n := ev.Note
		be.Note = &n
	case befunge.EventSpawn:
		be.Parent = ev.Parent
	case befunge.EventExit:
		be.Status = ev.Status.String()
	}
	return be
}

// KillReq kills processes. There is no response.
type KillReq struct {
	Selector befunge.KillRequest
}

type InspectReq struct {
	PID  befunge.PID
	Resp *Responder[InspectResult]
}

type InspectResult struct {
	Info  befunge.ProcessInfo
	Found bool
}

type StatsReq struct {
	Resp *Responder[Stats]
}

// Stats are diagnostics about the control loop.
type Stats struct {
	Beat           uint64 `json:"beat"`
	Ticks          uint64 `json:"ticks"`
	MissedTicks    uint64 `json:"missed_ticks"`
	Procs          int    `json:"procs"`
	Waiting        int    `json:"waiting"`
	RecentEvents   int    `json:"recent_events"`
	JournalDropped uint64 `json:"journal_dropped"`
}

func (StartProcessReq) isRequest() {}
func (GetStateReq) isRequest()     {}
func (CurrentReq) isRequest()      {}
func (RecentReq) isRequest()       {}
func (KillReq) isRequest()         {}
func (InspectReq) isRequest()      {}
func (StatsReq) isRequest()        {}

// Snapshot is an EngineState shared by every observer.
// Encodings are computed at most once, by whichever observer asks first.
type Snapshot struct {
	*befunge.EngineState

	jsonOnce sync.Once
	jsonData []byte
	jsonErr  error

	cborOnce sync.Once
	cborData []byte
	cborErr  error
}

func newSnapshot(st *befunge.EngineState) *Snapshot {
	return &Snapshot{EngineState: st}
}

func (s *Snapshot) JSON() ([]byte, error) {
	s.jsonOnce.Do(func() {
		s.jsonData, s.jsonErr = s.EngineState.MarshalJSON()
	})
	return s.jsonData, s.jsonErr
}

func (s *Snapshot) CBOR() ([]byte, error) {
	s.cborOnce.Do(func() {
		s.cborData, s.cborErr = s.EngineState.MarshalCBOR()
	})
	return s.cborData, s.cborErr
}
