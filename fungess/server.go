// package fungess is the funge server system.
// It owns an Engine and serializes every mutation of it through a single control loop,
// driven by a clock and by requests from other goroutines.
package fungess

import (
	"context"
	"errors"
	"fmt"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungeclock"
	"noisefunge.org/funged/internal/ringbuf"
)

const (
	// DefaultMaxWaiters is the default limit on queued GetState requests.
	DefaultMaxWaiters = 1024
	// DefaultRecentEvents is the default number of step events kept for Recent.
	DefaultRecentEvents = 256
)

var ErrServerClosed = errors.New("fungess: server is not running")

// Bridge consumes the output of every engine step.
type Bridge interface {
	Step(ctx context.Context, beat uint64, log befunge.StepLog) error
}

type Params struct {
	Engine *befunge.Engine
	Clock  fungeclock.Clock
	// Period is the number of clock ticks per beat. Must be at least 1.
	Period uint64

	// Bridge is optional
	Bridge Bridge
	// Journal is optional
	Journal *Journal
	// MaxWaiters limits the number of queued GetState requests. 0 means DefaultMaxWaiters.
	MaxWaiters int
	// RecentEvents is the number of step events kept for Recent. 0 means DefaultRecentEvents.
	RecentEvents int
}

type waiter struct {
	prev uint64
	ctx  context.Context
	resp *Responder[*Snapshot]
}

// Server runs the control loop.
// All of the fields below reqs are only accessed from the goroutine calling Run.
type Server struct {
	params Params
	reqs   chan Request
	// closed is cancelled when Run returns
	closed     context.Context
	markClosed context.CancelFunc

	engine     *befunge.Engine
	state      *Snapshot
	waiting    []waiter
	recent     ringbuf.RingBuf[BeatEvent]
	prevTick   uint64
	prevMissed uint64
}

func New(params Params) *Server {
	if params.Period == 0 {
		params.Period = 1
	}
	if params.MaxWaiters == 0 {
		params.MaxWaiters = DefaultMaxWaiters
	}
	if params.RecentEvents == 0 {
		params.RecentEvents = DefaultRecentEvents
	}
	closed, markClosed := context.WithCancel(context.Background())
	return &Server{
		params:     params,
		reqs:       make(chan Request, 64),
		closed:     closed,
		markClosed: markClosed,

		engine: params.Engine,
		state:  newSnapshot(params.Engine.State()),
		recent: ringbuf.New[BeatEvent](params.RecentEvents),
	}
}

// Run is the control loop. It returns when the context is cancelled or the clock stops.
// Run must be called at most once.
func (s *Server) Run(ctx context.Context) error {
	defer s.markClosed()
	defer s.releaseWaiters(ctx)
	logctx.Info(ctx, "control loop started", zap.Uint64("period", s.params.Period))
	ticks := s.params.Clock.Ticks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case i, ok := <-ticks:
			if !ok {
				return errors.New("fungess: clock stopped")
			}
			s.onTick(ctx, i)
		case req := <-s.reqs:
			s.handle(ctx, req)
		}
	}
}

func (s *Server) onTick(ctx context.Context, i uint64) {
	for j := s.prevTick; j < i; j++ {
		if j%s.params.Period == 0 {
			s.step(ctx)
		}
	}
	s.prevTick = max(s.prevTick, i)
	// rebuilt on every tick, so processes started or killed between beats are visible
	// before the next beat. Waiters only resolve when the beat advances.
	s.updateState(ctx)
	if missed := s.params.Clock.Missed(); missed != s.prevMissed {
		logctx.Warnf(ctx, "missed %d ticks", missed-s.prevMissed)
		s.prevMissed = missed
	}
}

func (s *Server) step(ctx context.Context) {
	beat, log := s.engine.Step()
	if s.params.Bridge != nil {
		if err := s.params.Bridge.Step(ctx, beat, log); err != nil {
			logctx.Error(ctx, "bridge step", zap.Uint64("beat", beat), zap.Error(err))
		}
	}
	for _, ev := range log {
		s.recent.PushBack(newBeatEvent(beat, ev))
		switch ev.Kind {
		case befunge.EventSpawn:
			logctx.Debug(ctx, "process forked", zap.Uint64("pid", uint64(ev.PID)), zap.Uint64("parent", uint64(ev.Parent)))
			if j := s.params.Journal; j != nil {
				j.RecordSpawn(ev.PID, ev.Parent, beat)
			}
		case befunge.EventExit:
			logctx.Info(ctx, "process exited", zap.Uint64("pid", uint64(ev.PID)), zap.Stringer("status", ev.Status))
			if j := s.params.Journal; j != nil {
				j.RecordExit(ev.PID, ev.Status, beat)
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, req Request) {
	var err error
	switch req := req.(type) {
	case StartProcessReq:
		err = req.Resp.Respond(s.startProcess(ctx, req.Name, req.Source))
	case GetStateReq:
		err = s.getState(req)
	case CurrentReq:
		err = req.Resp.Respond(s.state)
	case RecentReq:
		err = req.Resp.Respond(s.recent.AppendAll(nil))
	case KillReq:
		n := s.engine.Kill(req.Selector)
		logctx.Info(ctx, "killed processes", zap.Int("count", n))
	case InspectReq:
		info, found := s.engine.Inspect(req.PID)
		err = req.Resp.Respond(InspectResult{Info: info, Found: found})
	case StatsReq:
		err = req.Resp.Respond(s.stats())
	default:
		err = fmt.Errorf("unknown request type %T", req)
	}
	if err != nil {
		logctx.Error(ctx, "dropping request", zap.Error(err))
	}
}

func (s *Server) startProcess(ctx context.Context, name string, src []byte) StartResult {
	prog, err := befunge.Parse(src)
	if err != nil {
		return StartResult{Err: err}
	}
	pid := s.engine.MakeProcess(name, prog)
	logctx.Info(ctx, "process started", zap.Uint64("pid", uint64(pid)), zap.String("name", name),
		zap.Int("width", prog.Width()), zap.Int("height", prog.Height()))
	if j := s.params.Journal; j != nil {
		j.RecordStart(pid, name, src, s.engine.Beat())
	}
	return StartResult{PID: pid}
}

func (s *Server) getState(req GetStateReq) error {
	var prev uint64
	if req.Prev != nil {
		prev = *req.Prev
	}
	beat := s.state.Beat
	switch {
	case prev < beat:
		return req.Resp.Respond(s.state)
	case prev > beat:
		return req.Resp.Respond(nil)
	case len(s.waiting) >= s.params.MaxWaiters:
		return req.Resp.Respond(nil)
	default:
		ctx := req.Ctx
		if ctx == nil {
			ctx = context.Background()
		}
		s.waiting = append(s.waiting, waiter{prev: prev, ctx: ctx, resp: req.Resp})
		return nil
	}
}

// updateState builds a new snapshot and resolves every waiter whose beat it is newer than.
func (s *Server) updateState(ctx context.Context) {
	s.state = newSnapshot(s.engine.State())
	beat := s.state.Beat
	kept := s.waiting[:0]
	for _, w := range s.waiting {
		switch {
		case w.ctx.Err() != nil:
		case w.prev < beat:
			if err := w.resp.Respond(s.state); err != nil {
				logctx.Error(ctx, "resolving waiter", zap.Error(err))
			}
		default:
			kept = append(kept, w)
		}
	}
	clear(s.waiting[len(kept):])
	s.waiting = kept
}

// releaseWaiters responds nil to every waiter, so none of them block forever.
func (s *Server) releaseWaiters(ctx context.Context) {
	for _, w := range s.waiting {
		if err := w.resp.Respond(nil); err != nil {
			logctx.Error(ctx, "releasing waiter", zap.Error(err))
		}
	}
	s.waiting = nil
}

func (s *Server) stats() Stats {
	st := Stats{
		Beat:         s.engine.Beat(),
		Ticks:        s.prevTick,
		MissedTicks:  s.params.Clock.Missed(),
		Procs:        s.engine.Len(),
		Waiting:      len(s.waiting),
		RecentEvents: s.recent.Len(),
	}
	if s.params.Journal != nil {
		st.JournalDropped = s.params.Journal.Dropped()
	}
	return st
}

func (s *Server) submit(ctx context.Context, req Request) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed.Done():
		return ErrServerClosed
	case s.reqs <- req:
		return nil
	}
}

// await waits for resp, returning ErrServerClosed if the loop exits without responding.
func await[T any](ctx context.Context, s *Server, resp *Responder[T]) (T, error) {
	ctx, cf := context.WithCancelCause(ctx)
	defer cf(nil)
	stop := context.AfterFunc(s.closed, func() { cf(ErrServerClosed) })
	defer stop()
	x, err := resp.Await(ctx)
	if err != nil {
		return x, context.Cause(ctx)
	}
	return x, nil
}

// StartProcess parses src and starts a process running it.
// A *befunge.ParseError is returned if src is not a valid program.
func (s *Server) StartProcess(ctx context.Context, name string, src []byte) (befunge.PID, error) {
	resp := NewResponder[StartResult]()
	if err := s.submit(ctx, StartProcessReq{Name: name, Source: src, Resp: resp}); err != nil {
		return 0, err
	}
	res, err := await(ctx, s, resp)
	if err != nil {
		return 0, err
	}
	return res.PID, res.Err
}

// GetState blocks until there is a snapshot newer than prev.
// It returns nil if there is no such snapshot and the caller should retry with an updated beat.
func (s *Server) GetState(ctx context.Context, prev *uint64) (*Snapshot, error) {
	resp := NewResponder[*Snapshot]()
	if err := s.submit(ctx, GetStateReq{Prev: prev, Ctx: ctx, Resp: resp}); err != nil {
		return nil, err
	}
	return await(ctx, s, resp)
}

// Current returns the latest snapshot. It never waits for a beat.
func (s *Server) Current(ctx context.Context) (*Snapshot, error) {
	resp := NewResponder[*Snapshot]()
	if err := s.submit(ctx, CurrentReq{Resp: resp}); err != nil {
		return nil, err
	}
	return await(ctx, s, resp)
}

// Recent returns the most recent step events, oldest first.
func (s *Server) Recent(ctx context.Context) ([]BeatEvent, error) {
	resp := NewResponder[[]BeatEvent]()
	if err := s.submit(ctx, RecentReq{Resp: resp}); err != nil {
		return nil, err
	}
	return await(ctx, s, resp)
}

// Kill kills the selected processes. It does not wait for the request to be handled.
func (s *Server) Kill(ctx context.Context, sel befunge.KillRequest) error {
	return s.submit(ctx, KillReq{Selector: sel})
}

// Inspect returns information about a live or recently exited process.
func (s *Server) Inspect(ctx context.Context, pid befunge.PID) (*befunge.ProcessInfo, error) {
	resp := NewResponder[InspectResult]()
	if err := s.submit(ctx, InspectReq{PID: pid, Resp: resp}); err != nil {
		return nil, err
	}
	res, err := await(ctx, s, resp)
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, befunge.ErrProcNotFound{PID: pid}
	}
	return &res.Info, nil
}

func (s *Server) Stats(ctx context.Context) (*Stats, error) {
	resp := NewResponder[Stats]()
	if err := s.submit(ctx, StatsReq{Resp: resp}); err != nil {
		return nil, err
	}
	st, err := await(ctx, s, resp)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
