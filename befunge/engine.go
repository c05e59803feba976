package befunge

import (
	"math/rand/v2"
	"slices"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type EventKind uint8

const (
	// EventNote is a note emitted by a process.
	EventNote EventKind = iota + 1
	// EventSpawn is a process created by fork.
	EventSpawn
	// EventExit is a process removed from the engine. Status holds its final status.
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventNote:
		return "note"
	case EventSpawn:
		return "spawn"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is an entry in a StepLog.
type Event struct {
	Kind EventKind
	PID  PID
	// Note is set for EventNote
	Note Note
	// Parent is set for EventSpawn
	Parent PID
	// Status is set for EventExit
	Status Status
}

// StepLog is everything that happened during one Engine.Step
type StepLog []Event

// Notes returns only the note events.
func (l StepLog) Notes() (ret []Event) {
	for _, ev := range l {
		if ev.Kind == EventNote {
			ret = append(ret, ev)
		}
	}
	return ret
}

type engineConfig struct {
	seed      uint64
	firstPID  PID
	exitCache int
}

type EngineOption func(*engineConfig)

// WithSeed seeds the random number generator used by the random direction instruction.
func WithSeed(seed uint64) EngineOption {
	return func(c *engineConfig) { c.seed = seed }
}

// WithFirstPID sets the first PID the engine will allocate.
func WithFirstPID(pid PID) EngineOption {
	return func(c *engineConfig) { c.firstPID = pid }
}

// WithExitCache sets how many exited processes are remembered for Inspect.
func WithExitCache(n int) EngineOption {
	return func(c *engineConfig) { c.exitCache = n }
}

// Engine owns all live processes and steps them together, one instruction per beat.
// An Engine must only be used from a single goroutine.
type Engine struct {
	ops     *OpSet
	beat    uint64
	nextPID PID
	procs   []*Process

	exited *simplelru.LRU[PID, ProcessInfo]
}

func NewEngine(opts ...EngineOption) *Engine {
	cfg := engineConfig{
		seed:      rand.Uint64(),
		firstPID:  1,
		exitCache: 128,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	exited, err := simplelru.NewLRU[PID, ProcessInfo](max(cfg.exitCache, 1), nil)
	if err != nil {
		panic(err)
	}
	return &Engine{
		ops:     NewOpSet(rand.New(rand.NewPCG(cfg.seed, cfg.seed))),
		nextPID: cfg.firstPID,
		exited:  exited,
	}
}

// Beat returns the number of steps taken so far.
func (e *Engine) Beat() uint64 {
	return e.beat
}

// Len returns the number of live processes.
func (e *Engine) Len() int {
	return len(e.procs)
}

// MakeProcess adds a new process running prog, and returns its PID.
// PIDs are never reused.
func (e *Engine) MakeProcess(name string, prog *Program) PID {
	pid := e.allocPID()
	e.procs = append(e.procs, NewProcess(pid, name, prog))
	return pid
}

func (e *Engine) allocPID() PID {
	pid := e.nextPID
	e.nextPID++
	return pid
}

// Step advances every live process by one instruction, resolves pending syscalls,
// removes finished and dead processes, and increments the beat.
// It returns the new beat and a log of what happened.
func (e *Engine) Step() (uint64, StepLog) {
	var log StepLog
	// processes forked during this step do not run until the next one.
	procs := e.procs[:len(e.procs):len(e.procs)]
	for _, p := range procs {
		if p.Status() != Running(false) {
			continue
		}
		e.ops.Apply(p)
		p.drainOutbox(func(n Note) {
			log = append(log, Event{Kind: EventNote, PID: p.PID(), Note: n})
		})
	}
	for _, p := range procs {
		if p.Status() != Running(true) {
			continue
		}
		log = e.resolve(p, log)
	}
	e.procs = slices.DeleteFunc(e.procs, func(p *Process) bool {
		if !p.Status().IsTerminal() {
			return false
		}
		log = append(log, Event{Kind: EventExit, PID: p.PID(), Status: p.Status()})
		e.exited.Add(p.PID(), p.Info())
		return true
	})
	e.beat++
	return e.beat, log
}

// resolve performs the syscall p is blocked on.
func (e *Engine) resolve(p *Process, log StepLog) StepLog {
	sc := p.Syscall()
	switch sc.Kind {
	case SysSleep:
		if sc.Beats > 0 {
			sc.Beats--
			p.syscall = sc
		}
		if sc.Beats == 0 {
			p.resume()
		}
	case SysFork:
		child := p.fork(e.allocPID())
		e.procs = append(e.procs, child)
		log = append(log, Event{Kind: EventSpawn, PID: child.PID(), Parent: p.PID()})
		p.resume()
	default:
		p.resume()
	}
	return log
}

// KillRequest selects processes to kill.
type KillRequest struct {
	PIDs  []PID    `json:"pids,omitempty" form:"pids"`
	Names []string `json:"names,omitempty" form:"names"`
	All   bool     `json:"all,omitempty" form:"all"`
}

func (kr KillRequest) matches(p *Process) bool {
	return kr.All || slices.Contains(kr.PIDs, p.PID()) || slices.Contains(kr.Names, p.Name())
}

// Kill marks every selected process Dead. They are removed on the next Step.
// Selecting a process which does not exist is not an error.
// Kill returns the number of processes killed.
func (e *Engine) Kill(kr KillRequest) (count int) {
	for _, p := range e.procs {
		if p.Status().IsTerminal() || !kr.matches(p) {
			continue
		}
		p.Die(ReasonKilled)
		count++
	}
	return count
}

// Inspect returns information about a live, or recently exited, process.
func (e *Engine) Inspect(pid PID) (ProcessInfo, bool) {
	for _, p := range e.procs {
		if p.PID() == pid {
			return p.Info(), true
		}
	}
	return e.exited.Get(pid)
}

// State returns a snapshot of the engine.
func (e *Engine) State() *EngineState {
	st := &EngineState{
		Beat:  e.beat,
		Procs: make([]ProcState, 0, len(e.procs)),
	}
	for _, p := range e.procs {
		st.Procs = append(st.Procs, ProcState{
			PID:    p.PID(),
			Name:   p.Name(),
			Status: p.Status().String(),
		})
	}
	return st
}
