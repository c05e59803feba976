package befunge

import (
	"fmt"
	"slices"
)

type (
	PID  uint64
	Cell = uint8
)

type Dir uint8

const (
	Left Dir = iota
	Right
	Up
	Down
)

func (d Dir) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("Dir(%d)", uint8(d))
	}
}

func (d Dir) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dir) UnmarshalText(data []byte) error {
	for _, x := range []Dir{Left, Right, Up, Down} {
		if string(data) == x.String() {
			*d = x
			return nil
		}
	}
	return fmt.Errorf("invalid direction %q", data)
}

// Reverse returns the opposite direction.
func (d Dir) Reverse() Dir {
	switch d {
	case Left:
		return Right
	case Right:
		return Left
	case Up:
		return Down
	default:
		return Up
	}
}

func (d Dir) delta() (dx, dy int) {
	switch d {
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	case Up:
		return 0, -1
	default:
		return 0, 1
	}
}

// Frame is a cursor on the program grid.
type Frame struct {
	X   int `json:"x"`
	Y   int `json:"y"`
	Dir Dir `json:"dir"`
}

type StatusKind uint8

const (
	StatusRunning StatusKind = iota
	StatusFinished
	StatusDead
)

// Status is the run state of a process.
// A Running status with Blocked set means the process is suspended in a trap.
type Status struct {
	Kind    StatusKind
	Blocked bool
	Reason  string
}

func Running(blocked bool) Status {
	return Status{Kind: StatusRunning, Blocked: blocked}
}

func Finished() Status {
	return Status{Kind: StatusFinished}
}

func Dead(reason string) Status {
	return Status{Kind: StatusDead, Reason: reason}
}

// IsTerminal returns true for Finished and Dead.
func (s Status) IsTerminal() bool {
	return s.Kind != StatusRunning
}

func (s Status) String() string {
	switch s.Kind {
	case StatusRunning:
		if s.Blocked {
			return "blocked"
		}
		return "running"
	case StatusFinished:
		return "finished"
	case StatusDead:
		return "dead: " + s.Reason
	default:
		return fmt.Sprintf("Status(%d)", s.Kind)
	}
}

type SyscallKind uint8

const (
	SysSleep SyscallKind = iota + 1
	SysFork
)

type Syscall struct {
	Kind  SyscallKind
	Beats uint64
}

func Sleep(beats uint64) Syscall {
	return Syscall{Kind: SysSleep, Beats: beats}
}

func Fork() Syscall {
	return Syscall{Kind: SysFork}
}

func (sc Syscall) String() string {
	switch sc.Kind {
	case SysSleep:
		return fmt.Sprintf("sleep(%d)", sc.Beats)
	case SysFork:
		return "fork"
	default:
		return "none"
	}
}

// Note is a note emitted by a process during a single instruction.
type Note struct {
	Channel  uint8
	Pitch    uint8
	Velocity uint8
}

// DefaultVelocity is the velocity of notes emitted with the note instruction.
const DefaultVelocity = 100

// Process is one running instance of a Program.
// Processes are owned by a single goroutine and do no locking.
type Process struct {
	pid  PID
	name string
	prog *Program

	stack   []Cell
	frames  []Frame
	status  Status
	syscall Syscall

	channel uint8
	outbox  []Note
}

// NewProcess creates a process at the top left corner of prog, heading right.
func NewProcess(pid PID, name string, prog *Program) *Process {
	return &Process{
		pid:    pid,
		name:   name,
		prog:   prog,
		frames: []Frame{{X: 0, Y: 0, Dir: Right}},
		status: Running(false),
	}
}

func (p *Process) PID() PID {
	return p.pid
}

func (p *Process) Name() string {
	return p.name
}

func (p *Process) Program() *Program {
	return p.prog
}

func (p *Process) Status() Status {
	return p.status
}

// Syscall returns the pending syscall, only meaningful while blocked.
func (p *Process) Syscall() Syscall {
	return p.syscall
}

func (p *Process) Channel() uint8 {
	return p.channel
}

func (p *Process) SetChannel(ch uint8) {
	p.channel = ch
}

func (p *Process) Push(x Cell) {
	p.stack = append(p.stack, x)
}

// Pop removes the top of the stack. ok is false if the stack is empty.
func (p *Process) Pop() (x Cell, ok bool) {
	if len(p.stack) == 0 {
		return 0, false
	}
	x = p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	return x, true
}

// Depth is the number of cells on the data stack.
func (p *Process) Depth() int {
	return len(p.stack)
}

// Stack returns a copy of the data stack, bottom first.
func (p *Process) Stack() []Cell {
	return slices.Clone(p.stack)
}

// Frames returns a copy of the frame stack, bottom first.
func (p *Process) Frames() []Frame {
	return slices.Clone(p.frames)
}

// Top returns the current frame, or nil if there are none.
func (p *Process) Top() *Frame {
	if len(p.frames) == 0 {
		return nil
	}
	return &p.frames[len(p.frames)-1]
}

// Peek returns the instruction under the current frame.
func (p *Process) Peek() (byte, bool) {
	top := p.Top()
	if top == nil {
		return 0, false
	}
	return p.prog.At(top.X, top.Y), true
}

// Step moves the current frame one cell in its direction, wrapping at the edges.
func (p *Process) Step() {
	top := p.Top()
	if top == nil {
		return
	}
	dx, dy := top.Dir.delta()
	top.X, top.Y = p.prog.wrap(top.X+dx, top.Y+dy)
}

func (p *Process) SetDirection(d Dir) {
	if top := p.Top(); top != nil {
		top.Dir = d
	}
}

func (p *Process) Die(reason string) {
	p.status = Dead(reason)
}

func (p *Process) SetStatus(s Status) {
	p.status = s
}

// Trap suspends the process until the Engine has resolved sc.
func (p *Process) Trap(sc Syscall) {
	p.syscall = sc
	p.status = Running(true)
}

// resume clears the pending syscall and moves past the trapping instruction.
func (p *Process) resume() {
	p.syscall = Syscall{}
	p.status = Running(false)
	p.Step()
}

// Call pushes a new frame at (x, y) heading right.
// The caller's frame is left where it is, so callers should Step first.
func (p *Process) Call(x, y int) {
	x, y = p.prog.wrap(x, y)
	p.frames = append(p.frames, Frame{X: x, Y: y, Dir: Right})
}

// Return pops the current frame.
// If it was the last frame, the process is Finished.
func (p *Process) Return() {
	if len(p.frames) <= 1 {
		p.status = Finished()
		return
	}
	p.frames = p.frames[:len(p.frames)-1]
}

// Emit queues a note to be collected by the Engine.
func (p *Process) Emit(n Note) {
	p.outbox = append(p.outbox, n)
}

func (p *Process) drainOutbox(fn func(Note)) {
	for _, n := range p.outbox {
		fn(n)
	}
	p.outbox = p.outbox[:0]
}

// fork returns a copy of p with a new pid, heading the other way.
func (p *Process) fork(pid PID) *Process {
	child := &Process{
		pid:     pid,
		name:    p.name,
		prog:    p.prog,
		stack:   slices.Clone(p.stack),
		frames:  slices.Clone(p.frames),
		status:  Running(false),
		channel: p.channel,
	}
	top := child.Top()
	top.Dir = top.Dir.Reverse()
	child.Step()
	return child
}

// ProcessInfo is a detailed description of a process.
type ProcessInfo struct {
	PID     PID     `json:"pid"`
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Syscall string  `json:"syscall,omitempty"`
	Channel uint8   `json:"channel"`
	Stack   []int   `json:"stack"`
	Frames  []Frame `json:"frames"`
}

func (p *Process) Info() ProcessInfo {
	info := ProcessInfo{
		PID:     p.pid,
		Name:    p.name,
		Status:  p.status.String(),
		Channel: p.channel,
		Stack:   make([]int, len(p.stack)),
		Frames:  p.Frames(),
	}
	// []uint8 would be encoded as a string.
	for i, x := range p.stack {
		info.Stack[i] = int(x)
	}
	if p.status.Kind == StatusRunning && p.status.Blocked {
		info.Syscall = p.syscall.String()
	}
	return info
}
