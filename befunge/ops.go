package befunge

import (
	"math/rand/v2"
)

// Op is the behavior of a single instruction.
// An Op is responsible for moving the cursor; nothing advances it automatically.
type Op func(p *Process)

// OpSet maps every instruction byte to an Op.
type OpSet struct {
	ops [256]Op
	rng *rand.Rand
}

// NewOpSet returns the standard instruction table.
// rng is used by the random direction instruction.
func NewOpSet(rng *rand.Rand) *OpSet {
	s := &OpSet{rng: rng}
	for i := range s.ops {
		s.ops[i] = noop
	}
	for i := byte(0); i <= 9; i++ {
		s.ops['0'+i] = pushLit(i)
	}
	for i := byte(0); i <= 5; i++ {
		s.ops['A'+i] = pushLit(10 + i)
	}
	s.ops['<'] = setDirection(Left)
	s.ops['>'] = setDirection(Right)
	s.ops['^'] = setDirection(Up)
	s.ops['v'] = setDirection(Down)
	s.ops['?'] = s.randDirection

	s.ops['+'] = binOp(func(x, y Cell) Cell { return x + y })
	s.ops['-'] = binOp(func(x, y Cell) Cell { return y - x })
	s.ops['*'] = binOp(func(x, y Cell) Cell { return x * y })
	s.ops['/'] = divOp(ReasonDivZero, func(x, y Cell) Cell { return y / x })
	s.ops['%'] = divOp(ReasonModZero, func(x, y Cell) Cell { return y % x })

	s.ops[':'] = dup
	s.ops['\\'] = swap
	s.ops['$'] = drop

	s.ops[';'] = ret
	s.ops['j'] = call
	s.ops['@'] = quit
	s.ops['z'] = sleep
	s.ops['t'] = fork

	s.ops['c'] = setChannel
	s.ops['.'] = note
	return s
}

// Apply executes the instruction under p's cursor.
// Apply does nothing unless p is Running and not blocked.
func (s *OpSet) Apply(p *Process) {
	if p.Status() != Running(false) {
		return
	}
	c, ok := p.Peek()
	if !ok {
		return
	}
	s.ops[c](p)
}

// need kills p if it has fewer than n cells on its stack.
func need(p *Process, n int) bool {
	if p.Depth() < n {
		p.Die(ReasonEmptyStack)
		return false
	}
	return true
}

// pop2 pops x then y. need(p, 2) must have been checked.
func pop2(p *Process) (x, y Cell) {
	x, _ = p.Pop()
	y, _ = p.Pop()
	return x, y
}

func noop(p *Process) {
	p.Step()
}

func pushLit(x Cell) Op {
	return func(p *Process) {
		p.Push(x)
		p.Step()
	}
}

func setDirection(d Dir) Op {
	return func(p *Process) {
		p.SetDirection(d)
		p.Step()
	}
}

func (s *OpSet) randDirection(p *Process) {
	p.SetDirection(Dir(s.rng.IntN(4)))
	p.Step()
}

// binOp pops x then y and pushes fn(x, y).
func binOp(fn func(x, y Cell) Cell) Op {
	return func(p *Process) {
		if !need(p, 2) {
			return
		}
		x, y := pop2(p)
		p.Push(fn(x, y))
		p.Step()
	}
}

// divOp is like binOp, but the process dies with reason if x is zero.
func divOp(reason string, fn func(x, y Cell) Cell) Op {
	return func(p *Process) {
		if !need(p, 2) {
			return
		}
		stack := p.stack
		if stack[len(stack)-1] == 0 {
			p.Die(reason)
			return
		}
		x, y := pop2(p)
		p.Push(fn(x, y))
		p.Step()
	}
}

func dup(p *Process) {
	if !need(p, 1) {
		return
	}
	x, _ := p.Pop()
	p.Push(x)
	p.Push(x)
	p.Step()
}

func swap(p *Process) {
	if !need(p, 2) {
		return
	}
	x, y := pop2(p)
	p.Push(x)
	p.Push(y)
	p.Step()
}

func drop(p *Process) {
	if !need(p, 1) {
		return
	}
	p.Pop()
	p.Step()
}

func ret(p *Process) {
	p.Return()
}

// call pops y then x and enters a new frame at (x, y).
// The caller resumes after the call instruction on return.
func call(p *Process) {
	if !need(p, 2) {
		return
	}
	y, x := pop2(p)
	p.Step()
	p.Call(int(x), int(y))
}

func quit(p *Process) {
	p.SetStatus(Finished())
}

func sleep(p *Process) {
	if !need(p, 1) {
		return
	}
	n, _ := p.Pop()
	p.Trap(Sleep(uint64(n)))
}

func fork(p *Process) {
	p.Trap(Fork())
}

func setChannel(p *Process) {
	if !need(p, 1) {
		return
	}
	ch, _ := p.Pop()
	p.SetChannel(ch)
	p.Step()
}

func note(p *Process) {
	if !need(p, 1) {
		return
	}
	pitch, _ := p.Pop()
	p.Emit(Note{
		Channel:  p.Channel(),
		Pitch:    pitch & 0x7f,
		Velocity: DefaultVelocity,
	})
	p.Step()
}
