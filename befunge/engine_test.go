package befunge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithSeed(1)}, opts...)...)
}

func TestMakeProcess(t *testing.T) {
	e := newTestEngine()
	pid1 := e.MakeProcess("a", MustParse("@"))
	pid2 := e.MakeProcess("b", MustParse("@"))
	require.Equal(t, PID(1), pid1)
	require.Equal(t, PID(2), pid2)

	// pids are not reused after processes exit
	e.Step()
	require.Equal(t, 0, e.Len())
	pid3 := e.MakeProcess("c", MustParse("@"))
	require.Equal(t, PID(3), pid3)

	e = newTestEngine(WithFirstPID(100))
	require.Equal(t, PID(100), e.MakeProcess("d", MustParse("@")))
}

func TestEngineStep(t *testing.T) {
	e := newTestEngine()
	pid := e.MakeProcess("demo", MustParse(demoSrc))
	for i := 1; i <= 5; i++ {
		beat, log := e.Step()
		require.Equal(t, uint64(i), beat)
		require.Empty(t, log)
	}
	// the 6th instruction is '@'
	beat, log := e.Step()
	require.Equal(t, uint64(6), beat)
	require.Equal(t, StepLog{{Kind: EventExit, PID: pid, Status: Finished()}}, log)
	require.Equal(t, 0, e.Len())

	info, ok := e.Inspect(pid)
	require.True(t, ok)
	require.Equal(t, "finished", info.Status)
}

func TestOneInstructionPerStep(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("a", MustParse("123@"))
	e.MakeProcess("b", MustParse("45@"))
	e.Step()
	e.Step()
	a, _ := e.Inspect(1)
	b, _ := e.Inspect(2)
	require.Equal(t, []int{1, 2}, a.Stack)
	require.Equal(t, []int{4, 5}, b.Stack)
}

func TestIsolation(t *testing.T) {
	e := newTestEngine()
	// b dies on its first instruction, the others are unaffected.
	e.MakeProcess("a", MustParse("12+@"))
	e.MakeProcess("b", MustParse("+"))
	e.MakeProcess("c", MustParse("3:@"))
	_, log := e.Step()
	require.Equal(t, StepLog{{Kind: EventExit, PID: 2, Status: Dead(ReasonEmptyStack)}}, log)
	a, _ := e.Inspect(1)
	c, _ := e.Inspect(3)
	require.Equal(t, []int{1}, a.Stack)
	require.Equal(t, []int{3}, c.Stack)
	require.Equal(t, "running", a.Status)
}

func TestSleep(t *testing.T) {
	e := newTestEngine()
	// sleep for 2 beats, then push 1
	e.MakeProcess("s", MustParse("2z1@"))
	e.Step() // push 2
	e.Step() // trap sleep(2), 2 -> 1
	st := e.State()
	require.Equal(t, "blocked", st.Procs[0].Status)
	e.Step() // 1 -> 0, resume
	info, _ := e.Inspect(1)
	require.Equal(t, "running", info.Status)
	require.Empty(t, info.Stack)
	require.Equal(t, 2, info.Frames[0].X)
	e.Step() // push 1
	info, _ = e.Inspect(1)
	require.Equal(t, []int{1}, info.Stack)
}

func TestSleepOne(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("s", MustParse("1z2@"))
	e.Step() // push 1
	e.Step() // trap sleep(1), 1 -> 0, resume
	info, _ := e.Inspect(1)
	require.Equal(t, "running", info.Status)
	e.Step() // push 2
	info, _ = e.Inspect(1)
	require.Equal(t, []int{2}, info.Stack)
}

func TestSleepZero(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("s", MustParse("0z1@"))
	e.Step() // push 0
	e.Step() // trap and resume on the same step
	info, _ := e.Inspect(1)
	require.Equal(t, "running", info.Status)
	require.Equal(t, 2, info.Frames[0].X)
	e.Step()
	info, _ = e.Inspect(1)
	require.Equal(t, []int{1}, info.Stack)
}

func TestFork(t *testing.T) {
	e := newTestEngine()
	// parent goes right and pushes 1, child goes left and pushes 2.
	e.MakeProcess("f", MustParse("5t1@2"))
	e.Step() // push 5
	_, log := e.Step()
	require.Equal(t, StepLog{{Kind: EventSpawn, PID: 2, Parent: 1}}, log)
	require.Equal(t, 2, e.Len())

	parent, _ := e.Inspect(1)
	child, _ := e.Inspect(2)
	require.Equal(t, Frame{X: 2, Y: 0, Dir: Right}, parent.Frames[0])
	require.Equal(t, Frame{X: 0, Y: 0, Dir: Left}, child.Frames[0])
	require.Equal(t, []int{5}, child.Stack)
	require.Equal(t, "f", child.Name)

	e.Step()
	parent, _ = e.Inspect(1)
	child, _ = e.Inspect(2)
	require.Equal(t, []int{5, 1}, parent.Stack)
	// child executed '5' at x=0, then wraps to x=4
	require.Equal(t, []int{5, 5}, child.Stack)
	require.Equal(t, 4, child.Frames[0].X)
}

func TestKill(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("a", MustParse(" "))
	e.MakeProcess("b", MustParse(" "))
	e.MakeProcess("b", MustParse(" "))

	require.Equal(t, 0, e.Kill(KillRequest{PIDs: []PID{99}}))
	require.Equal(t, 1, e.Kill(KillRequest{PIDs: []PID{1}}))
	// killed processes stay visible until the next step
	st := e.State()
	require.Len(t, st.Procs, 3)
	require.Equal(t, "dead: killed", st.Procs[0].Status)

	_, log := e.Step()
	require.Equal(t, StepLog{{Kind: EventExit, PID: 1, Status: Dead(ReasonKilled)}}, log)

	require.Equal(t, 2, e.Kill(KillRequest{Names: []string{"b"}}))
	e.Step()
	require.Equal(t, 0, e.Len())
	require.Equal(t, 0, e.Kill(KillRequest{All: true}))
}

func TestKillBlocked(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("s", MustParse("Fz"))
	e.Step()
	e.Step()
	require.Equal(t, 1, e.Kill(KillRequest{All: true}))
	_, log := e.Step()
	require.Len(t, log, 1)
	require.Equal(t, EventExit, log[0].Kind)
}

func TestNotesInLog(t *testing.T) {
	e := newTestEngine()
	e.MakeProcess("n", MustParse("2c7.@"))
	var notes []Event
	for i := 0; i < 5; i++ {
		_, log := e.Step()
		notes = append(notes, log.Notes()...)
	}
	require.Equal(t, []Event{{Kind: EventNote, PID: 1, Note: Note{Channel: 2, Pitch: 7, Velocity: DefaultVelocity}}}, notes)
}

func TestState(t *testing.T) {
	e := newTestEngine()
	st := e.State()
	require.Equal(t, uint64(0), st.Beat)
	require.Empty(t, st.Procs)

	e.MakeProcess("a", MustParse("1"))
	e.MakeProcess("b", MustParse("2"))
	e.Step()
	st = e.State()
	require.Equal(t, &EngineState{
		Beat: 1,
		Procs: []ProcState{
			{PID: 1, Name: "a", Status: "running"},
			{PID: 2, Name: "b", Status: "running"},
		},
	}, st)

	// snapshots are not affected by later steps
	e.Kill(KillRequest{All: true})
	e.Step()
	require.Equal(t, uint64(1), st.Beat)
	require.Len(t, st.Procs, 2)
}

func TestStateEncoding(t *testing.T) {
	st := &EngineState{
		Beat:  7,
		Procs: []ProcState{{PID: 3, Name: "x", Status: "running"}},
	}
	data, err := st.MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"beat":7,"procs":[{"pid":3,"name":"x","status":"running"}]}`, string(data))

	data, err = (&EngineState{}).MarshalJSON()
	require.NoError(t, err)
	require.JSONEq(t, `{"beat":0,"procs":[]}`, string(data))

	data, err = st.MarshalCBOR()
	require.NoError(t, err)
	st2, err := UnmarshalStateCBOR(data)
	require.NoError(t, err)
	require.Equal(t, st, st2)
}
