package fungecmd

import (
	"fmt"
	"io"

	"go.brendoncarroll.net/star"

	"noisefunge.org/funged/befunge"
)

var beatsParam = star.Param[uint64]{
	Name:    "beats",
	Default: star.Ptr("1000"),
	Parse:   parseUint,
}

var seedParam = star.Param[uint64]{
	Name:    "seed",
	Default: star.Ptr("0"),
	Parse:   parseUint,
}

var run = star.Command{
	Metadata: star.Metadata{
		Short: "run a program locally, without a clock, and print what it does",
	},
	Flags: []star.IParam{fileParam, beatsParam, seedParam},
	F: func(c star.Context) error {
		name, src, err := readProgram(fileParam.Load(c))
		if err != nil {
			return err
		}
		prog, err := befunge.Parse(src)
		if err != nil {
			return err
		}
		return RunHeadless(c.StdOut, name, prog, beatsParam.Load(c), seedParam.Load(c))
	},
}

// RunHeadless steps an engine running prog until every process has exited, or for at most beats.
// Each event is written to w, followed by the final status of every remaining process.
func RunHeadless(w io.Writer, name string, prog *befunge.Program, beats, seed uint64) error {
	e := befunge.NewEngine(befunge.WithSeed(seed))
	e.MakeProcess(name, prog)
	for e.Len() > 0 && e.Beat() < beats {
		beat, log := e.Step()
		for _, ev := range log {
			if err := printEvent(w, beat, ev); err != nil {
				return err
			}
		}
	}
	for _, ps := range e.State().Procs {
		if _, err := fmt.Fprintf(w, "%d\tpid=%d\t%s\n", e.Beat(), ps.PID, ps.Status); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(w io.Writer, beat uint64, ev befunge.Event) error {
	var err error
	switch ev.Kind {
	case befunge.EventNote:
		n := ev.Note
		_, err = fmt.Fprintf(w, "%d\tpid=%d\tnote ch=%d pitch=%d vel=%d\n", beat, ev.PID, n.Channel, n.Pitch, n.Velocity)
	case befunge.EventSpawn:
		_, err = fmt.Fprintf(w, "%d\tpid=%d\tspawn parent=%d\n", beat, ev.PID, ev.Parent)
	case befunge.EventExit:
		_, err = fmt.Fprintf(w, "%d\tpid=%d\texit %v\n", beat, ev.PID, ev.Status)
	}
	return err
}

var check = star.Command{
	Metadata: star.Metadata{
		Short: "parse a program and print its dimensions",
	},
	Flags: []star.IParam{fileParam},
	F: func(c star.Context) error {
		_, src, err := readProgram(fileParam.Load(c))
		if err != nil {
			return err
		}
		prog, err := befunge.Parse(src)
		if err != nil {
			return err
		}
		c.Printf("ok %dx%d\n", prog.Width(), prog.Height())
		return nil
	},
}
