package fungecmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.brendoncarroll.net/star"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess"
)

var start = star.Command{
	Metadata: star.Metadata{
		Short: "start a process on a running server",
	},
	Flags: []star.IParam{addrParam, fileParam, nameParam},
	F: func(c star.Context) error {
		client := addrParam.Load(c)
		name, src, err := readProgram(fileParam.Load(c))
		if err != nil {
			return err
		}
		if n := nameParam.Load(c); n != "" {
			name = n
		}
		pid, err := client.StartProcess(c.Context, name, src)
		if err != nil {
			return err
		}
		c.Printf("%d\n", pid)
		return nil
	},
}

var countParam = star.Param[uint64]{
	Name:    "n",
	Default: star.Ptr("1"),
	Parse:   parseUint,
}

var state = star.Command{
	Metadata: star.Metadata{
		Short: "print the next n engine states",
	},
	Flags: []star.IParam{addrParam, countParam},
	F: func(c star.Context) error {
		client := addrParam.Load(c)
		var prev *uint64
		for i := uint64(0); i < countParam.Load(c); {
			st, err := client.GetState(c.Context, prev)
			if err != nil {
				return err
			}
			if st == nil {
				continue
			}
			if err := printJSON(c.StdOut, st); err != nil {
				return err
			}
			beat := st.Beat
			prev = &beat
			i++
		}
		return nil
	},
}

var killNamesParam = star.Param[string]{
	Name:     "name",
	Repeated: true,
	Parse:    star.ParseString,
}

var killAllParam = star.Param[bool]{
	Name:    "all",
	Default: star.Ptr("false"),
	Parse:   strconv.ParseBool,
}

var killPIDsParam = star.Param[befunge.PID]{
	Name:     "pid",
	Repeated: true,
	Parse:    ParsePID,
}

var kill = star.Command{
	Metadata: star.Metadata{
		Short: "kill processes by pid or name",
	},
	Flags: []star.IParam{addrParam, killNamesParam, killAllParam},
	Pos:   []star.IParam{killPIDsParam},
	F: func(c star.Context) error {
		client := addrParam.Load(c)
		sel := befunge.KillRequest{
			PIDs:  killPIDsParam.LoadAll(c),
			Names: killNamesParam.LoadAll(c),
			All:   killAllParam.Load(c),
		}
		if len(sel.PIDs) == 0 && len(sel.Names) == 0 && !sel.All {
			return errors.New("nothing selected, provide pids, -name or -all")
		}
		return client.Kill(c.Context, sel)
	},
}

var inspect = star.Command{
	Metadata: star.Metadata{
		Short: "print the stack and call frames of a process",
	},
	Flags: []star.IParam{addrParam},
	Pos:   []star.IParam{pidParam},
	F: func(c star.Context) error {
		client := addrParam.Load(c)
		info, err := client.Inspect(c.Context, pidParam.Load(c))
		if err != nil {
			return err
		}
		return printJSON(c.StdOut, info)
	},
}

var stats = star.Command{
	Metadata: star.Metadata{
		Short: "print control loop diagnostics",
	},
	Flags: []star.IParam{addrParam},
	F: func(c star.Context) error {
		client := addrParam.Load(c)
		st, err := client.Stats(c.Context)
		if err != nil {
			return err
		}
		return printJSON(c.StdOut, st)
	},
}

var dbParam = star.Param[string]{
	Name:  "db",
	Parse: star.ParseString,
}

var limitParam = star.Param[uint64]{
	Name:    "limit",
	Default: star.Ptr("20"),
	Parse:   parseUint,
}

var history = star.Command{
	Metadata: star.Metadata{
		Short: "list recently started processes from a journal database",
	},
	Flags: []star.IParam{dbParam, limitParam},
	F: func(c star.Context) error {
		db, err := fungess.OpenDB(dbParam.Load(c))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := fungess.SetupDB(c.Context, db); err != nil {
			return err
		}
		j := fungess.NewJournal(db)
		recs, err := j.History(c.Context, int(limitParam.Load(c)))
		if err != nil {
			return err
		}
		return printHistory(c.StdOut, recs)
	},
}

func printHistory(w io.Writer, recs []fungess.ProcRecord) error {
	if _, err := fmt.Fprintf(w, "PID\tNAME\tPROGRAM\tPARENT\tSTART\tEXIT\tSTARTED\tSTATUS\n"); err != nil {
		return err
	}
	for _, r := range recs {
		parent, exit := "-", "-"
		if r.Parent != nil {
			parent = strconv.FormatUint(uint64(*r.Parent), 10)
		}
		if r.ExitBeat != nil {
			exit = strconv.FormatUint(*r.ExitBeat, 10)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%.12s\t%s\t%d\t%s\t%s\t%s\n",
			r.PID, r.Name, r.ProgramHash, parent, r.StartBeat, exit, r.Started(), r.Status); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(w io.Writer, x any) error {
	data, err := json.MarshalIndent(x, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
