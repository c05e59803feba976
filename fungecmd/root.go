// package fungecmd implements the funged command line tool.
package fungecmd

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.brendoncarroll.net/star"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungecfg"
	"noisefunge.org/funged/fungess/fungehttp"
)

func Root() star.Command {
	return root
}

var root = star.NewDir(star.Metadata{
	Short: "beat synchronized funge engine",
}, map[star.Symbol]star.Command{
	"serve": serve,
	"run":   run,
	"check": check,

	"start":   start,
	"state":   state,
	"kill":    kill,
	"inspect": inspect,
	"stats":   stats,
	"history": history,
})

var configParam = star.Param[*fungecfg.Config]{
	Name:    "config",
	Default: star.Ptr(""),
	Parse: func(x string) (*fungecfg.Config, error) {
		if x == "" {
			cfg := fungecfg.Default()
			return &cfg, nil
		}
		return fungecfg.Load(x)
	},
}

var addrParam = star.Param[*fungehttp.Client]{
	Name:    "addr",
	Default: star.Ptr("http://127.0.0.1:1312"),
	Parse: func(x string) (*fungehttp.Client, error) {
		return fungehttp.NewClient(x), nil
	},
}

var fileParam = star.Param[string]{
	Name:  "f",
	Parse: star.ParseString,
}

var nameParam = star.Param[string]{
	Name:    "name",
	Default: star.Ptr(""),
	Parse:   star.ParseString,
}

var pidParam = star.Param[befunge.PID]{
	Name:  "pid",
	Parse: ParsePID,
}

func ParsePID(x string) (befunge.PID, error) {
	n, err := strconv.ParseUint(x, 10, 64)
	return befunge.PID(n), err
}

func parseUint(x string) (uint64, error) {
	return strconv.ParseUint(x, 10, 64)
}

// readProgram reads the program at p, and returns it along with a process name derived from p.
func readProgram(p string) (name string, src []byte, err error) {
	src, err = os.ReadFile(p)
	if err != nil {
		return "", nil, err
	}
	name = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	return name, src, nil
}

// withLogger returns a context carrying a production logger.
func withLogger(ctx context.Context) (context.Context, func()) {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return logctx.NewContext(ctx, l), func() { l.Sync() }
}
