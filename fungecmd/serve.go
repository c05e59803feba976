package fungecmd

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.brendoncarroll.net/star"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungecfg"
	"noisefunge.org/funged/fungeclock"
	"noisefunge.org/funged/fungeclock/paclock"
	"noisefunge.org/funged/fungemidi"
	"noisefunge.org/funged/fungess"
	"noisefunge.org/funged/fungess/fungehttp"
)

var serve = star.Command{
	Metadata: star.Metadata{
		Short: "run the clock, the engine, the MIDI bridge and the HTTP API",
	},
	Flags: []star.IParam{configParam},
	F: func(c star.Context) error {
		cfg := configParam.Load(c)
		ctx, sync := withLogger(c.Context)
		defer sync()
		return Serve(ctx, cfg)
	},
}

// Serve runs everything described by cfg until the context is cancelled.
// Everything which can fail is set up before the first goroutine is started.
func Serve(ctx context.Context, cfg *fungecfg.Config) error {
	var opts []befunge.EngineOption
	var journal *fungess.Journal
	if cfg.DB != "" {
		db, err := fungess.OpenDB(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := fungess.SetupDB(ctx, db); err != nil {
			return err
		}
		journal = fungess.NewJournal(db)
		// PIDs continue from the previous run, so journal records are never overwritten.
		maxPID, err := journal.MaxPID(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, befunge.WithFirstPID(maxPID+1))
	}
	clk, err := newClock(cfg)
	if err != nil {
		return err
	}
	bridge, closeOuts, err := openBridge(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeOuts()
	params := fungess.Params{
		Engine:  befunge.NewEngine(opts...),
		Clock:   clk,
		Period:  cfg.Period,
		Journal: journal,
	}
	if bridge != nil {
		defer bridge.Close()
		params.Bridge = bridge
	}
	lis, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return err
	}
	srv := fungess.New(params)

	eg, ctx := errgroup.WithContext(ctx)
	if journal != nil {
		eg.Go(func() error { return journal.Run(ctx) })
	}
	eg.Go(func() error { return clk.Run(ctx) })
	eg.Go(func() error { return srv.Run(ctx) })
	eg.Go(func() error { return fungehttp.Serve(ctx, lis, srv, journal) })
	return eg.Wait()
}

type runnableClock interface {
	fungeclock.Clock
	Run(ctx context.Context) error
}

func newClock(cfg *fungecfg.Config) (runnableClock, error) {
	switch cfg.BeatsIn {
	case fungecfg.BeatsTicker:
		return fungeclock.NewTicker(cfg.Clock.Rate), nil
	case fungecfg.BeatsPortAudio:
		return paclock.New(cfg.Clock.SampleRate, cfg.Clock.FramesPerBuffer), nil
	default:
		return nil, fmt.Errorf("unknown beat source %q", cfg.BeatsIn)
	}
}

// openBridge opens the MIDI outputs of every route in cfg.
// It returns a nil Bridge if no route has an output.
func openBridge(ctx context.Context, cfg *fungecfg.Config) (*fungemidi.Bridge, func(), error) {
	cfgRoutes, err := cfg.Routes()
	if err != nil {
		return nil, nil, err
	}
	var outs []*fungemidi.Outputs
	closeAll := func() {
		for _, o := range outs {
			if err := o.Close(); err != nil {
				logctx.Error(ctx, "closing midi outputs", zap.Error(err))
			}
		}
	}
	var routes []fungemidi.Route
	for _, r := range cfgRoutes {
		if len(r.Connect) == 0 {
			logctx.Warn(ctx, "out has no connections", zap.String("out", r.Name))
			continue
		}
		o, err := fungemidi.OpenOutputs(ctx, r.Connect)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		outs = append(outs, o)
		routes = append(routes, fungemidi.Route{
			Name:     r.Name,
			Starting: r.Starting,
			Ending:   r.Ending,
			Send:     o.Send,
		})
	}
	if len(routes) == 0 {
		return nil, closeAll, nil
	}
	chans, err := cfg.Channels(cfgRoutes)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	b := fungemidi.New(routes, voices(chans))
	if err := b.Init(ctx); err != nil {
		closeAll()
		return nil, nil, errors.Join(errors.New("selecting midi programs"), err)
	}
	return b, closeAll, nil
}

func voices(chans map[uint8]fungecfg.ChannelConfig) map[uint8]fungemidi.Voice {
	ret := make(map[uint8]fungemidi.Voice, len(chans))
	for ch, cc := range chans {
		ret[ch] = fungemidi.Voice{Bank: cc.Bank, Program: cc.Program}
	}
	return ret
}
