// package fungehttp serves the funge server system over HTTP.
package fungehttp

import (
	"context"
	"embed"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
	"go.brendoncarroll.net/exp/slices2"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess"
)

const (
	// PollTimeout is the longest a state request will wait for a new beat.
	PollTimeout = 30 * time.Second
	// MaxSourceSize is the largest program accepted.
	MaxSourceSize = 1 << 20

	MIMECBOR = "application/cbor"
)

func Serve(ctx context.Context, l net.Listener, sys *fungess.Server, j *fungess.Journal) error {
	return New(sys, j).Serve(ctx, l)
}

// devPath is the path to the views from the directory the application is run.
// when it is empty the embeded views are used.
var devPath = "" // "./fungess/fungehttp"

type Server struct {
	sys     *fungess.Server
	journal *fungess.Journal
	app     *fiber.App
	bgCtx   context.Context
}

// New creates a Server. The journal may be nil, in which case history is not available.
func New(sys *fungess.Server, j *fungess.Journal) *Server {
	s := &Server{sys: sys, journal: j, bgCtx: context.Background()}

	var renderer *html.Engine
	if devPath != "" {
		renderer = html.New(devPath, ".html")
		renderer.Reload(true)
	} else {
		renderer = html.NewFileSystem(http.FS(viewFS), ".html")
	}
	renderer.AddFunc("shortHash", func(x string) string {
		return x[:min(len(x), 12)]
	})
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// names and sources outlive the request, so they must not alias fasthttp's buffers.
		Immutable: true,
		Views:     renderer,
		BodyLimit: MaxSourceSize,
	})
	// views
	app.Get("/", s.home)
	app.Post("/kill/:pid", s.killForm)

	v1 := app.Group("/v1")
	v1.Post("/procs", s.postProc)
	v1.Get("/procs/:pid", s.inspect)
	v1.Post("/kill", s.kill)
	v1.Get("/state", s.state)
	v1.Get("/stats", s.stats)
	v1.Get("/events", s.events)
	v1.Get("/history", s.history)
	v1.Get("/programs/:hash", s.program)
	v1.Get("/ws", websocket.New(s.handleWS))
	s.app = app
	return s
}

// Serve serves HTTP on l until the context is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.bgCtx = ctx
	logctx.Infof(ctx, "serving on %v", l.Addr())
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			logctx.Error(ctx, "shutting down http", zap.Error(err))
		}
	}()
	return s.app.Listener(l)
}

func (s *Server) home(c *fiber.Ctx) error {
	ctx := s.bgCtx
	snap, err := s.sys.Current(ctx)
	if err != nil {
		return err
	}
	stats, err := s.sys.Stats(ctx)
	if err != nil {
		return err
	}
	events, err := s.sys.Recent(ctx)
	if err != nil {
		return err
	}
	slices.Reverse(events)
	var recent []fungess.ProcRecord
	if s.journal != nil {
		if recent, err = s.journal.History(ctx, 20); err != nil {
			logctx.Error(ctx, "reading history", zap.Error(err))
		}
	}
	return c.Render("view/home", struct {
		Hostname string
		Beat     uint64
		Stats    fungess.Stats
		Procs    []procRow
		Events   []fungess.BeatEvent
		History  []fungess.ProcRecord
	}{
		Hostname: c.Hostname(),
		Beat:     snap.Beat,
		Stats:    *stats,
		Procs:    slices2.Map(snap.Procs, newProcRow),
		Events:   events,
		History:  recent,
	}, "view/layout")
}

func (s *Server) killForm(c *fiber.Ctx) error {
	pid, err := getPID(c)
	if err != nil {
		return err
	}
	if err := s.sys.Kill(s.bgCtx, befunge.KillRequest{PIDs: []befunge.PID{pid}}); err != nil {
		return err
	}
	return c.Redirect("/")
}

// StartReq is the body of POST /v1/procs
type StartReq struct {
	Name    string `json:"name" form:"name"`
	Program string `json:"program" form:"program"`
}

// StartResp is the response to POST /v1/procs
type StartResp struct {
	PID befunge.PID `json:"pid"`
}

func (s *Server) postProc(c *fiber.Ctx) error {
	var req StartReq
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	pid, err := s.sys.StartProcess(s.bgCtx, req.Name, []byte(req.Program))
	if err != nil {
		var perr *befunge.ParseError
		if errors.As(err, &perr) {
			return fiber.NewError(fiber.StatusBadRequest, perr.Error())
		}
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(StartResp{PID: pid})
}

func (s *Server) inspect(c *fiber.Ctx) error {
	pid, err := getPID(c)
	if err != nil {
		return err
	}
	info, err := s.sys.Inspect(s.bgCtx, pid)
	if err != nil {
		if errors.As(err, &befunge.ErrProcNotFound{}) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return err
	}
	return c.JSON(info)
}

func (s *Server) kill(c *fiber.Ctx) error {
	var req befunge.KillRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.sys.Kill(s.bgCtx, req); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// state long polls for a snapshot newer than the prev query parameter.
// It responds 204 if there is none, or if PollTimeout elapses first.
func (s *Server) state(c *fiber.Ctx) error {
	var prev *uint64
	if q := c.Query("prev"); q != "" {
		n, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "prev must be a beat number")
		}
		prev = &n
	}
	ctx, cf := context.WithTimeout(s.bgCtx, PollTimeout)
	defer cf()
	snap, err := s.sys.GetState(ctx, prev)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return c.SendStatus(fiber.StatusNoContent)
	case err != nil:
		return err
	case snap == nil:
		return c.SendStatus(fiber.StatusNoContent)
	}
	var data []byte
	if c.Query("format") == "cbor" {
		c.Set(fiber.HeaderContentType, MIMECBOR)
		data, err = snap.CBOR()
	} else {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		data, err = snap.JSON()
	}
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (s *Server) stats(c *fiber.Ctx) error {
	st, err := s.sys.Stats(s.bgCtx)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) events(c *fiber.Ctx) error {
	evs, err := s.sys.Recent(s.bgCtx)
	if err != nil {
		return err
	}
	if evs == nil {
		evs = []fungess.BeatEvent{}
	}
	return c.JSON(evs)
}

func (s *Server) history(c *fiber.Ctx) error {
	if s.journal == nil {
		return fiber.NewError(fiber.StatusNotFound, "journal is not enabled")
	}
	limit := c.QueryInt("limit", 100)
	recs, err := s.journal.History(s.bgCtx, limit)
	if err != nil {
		return err
	}
	if recs == nil {
		recs = []fungess.ProcRecord{}
	}
	return c.JSON(recs)
}

func (s *Server) program(c *fiber.Ctx) error {
	if s.journal == nil {
		return fiber.NewError(fiber.StatusNotFound, "journal is not enabled")
	}
	src, err := s.journal.Program(s.bgCtx, c.Params("hash"))
	if err != nil {
		if errors.Is(err, fungess.ErrProgramNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Send(src)
}

// handleWS sends a JSON snapshot for every beat, until the client goes away.
func (s *Server) handleWS(c *websocket.Conn) {
	ctx, cf := context.WithCancel(s.bgCtx)
	defer cf()
	logctx.Info(ctx, "started websocket", zap.Stringer("remote", c.RemoteAddr()))
	defer logctx.Info(ctx, "closing websocket", zap.Stringer("remote", c.RemoteAddr()))

	// the client never sends anything meaningful, a read error means it has gone away.
	go func() {
		defer cf()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
	if err := func() error {
		var prev *uint64
		for {
			snap, err := s.sys.GetState(ctx, prev)
			if err != nil {
				return err
			}
			if snap == nil {
				// too many observers, or prev is somehow ahead.
				prev = nil
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
			data, err := snap.JSON()
			if err != nil {
				return err
			}
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
			beat := snap.Beat
			prev = &beat
		}
	}(); err != nil && !errors.Is(err, context.Canceled) {
		logctx.Error(ctx, "handling websocket", zap.Error(err))
	}
}

func getPID(c *fiber.Ctx) (befunge.PID, error) {
	n, err := strconv.ParseUint(c.Params("pid"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "pid must be an integer")
	}
	return befunge.PID(n), nil
}

//go:embed view/*
var viewFS embed.FS

type procRow struct {
	PID    befunge.PID
	Name   string
	Status string
}

func newProcRow(x befunge.ProcState) procRow {
	return procRow{PID: x.PID, Name: x.Name, Status: x.Status}
}
