package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/CodedInternet/gocopis/comms"
	"github.com/CodedInternet/gocopis/onboard"
	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"
)

const maxImport = 4 << 20

var errRefused = errors.New("refused in the current session state")

func apiRoutes(r chi.Router) {
	// moving the rig or touching its connection needs an operator
	op := r.With(RequireOperator)

	r.Route("/ports", func(r chi.Router) {
		r.Get("/", ListPorts)
		r.Post("/refresh", RefreshPorts)
		r.With(RequireOperator).Post("/{name}/select", SelectPort)
	})
	op.Post("/connect", Connect)
	op.Post("/disconnect", Disconnect)

	r.Get("/devices", ListDevices)
	r.Post("/devices/{index}/select", SelectDevice)

	r.Route("/actions", func(r chi.Router) {
		r.Get("/", ListActions)
		r.Post("/", AddAction)
		r.Delete("/", ClearActions)
		r.Delete("/{index}", RemoveAction)
		r.Get("/export", ExportActions)
		r.Post("/import", ImportActions)
		r.Get("/stats", ActionStats)
		r.Post("/interleave", InterleaveActions)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/", SessionState)
		r.With(RequireOperator).Post("/{op}", SessionOp)
	})
	op.Post("/send", SendNow)

	r.Get("/history", History)
}

//---
// Payloads
//---

type ConnectPayload struct {
	Baud int `json:"baud"`
}

func (p *ConnectPayload) Bind(r *http.Request) error {
	if p.Baud == 0 {
		p.Baud = ENV.Core.Config().Serial.Baud
	}
	if p.Baud < 0 {
		return fmt.Errorf("invalid baud %d", p.Baud)
	}
	return nil
}

type ActionPayload struct {
	Type   hardware.ActionType `json:"type"`
	Device int                 `json:"device"`
	Args   []float64           `json:"args"`
}

func (p *ActionPayload) Bind(r *http.Request) error {
	return hardware.NewAction(p.Type, p.Device, p.Args...).Validate()
}

type SendPayload struct {
	Line string `json:"line"`
}

func (p *SendPayload) Bind(r *http.Request) error {
	if strings.TrimSpace(p.Line) == "" {
		return hardware.ErrEmptyLine
	}
	return nil
}

type CountPayload struct {
	Count int `json:"count"`
}

//---
// Helpers
//---

func indexParam(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "index"))
}

//---
// Views
//---

func ListPorts(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Core.Ports())
}

func RefreshPorts(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Core.UpdatePorts(); err != nil {
		render.Render(w, r, ErrUnavailable(err))
		return
	}
	render.JSON(w, r, ENV.Core.Ports())
}

func SelectPort(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := ENV.Core.SelectPort(name); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.JSON(w, r, ENV.Core.Ports())
}

func Connect(w http.ResponseWriter, r *http.Request) {
	data := &ConnectPayload{}
	if r.ContentLength != 0 {
		if err := render.Bind(r, data); err != nil {
			render.Render(w, r, ErrInvalidRequest(err))
			return
		}
	} else if err := data.Bind(r); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := ENV.Core.Connect(data.Baud); err != nil {
		render.Render(w, r, ErrUnavailable(err))
		return
	}
	render.JSON(w, r, comms.State(ENV.Core))
}

func Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := ENV.Core.Disconnect(); err != nil {
		render.Render(w, r, ErrUnavailable(err))
		return
	}
	render.JSON(w, r, comms.State(ENV.Core))
}

func ListDevices(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Core.Devices.Devices())
}

func SelectDevice(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := ENV.Core.SelectDevice(i); err != nil {
		render.Render(w, r, ErrNotFound)
		return
	}
	render.NoContent(w, r)
}

func ListActions(w http.ResponseWriter, r *http.Request) {
	actions := ENV.Core.Actions()
	if actions == nil {
		actions = []hardware.Action{}
	}
	render.JSON(w, r, actions)
}

func AddAction(w http.ResponseWriter, r *http.Request) {
	data := &ActionPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if err := ENV.Core.AddAction(data.Type, data.Device, data.Args...); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, CountPayload{len(ENV.Core.Actions())})
}

func ClearActions(w http.ResponseWriter, r *http.Request) {
	ENV.Core.ClearActions()
	render.NoContent(w, r)
}

func RemoveAction(w http.ResponseWriter, r *http.Request) {
	i, err := indexParam(r)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	a, err := ENV.Core.RemoveAction(i)
	if err != nil {
		render.Render(w, r, ErrNotFound)
		return
	}
	render.JSON(w, r, a)
}

func ExportActions(w http.ResponseWriter, r *http.Request) {
	lines, err := ENV.Core.ExportActions("")
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="actions.gcode"`)
	text := strings.Join(lines, hardware.LineEnding)
	if len(lines) > 0 {
		text += hardware.LineEnding
	}
	render.PlainText(w, r, text)
}

func ImportActions(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxImport))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	n, err := ENV.Core.ImportLines(string(body))
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	render.JSON(w, r, CountPayload{n})
}

func ActionStats(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.Core.PathStats())
}

func InterleaveActions(w http.ResponseWriter, r *http.Request) {
	ENV.Core.InterleaveActions()
	ListActions(w, r)
}

func SessionState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, comms.State(ENV.Core))
}

func SessionOp(w http.ResponseWriter, r *http.Request) {
	var ok bool
	switch op := chi.URLParam(r, "op"); op {
	case "start":
		ok = ENV.Core.Start()
	case "pause":
		ok = ENV.Core.Pause()
	case "resume":
		ok = ENV.Core.Resume()
	case "cancel":
		ENV.Core.Cancel()
		ok = true
	default:
		render.Render(w, r, ErrNotFound)
		return
	}

	if !ok {
		render.Render(w, r, ErrConflict(errRefused))
		return
	}
	render.JSON(w, r, comms.State(ENV.Core))
}

func SendNow(w http.ResponseWriter, r *http.Request) {
	data := &SendPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	a, err := hardware.Parse(data.Line)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	err = ENV.Core.SendNow(a)
	var pv oerrors.ProtocolViolationError
	switch {
	case err == nil:
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, comms.State(ENV.Core))
	case errors.Is(err, onboard.ErrNotConnected):
		render.Render(w, r, ErrUnavailable(err))
	case errors.As(err, &pv):
		render.Render(w, r, ErrConflict(err))
	default:
		render.Render(w, r, ErrInvalidRequest(err))
	}
}

// History lists a session's sent commands, or the most recent ones.
func History(w http.ResponseWriter, r *http.Request) {
	if session := r.URL.Query().Get("session"); session != "" {
		recs, err := ENV.DB.Session(session)
		if err != nil {
			render.Render(w, r, ErrRender(err))
			return
		}
		render.JSON(w, r, recs)
		return
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			render.Render(w, r, ErrInvalidRequest(fmt.Errorf("invalid limit %q", s)))
			return
		}
		limit = n
	}
	recs, err := ENV.DB.Recent(limit)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, recs)
}
