package main

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/CodedInternet/gocopis/comms"
	"github.com/CodedInternet/gocopis/onboard"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/CodedInternet/gocopis/onboard/store"
	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func newTestAPI(t *testing.T) (http.Handler, *onboard.SimulatedTransport) {
	log := logrus.New()
	log.Out = ioutil.Discard
	ENV.Log = log
	ENV.DEBUG = true
	ENV.DB = openTestDB(t)

	sim := onboard.NewSimulatedTransport(log, "/dev/ttySIM0")
	core, err := onboard.NewCore(onboard.Options{
		Config:    onboard.DefaultConfig(),
		Transport: sim,
		History:   ENV.DB,
		Log:       log,
	})
	if err != nil {
		t.Fatal(err)
	}
	ENV.Core = core
	ENV.Conductor = comms.NewConductor(core, log)
	t.Cleanup(func() {
		ENV.Conductor.Close()
		core.Terminate()
	})
	return newRouter(), sim
}

func call(h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	if _, ok := body.(string); !ok && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAPI(t *testing.T) {
	h, sim := newTestAPI(t)

	Convey("Ports can be listed and selected", t, func() {
		rr := call(h, "GET", "/api/ports", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, "/dev/ttySIM0")

		So(call(h, "POST", "/api/ports/nope/select", nil).Code, ShouldEqual, http.StatusBadRequest)
		So(call(h, "POST", "/api/ports/%2Fdev%2FttySIM0/select", nil).Code, ShouldEqual, http.StatusOK)
		So(ENV.Core.Ports()[0].IsActive, ShouldBeTrue)
	})

	Convey("Actions can be added, exported and imported", t, func() {
		So(call(h, "DELETE", "/api/actions", nil).Code, ShouldEqual, http.StatusNoContent)

		rr := call(h, "POST", "/api/actions", ActionPayload{Type: hardware.G1, Device: 0, Args: []float64{1, 2, 3, 0, 0}})
		So(rr.Code, ShouldEqual, http.StatusCreated)
		So(call(h, "POST", "/api/actions", ActionPayload{Type: hardware.M17, Args: []float64{1}}).Code, ShouldEqual, http.StatusBadRequest)

		rr = call(h, "GET", "/api/actions/export", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldEqual, ">0G1X1Y2Z3P0T0\n")

		rr = call(h, "POST", "/api/actions/import", ">0G1X1Y2Z3P0T0\n>0C0S1\nM18\n")
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(len(ENV.Core.Actions()), ShouldEqual, 3)

		So(call(h, "POST", "/api/actions/import", "G7\n").Code, ShouldEqual, http.StatusBadRequest)

		So(call(h, "DELETE", "/api/actions/2", nil).Code, ShouldEqual, http.StatusOK)
		So(call(h, "DELETE", "/api/actions/9", nil).Code, ShouldEqual, http.StatusNotFound)

		rr = call(h, "GET", "/api/actions/stats", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"points":1`)
	})

	Convey("Sessions need a connection", t, func() {
		So(call(h, "POST", "/api/session/start", nil).Code, ShouldEqual, http.StatusConflict)
		So(call(h, "POST", "/api/session/dance", nil).Code, ShouldEqual, http.StatusNotFound)
		So(call(h, "POST", "/api/send", SendPayload{Line: "M17"}).Code, ShouldEqual, http.StatusServiceUnavailable)
	})

	Convey("A connected rig images the action list", t, func() {
		So(call(h, "POST", "/api/ports/%2Fdev%2FttySIM0/select", nil).Code, ShouldEqual, http.StatusOK)
		So(call(h, "POST", "/api/connect", ConnectPayload{Baud: 115200}).Code, ShouldEqual, http.StatusOK)
		Reset(func() { call(h, "POST", "/api/disconnect", nil) })

		rr := call(h, "POST", "/api/session/start", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)

		var state comms.StatePayload
		for i := 0; i < 200; i++ {
			json.Unmarshal(call(h, "GET", "/api/session", nil).Body.Bytes(), &state)
			if state.State == onboard.Idle {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		So(state.State, ShouldEqual, onboard.Idle)
		So(state.Connected, ShouldBeTrue)
		So(sim.Written("/dev/ttySIM0"), ShouldNotBeEmpty)

		Convey("and records what it sent", func() {
			var recs []store.SentRecord
			rr := call(h, "GET", "/api/history?limit=10", nil)
			So(rr.Code, ShouldEqual, http.StatusOK)
			So(json.Unmarshal(rr.Body.Bytes(), &recs), ShouldBeNil)
			So(recs, ShouldNotBeEmpty)

			rr = call(h, "GET", "/api/history?session="+ENV.Core.SessionID(), nil)
			So(json.Unmarshal(rr.Body.Bytes(), &recs), ShouldBeNil)
			So(len(recs), ShouldEqual, len(ENV.Core.Sent()))

			So(call(h, "GET", "/api/history?limit=x", nil).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("manual motion is refused while imaging", func() {
			// keep the session waiting on its first acknowledgement
			idle := sim.IdleInterval
			sim.IdleInterval = time.Hour
			defer func() { sim.IdleInterval = idle }()

			ENV.Core.ReplaceActions([]hardware.Action{hardware.NewAction(hardware.G4, hardware.DeviceBroadcast, 1000)})
			So(ENV.Core.Start(), ShouldBeTrue)
			So(call(h, "POST", "/api/send", SendPayload{Line: ">0G0X1Y1Z1P0T0"}).Code, ShouldEqual, http.StatusConflict)
			So(call(h, "POST", "/api/send", SendPayload{Line: ""}).Code, ShouldEqual, http.StatusBadRequest)
			ENV.Core.Cancel()
		})
	})
}

func TestAutoConnect(t *testing.T) {
	Convey("the configured port is connected at startup", t, func() {
		newTestAPI(t)
		config := onboard.DefaultConfig()
		config.Serial.Port = "/dev/ttySIM0"

		autoConnect(ENV.Core, config, false)
		So(ENV.Core.IsConnected(), ShouldBeTrue)
	})

	Convey("a configured port that is not there leaves the rig disconnected", t, func() {
		newTestAPI(t)
		config := onboard.DefaultConfig()
		config.Serial.Port = "/dev/ttyUSB9"

		autoConnect(ENV.Core, config, false)
		So(ENV.Core.IsConnected(), ShouldBeFalse)
	})
}
