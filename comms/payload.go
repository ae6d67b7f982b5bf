package comms

import (
	"github.com/CodedInternet/gocopis/onboard"
	"github.com/CodedInternet/gocopis/onboard/hardware"
)

// Cmd is a command sent by a websocket client.
type Cmd struct {
	Cmd  string `json:"cmd"`
	Line string `json:"line,omitempty"`
}

// Reply answers one Cmd, to the client that sent it only.
type Reply struct {
	Cmd   string `json:"cmd"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type StatePayload struct {
	State     onboard.SessionState `json:"state"`
	Session   string               `json:"session,omitempty"`
	Connected bool                 `json:"connected"`
	Remaining []hardware.Action    `json:"remaining"`
	Queued    []hardware.Action    `json:"queued"`
}

// State collects what a client needs to draw the session.
func State(core *onboard.Core) StatePayload {
	return StatePayload{
		State:     core.State(),
		Session:   core.SessionID(),
		Connected: core.IsConnected(),
		Remaining: core.Remaining(),
		Queued:    core.SideQueued(),
	}
}
