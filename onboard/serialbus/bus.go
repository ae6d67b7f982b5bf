// Package serialbus is the line oriented serial transport the rig core talks
// to its controllers through.
package serialbus

import (
	"errors"
)

var (
	ErrPortNotFound  = errors.New("port not found")
	ErrAlreadyOpen   = errors.New("port already open")
	ErrNotOpen       = errors.New("port not open")
	ErrNoActivePort  = errors.New("no active port selected")
	ErrLineTooLong   = errors.New("response line exceeds buffer")
	ErrInvalidBaud   = errors.New("invalid baud rate")
	ErrTransportDown = errors.New("transport closed")
)

// StandardBauds are the rates offered to operators, fastest first.
var StandardBauds = []int{250000, 115200, 57600, 38400, 19200, 9600}

const DefaultBaud = 115200

type PortDescriptor struct {
	Name        string `json:"name"`
	IsConnected bool   `json:"is_connected"`
	IsActive    bool   `json:"is_active"`
	IsUSB       bool   `json:"is_usb"`
	Product     string `json:"product,omitempty"`
}

// Transport is what the core needs from a serial implementation. Read never
// blocks for long: it returns a nil line when nothing complete has arrived.
type Transport interface {
	Ports() []PortDescriptor
	UpdatePorts() error
	Select(port string) error
	ActivePort() string

	Open(port string, baud int) error
	Close(port string) error
	IsOpen(port string) bool

	Send(port string, data []byte) error
	Read(port string) ([]byte, error)
}

// ActiveConnected reports whether the transport's active port is open.
func ActiveConnected(t Transport) bool {
	p := t.ActivePort()
	return p != "" && t.IsOpen(p)
}
