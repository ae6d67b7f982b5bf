package errors

import (
	"fmt"

	"github.com/CodedInternet/gocopis/onboard/hardware"
)

// ConfigError is an invalid or missing machine configuration. Fatal marks
// problems that cannot be downgraded to a warning in development mode.
type ConfigError struct {
	Field  string
	Reason string
	Fatal  bool
}

func (err ConfigError) Error() string {
	if len(err.Field) == 0 {
		err.Field = "config"
	}
	return fmt.Sprintf("invalid machine configuration: %s: %s", err.Field, err.Reason)
}

// TransportError wraps a failure talking to a serial port.
type TransportError struct {
	Port string
	Op   string
	Err  error
}

func (err TransportError) Error() string {
	if len(err.Port) == 0 {
		err.Port = "UNKNOWN"
	}
	return fmt.Sprintf("%s %s: %v", err.Op, err.Port, err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}

// ProtocolViolationError is a command refused because a running session owns
// the rig.
type ProtocolViolationError struct {
	Type hardware.ActionType
}

func (err ProtocolViolationError) Error() string {
	return fmt.Sprintf("cannot send %v while imaging; pause or cancel the session first", err.Type)
}

// WorkerFaultError is an unexpected failure inside the imaging worker.
type WorkerFaultError struct {
	Cause interface{}
}

func (err WorkerFaultError) Error() string {
	return fmt.Sprintf("imaging worker fault: %v", err.Cause)
}

func (err WorkerFaultError) Unwrap() error {
	if e, ok := err.Cause.(error); ok {
		return e
	}
	return nil
}
