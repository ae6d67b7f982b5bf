package hardware

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ActionType is the closed set of instructions the rig understands.
type ActionType int

const (
	G0  ActionType = iota // rapid positioning
	G1                    // linear move
	G2                    // clockwise arc
	G3                    // counter-clockwise arc
	G4                    // dwell
	G17                   // XY plane
	G18                   // XZ plane
	G19                   // YZ plane
	G90                   // absolute positioning
	G91                   // relative positioning
	G92                   // set position
	C0                    // camera capture via SDK
	C1                    // camera shutter release via firmware
	M17                   // enable steppers
	M18                   // disable steppers
	M24                   // resume/start

	numActionTypes
)

// NumActionTypes sizes per-type tables kept outside this package.
const NumActionTypes = int(numActionTypes)

// DeviceBroadcast targets every device on the bus.
const DeviceBroadcast = -1

// Class groups action types by how a running session treats them.
type Class int

const (
	ClassMotion Class = iota
	ClassCapture
	ClassSystem
)

// Per-type tables, one entry per ActionType in declaration order. The
// constant checks below stop the build when a table and the enumeration
// disagree in length.
var actionNames = [...]string{
	"G0", "G1", "G2", "G3", "G4",
	"G17", "G18", "G19",
	"G90", "G91", "G92",
	"C0", "C1",
	"M17", "M18", "M24",
}

var actionClasses = [...]Class{
	ClassMotion, ClassMotion, ClassMotion, ClassMotion, ClassMotion,
	ClassMotion, ClassMotion, ClassMotion,
	ClassMotion, ClassMotion, ClassMotion,
	ClassCapture, ClassCapture,
	ClassSystem, ClassSystem, ClassSystem,
}

// argument letters, in positional order
var actionLetters = [...]string{
	"XYZPTF", "XYZPTF", "XYZIJF", "XYZIJF", "PS",
	"", "", "",
	"", "", "XYZPT",
	"SP", "SP",
	"", "", "",
}

const (
	_ = uint(len(actionNames) - int(numActionTypes))
	_ = uint(int(numActionTypes) - len(actionNames))
	_ = uint(len(actionClasses) - int(numActionTypes))
	_ = uint(int(numActionTypes) - len(actionClasses))
	_ = uint(len(actionLetters) - int(numActionTypes))
	_ = uint(int(numActionTypes) - len(actionLetters))
)

var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrTooManyArgs       = errors.New("too many arguments for action type")
)

// ActionTypes lists every defined type in declaration order.
func ActionTypes() []ActionType {
	types := make([]ActionType, numActionTypes)
	for i := range types {
		types[i] = ActionType(i)
	}
	return types
}

func (t ActionType) Valid() bool {
	return t >= 0 && t < numActionTypes
}

func (t ActionType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
	return actionNames[t]
}

func (t ActionType) Class() Class {
	if !t.Valid() {
		panic(fmt.Sprintf("hardware: class of invalid %v", t))
	}
	return actionClasses[t]
}

// Letters returns the argument letters accepted by the type, in order.
func (t ActionType) Letters() string {
	if !t.Valid() {
		return ""
	}
	return actionLetters[t]
}

func (t ActionType) IsMotion() bool  { return t.Class() == ClassMotion }
func (t ActionType) IsCapture() bool { return t.Class() == ClassCapture }
func (t ActionType) IsSystem() bool  { return t.Class() == ClassSystem }

// ParseActionType maps a mnemonic such as "g1" or "C0" to its type.
func ParseActionType(s string) (ActionType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range actionNames {
		if name == s {
			return ActionType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownActionType, s)
}

func (t ActionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownActionType
	}
	return []byte(t.String()), nil
}

func (t *ActionType) UnmarshalText(b []byte) (err error) {
	*t, err = ParseActionType(string(b))
	return
}

// Action is a single instruction for one device, or for all of them when
// Device is DeviceBroadcast. It is treated as a value: NewAction copies args
// so an enqueued action cannot be modified through the caller's slice.
type Action struct {
	Type   ActionType `json:"type"`
	Device int        `json:"device"`
	Args   []float64  `json:"args"`
}

func NewAction(t ActionType, device int, args ...float64) Action {
	a := Action{Type: t, Device: device}
	if len(args) > 0 {
		a.Args = append([]float64(nil), args...)
	}
	return a
}

func (a Action) ArgCount() int {
	return len(a.Args)
}

// WithArgs returns a copy of the action carrying the given arguments.
func (a Action) WithArgs(args ...float64) Action {
	return NewAction(a.Type, a.Device, args...)
}

func (a Action) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownActionType, int(a.Type))
	}
	if a.Device < DeviceBroadcast {
		return fmt.Errorf("%w: %d", ErrBadDevice, a.Device)
	}
	if len(a.Args) > len(a.Type.Letters()) {
		return fmt.Errorf("%w %v: %d > %d", ErrTooManyArgs, a.Type, len(a.Args), len(a.Type.Letters()))
	}
	for i, v := range a.Args {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w %c: %v", ErrBadArgument, a.Type.Letters()[i], v)
		}
	}
	return nil
}

// Position returns the target of a positioning move, if the action has one.
func (a Action) Position() (p Point5, ok bool) {
	if a.Type != G0 && a.Type != G1 {
		return
	}
	if len(a.Args) < 5 {
		return
	}
	copy(p[:], a.Args[:5])
	return p, true
}

func (a Action) String() string {
	line, err := Serialize(a)
	if err != nil {
		return fmt.Sprintf("%v(%d)%v", a.Type, a.Device, a.Args)
	}
	return line
}

// Point5 is a camera pose: X, Y, Z, pan, tilt.
type Point5 [5]float64

func (p Point5) X() float64    { return p[0] }
func (p Point5) Y() float64    { return p[1] }
func (p Point5) Z() float64    { return p[2] }
func (p Point5) Pan() float64  { return p[3] }
func (p Point5) Tilt() float64 { return p[4] }
