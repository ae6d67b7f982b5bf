package hardware

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	addrPrefix = '>'
	LineEnding = "\n"
)

var (
	ErrEmptyLine      = errors.New("empty command line")
	ErrBadDevice      = errors.New("invalid device address")
	ErrBadArgument    = errors.New("invalid argument")
	ErrArgumentOrder  = errors.New("arguments out of order")
	ErrMissingCommand = errors.New("missing command mnemonic")
)

// ParseError reports the line and position of a malformed command.
type ParseError struct {
	Line   int
	Text   string
	Reason error
}

func (err ParseError) Error() string {
	return fmt.Sprintf("line %d %q: %v", err.Line, err.Text, err.Reason)
}

func (err ParseError) Unwrap() error {
	return err.Reason
}

// Serialize renders an action as a single command line without line ending.
// A device addressed action is prefixed with '>' and the device id; each
// argument is prefixed by its letter from the type's schema, e.g.
//
//	>0G1X10Y20Z30P0.785T-0.1
func Serialize(a Action) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder
	if a.Device != DeviceBroadcast {
		sb.WriteByte(addrPrefix)
		sb.WriteString(strconv.Itoa(a.Device))
	}
	sb.WriteString(a.Type.String())

	letters := a.Type.Letters()
	for i, v := range a.Args {
		sb.WriteByte(letters[i])
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return sb.String(), nil
}

// Parse is the inverse of Serialize.
func Parse(line string) (a Action, err error) {
	s := strings.TrimSpace(line)
	if s == "" {
		return a, ErrEmptyLine
	}

	a.Device = DeviceBroadcast
	if s[0] == addrPrefix {
		end := 1
		for end < len(s) && isDigit(s[end]) {
			end++
		}
		if end == 1 {
			return a, ErrBadDevice
		}
		if a.Device, err = strconv.Atoi(s[1:end]); err != nil {
			return a, fmt.Errorf("%w: %v", ErrBadDevice, err)
		}
		s = s[end:]
	}

	// mnemonic: one letter followed by digits
	end := 1
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	if len(s) == 0 || end == 1 {
		return a, ErrMissingCommand
	}
	if a.Type, err = ParseActionType(s[:end]); err != nil {
		return
	}
	s = s[end:]

	letters := a.Type.Letters()
	for len(s) > 0 {
		letter := s[0]
		if len(a.Args) >= len(letters) {
			return a, fmt.Errorf("%w %v", ErrTooManyArgs, a.Type)
		}
		if letter != letters[len(a.Args)] {
			return a, fmt.Errorf("%w: got %c, want %c", ErrArgumentOrder, letter, letters[len(a.Args)])
		}
		end := 1
		for end < len(s) && isNumeric(s[end]) {
			end++
		}
		v, perr := strconv.ParseFloat(s[1:end], 64)
		if perr != nil {
			return a, fmt.Errorf("%w %c: %v", ErrBadArgument, letter, perr)
		}
		a.Args = append(a.Args, v)
		s = s[end:]
	}
	return a, nil
}

// WriteActions writes one command line per action.
func WriteActions(w io.Writer, actions []Action) error {
	bw := bufio.NewWriter(w)
	for _, a := range actions {
		line, err := Serialize(a)
		if err != nil {
			return err
		}
		if _, err := bw.WriteString(line + LineEnding); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadActions parses command lines until EOF. Blank lines and lines starting
// with ';' are skipped.
func ReadActions(r io.Reader) (actions []Action, err error) {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || text[0] == ';' {
			continue
		}
		a, perr := Parse(text)
		if perr != nil {
			return nil, ParseError{Line: n, Text: text, Reason: perr}
		}
		actions = append(actions, a)
	}
	return actions, scanner.Err()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isNumeric(c byte) bool {
	return isDigit(c) || c == '-' || c == '.' || c == '+'
}
