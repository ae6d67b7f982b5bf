package serialbus

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	ReadTimeout = 10 * time.Millisecond
	readChunk   = 256
)

type portIO interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

type connection struct {
	port  portIO
	rlock sync.Mutex
	wlock sync.Mutex
	lines lineBuffer
}

// SerialTransport drives real ports through go.bug.st/serial.
type SerialTransport struct {
	log     logrus.FieldLogger
	lock    sync.Mutex
	ports   []*enumerator.PortDetails
	conns   map[string]*connection
	opening map[string]bool
	active  string

	// swapped out in tests
	list func() ([]*enumerator.PortDetails, error)
	open func(name string, baud int) (portIO, error)

	OpenBackOff func() backoff.BackOff
}

func NewSerialTransport(log logrus.FieldLogger) *SerialTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SerialTransport{
		log:     log,
		conns:   make(map[string]*connection),
		opening: make(map[string]bool),
		list:    enumerator.GetDetailedPortsList,
		open:    openSerial,
		OpenBackOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     25 * time.Millisecond,
				RandomizationFactor: 0.,
				Multiplier:          2.,
				MaxInterval:         1 * time.Second,
				MaxElapsedTime:      3 * time.Second,
				Clock:               backoff.SystemClock,
			}
		},
	}
}

func openSerial(name string, baud int) (portIO, error) {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(ReadTimeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (t *SerialTransport) UpdatePorts() error {
	ports, err := t.list()
	if err != nil {
		return oerrors.TransportError{Op: "enumerate", Err: err}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })

	t.lock.Lock()
	defer t.lock.Unlock()
	t.ports = ports

	// an active port that vanished stays active only while it is still open
	if t.active != "" && !t.knownUnsafe(t.active) {
		if _, open := t.conns[t.active]; !open {
			t.active = ""
		}
	}
	return nil
}

func (t *SerialTransport) Ports() []PortDescriptor {
	t.lock.Lock()
	defer t.lock.Unlock()

	out := make([]PortDescriptor, 0, len(t.ports))
	for _, p := range t.ports {
		_, open := t.conns[p.Name]
		out = append(out, PortDescriptor{
			Name:        p.Name,
			IsConnected: open,
			IsActive:    p.Name == t.active,
			IsUSB:       p.IsUSB,
			Product:     p.Product,
		})
	}
	return out
}

func (t *SerialTransport) knownUnsafe(name string) bool {
	for _, p := range t.ports {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Select makes port the active one. An unknown name refreshes the port list
// once before failing.
func (t *SerialTransport) Select(port string) error {
	t.lock.Lock()
	known := t.knownUnsafe(port)
	t.lock.Unlock()
	if !known {
		if err := t.UpdatePorts(); err != nil {
			return err
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.knownUnsafe(port) {
		return oerrors.TransportError{Port: port, Op: "select", Err: ErrPortNotFound}
	}
	t.active = port
	return nil
}

func (t *SerialTransport) ActivePort() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.active
}

// Open connects to port, retrying with exponential backoff while the device
// is still enumerating.
func (t *SerialTransport) Open(port string, baud int) error {
	if baud <= 0 {
		return oerrors.TransportError{Port: port, Op: "open", Err: ErrInvalidBaud}
	}

	t.lock.Lock()
	if !t.knownUnsafe(port) {
		t.lock.Unlock()
		return oerrors.TransportError{Port: port, Op: "open", Err: ErrPortNotFound}
	}
	if _, ok := t.conns[port]; ok || t.opening[port] {
		t.lock.Unlock()
		return oerrors.TransportError{Port: port, Op: "open", Err: ErrAlreadyOpen}
	}
	t.opening[port] = true
	t.lock.Unlock()

	var p portIO
	op := func() (err error) {
		p, err = t.open(port, baud)
		if err != nil {
			t.log.WithError(err).WithField("port", port).Debug("open failed, retrying")
		}
		return
	}
	err := backoff.Retry(op, t.OpenBackOff())

	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.opening, port)
	if err != nil {
		return oerrors.TransportError{Port: port, Op: "open", Err: err}
	}

	t.conns[port] = &connection{port: p}
	t.log.WithFields(logrus.Fields{"port": port, "baud": baud}).Info("serial port opened")
	return nil
}

func (t *SerialTransport) Close(port string) error {
	t.lock.Lock()
	c, ok := t.conns[port]
	delete(t.conns, port)
	t.lock.Unlock()

	if !ok {
		return oerrors.TransportError{Port: port, Op: "close", Err: ErrNotOpen}
	}
	// wait for any in progress read or write
	c.rlock.Lock()
	c.wlock.Lock()
	defer c.rlock.Unlock()
	defer c.wlock.Unlock()

	if err := c.port.Close(); err != nil {
		return oerrors.TransportError{Port: port, Op: "close", Err: err}
	}
	t.log.WithField("port", port).Info("serial port closed")
	return nil
}

func (t *SerialTransport) IsOpen(port string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.conns[port]
	return ok
}

func (t *SerialTransport) conn(port string) *connection {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.conns[port]
}

func (t *SerialTransport) Send(port string, data []byte) error {
	c := t.conn(port)
	if c == nil {
		return oerrors.TransportError{Port: port, Op: "write", Err: ErrNotOpen}
	}
	c.wlock.Lock()
	_, err := c.port.Write(data)
	c.wlock.Unlock()

	if err != nil {
		t.lose(port, c, err)
		return oerrors.TransportError{Port: port, Op: "write", Err: err}
	}
	return nil
}

// Read returns the next complete response line from port. At most one read
// of ReadTimeout is made when no buffered line is available. A failed read
// closes the port.
func (t *SerialTransport) Read(port string) ([]byte, error) {
	c := t.conn(port)
	if c == nil {
		return nil, oerrors.TransportError{Port: port, Op: "read", Err: ErrNotOpen}
	}
	c.rlock.Lock()
	line, err := c.read()
	c.rlock.Unlock()

	if err != nil {
		// an overlong line is discarded but the port stays usable
		if !errors.Is(err, ErrLineTooLong) {
			t.lose(port, c, err)
		}
		return nil, oerrors.TransportError{Port: port, Op: "read", Err: err}
	}
	return line, nil
}

// read must be called with rlock held. A timeout is a zero length read, not
// an error.
func (c *connection) read() ([]byte, error) {
	if line := c.lines.Next(); line != nil {
		return line, nil
	}

	buf := make([]byte, readChunk)
	n, err := c.port.Read(buf)
	if n > 0 {
		if werr := c.lines.Write(buf[:n]); werr != nil {
			return nil, werr
		}
	}
	if err != nil {
		return nil, err
	}
	return c.lines.Next(), nil
}

// lose closes a connection that failed underneath us. It is a no-op if the
// port was closed or reopened in the meantime.
func (t *SerialTransport) lose(port string, c *connection, cause error) {
	t.lock.Lock()
	if t.conns[port] != c {
		t.lock.Unlock()
		return
	}
	delete(t.conns, port)
	t.lock.Unlock()

	c.rlock.Lock()
	c.wlock.Lock()
	defer c.rlock.Unlock()
	defer c.wlock.Unlock()

	if err := c.port.Close(); err != nil {
		t.log.WithError(err).WithField("port", port).Debug("closing lost port")
	}
	t.log.WithError(cause).WithField("port", port).Warn("serial port lost")
}

// CloseAll closes every open port.
func (t *SerialTransport) CloseAll() {
	t.lock.Lock()
	names := make([]string, 0, len(t.conns))
	for name := range t.conns {
		names = append(names, name)
	}
	t.lock.Unlock()

	for _, name := range names {
		if err := t.Close(name); err != nil {
			t.log.WithError(err).Warn("closing port")
		}
	}
}
