package onboard

import (
	"strings"
	"sync"
	"time"

	"github.com/CodedInternet/gocopis/onboard/serialbus"
	"github.com/sirupsen/logrus"
)

const (
	SIM_ACK_DELAY     = 5 * time.Millisecond
	SIM_IDLE_INTERVAL = 50 * time.Millisecond
	SIM_CAPTURE_DELAY = 20 * time.Millisecond
)

type simPort struct {
	open      bool
	responses []string
	pending   int
	lastAck   time.Time
	writes    []string
}

// SimulatedTransport behaves like a rig whose controllers answer "ok" to
// every line after AckDelay. An idle controller reports "wait" every
// IdleInterval, as the firmware does.
type SimulatedTransport struct {
	log    logrus.FieldLogger
	lock   sync.Mutex
	names  []string
	ports  map[string]*simPort
	active string

	AckDelay     time.Duration
	IdleInterval time.Duration
}

func NewSimulatedTransport(log logrus.FieldLogger, names ...string) *SimulatedTransport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(names) == 0 {
		names = []string{"SIM0"}
	}
	t := &SimulatedTransport{
		log:          log,
		names:        append([]string(nil), names...),
		ports:        make(map[string]*simPort, len(names)),
		AckDelay:     SIM_ACK_DELAY,
		IdleInterval: SIM_IDLE_INTERVAL,
	}
	for _, n := range names {
		t.ports[n] = new(simPort)
	}
	return t
}

func (t *SimulatedTransport) Ports() []serialbus.PortDescriptor {
	t.lock.Lock()
	defer t.lock.Unlock()
	out := make([]serialbus.PortDescriptor, 0, len(t.names))
	for _, n := range t.names {
		out = append(out, serialbus.PortDescriptor{
			Name:        n,
			IsConnected: t.ports[n].open,
			IsActive:    n == t.active,
			Product:     "COPIS simulator",
		})
	}
	return out
}

func (t *SimulatedTransport) UpdatePorts() error {
	return nil
}

func (t *SimulatedTransport) Select(port string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.ports[port]; !ok {
		return serialbus.ErrPortNotFound
	}
	t.active = port
	return nil
}

func (t *SimulatedTransport) ActivePort() string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.active
}

func (t *SimulatedTransport) Open(port string, baud int) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	if !ok {
		return serialbus.ErrPortNotFound
	}
	if baud <= 0 {
		return serialbus.ErrInvalidBaud
	}
	if p.open {
		return serialbus.ErrAlreadyOpen
	}
	*p = simPort{open: true, lastAck: time.Now()}
	t.log.WithFields(logrus.Fields{"port": port, "baud": baud}).Debug("simulated port opened")
	return nil
}

func (t *SimulatedTransport) Close(port string) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	if !ok {
		return serialbus.ErrPortNotFound
	}
	if !p.open {
		return serialbus.ErrNotOpen
	}
	p.open = false
	p.responses = nil
	return nil
}

// Unplug closes port as if its cable had been pulled.
func (t *SimulatedTransport) Unplug(port string) {
	t.Close(port)
}

func (t *SimulatedTransport) IsOpen(port string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	return ok && p.open
}

func (t *SimulatedTransport) Send(port string, data []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	if !ok || !p.open {
		return serialbus.ErrNotOpen
	}
	p.writes = append(p.writes, strings.TrimRight(string(data), "\r\n"))
	p.pending++

	time.AfterFunc(t.AckDelay, func() {
		t.lock.Lock()
		defer t.lock.Unlock()
		if !p.open || p.pending == 0 {
			return
		}
		p.pending--
		p.lastAck = time.Now()
		p.responses = append(p.responses, "ok")
	})
	return nil
}

func (t *SimulatedTransport) Read(port string) ([]byte, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	if !ok || !p.open {
		return nil, serialbus.ErrNotOpen
	}
	if len(p.responses) > 0 {
		line := p.responses[0]
		p.responses = p.responses[1:]
		return []byte(line), nil
	}
	if p.pending == 0 && time.Since(p.lastAck) >= t.IdleInterval {
		p.lastAck = time.Now()
		return []byte("wait"), nil
	}
	return nil, nil
}

// Written returns the lines sent to port since it was opened.
func (t *SimulatedTransport) Written(port string) []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	p, ok := t.ports[port]
	if !ok {
		return nil
	}
	return append([]string(nil), p.writes...)
}

// SimulatedCamera stands in for the camera SDK, taking CaptureDelay per
// frame.
type SimulatedCamera struct {
	lock  sync.Mutex
	busy  bool
	shots map[int]int

	CaptureDelay time.Duration
}

func NewSimulatedCamera() *SimulatedCamera {
	return &SimulatedCamera{shots: make(map[int]int), CaptureDelay: SIM_CAPTURE_DELAY}
}

func (c *SimulatedCamera) Connect(device int) bool {
	return device >= 0
}

func (c *SimulatedCamera) Capture(device int) error {
	c.lock.Lock()
	c.busy = true
	c.lock.Unlock()

	time.Sleep(c.CaptureDelay)

	c.lock.Lock()
	c.busy = false
	c.shots[device]++
	c.lock.Unlock()
	return nil
}

func (c *SimulatedCamera) IsBusy() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.busy
}

// Shots is the number of frames captured by device.
func (c *SimulatedCamera) Shots(device int) int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.shots[device]
}
