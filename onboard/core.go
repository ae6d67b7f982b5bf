package onboard

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/gocopis/onboard/broadcast"
	"github.com/CodedInternet/gocopis/onboard/capture"
	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/CodedInternet/gocopis/onboard/routine"
	"github.com/CodedInternet/gocopis/onboard/serialbus"
	"github.com/CodedInternet/gocopis/onboard/store"
	"github.com/sirupsen/logrus"
)

const (
	YieldTimeout   = time.Millisecond
	SidePopTimeout = 100 * time.Millisecond
)

var (
	ErrNotConnected   = errors.New("not connected to device")
	ErrConnectionLost = errors.New("connection lost during imaging")
)

// History receives every command line written to the rig.
type History interface {
	RecordSent(rec store.SentRecord) error
}

type SentCommand struct {
	Action hardware.Action `json:"action"`
	Line   string          `json:"line"`
	Port   string          `json:"port"`
	SentAt time.Time       `json:"sent_at"`
}

type readThread struct {
	port   string
	stop   chan struct{}
	handle *routine.Handle
}

type Options struct {
	Config    *MachineConfig
	Transport serialbus.Transport
	Camera    capture.Device // optional
	Bus       *broadcast.Bus
	History   History // optional
	Log       logrus.FieldLogger
	Dev       bool // downgrade config problems to warnings
}

// Core drives a COPIS rig: it owns the action list, the device registry and
// the goroutines that move commands between the queues and the serial port.
type Core struct {
	log       logrus.FieldLogger
	bus       *broadcast.Bus
	transport serialbus.Transport
	camera    *capture.Capability
	history   History
	config    *MachineConfig

	// serialises Connect, Disconnect and SelectPort
	lock sync.Mutex

	readLock sync.Mutex
	readers  map[string]*readThread

	Devices *DeviceRegistry
	actions *MonitoredList[hardware.Action]
	objects *MonitoredList[ProxyObject]

	side     *CommandQueue
	workLock sync.Mutex
	work     *CommandQueue

	state     atomic.Int32
	clear     atomic.Bool
	inflight  atomic.Pointer[hardware.Action]
	sessLock  sync.Mutex
	workerGen atomic.Uint64
	worker    *routine.Handle

	senderLock sync.Mutex
	sender     *routine.Handle
	senderStop chan struct{}

	sentLock  sync.Mutex
	sessionID string
	sent      []SentCommand

	selLock        sync.Mutex
	selectedDevice int
	selectedPoints []int
	selectedObject int
}

func NewCore(opts Options) (c *Core, err error) {
	if opts.Transport == nil {
		return nil, errors.New("onboard: a transport is required")
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Bus == nil {
		opts.Bus = broadcast.NewBus(opts.Log)
	}

	warnings, err := CheckConfig(opts.Config, opts.Dev)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		opts.Log.WithError(w).Warn("machine configuration")
		opts.Bus.Error(w)
	}

	c = &Core{
		log:            opts.Log,
		bus:            opts.Bus,
		transport:      opts.Transport,
		camera:         capture.NewCapability(opts.Camera),
		history:        opts.History,
		config:         opts.Config,
		readers:        make(map[string]*readThread),
		Devices:        NewDeviceRegistry(opts.Bus, opts.Config.BuildDevices()...),
		actions:        NewMonitoredList[hardware.Action](opts.Bus, broadcast.ActionListChanged),
		objects:        NewMonitoredList(opts.Bus, broadcast.ObjectListChanged, opts.Config.Objects...),
		side:           NewCommandQueue(),
		work:           NewCommandQueue(),
		selectedDevice: -1,
		selectedObject: -1,
	}

	if !c.camera.Available() {
		c.log.Info("camera capture unavailable, C0 falls back to the serial line")
	}
	return c, nil
}

func (c *Core) Bus() *broadcast.Bus {
	return c.bus
}

func (c *Core) Config() *MachineConfig {
	return c.config
}

//---
// Serial connection
//---

func (c *Core) Bauds() []int {
	return serialbus.StandardBauds
}

func (c *Core) Ports() []serialbus.PortDescriptor {
	return c.transport.Ports()
}

func (c *Core) UpdatePorts() error {
	err := c.transport.UpdatePorts()
	if err != nil {
		c.bus.Error(err)
	}
	return err
}

func (c *Core) SelectPort(name string) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.transport.Select(name); err != nil {
		c.bus.Message("Unable to select serial port")
		c.bus.Error(err)
		return err
	}
	return nil
}

// IsConnected reports whether the active port is open.
func (c *Core) IsConnected() bool {
	return serialbus.ActiveConnected(c.transport)
}

// Connect opens the active port, starts its listener and the side queue
// sender.
func (c *Core) Connect(baud int) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	port := c.transport.ActivePort()
	if port == "" {
		err := oerrors.TransportError{Op: "connect", Err: serialbus.ErrNoActivePort}
		c.bus.Message("Unable to connect to device")
		c.bus.Error(err)
		return err
	}
	if err := c.transport.Open(port, baud); err != nil {
		c.bus.Message("Unable to connect to device")
		c.bus.Error(err)
		return err
	}

	rt := &readThread{port: port, stop: make(chan struct{})}
	c.readLock.Lock()
	c.readers[port] = rt
	rt.handle = routine.Go(func() { c.listen(rt) })
	c.readLock.Unlock()

	c.Devices.SetConnected(true)
	c.startSender()

	c.log.WithFields(logrus.Fields{"port": port, "baud": baud}).Info("connected")
	c.bus.Message("Connected to device %s", port)
	return nil
}

// Disconnect stops the active port's listener, pauses a running session and
// closes the port. Without a listener for the port it does nothing.
func (c *Core) Disconnect() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	port := c.transport.ActivePort()
	if port == "" || !c.transport.IsOpen(port) {
		return nil
	}

	c.readLock.Lock()
	rt := c.readers[port]
	c.readLock.Unlock()
	if rt == nil {
		return nil
	}

	c.stopReader(rt)
	c.readLock.Lock()
	delete(c.readers, port)
	remaining := len(c.readers)
	c.readLock.Unlock()

	if remaining == 0 {
		c.stopSender()
	}
	if c.pauseWorker() {
		c.bus.Message("Imaging paused")
	}
	// the worker restarts the sender on its way out
	if remaining == 0 {
		c.stopSender()
	}

	err := c.transport.Close(port)
	if err != nil {
		c.bus.Error(err)
	}
	c.Devices.SetConnected(false)

	c.log.WithField("port", port).Info("disconnected")
	c.bus.Message("Disconnected from device %s", port)
	return err
}

func (c *Core) stopReader(rt *readThread) {
	select {
	case <-rt.stop:
	default:
		close(rt.stop)
	}
	if !rt.handle.Join() {
		c.log.WithField("port", rt.port).Debug("listener stopping itself")
	}
}

// Terminate stops every goroutine the core started and closes every port it
// opened.
func (c *Core) Terminate() {
	c.pauseWorker()

	c.lock.Lock()
	defer c.lock.Unlock()

	c.readLock.Lock()
	readers := make([]*readThread, 0, len(c.readers))
	for _, rt := range c.readers {
		readers = append(readers, rt)
	}
	c.readers = make(map[string]*readThread)
	c.readLock.Unlock()

	for _, rt := range readers {
		c.stopReader(rt)
	}
	c.stopSender()

	for _, rt := range readers {
		if err := c.transport.Close(rt.port); err != nil {
			c.log.WithError(err).Warn("closing port")
		}
	}
	c.Devices.SetConnected(false)
}

//---
// Send history
//---

func (c *Core) SessionID() string {
	c.sentLock.Lock()
	defer c.sentLock.Unlock()
	return c.sessionID
}

// Sent returns the commands sent since the current session started.
func (c *Core) Sent() []SentCommand {
	c.sentLock.Lock()
	defer c.sentLock.Unlock()
	return append([]SentCommand(nil), c.sent...)
}

func (c *Core) resetSent(session string) {
	c.sentLock.Lock()
	c.sessionID = session
	c.sent = nil
	c.sentLock.Unlock()
}

func (c *Core) record(port string, a hardware.Action, line string) {
	now := time.Now()

	c.sentLock.Lock()
	c.sent = append(c.sent, SentCommand{Action: a, Line: line, Port: port, SentAt: now})
	session := c.sessionID
	c.sentLock.Unlock()

	c.log.WithFields(logrus.Fields{
		"port":   port,
		"device": a.Device,
		"type":   a.Type,
	}).Debug(line)

	if c.history == nil {
		return
	}
	err := c.history.RecordSent(store.SentRecord{
		Session: session,
		Port:    port,
		Line:    line,
		Type:    a.Type.String(),
		Device:  a.Device,
		SentAt:  now,
	})
	if err != nil {
		c.log.WithError(err).Warn("unable to record sent command")
	}
}
