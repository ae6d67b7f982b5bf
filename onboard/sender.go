package onboard

import (
	"errors"
	"time"

	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/CodedInternet/gocopis/onboard/routine"
)

type route int

const (
	routeSerial route = iota // command line on the active port
	routeCamera              // camera SDK when present, else the command line
)

// One route per hardware.ActionType, in declaration order.
var routes = [...]route{
	routeSerial, // G0
	routeSerial, // G1
	routeSerial, // G2
	routeSerial, // G3
	routeSerial, // G4
	routeSerial, // G17
	routeSerial, // G18
	routeSerial, // G19
	routeSerial, // G90
	routeSerial, // G91
	routeSerial, // G92
	routeCamera, // C0
	routeSerial, // C1 shutter release through the controller firmware
	routeSerial, // M17
	routeSerial, // M18
	routeSerial, // M24
}

const (
	_ = uint(len(routes) - hardware.NumActionTypes)
	_ = uint(hardware.NumActionTypes - len(routes))
)

// SendNow queues a for sending ahead of the session's actions. While imaging
// only system commands are accepted.
func (c *Core) SendNow(a hardware.Action) error {
	if err := a.Validate(); err != nil {
		c.bus.Error(err)
		return err
	}
	if c.State() == Imaging && !a.Type.IsSystem() {
		err := oerrors.ProtocolViolationError{Type: a.Type}
		c.bus.Error(err)
		return err
	}
	if !c.IsConnected() {
		err := oerrors.TransportError{Port: c.transport.ActivePort(), Op: "send", Err: ErrNotConnected}
		c.log.WithError(err).Error("dropping command")
		c.bus.Error(err)
		return err
	}
	c.side.Push(a)
	return nil
}

// SideQueued lists the commands waiting in the side queue.
func (c *Core) SideQueued() []hardware.Action {
	return c.side.Snapshot()
}

// waitClear blocks while a session is waiting on an acknowledgement. It
// returns false if stop was closed first.
func (c *Core) waitClear(stop <-chan struct{}) bool {
	var tick *time.Ticker
	for c.IsConnected() && c.State() == Imaging && !c.clear.Load() {
		if tick == nil {
			tick = time.NewTicker(YieldTimeout)
			defer tick.Stop()
		}
		select {
		case <-stop:
			return false
		case <-tick.C:
		}
	}
	return true
}

// sendNext sends one command, side queue first. With nothing left to send the
// session is complete.
func (c *Core) sendNext() {
	if !c.IsConnected() {
		return
	}
	c.waitClear(nil)

	if a, ok := c.side.TryPop(); ok {
		if errors.Is(c.send(a), ErrNotConnected) {
			c.side.PushFront(a)
		}
		return
	}

	if c.State() == Imaging {
		q := c.workQueue()
		if a, ok := q.TryPop(); ok {
			if errors.Is(c.send(a), ErrNotConnected) {
				q.PushFront(a)
			}
			return
		}
	}

	if c.swapState(Imaging, Idle) {
		c.clear.Store(true)
		c.log.WithField("session", c.SessionID()).Info("imaging completed")
		c.bus.Message("Imaging completed")
	}
}

// send writes a single command. Clear-to-send drops before the write so an
// early acknowledgement is not lost. ErrNotConnected means nothing was sent.
func (c *Core) send(a hardware.Action) error {
	port := c.transport.ActivePort()
	if port == "" || !c.transport.IsOpen(port) {
		return ErrNotConnected
	}

	line, err := hardware.Serialize(a)
	if err != nil {
		c.log.WithError(err).Error("unable to serialise command")
		c.bus.Error(err)
		return err
	}

	c.clear.Store(false)
	if _, ok := a.Position(); ok {
		c.inflight.Store(&a)
	} else {
		c.inflight.Store(nil)
	}
	c.record(port, a, line)

	switch routes[a.Type] {
	case routeSerial:
		err = c.writeLine(port, line)
	case routeCamera:
		if !c.camera.Available() {
			err = c.writeLine(port, line)
			break
		}
		// the capture returning is the acknowledgement
		err = c.camera.Shoot(a.Device)
		c.clear.Store(true)
	}

	if err != nil {
		err = oerrors.TransportError{Port: port, Op: "send", Err: err}
		c.log.WithError(err).WithField("line", line).Error("send failed")
		c.bus.Error(err)
	}
	return err
}

func (c *Core) writeLine(port, line string) error {
	return c.transport.Send(port, []byte(line+hardware.LineEnding))
}

//---
// Side queue sender
//---

// startSender is a no-op while imaging or if the sender is already running.
func (c *Core) startSender() {
	c.senderLock.Lock()
	defer c.senderLock.Unlock()

	if c.sender != nil || c.State() == Imaging {
		return
	}
	stop := make(chan struct{})
	c.senderStop = stop
	c.sender = routine.Go(func() { c.runSender(stop) })
}

func (c *Core) stopSender() {
	c.senderLock.Lock()
	h, stop := c.sender, c.senderStop
	c.sender, c.senderStop = nil, nil
	c.senderLock.Unlock()

	if h == nil {
		return
	}
	close(stop)
	h.Join()
}

func (c *Core) runSender(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		a, ok := c.side.popWait(SidePopTimeout, stop)
		if !ok {
			continue
		}

		if !c.waitClear(stop) {
			c.side.PushFront(a)
			return
		}
		if errors.Is(c.send(a), ErrNotConnected) {
			c.side.PushFront(a)
			select {
			case <-stop:
				return
			case <-time.After(SidePopTimeout):
			}
			continue
		}
		// wait for the acknowledgement as well before taking the next command
		if !c.waitClear(stop) {
			return
		}
	}
}
