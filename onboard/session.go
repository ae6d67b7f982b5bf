package onboard

import (
	"fmt"
	"runtime/debug"

	oerrors "github.com/CodedInternet/gocopis/onboard/errors"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/CodedInternet/gocopis/onboard/routine"
	"github.com/google/uuid"
)

type SessionState int32

const (
	Idle SessionState = iota
	Imaging
	Paused
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Imaging:
		return "imaging"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(b []byte) error {
	for _, st := range []SessionState{Idle, Imaging, Paused} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

func (c *Core) State() SessionState {
	return SessionState(c.state.Load())
}

func (c *Core) IsImaging() bool { return c.State() == Imaging }
func (c *Core) IsPaused() bool  { return c.State() == Paused }

func (c *Core) swapState(from, to SessionState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

func (c *Core) workQueue() *CommandQueue {
	c.workLock.Lock()
	defer c.workLock.Unlock()
	return c.work
}

// Remaining lists the session's unsent actions.
func (c *Core) Remaining() []hardware.Action {
	return c.workQueue().Snapshot()
}

// Start begins imaging a copy of the current action list. It fails if a
// session is already imaging or the rig is not connected.
func (c *Core) Start() bool {
	c.sessLock.Lock()
	defer c.sessLock.Unlock()

	prev := c.State()
	if prev == Imaging || !c.IsConnected() {
		return false
	}

	c.workLock.Lock()
	c.work = NewCommandQueue(c.actions.Snapshot()...)
	c.workLock.Unlock()

	session := uuid.NewString()
	c.resetSent(session)
	c.clear.Store(false)
	c.inflight.Store(nil)

	if !c.swapState(prev, Imaging) {
		return false
	}
	c.spawnWorker()

	c.log.WithField("session", session).Info("imaging started")
	c.bus.Message("Imaging started")
	return true
}

// Pause stops dispatching after the command in flight. The remaining
// actions are kept for Resume.
func (c *Core) Pause() bool {
	if !c.pauseWorker() {
		return false
	}
	c.bus.Message("Imaging paused")
	return true
}

// pauseWorker moves Imaging to Paused and waits for the worker, unless it is
// the caller.
func (c *Core) pauseWorker() bool {
	c.sessLock.Lock()
	if !c.swapState(Imaging, Paused) {
		c.sessLock.Unlock()
		return false
	}
	h := c.worker
	c.sessLock.Unlock()

	if !h.Join() {
		c.log.Debug("pause requested by the imaging worker")
	}
	return true
}

// Resume continues a paused session with the actions it had not sent.
func (c *Core) Resume() bool {
	c.sessLock.Lock()
	prev := c.worker
	c.sessLock.Unlock()
	// a worker that paused itself may still be on its way out
	prev.Join()

	c.sessLock.Lock()
	defer c.sessLock.Unlock()

	if c.State() != Paused || !c.IsConnected() {
		return false
	}
	c.state.Store(int32(Imaging))
	c.spawnWorker()

	c.log.WithField("remaining", c.workQueue().Len()).Info("imaging resumed")
	c.bus.Message("Imaging resumed")
	return true
}

// Cancel ends the session and drops whatever it had left to send.
func (c *Core) Cancel() {
	c.pauseWorker()

	c.sessLock.Lock()
	c.state.Store(int32(Idle))
	c.workQueue().Clear()
	c.clear.Store(true)
	c.sessLock.Unlock()

	c.log.Info("imaging cancelled")
	c.bus.Message("Imaging stopped")
}

// spawnWorker must be called with sessLock held.
func (c *Core) spawnWorker() {
	gen := c.workerGen.Add(1)
	c.worker = routine.Go(func() { c.doImaging(gen) })
}

func (c *Core) doImaging(gen uint64) {
	defer c.startSender()
	defer func() {
		if r := recover(); r != nil {
			err := oerrors.WorkerFaultError{Cause: r}
			c.log.WithError(err).WithField("stack", string(debug.Stack())).Error("imaging worker died")
			c.state.Store(int32(Idle))
			c.bus.Error(err)
		}
	}()

	c.stopSender()

	current := func() bool { return c.workerGen.Load() == gen }
	for current() && c.State() == Imaging && c.IsConnected() {
		c.sendNext()
	}

	if current() && !c.IsConnected() && c.swapState(Imaging, Paused) {
		err := oerrors.TransportError{Port: c.transport.ActivePort(), Op: "imaging", Err: ErrConnectionLost}
		c.log.WithError(err).Warn("imaging paused")
		c.bus.Error(err)
	}
}
