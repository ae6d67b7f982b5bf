package onboard

import (
	"time"

	"github.com/CodedInternet/gocopis/onboard/broadcast"
)

// listen reads responses from one port until rt.stop is closed.
func (c *Core) listen(rt *readThread) {
	log := c.log.WithField("port", rt.port)
	log.Debug("listener started")
	defer log.Debug("listener exiting")

	tick := time.NewTicker(YieldTimeout)
	defer tick.Stop()

	for {
		select {
		case <-rt.stop:
			return
		case <-tick.C:
		}

		// reading now would interleave with the camera transfer
		if c.camera.IsBusy() {
			continue
		}

		resp, err := c.transport.Read(rt.port)
		if err != nil {
			if !c.transport.IsOpen(rt.port) {
				log.WithError(err).Warn("port closed under listener")
				c.dropReader(rt)
				c.bus.Error(err)
				return
			}
			log.WithError(err).Debug("read failed")
			continue
		}
		if len(resp) == 0 {
			continue
		}

		c.acknowledge()
		c.bus.Publish(broadcast.Event{Topic: broadcast.Message, Message: string(resp)})
	}
}

// dropReader forgets a listener whose port went away. The worker notices the
// lost connection on its own.
func (c *Core) dropReader(rt *readThread) {
	c.readLock.Lock()
	if c.readers[rt.port] == rt {
		delete(c.readers, rt.port)
	}
	c.readLock.Unlock()

	if !c.IsConnected() {
		c.Devices.SetConnected(false)
	}
}

// acknowledge commits the in flight move to the registry and arms
// clear-to-send.
func (c *Core) acknowledge() {
	if a := c.inflight.Swap(nil); a != nil {
		if p, ok := a.Position(); ok {
			c.Devices.UpdatePosition(a.Device, p)
		}
	}
	c.clear.Store(true)
}
