// Package capture wraps the optional camera SDK binding.
package capture

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable = errors.New("camera capture unavailable")
	ErrNotReady    = errors.New("camera did not connect")
)

// Device is a camera SDK binding able to trigger captures on the rig's
// cameras, addressed by device id.
type Device interface {
	Connect(device int) bool
	Capture(device int) error
	IsBusy() bool
}

// Capability is resolved once at startup. Without a device every call is a
// no-op returning ErrUnavailable.
type Capability struct {
	dev Device
}

func NewCapability(dev Device) *Capability {
	return &Capability{dev: dev}
}

func (c *Capability) Available() bool {
	return c != nil && c.dev != nil
}

func (c *Capability) IsBusy() bool {
	if !c.Available() {
		return false
	}
	return c.dev.IsBusy()
}

// Shoot connects to the device's camera and captures a frame.
func (c *Capability) Shoot(device int) error {
	if !c.Available() {
		return ErrUnavailable
	}
	if !c.dev.Connect(device) {
		return fmt.Errorf("%w: device %d", ErrNotReady, device)
	}
	return c.dev.Capture(device)
}
