package onboard

import (
	"math"

	"github.com/CodedInternet/gocopis/onboard/broadcast"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/go-gl/mathgl/mgl64"
)

// AABB is an axis aligned bounding box.
type AABB struct {
	Lower mgl64.Vec3 `json:"lower"`
	Upper mgl64.Vec3 `json:"upper"`
}

// Contains reports whether p lies inside the box grown by margin on every side.
func (b AABB) Contains(p mgl64.Vec3, margin float64) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Lower[i]-margin || p[i] > b.Upper[i]+margin {
			return false
		}
	}
	return true
}

// IntersectsSegment reports whether the segment from a to b passes through
// the box, using the slab method.
func (b AABB) IntersectsSegment(a, c mgl64.Vec3) bool {
	d := c.Sub(a)
	tmin, tmax := 0.0, 1.0
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < 1e-12 {
			if a[i] < b.Lower[i] || a[i] > b.Upper[i] {
				return false
			}
			continue
		}
		t1 := (b.Lower[i] - a[i]) / d[i]
		t2 := (b.Upper[i] - a[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}

func (b AABB) Center() mgl64.Vec3 {
	return b.Lower.Add(b.Upper).Mul(0.5)
}

type Device struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Chamber   int             `json:"chamber"`
	Position  hardware.Point5 `json:"position"`
	Bounds    AABB            `json:"bounds"`
	Connected bool            `json:"connected"`
}

func (d Device) Location() mgl64.Vec3 {
	return mgl64.Vec3{d.Position.X(), d.Position.Y(), d.Position.Z()}
}

// ProxyObject stands in for the subject being imaged; paths must not pass
// through it.
type ProxyObject struct {
	Name   string `json:"name"`
	Bounds AABB   `json:"bounds"`
}

// DeviceRegistry holds the known devices and their last acknowledged state.
type DeviceRegistry struct {
	list *MonitoredList[Device]
}

func NewDeviceRegistry(bus *broadcast.Bus, devices ...Device) *DeviceRegistry {
	return &DeviceRegistry{list: NewMonitoredList(bus, broadcast.DeviceListChanged, devices...)}
}

func (r *DeviceRegistry) Devices() []Device {
	return r.list.Snapshot()
}

func (r *DeviceRegistry) Len() int {
	return r.list.Len()
}

func (r *DeviceRegistry) At(i int) (Device, bool) {
	return r.list.At(i)
}

func (r *DeviceRegistry) Replace(devices []Device) {
	r.list.Replace(devices)
}

func (r *DeviceRegistry) ByID(id int) (d Device, ok bool) {
	r.list.View(func(items []Device) {
		for _, dev := range items {
			if dev.ID == id {
				d, ok = dev, true
				return
			}
		}
	})
	return
}

// UpdatePosition records an acknowledged move. A broadcast id updates every
// device.
func (r *DeviceRegistry) UpdatePosition(id int, p hardware.Point5) bool {
	found := false
	r.list.Modify(func(items []Device) bool {
		for i := range items {
			if id == hardware.DeviceBroadcast || items[i].ID == id {
				items[i].Position = p
				found = true
			}
		}
		return found
	})
	return found
}

func (r *DeviceRegistry) SetConnected(connected bool) {
	r.list.Modify(func(items []Device) bool {
		changed := false
		for i := range items {
			if items[i].Connected != connected {
				items[i].Connected = connected
				changed = true
			}
		}
		return changed
	})
}

// Containing returns the id of the last device among ids whose bounds hold
// p, or DeviceBroadcast if none do.
func (r *DeviceRegistry) Containing(p mgl64.Vec3, ids []int) int {
	owner := hardware.DeviceBroadcast
	r.list.View(func(items []Device) {
		for _, id := range ids {
			for _, d := range items {
				if d.ID == id && d.Bounds.Contains(p, 0) {
					owner = id
				}
			}
		}
	})
	return owner
}
