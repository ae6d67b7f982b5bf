package onboard

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/CodedInternet/gocopis/calcs"
	"github.com/CodedInternet/gocopis/onboard/broadcast"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/go-gl/mathgl/mgl64"
)

//---
// Action list
//---

// AddAction appends a new action to the main list.
func (c *Core) AddAction(t hardware.ActionType, device int, args ...float64) error {
	a := hardware.NewAction(t, device, args...)
	if err := a.Validate(); err != nil {
		return err
	}
	c.actions.Append(a)
	return nil
}

func (c *Core) RemoveAction(i int) (hardware.Action, error) {
	a, err := c.actions.Remove(i)
	if err != nil {
		return a, fmt.Errorf("remove action %d: %w", i, err)
	}
	c.dropSelectedPoint(i)
	return a, nil
}

func (c *Core) ClearActions() {
	c.actions.Clear()
	c.selLock.Lock()
	c.selectedPoints = nil
	c.selLock.Unlock()
}

// Actions returns a copy of the main action list.
func (c *Core) Actions() []hardware.Action {
	return c.actions.Snapshot()
}

// ReplaceActions swaps the main list, cancelling any session first.
func (c *Core) ReplaceActions(actions []hardware.Action) error {
	for i, a := range actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	if c.State() != Idle {
		c.Cancel()
	}
	c.selLock.Lock()
	c.selectedPoints = nil
	c.selLock.Unlock()
	c.actions.Replace(actions)
	return nil
}

func (c *Core) ReplacePoses(poses []hardware.Pose) error {
	return c.ReplaceActions(hardware.FlattenPoses(poses))
}

// AddPath plans capture poses over vertices for the given devices and
// appends them to the main list.
func (c *Core) AddPath(vertices []mgl64.Vec3, lookat mgl64.Vec3, deviceIDs []int) int {
	poses := PlanPath(vertices, lookat, deviceIDs, c.Devices, c.Objects())
	actions := hardware.FlattenPoses(poses)
	if len(actions) > 0 {
		c.actions.Extend(actions)
	}
	return len(poses)
}

// InterleaveActions lets the devices take turns through the main list.
func (c *Core) InterleaveActions() {
	c.actions.Modify(func(items []hardware.Action) bool {
		copy(items, InterleaveActions(items))
		return len(items) > 1
	})
}

// PathStat summarises the positions one device visits.
type PathStat struct {
	Device   int        `json:"device"`
	Points   int        `json:"points"`
	Length   float64    `json:"length"`
	Centroid mgl64.Vec3 `json:"centroid"`
	Busiest  float64    `json:"busiest_segment"`
}

// PathStats reports, per device and in order of first appearance, the
// positioning moves in the main list.
func (c *Core) PathStats() []PathStat {
	var order []int
	paths := make(map[int][]mgl64.Vec3)
	c.actions.View(func(items []hardware.Action) {
		for _, a := range items {
			p, ok := a.Position()
			if !ok {
				continue
			}
			if _, seen := paths[a.Device]; !seen {
				order = append(order, a.Device)
			}
			paths[a.Device] = append(paths[a.Device], mgl64.Vec3{p.X(), p.Y(), p.Z()})
		}
	})

	stats := make([]PathStat, 0, len(order))
	for _, dev := range order {
		points := paths[dev]
		stats = append(stats, PathStat{
			Device:   dev,
			Points:   len(points),
			Length:   calcs.PathLength(points),
			Centroid: calcs.Centroid(points),
			Busiest:  calcs.Busiest(points),
		})
	}
	return stats
}

//---
// Proxy objects
//---

func (c *Core) Objects() []ProxyObject {
	return c.objects.Snapshot()
}

func (c *Core) AddObject(o ProxyObject) {
	c.objects.Append(o)
}

//---
// Selection
//---

func (c *Core) SelectedDevice() int {
	c.selLock.Lock()
	defer c.selLock.Unlock()
	return c.selectedDevice
}

func (c *Core) SelectedPoints() []int {
	c.selLock.Lock()
	defer c.selLock.Unlock()
	return append([]int(nil), c.selectedPoints...)
}

func (c *Core) SelectedObject() int {
	c.selLock.Lock()
	defer c.selLock.Unlock()
	return c.selectedObject
}

// SelectDevice selects the device at index i in the registry. A negative
// index clears the selection; selecting a device clears the selected points
// and object.
func (c *Core) SelectDevice(i int) error {
	if i < 0 {
		c.selLock.Lock()
		c.selectedDevice = -1
		c.selLock.Unlock()
		c.bus.Publish(broadcast.Event{Topic: broadcast.DeviceDeselected, Index: -1})
		return nil
	}

	d, ok := c.Devices.At(i)
	if !ok {
		err := fmt.Errorf("invalid device index %d: %w", i, ErrIndexRange)
		c.bus.Error(err)
		return err
	}

	c.selLock.Lock()
	c.selectedDevice = i
	c.selectedObject = -1
	c.selLock.Unlock()

	c.SelectPoint(-1, true)
	c.bus.Publish(broadcast.Event{Topic: broadcast.ObjectDeselected, Index: -1})
	c.bus.Publish(broadcast.Event{Topic: broadcast.DeviceSelected, Index: i, Device: d})
	return nil
}

// SelectPoint adds index i of the action list to the selected points,
// replacing the selection when clear is set. -1 clears the selection.
func (c *Core) SelectPoint(i int, clear bool) {
	if i == -1 {
		c.selLock.Lock()
		c.selectedPoints = nil
		c.selLock.Unlock()
		c.bus.Publish(broadcast.Event{Topic: broadcast.ActionDeselected, Index: -1})
		return
	}
	if i < 0 || i >= c.actions.Len() {
		return
	}

	c.selLock.Lock()
	if clear {
		c.selectedPoints = nil
	}
	for _, p := range c.selectedPoints {
		if p == i {
			c.selLock.Unlock()
			return
		}
	}
	c.selectedPoints = append(c.selectedPoints, i)
	points := append([]int(nil), c.selectedPoints...)
	c.selectedObject = -1
	c.selLock.Unlock()

	c.SelectDevice(-1)
	c.bus.Publish(broadcast.Event{Topic: broadcast.ObjectDeselected, Index: -1})
	c.bus.Publish(broadcast.Event{Topic: broadcast.ActionSelected, Index: i, Indices: points})
}

func (c *Core) DeselectPoint(i int) bool {
	if !c.dropSelectedPoint(i) {
		return false
	}
	c.bus.Publish(broadcast.Event{Topic: broadcast.ActionDeselected, Index: i})
	return true
}

func (c *Core) dropSelectedPoint(i int) bool {
	c.selLock.Lock()
	defer c.selLock.Unlock()
	for j, p := range c.selectedPoints {
		if p == i {
			c.selectedPoints = append(c.selectedPoints[:j:j], c.selectedPoints[j+1:]...)
			return true
		}
	}
	return false
}

// SelectObject selects the proxy object at index i, clearing the device and
// point selections. A negative index clears the selection.
func (c *Core) SelectObject(i int) error {
	if i < 0 {
		c.selLock.Lock()
		c.selectedObject = -1
		c.selLock.Unlock()
		c.bus.Publish(broadcast.Event{Topic: broadcast.ObjectDeselected, Index: -1})
		return nil
	}
	if _, ok := c.objects.At(i); !ok {
		err := fmt.Errorf("invalid object index %d: %w", i, ErrIndexRange)
		c.bus.Error(err)
		return err
	}

	c.selLock.Lock()
	c.selectedObject = i
	c.selectedDevice = -1
	c.selectedPoints = nil
	c.selLock.Unlock()

	c.bus.Publish(broadcast.Event{Topic: broadcast.DeviceDeselected, Index: -1})
	c.bus.Publish(broadcast.Event{Topic: broadcast.ActionDeselected, Index: -1})
	c.bus.Publish(broadcast.Event{Topic: broadcast.ObjectSelected, Index: i})
	return nil
}

// UpdateSelectedPoints overwrites the leading arguments of every selected
// action with args.
func (c *Core) UpdateSelectedPoints(args ...float64) {
	points := c.SelectedPoints()
	if len(points) == 0 {
		return
	}
	c.actions.Modify(func(items []hardware.Action) bool {
		for _, i := range points {
			if i < 0 || i >= len(items) {
				continue
			}
			a := items[i].WithArgs(items[i].Args...)
			copy(a.Args, args)
			items[i] = a
		}
		return true
	})
}

//---
// Export and import
//---

// ExportActions serialises the main list, one command line per action, and
// writes it to filename when one is given.
func (c *Core) ExportActions(filename string) ([]string, error) {
	actions := c.Actions()

	var buf bytes.Buffer
	if err := hardware.WriteActions(&buf, actions); err != nil {
		c.bus.Error(err)
		return nil, err
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), hardware.LineEnding), hardware.LineEnding)
	if len(actions) == 0 {
		lines = nil
	}

	if filename != "" {
		if err := ioutil.WriteFile(filename, buf.Bytes(), 0644); err != nil {
			c.bus.Error(err)
			return lines, err
		}
	}

	c.log.WithField("filename", filename).WithField("count", len(lines)).Info("actions exported")
	c.bus.Publish(broadcast.Event{Topic: broadcast.ActionsExported, Filename: filename})
	return lines, nil
}

// ImportActions replaces the main list with the actions read from filename.
func (c *Core) ImportActions(filename string) (int, error) {
	f, err := os.Open(filename)
	if err != nil {
		c.bus.Error(err)
		return 0, err
	}
	defer f.Close()

	actions, err := hardware.ReadActions(f)
	if err != nil {
		err = fmt.Errorf("import %s: %w", filename, err)
		c.bus.Error(err)
		return 0, err
	}
	if err := c.ReplaceActions(actions); err != nil {
		c.bus.Error(err)
		return 0, err
	}
	return len(actions), nil
}

// ImportLines is ImportActions for command lines already in memory.
func (c *Core) ImportLines(text string) (int, error) {
	actions, err := hardware.ReadActions(strings.NewReader(text))
	if err != nil {
		c.bus.Error(err)
		return 0, err
	}
	if err := c.ReplaceActions(actions); err != nil {
		return 0, err
	}
	return len(actions), nil
}
