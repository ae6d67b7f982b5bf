package onboard

import (
	"math"
	"testing"

	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/go-gl/mathgl/mgl64"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerators(t *testing.T) {
	Convey("Line includes both ends", t, func() {
		points := Line(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{10, 0, 0}, 3)
		So(points, ShouldResemble, []mgl64.Vec3{{0, 0, 0}, {5, 0, 0}, {10, 0, 0}})
		So(Line(mgl64.Vec3{}, mgl64.Vec3{1, 1, 1}, 0), ShouldBeNil)
	})

	Convey("Circle points sit at the radius", t, func() {
		center := mgl64.Vec3{1, 2, 3}
		points := Circle(center, mgl64.Vec3{0, 1, 0}, 5, 12)
		So(points, ShouldHaveLength, 12)
		for _, p := range points {
			So(p.Sub(center).Len(), ShouldAlmostEqual, 5, 1e-9)
			So(p.Y(), ShouldAlmostEqual, 2, 1e-9)
		}
	})

	Convey("Helix climbs by the pitch every rotation", t, func() {
		points := Helix(mgl64.Vec3{}, mgl64.Vec3{0, 0, 1}, 10, 20, 2, 8)
		So(points, ShouldNotBeEmpty)
		last := points[len(points)-1]
		So(last.Z(), ShouldBeLessThanOrEqualTo, 40+1e-9)
		So(last.Z(), ShouldBeGreaterThan, points[0].Z())
	})

	Convey("Sphere points sit on the surface", t, func() {
		points := Sphere(mgl64.Vec3{}, 50, 5, 20)
		So(points, ShouldNotBeEmpty)
		for _, p := range points {
			So(p.Len(), ShouldAlmostEqual, 50, 1e-6)
		}
	})

	Convey("LookAt points back at the target", t, func() {
		pan, tilt := LookAt(mgl64.Vec3{0, 10, 0}, mgl64.Vec3{})
		So(pan, ShouldAlmostEqual, 0, 1e-9)
		So(tilt, ShouldAlmostEqual, 0, 1e-9)

		_, tilt = LookAt(mgl64.Vec3{0, 10, 10}, mgl64.Vec3{})
		So(tilt, ShouldAlmostEqual, -math.Pi/4, 1e-9)
	})
}

func TestPlanPath(t *testing.T) {
	Convey("Given the default rig", t, func() {
		r := NewDeviceRegistry(nil, DefaultConfig().BuildDevices()...)
		obstacles := DefaultConfig().Objects

		Convey("moves through an object are infinitely expensive", func() {
			So(math.IsInf(moveCost(mgl64.Vec3{-50, 0, 0}, mgl64.Vec3{50, 0, 0}, obstacles), 1), ShouldBeTrue)
			So(moveCost(mgl64.Vec3{-50, 50, 0}, mgl64.Vec3{50, 50, 1}, obstacles), ShouldAlmostEqual, 110, 1e-9)
		})

		Convey("points are split between the chambers and interlaced", func() {
			points := []mgl64.Vec3{{100, 0, 100}, {0, 100, 100}, {100, 0, -100}, {0, 100, -100}, {900, 0, 0}}
			poses := PlanPath(points, mgl64.Vec3{}, []int{0, 1}, r, obstacles)

			So(poses, ShouldHaveLength, 4)
			devices := []int{}
			for _, p := range poses {
				So(p.Position.Type, ShouldEqual, hardware.G1)
				So(p.Payload, ShouldHaveLength, 1)
				So(p.Payload[0].Type, ShouldEqual, hardware.C0)
				devices = append(devices, p.Position.Device)
			}
			So(devices, ShouldResemble, []int{0, 1, 0, 1})
		})
	})

	Convey("InterleaveActions keeps unpaired actions", t, func() {
		m17 := hardware.NewAction(hardware.M17, 0)
		g0 := hardware.NewAction(hardware.G0, 1, 1, 1, 1, 0, 0)
		out := InterleaveActions([]hardware.Action{m17, g0})
		So(out, ShouldResemble, []hardware.Action{m17, g0})
	})
}
