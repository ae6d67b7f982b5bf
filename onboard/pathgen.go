package onboard

import (
	. "math"
	"sort"

	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/go-gl/mathgl/mgl64"
)

const (
	XY_COST         = 1.0
	Z_COST          = 10.0
	COLLIDE_MARGIN  = 10.0
	DefaultShutterS = 1.5
)

// basis returns two unit vectors perpendicular to n and to each other.
func basis(n mgl64.Vec3) (u, v mgl64.Vec3) {
	n = n.Normalize()
	ref := mgl64.Vec3{0, 0, 1}
	if Abs(n.Dot(ref)) > 0.9 {
		ref = mgl64.Vec3{1, 0, 0}
	}
	u = ref.Cross(n).Normalize()
	v = n.Cross(u)
	return
}

// Line spaces n points evenly from start to end inclusive.
func Line(start, end mgl64.Vec3, n int) []mgl64.Vec3 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []mgl64.Vec3{start}
	}
	points := make([]mgl64.Vec3, n)
	step := end.Sub(start).Mul(1 / float64(n-1))
	for i := range points {
		points[i] = start.Add(step.Mul(float64(i)))
	}
	return points
}

// Circle places n points on a circle of radius r around center, in the
// plane perpendicular to normal.
func Circle(center, normal mgl64.Vec3, r float64, n int) []mgl64.Vec3 {
	if n <= 0 {
		return nil
	}
	u, v := basis(normal)
	points := make([]mgl64.Vec3, n)
	for i := range points {
		theta := 2 * Pi * float64(i) / float64(n)
		points[i] = center.Add(u.Mul(r * Cos(theta))).Add(v.Mul(r * Sin(theta)))
	}
	return points
}

// Helix winds n points per rotation up from base along normal.
func Helix(base, normal mgl64.Vec3, r, pitch, rotations float64, n int) []mgl64.Vec3 {
	if n <= 0 || rotations <= 0 {
		return nil
	}
	axis := normal.Normalize()
	u, v := basis(axis)
	total := int(Round(rotations * float64(n)))
	points := make([]mgl64.Vec3, 0, total+1)
	for i := 0; i <= total; i++ {
		turns := float64(i) / float64(n)
		theta := 2 * Pi * turns
		p := base.Add(axis.Mul(pitch * turns)).
			Add(u.Mul(r * Cos(theta))).
			Add(v.Mul(r * Sin(theta)))
		points = append(points, p)
	}
	return points
}

// Cylinder stacks zdiv circles of n points from base up to base+height.
func Cylinder(base mgl64.Vec3, r, height float64, zdiv, n int) []mgl64.Vec3 {
	var points []mgl64.Vec3
	for _, c := range Line(base, base.Add(mgl64.Vec3{0, 0, height}), zdiv) {
		points = append(points, Circle(c, mgl64.Vec3{0, 0, 1}, r, n)...)
	}
	return points
}

// Sphere covers the middle 80% of a sphere's height with zdiv rings,
// placing points roughly dist apart on each ring.
func Sphere(center mgl64.Vec3, r float64, zdiv int, dist float64) []mgl64.Vec3 {
	if zdiv < 2 || dist <= 0 {
		return nil
	}
	var points []mgl64.Vec3
	for i := 0; i < zdiv; i++ {
		z := float64(i)*(r*0.8*2/float64(zdiv-1)) - r*0.8
		ring := Sqrt(r*r - z*z)
		n := int(2 * Pi * ring / dist)
		points = append(points, Circle(center.Add(mgl64.Vec3{0, 0, z}), mgl64.Vec3{0, 0, 1}, ring, n)...)
	}
	return points
}

// LookAt returns the pan and tilt that point a camera at from towards target.
func LookAt(from, target mgl64.Vec3) (pan, tilt float64) {
	d := from.Sub(target)
	pan = Atan2(d.X(), d.Y())
	tilt = -Atan2(d.Z(), Hypot(d.X(), d.Y()))
	return
}

func moveCost(start, end mgl64.Vec3, obstacles []ProxyObject) float64 {
	for _, o := range obstacles {
		if o.Bounds.Contains(end, COLLIDE_MARGIN) || o.Bounds.IntersectsSegment(start, end) {
			return Inf(1)
		}
	}
	xy := mgl64.Vec2{end.X() - start.X(), end.Y() - start.Y()}.Len()
	return XY_COST*xy + Z_COST*Abs(end.Z()-start.Z())
}

// greedyOrder starts at the first point and repeatedly moves to the
// cheapest remaining one. It stops early if every remaining move collides.
func greedyOrder(points []mgl64.Vec3, obstacles []ProxyObject) []mgl64.Vec3 {
	if len(points) == 0 {
		return nil
	}
	remaining := append([]mgl64.Vec3(nil), points[1:]...)
	ordered := []mgl64.Vec3{points[0]}
	for len(remaining) > 0 {
		curr := ordered[len(ordered)-1]
		best, bestCost := -1, Inf(1)
		for i, p := range remaining {
			if c := moveCost(curr, p, obstacles); c < bestCost {
				best, bestCost = i, c
			}
		}
		if best < 0 {
			break
		}
		ordered = append(ordered, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return ordered
}

// PlanPath turns vertices into capture poses. Each vertex is assigned to the
// device among deviceIDs whose bounds hold it (vertices no device can reach
// are dropped), ordered per device to avoid the obstacles, and the devices
// are interlaced round robin.
func PlanPath(vertices []mgl64.Vec3, lookat mgl64.Vec3, deviceIDs []int, registry *DeviceRegistry, obstacles []ProxyObject) []hardware.Pose {
	grouped := make(map[int][]mgl64.Vec3)
	for _, p := range vertices {
		if id := registry.Containing(p, deviceIDs); id != hardware.DeviceBroadcast {
			grouped[id] = append(grouped[id], p)
		}
	}

	ordered := make(map[int][]mgl64.Vec3, len(grouped))
	for id, points := range grouped {
		ordered[id] = greedyOrder(points, obstacles)
	}

	var poses []hardware.Pose
	for {
		empty := true
		for _, id := range deviceIDs {
			points := ordered[id]
			if len(points) == 0 {
				continue
			}
			empty = false

			p := points[len(points)-1]
			ordered[id] = points[:len(points)-1]

			pan, tilt := LookAt(p, lookat)
			poses = append(poses, hardware.NewPose(
				hardware.NewAction(hardware.G1, id, p.X(), p.Y(), p.Z(), pan, tilt),
				hardware.NewAction(hardware.C0, id, DefaultShutterS),
			))
		}
		if empty {
			return poses
		}
	}
}

// InterleaveActions regroups a flat list of (position, capture) pairs so the
// devices take turns in id order, keeping each device's own order.
func InterleaveActions(actions []hardware.Action) []hardware.Action {
	var devices []int
	pairs := make(map[int][][]hardware.Action)
	for i := 0; i < len(actions); {
		end := i + 1
		if actions[i].Type.IsMotion() && end < len(actions) &&
			actions[end].Type.IsCapture() && actions[end].Device == actions[i].Device {
			end++
		}
		dev := actions[i].Device
		if _, ok := pairs[dev]; !ok {
			devices = append(devices, dev)
		}
		pairs[dev] = append(pairs[dev], actions[i:end])
		i = end
	}

	sort.Ints(devices)

	out := make([]hardware.Action, 0, len(actions))
	for round := 0; ; round++ {
		added := false
		for _, dev := range devices {
			if round < len(pairs[dev]) {
				out = append(out, pairs[dev][round]...)
				added = true
			}
		}
		if !added {
			return out
		}
	}
}
