package hardware

import (
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestPose(t *testing.T) {
	a := NewAction(C0, 1, 1.5)
	b := NewAction(C1, 1)

	Convey("a pose without a position", t, func() {
		p := Pose{Payload: []Action{a, b}}

		Convey("Actions leaves the position out", func() {
			So(p.Actions(), ShouldResemble, []Action{a, b})
		})

		Convey("SequencedActions keeps an empty slot for it", func() {
			seq := p.SequencedActions()
			So(len(seq), ShouldEqual, 3)
			So(seq[0], ShouldBeNil)
			So(*seq[1], ShouldResemble, a)
			So(*seq[2], ShouldResemble, b)
		})
	})

	Convey("a full pose flattens position first", t, func() {
		move := NewAction(G1, 1, 0, 0, 10, 0, 0)
		p := NewPose(move, a)

		So(p.Actions(), ShouldResemble, []Action{move, a})
		So(*p.SequencedActions()[0], ShouldResemble, move)

		Convey("and poses flatten in order", func() {
			second := NewPose(NewAction(G1, 2, 5, 5, 5, 0, 0))
			So(FlattenPoses([]Pose{p, second}), ShouldResemble,
				[]Action{move, a, *second.Position})
		})
	})

	Convey("an empty pose is allowed", t, func() {
		So(Pose{}.Actions(), ShouldBeEmpty)
		So(Pose{}.SequencedActions(), ShouldResemble, []*Action{nil})
	})
}
