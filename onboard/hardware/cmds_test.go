package hardware

import (
	"errors"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestActionType(t *testing.T) {
	Convey("every type has a name that parses back to itself", t, func() {
		for _, at := range ActionTypes() {
			parsed, err := ParseActionType(at.String())
			So(err, ShouldBeNil)
			So(parsed, ShouldEqual, at)
		}
	})

	Convey("types are classified", t, func() {
		So(G0.IsMotion(), ShouldBeTrue)
		So(G92.IsMotion(), ShouldBeTrue)
		So(C0.IsCapture(), ShouldBeTrue)
		So(C1.IsCapture(), ShouldBeTrue)
		So(M17.IsSystem(), ShouldBeTrue)
		So(M24.IsMotion(), ShouldBeFalse)
	})

	Convey("mnemonics are case insensitive", t, func() {
		at, err := ParseActionType(" g17 ")
		So(err, ShouldBeNil)
		So(at, ShouldEqual, G17)

		_, err = ParseActionType("G5")
		So(errors.Is(err, ErrUnknownActionType), ShouldBeTrue)
	})

	Convey("out of range types are invalid", t, func() {
		So(ActionType(-1).Valid(), ShouldBeFalse)
		So(numActionTypes.Valid(), ShouldBeFalse)
		So(ActionType(99).String(), ShouldEqual, "ActionType(99)")
	})
}

func TestAction(t *testing.T) {
	Convey("NewAction copies its arguments", t, func() {
		args := []float64{1, 2, 3, 4, 5}
		a := NewAction(G1, 0, args...)
		args[0] = 42

		So(a.Args[0], ShouldEqual, 1)
		So(a.ArgCount(), ShouldEqual, len(a.Args))
	})

	Convey("validation", t, func() {
		So(NewAction(G1, 0, 1, 2, 3, 4, 5, 6).Validate(), ShouldBeNil)
		So(errors.Is(NewAction(G1, 0, 1, 2, 3, 4, 5, 6, 7).Validate(), ErrTooManyArgs), ShouldBeTrue)
		So(errors.Is(NewAction(M17, 0, 1).Validate(), ErrTooManyArgs), ShouldBeTrue)
		So(errors.Is(Action{Type: ActionType(64)}.Validate(), ErrUnknownActionType), ShouldBeTrue)

		Convey("device addresses below broadcast are refused", func() {
			So(NewAction(M17, DeviceBroadcast).Validate(), ShouldBeNil)
			So(errors.Is(NewAction(M17, -7).Validate(), ErrBadDevice), ShouldBeTrue)
			So(errors.Is(NewAction(G1, -2, 1, 2, 3).Validate(), ErrBadDevice), ShouldBeTrue)
		})
	})

	Convey("Position is only available on complete positioning moves", t, func() {
		p, ok := NewAction(G1, 2, 1, 2, 3, 0.5, -0.5).Position()
		So(ok, ShouldBeTrue)
		So(p, ShouldResemble, Point5{1, 2, 3, 0.5, -0.5})
		So(p.Tilt(), ShouldEqual, -0.5)

		_, ok = NewAction(G1, 2, 1, 2, 3).Position()
		So(ok, ShouldBeFalse)

		_, ok = NewAction(C0, 2, 1.5).Position()
		So(ok, ShouldBeFalse)
	})
}
