package onboard

import (
	"sync"
	"testing"
	"time"

	"github.com/CodedInternet/gocopis/onboard/hardware"
	. "github.com/smartystreets/goconvey/convey"
)

func TestCommandQueue(t *testing.T) {
	a := hardware.NewAction(hardware.G1, 0, 1)
	b := hardware.NewAction(hardware.G1, 0, 2)
	c := hardware.NewAction(hardware.G1, 0, 3)

	Convey("Given a queue", t, func() {
		q := NewCommandQueue(a, b)

		Convey("it pops in order", func() {
			got, ok := q.TryPop()
			So(ok, ShouldBeTrue)
			So(got, ShouldResemble, a)
			So(q.Snapshot(), ShouldResemble, []hardware.Action{b})
		})

		Convey("PushFront puts an action back at the head", func() {
			got, _ := q.TryPop()
			q.Push(c)
			q.PushFront(got)
			So(q.Snapshot(), ShouldResemble, []hardware.Action{a, b, c})
		})

		Convey("an empty queue", func() {
			q.Clear()
			So(q.Len(), ShouldEqual, 0)

			_, ok := q.TryPop()
			So(ok, ShouldBeFalse)

			Convey("PopWait times out", func() {
				start := time.Now()
				_, ok := q.PopWait(5 * time.Millisecond)
				So(ok, ShouldBeFalse)
				So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 5*time.Millisecond)
			})

			Convey("PopWait wakes on a push", func() {
				go func() {
					time.Sleep(2 * time.Millisecond)
					q.Push(c)
				}()
				got, ok := q.PopWait(time.Second)
				So(ok, ShouldBeTrue)
				So(got, ShouldResemble, c)
			})

			Convey("popWait gives up on stop", func() {
				stop := make(chan struct{})
				close(stop)
				_, ok := q.popWait(time.Second, stop)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("snapshots are copies", func() {
			snap := q.Snapshot()
			snap[0] = c
			got, _ := q.TryPop()
			So(got, ShouldResemble, a)
		})
	})

	Convey("Concurrent pushes while draining lose and duplicate nothing", t, func() {
		const n = 2000
		q := NewCommandQueue()

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				q.Push(hardware.NewAction(hardware.G1, 0, float64(i)))
			}
		}()

		seen := make([]int, n)
		got := 0
		for got < n {
			act, ok := q.PopWait(time.Second)
			if !ok {
				break
			}
			seen[int(act.Args[0])]++
			got++
		}
		wg.Wait()

		So(got, ShouldEqual, n)
		for i := range seen {
			So(seen[i], ShouldEqual, 1)
		}
		So(q.Len(), ShouldEqual, 0)
	})
}
