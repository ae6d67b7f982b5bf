package serialbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	. "github.com/smartystreets/goconvey/convey"
	"go.bug.st/serial/enumerator"
)

type testPort struct {
	lock     sync.Mutex
	rx       [][]byte
	tx       []byte
	closed   bool
	timeout  time.Duration
	readErr  error
	writeErr error
}

func (p *testPort) Read(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.readErr != nil {
		return 0, p.readErr
	}
	if len(p.rx) == 0 {
		return 0, nil
	}
	n := copy(b, p.rx[0])
	p.rx = p.rx[1:]
	return n, nil
}

func (p *testPort) Write(b []byte) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return 0, errors.New("closed")
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	p.tx = append(p.tx, b...)
	return len(b), nil
}

func (p *testPort) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	return nil
}

func (p *testPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

var listCalls int

func newTestTransport(failures int) (*SerialTransport, *testPort, *int) {
	port := new(testPort)
	attempts := 0
	tr := NewSerialTransport(nil)
	tr.list = func() ([]*enumerator.PortDetails, error) {
		listCalls++
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB1", IsUSB: true, Product: "COPIS controller"},
			{Name: "/dev/ttyS0"},
		}, nil
	}
	tr.open = func(name string, baud int) (portIO, error) {
		attempts++
		if attempts <= failures {
			return nil, errors.New("device busy")
		}
		return port, nil
	}
	tr.OpenBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
	}
	return tr, port, &attempts
}

func TestSerialTransport(t *testing.T) {
	Convey("ports are enumerated and sorted", t, func() {
		tr, _, _ := newTestTransport(0)
		So(tr.UpdatePorts(), ShouldBeNil)

		ports := tr.Ports()
		So(len(ports), ShouldEqual, 2)
		So(ports[0].Name, ShouldEqual, "/dev/ttyS0")
		So(ports[1].IsUSB, ShouldBeTrue)

		Convey("only one port is active at a time", func() {
			So(tr.Select("/dev/ttyS0"), ShouldBeNil)
			So(tr.Select("/dev/ttyUSB1"), ShouldBeNil)
			active := 0
			for _, p := range tr.Ports() {
				if p.IsActive {
					active++
				}
			}
			So(active, ShouldEqual, 1)
			So(tr.ActivePort(), ShouldEqual, "/dev/ttyUSB1")
		})

		Convey("selecting an unknown port fails", func() {
			err := tr.Select("/dev/nope")
			So(errors.Is(err, ErrPortNotFound), ShouldBeTrue)
			So(tr.ActivePort(), ShouldEqual, "")
		})
	})

	Convey("selecting before the ports were listed lists them", t, func() {
		tr, _, _ := newTestTransport(0)
		listCalls = 0

		So(tr.Select("/dev/ttyUSB1"), ShouldBeNil)
		So(listCalls, ShouldEqual, 1)
		So(tr.ActivePort(), ShouldEqual, "/dev/ttyUSB1")
		So(tr.Ports(), ShouldHaveLength, 2)

		Convey("a known port does not list again", func() {
			So(tr.Select("/dev/ttyS0"), ShouldBeNil)
			So(listCalls, ShouldEqual, 1)
		})
	})

	Convey("opening retries until the port answers", t, func() {
		tr, _, attempts := newTestTransport(2)
		tr.UpdatePorts()

		So(tr.Open("/dev/ttyUSB1", DefaultBaud), ShouldBeNil)
		So(*attempts, ShouldEqual, 3)
		So(tr.IsOpen("/dev/ttyUSB1"), ShouldBeTrue)

		Convey("a second open is refused", func() {
			err := tr.Open("/dev/ttyUSB1", DefaultBaud)
			So(errors.Is(err, ErrAlreadyOpen), ShouldBeTrue)
		})
	})

	Convey("opening gives up after the backoff is exhausted", t, func() {
		tr, _, attempts := newTestTransport(10)
		tr.UpdatePorts()

		So(tr.Open("/dev/ttyUSB1", DefaultBaud), ShouldNotBeNil)
		So(*attempts, ShouldEqual, 4)
		So(tr.IsOpen("/dev/ttyUSB1"), ShouldBeFalse)
	})

	Convey("an open port", t, func() {
		tr, port, _ := newTestTransport(0)
		tr.UpdatePorts()
		tr.Select("/dev/ttyUSB1")
		So(tr.Open("/dev/ttyUSB1", DefaultBaud), ShouldBeNil)
		So(ActiveConnected(tr), ShouldBeTrue)

		Convey("writes reach the device", func() {
			So(tr.Send("/dev/ttyUSB1", []byte(">0G1X1\n")), ShouldBeNil)
			So(string(port.tx), ShouldEqual, ">0G1X1\n")
		})

		Convey("reads return whole lines only", func() {
			port.rx = [][]byte{[]byte("o"), []byte("k\nbusy\n")}

			line, err := tr.Read("/dev/ttyUSB1")
			So(err, ShouldBeNil)
			So(line, ShouldBeNil)

			line, _ = tr.Read("/dev/ttyUSB1")
			So(string(line), ShouldEqual, "ok")

			line, _ = tr.Read("/dev/ttyUSB1")
			So(string(line), ShouldEqual, "busy")
		})

		Convey("a failed read closes the port", func() {
			unplugged := errors.New("device unplugged")
			port.readErr = unplugged

			line, err := tr.Read("/dev/ttyUSB1")
			So(line, ShouldBeNil)
			So(errors.Is(err, unplugged), ShouldBeTrue)
			So(tr.IsOpen("/dev/ttyUSB1"), ShouldBeFalse)
			So(ActiveConnected(tr), ShouldBeFalse)
			So(port.closed, ShouldBeTrue)

			_, err = tr.Read("/dev/ttyUSB1")
			So(errors.Is(err, ErrNotOpen), ShouldBeTrue)

			Convey("and it can be opened again", func() {
				port.readErr = nil
				port.closed = false
				So(tr.Open("/dev/ttyUSB1", DefaultBaud), ShouldBeNil)
				So(ActiveConnected(tr), ShouldBeTrue)
			})
		})

		Convey("a failed write closes the port", func() {
			port.writeErr = errors.New("I/O error")

			So(tr.Send("/dev/ttyUSB1", []byte("x\n")), ShouldNotBeNil)
			So(tr.IsOpen("/dev/ttyUSB1"), ShouldBeFalse)
			So(port.closed, ShouldBeTrue)
		})

		Convey("an overlong line is an error but the port stays open", func() {
			chunk := make([]byte, readChunk)
			for i := range chunk {
				chunk[i] = 'x'
			}
			for n := 0; n <= maxLine; n += readChunk {
				port.rx = append(port.rx, chunk)
			}

			var err error
			reads := len(port.rx)
			for i := 0; i < reads && err == nil; i++ {
				_, err = tr.Read("/dev/ttyUSB1")
			}
			So(errors.Is(err, ErrLineTooLong), ShouldBeTrue)
			So(tr.IsOpen("/dev/ttyUSB1"), ShouldBeTrue)
		})

		Convey("closing releases the port", func() {
			So(tr.Close("/dev/ttyUSB1"), ShouldBeNil)
			So(port.closed, ShouldBeTrue)
			So(ActiveConnected(tr), ShouldBeFalse)

			err := tr.Send("/dev/ttyUSB1", []byte("x"))
			So(errors.Is(err, ErrNotOpen), ShouldBeTrue)

			err = tr.Close("/dev/ttyUSB1")
			So(errors.Is(err, ErrNotOpen), ShouldBeTrue)
		})
	})
}
