// Package comms relays the rig's notification bus to websocket clients and
// turns their messages into rig commands.
package comms

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodedInternet/gocopis/onboard/broadcast"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	CLIENT_BUFFER = 64
	WRITE_WAIT    = 5 * time.Second
)

var (
	ErrUnknownCmd = errors.New("unknown command")
	ErrWatchOnly  = errors.New("this client may only watch the rig")
)

// Rig is the part of the core the conductor drives.
type Rig interface {
	Bus() *broadcast.Bus
	SendNow(a hardware.Action) error
	Start() bool
	Pause() bool
	Resume() bool
	Cancel()
}

type Client struct {
	conn   *websocket.Conn
	tx     chan []byte
	once   sync.Once
	driver bool
}

func (c *Client) close() {
	c.once.Do(func() { close(c.tx) })
}

type Conductor struct {
	Device  Rig
	log     logrus.FieldLogger
	lock    sync.Mutex
	clients map[*Client]struct{}
	sub     *broadcast.Subscription
}

func NewConductor(device Rig, log logrus.FieldLogger) *Conductor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Conductor{
		Device:  device,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
	c.sub = device.Bus().SubscribeAll(c.UpdateClients)
	return c
}

// Close stops relaying events and drops every client.
func (c *Conductor) Close() {
	c.sub.Unsubscribe()
	c.lock.Lock()
	defer c.lock.Unlock()
	for client := range c.clients {
		delete(c.clients, client)
		client.close()
	}
}

func (c *Conductor) Clients() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.clients)
}

// UpdateClients queues e for every client. A client whose buffer is full is
// dropped rather than holding up the publisher.
func (c *Conductor) UpdateClients(e broadcast.Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		c.log.WithError(err).WithField("topic", e.Topic).Warn("unable to encode event")
		return
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	for client := range c.clients {
		select {
		case client.tx <- msg:
		default:
			c.log.WithField("remote", client.conn.RemoteAddr()).Warn("dropping slow client")
			delete(c.clients, client)
			client.close()
		}
	}
}

// Serve relays events to conn and processes its commands until the
// connection fails.
// Serve relays events to conn until it closes. Commands from the client are
// carried out only when driver is set.
func (c *Conductor) Serve(conn *websocket.Conn, driver bool) {
	client := &Client{conn: conn, tx: make(chan []byte, CLIENT_BUFFER), driver: driver}
	c.lock.Lock()
	c.clients[client] = struct{}{}
	c.lock.Unlock()

	log := c.log.WithField("remote", conn.RemoteAddr()).WithField("driver", driver)
	log.Info("client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.tx {
			conn.SetWriteDeadline(time.Now().Add(WRITE_WAIT))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.WithError(err).Debug("write failed")
				conn.Close()
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Info("client disconnected")
			break
		}

		var cmd Cmd
		reply := Reply{OK: true}
		if err := json.Unmarshal(raw, &cmd); err != nil {
			reply.OK, reply.Error = false, "invalid json"
		} else {
			reply.Cmd = cmd.Cmd
			err := ErrWatchOnly
			if client.driver {
				err = c.ProcessCommand(cmd)
			}
			if err != nil {
				reply.OK, reply.Error = false, err.Error()
			}
		}

		msg, _ := json.Marshal(reply)
		c.lock.Lock()
		if _, ok := c.clients[client]; ok {
			select {
			case client.tx <- msg:
			default:
			}
		}
		c.lock.Unlock()
	}

	c.lock.Lock()
	if _, ok := c.clients[client]; ok {
		delete(c.clients, client)
		client.close()
	}
	c.lock.Unlock()
	<-done
	conn.Close()
}

func (c *Conductor) ProcessCommand(cmd Cmd) error {
	switch cmd.Cmd {
	case "send":
		a, err := hardware.Parse(cmd.Line)
		if err != nil {
			return err
		}
		return c.Device.SendNow(a)

	case "start":
		return refused(c.Device.Start(), cmd.Cmd)

	case "pause":
		return refused(c.Device.Pause(), cmd.Cmd)

	case "resume":
		return refused(c.Device.Resume(), cmd.Cmd)

	case "cancel":
		c.Device.Cancel()
		return nil

	default:
		return fmt.Errorf("%w %q", ErrUnknownCmd, cmd.Cmd)
	}
}

func refused(ok bool, cmd string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%s refused in the current state", cmd)
}
