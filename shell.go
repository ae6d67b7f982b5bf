package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/CodedInternet/gocopis/onboard"
	"github.com/CodedInternet/gocopis/onboard/hardware"
	"github.com/abiosoft/ishell"
	"github.com/go-gl/mathgl/mgl64"
)

var errUsage = errors.New("wrong number of arguments")

func parseFloats(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func parseInts(args []string) ([]int, error) {
	out := make([]int, len(args))
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func reportBool(c *ishell.Context, ok bool, what string) {
	if ok {
		c.Println(what)
	} else {
		c.Err(fmt.Errorf("%s: %w", strings.ToLower(what), errRefused))
	}
}

func newShell(core *onboard.Core) *ishell.Shell {
	portNames := func([]string) []string {
		ports := core.Ports()
		names := make([]string, 0, len(ports))
		for _, p := range ports {
			names = append(names, p.Name)
		}
		return names
	}

	shell := ishell.New()
	shell.Println("COPIS development shell")
	shell.ShowPrompt(true)

	// operators may drive the rig, watchers only follow its events
	addUser := func(operator bool) func(c *ishell.Context) {
		return func(c *ishell.Context) {
			// disable the '>>>' for cleaner same line input.
			c.ShowPrompt(false)
			defer c.ShowPrompt(true) // yes, revert when done.

			var email string
			if len(c.Args) >= 1 {
				email = c.Args[0]
			} else {
				c.Print("Email: ")
				email = c.ReadLine()
			}

			var password string
			if len(c.Args) >= 2 {
				password = c.Args[1]
			} else {
				c.Print("Password: ")
				password = c.ReadPassword()
			}

			if _, err := ENV.DB.CreateUser(email, email, password, operator); err != nil {
				c.Err(err)
				return
			}
			if operator {
				c.Println("Operator created")
			} else {
				c.Println("Watcher created")
			}
		}
	}
	shell.AddCmd(&ishell.Cmd{
		Name: "createsuperuser",
		Help: "createsuperuser <email> <password>: a user who may drive the rig",
		Func: addUser(true),
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "adduser",
		Help: "adduser <email> <password>: a user who may only watch",
		Func: addUser(false),
	})

	//---
	// Connection
	//---
	shell.AddCmd(&ishell.Cmd{
		Name: "ports",
		Help: "list serial ports",
		Func: func(c *ishell.Context) {
			if err := core.UpdatePorts(); err != nil {
				c.Err(err)
			}
			for _, p := range core.Ports() {
				mark := " "
				if p.IsActive {
					mark = "*"
				}
				c.Printf("%s %-20s connected=%v %s\n", mark, p.Name, p.IsConnected, p.Product)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:      "select",
		Help:      "select <port>",
		Completer: portNames,
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errUsage)
				return
			}
			if err := core.SelectPort(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "connect",
		Help: "connect [baud]",
		Func: func(c *ishell.Context) {
			baud := core.Config().Serial.Baud
			if len(c.Args) > 0 {
				var err error
				if baud, err = strconv.Atoi(c.Args[0]); err != nil {
					c.Err(err)
					return
				}
			}
			if err := core.Connect(baud); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "disconnect",
		Func: func(c *ishell.Context) {
			if err := core.Disconnect(); err != nil {
				c.Err(err)
			}
		},
	})

	//---
	// Actions
	//---
	shell.AddCmd(&ishell.Cmd{
		Name: "add",
		Help: "add <type> <device> [args...]",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 2 {
				c.Err(errUsage)
				return
			}
			t, err := hardware.ParseActionType(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			device, err := strconv.Atoi(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			args, err := parseFloats(c.Args[2:])
			if err != nil {
				c.Err(err)
				return
			}
			if err := core.AddAction(t, device, args...); err != nil {
				c.Err(err)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "actions",
		Help: "list the action list",
		Func: func(c *ishell.Context) {
			for i, a := range core.Actions() {
				c.Printf("%4d  %v\n", i, a)
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "clear",
		Help: "clear the action list",
		Func: func(c *ishell.Context) {
			core.ClearActions()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "export",
		Help: "export <file>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errUsage)
				return
			}
			lines, err := core.ExportActions(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("%d actions written\n", len(lines))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "import",
		Help: "import <file>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(errUsage)
				return
			}
			n, err := core.ImportActions(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("%d actions read\n", n)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "interleave",
		Help: "let the devices take turns through the action list",
		Func: func(c *ishell.Context) {
			core.InterleaveActions()
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "path statistics per device",
		Func: func(c *ishell.Context) {
			for _, s := range core.PathStats() {
				c.Printf("device %d: %d points, %.1fmm, centroid %v\n", s.Device, s.Points, s.Length, s.Centroid)
			}
		},
	})

	//---
	// Path generation
	//---
	shell.AddCmd(&ishell.Cmd{
		Name: "line",
		Help: "line <x1> <y1> <z1> <x2> <y2> <z2> <n> <device...>",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 8 {
				c.Err(errUsage)
				return
			}
			v, err := parseFloats(c.Args[:7])
			if err != nil {
				c.Err(err)
				return
			}
			ids, err := parseInts(c.Args[7:])
			if err != nil {
				c.Err(err)
				return
			}
			points := onboard.Line(mgl64.Vec3{v[0], v[1], v[2]}, mgl64.Vec3{v[3], v[4], v[5]}, int(v[6]))
			n := core.AddPath(points, mgl64.Vec3{}, ids)
			c.Printf("%d poses added\n", n)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "point",
		Help: "point <device> <x> <y> <z>",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 4 {
				c.Err(errUsage)
				return
			}
			device, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			v, err := parseFloats(c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			n := core.AddPath([]mgl64.Vec3{{v[0], v[1], v[2]}}, mgl64.Vec3{}, []int{device})
			c.Printf("%d poses added\n", n)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "devices",
		Func: func(c *ishell.Context) {
			for i, d := range core.Devices.Devices() {
				c.Printf("%d: #%d %s (%s) at %v connected=%v\n", i, d.ID, d.Name, d.Type, d.Position, d.Connected)
			}
		},
	})

	//---
	// Session
	//---
	shell.AddCmd(&ishell.Cmd{
		Name: "start",
		Func: func(c *ishell.Context) { reportBool(c, core.Start(), "Imaging started") },
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "pause",
		Func: func(c *ishell.Context) { reportBool(c, core.Pause(), "Imaging paused") },
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "resume",
		Func: func(c *ishell.Context) { reportBool(c, core.Resume(), "Imaging resumed") },
	})
	shell.AddCmd(&ishell.Cmd{
		Name: "cancel",
		Func: func(c *ishell.Context) { core.Cancel() },
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <command line>, e.g. send >0G0X10Y0Z150P0T0",
		Func: func(c *ishell.Context) {
			a, err := hardware.Parse(strings.Join(c.Args, ""))
			if err != nil {
				c.Err(err)
				return
			}
			if err := core.SendNow(a); err != nil {
				c.Err(err)
			}
		},
	})

	return shell
}
