// greenhouse – the operator CLI for the greenhoused broker.
//
// Usage:
//
//	greenhouse watch                              – follow the live event stream as a control panel
//	greenhouse send <actuator> <action>           – issue one actuator command and exit
//	greenhouse simulate                           – run a simulated sensor node
//
// All commands take --addr; its default honours BROKER_PORT the same way
// the daemon does.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mkleiva/greenhouse/internal/broker"
	"github.com/mkleiva/greenhouse/internal/client"
	"github.com/mkleiva/greenhouse/internal/proto"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "watch":
		cmdWatch()
	case "send":
		cmdSend()
	case "simulate":
		cmdSimulate()
	default:
		fmt.Fprintf(os.Stderr, "greenhouse: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `greenhouse – talk to the greenhoused broker

Commands:
  watch                                  Register as a control panel and print the event stream
  send [--node <id|ALL>] <actuator> <action>
                                         Send one actuator command (e.g. fan ON)
  simulate [--node <id>] [--interval <d>]
                                         Run a simulated sensor node

Common flags:
  --addr <host:port>                     Broker address (default localhost:23048, env BROKER_PORT)`)
}

// defaultAddr builds the broker address the same way greenhoused resolves
// its port, so the CLI and the daemon agree out of the box.
func defaultAddr() string {
	port := broker.DefaultPort
	if p, ok := broker.PortFromEnv(); ok {
		port = p
	}
	return fmt.Sprintf("localhost:%d", port)
}

// cmdSend handles: greenhouse send [--addr a] [--node id] <actuator> <action>
func cmdSend() {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr(), "broker address")
	node := fs.String("node", proto.TargetAll, "target sensor node id, or ALL")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: greenhouse send [--addr <host:port>] [--node <id|ALL>] <actuator> <action>")
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[2:])

	if fs.NArg() != 2 {
		fs.Usage()
		os.Exit(1)
	}
	actuator, action := fs.Arg(0), fs.Arg(1)

	c, err := client.Dial(*addr, proto.RoleControlPanel, "panel-cli")
	if err != nil {
		fmt.Fprintf(os.Stderr, "greenhouse: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.SendCommand(*node, actuator, action); err != nil {
		fmt.Fprintf(os.Stderr, "greenhouse: send: %v\n", err)
		os.Exit(1)
	}

	// Linger briefly so a broker-side ERROR (unknown target) surfaces
	// instead of vanishing into a closed socket.
	go func() {
		time.Sleep(500 * time.Millisecond)
		c.Close()
	}()
	failed := false
	c.Run(func(env proto.Envelope, frame []byte) {
		if env.Type == proto.TypeError {
			fmt.Fprintf(os.Stderr, "greenhouse: broker rejected command: %s\n", frame)
			failed = true
		}
	})
	if failed {
		os.Exit(1)
	}
	fmt.Printf("sent %s %s to %s\n", actuator, action, *node)
}
