package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mkleiva/greenhouse/internal/client"
	"github.com/mkleiva/greenhouse/internal/proto"
)

// cmdWatch registers as a control panel and prints the event stream, one
// line per frame, until interrupted.
func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr(), "broker address")
	name := fs.String("name", "panel-watch", "panel identifier sent at registration")
	fs.Parse(os.Args[2:])

	c, err := client.Dial(*addr, proto.RoleControlPanel, *name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "greenhouse: %v\n", err)
		os.Exit(1)
	}

	fd := int(os.Stdout.Fd())
	color := term.IsTerminal(fd)
	width := 0
	if w, _, err := term.GetSize(fd); err == nil {
		width = w
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		c.Close()
	}()

	fmt.Printf("watching %s as %s (Ctrl-C to exit)\n", *addr, *name)

	err = c.Run(func(env proto.Envelope, frame []byte) {
		printEvent(env, frame, color, width)
	})
	if err != nil {
		// Ctrl-C closes the socket under Run; either way we are done.
		fmt.Println("stream closed")
	}
}

// printEvent renders one broker frame as a log line, truncated to the
// terminal width.
func printEvent(env proto.Envelope, frame []byte, color bool, width int) {
	stamp := time.Now().Format("15:04:05")
	var line string

	switch env.Type {
	case proto.TypeSensorData:
		var sd proto.SensorData
		if json.Unmarshal(frame, &sd) != nil {
			return
		}
		line = fmt.Sprintf("%s  %-12s %s = %s%s", stamp, sd.NodeID, sd.SensorKey, sd.Value, sd.Unit)

	case proto.TypeActuatorState, proto.TypeActuatorStatus:
		var as proto.ActuatorState
		if json.Unmarshal(frame, &as) != nil {
			return
		}
		// Tolerate both firmware field conventions.
		actuator := as.Actuator
		if actuator == "" {
			actuator = as.ActuatorKey
		}
		status := as.Status
		if status == "" {
			status = as.State
		}
		line = fmt.Sprintf("%s  %-12s %s -> %s", stamp, as.NodeID, actuator, status)
		if as.Value != "" {
			line += " (" + as.Value + ")"
		}

	case proto.TypeNodeConnected:
		line = fmt.Sprintf("%s  + node %s connected", stamp, env.NodeID)
	case proto.TypeNodeDisconnected:
		line = fmt.Sprintf("%s  - node %s disconnected", stamp, env.NodeID)

	case proto.TypeNodeList:
		var list proto.NodeList
		if json.Unmarshal(frame, &list) != nil {
			return
		}
		if list.Nodes == "" {
			line = stamp + "  no sensor nodes online"
		} else {
			line = fmt.Sprintf("%s  nodes online: %s", stamp, strings.ReplaceAll(list.Nodes, ",", ", "))
		}

	case proto.TypeError:
		var e proto.ErrorMessage
		if json.Unmarshal(frame, &e) != nil {
			return
		}
		line = fmt.Sprintf("%s  ! %s", stamp, e.Message)
		if color {
			line = "\033[31m" + line + "\033[0m"
		}

	default:
		line = fmt.Sprintf("%s  %s %s", stamp, env.Type, frame)
		if color {
			line = "\033[2m" + line + "\033[0m"
		}
	}

	if width > 10 && len(line) > width {
		line = line[:width-1] + "…"
	}
	fmt.Println(line)
}
