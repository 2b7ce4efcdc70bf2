package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkleiva/greenhouse/internal/client"
	"github.com/mkleiva/greenhouse/internal/proto"
)

// simNode is a stand-in sensor node: it publishes drifting temperature and
// humidity readings and keeps plain on/off bookkeeping for its actuators.
// There is no plant physics here — just enough behaviour to exercise the
// protocol end to end.
type simNode struct {
	c   *client.Client
	log *logrus.Logger

	mu        sync.Mutex
	actuators map[string]string // actuator -> status
	temp      float64
	humidity  float64
}

// cmdSimulate handles: greenhouse simulate [--addr a] [--node id] [--interval d]
func cmdSimulate() {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr(), "broker address")
	node := fs.String("node", "sim-1", "sensor node id to register as")
	interval := fs.Duration("interval", 5*time.Second, "time between published readings")
	fs.Parse(os.Args[2:])

	log := logrus.New()

	c, err := client.Dial(*addr, proto.RoleSensorNode, *node)
	if err != nil {
		log.Fatalf("simulate: %v", err)
	}

	sim := &simNode{
		c:   c,
		log: log,
		actuators: map[string]string{
			"fan":    "OFF",
			"heater": "OFF",
			"window": "CLOSED",
		},
		temp:     21.0,
		humidity: 55.0,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		c.Close()
	}()

	go sim.publishLoop(*interval)

	log.Infof("simulating node %s against %s", *node, *addr)
	if err := c.Run(sim.handleFrame); err != nil {
		log.Infof("connection closed: %v", err)
	}
}

// publishLoop emits one round of readings every interval.
func (s *simNode) publishLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		s.step()

		s.mu.Lock()
		temp := s.temp
		hum := s.humidity
		s.mu.Unlock()

		if err := s.c.SendSensorData("temperature", fmt.Sprintf("%.1f", temp), "°C"); err != nil {
			return
		}
		if err := s.c.SendSensorData("humidity", fmt.Sprintf("%.0f", hum), "%"); err != nil {
			return
		}
	}
}

// step drifts the readings: random wander plus a nudge from whichever
// actuators are on.
func (s *simNode) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp += rand.Float64()*0.6 - 0.3
	s.humidity += rand.Float64()*2 - 1

	if s.actuators["heater"] == "ON" {
		s.temp += 0.4
	}
	if s.actuators["fan"] == "ON" {
		s.temp -= 0.3
		s.humidity -= 1
	}
	if s.actuators["window"] == "OPEN" {
		s.temp -= 0.2
		s.humidity -= 0.5
	}

	if s.humidity < 0 {
		s.humidity = 0
	}
	if s.humidity > 100 {
		s.humidity = 100
	}
}

// handleFrame reacts to broker traffic; only actuator commands matter to a
// sensor node, everything else is ignored per the protocol contract.
func (s *simNode) handleFrame(env proto.Envelope, frame []byte) {
	if env.Type != proto.TypeActuatorCommand {
		return
	}

	var cmd proto.ActuatorCommand
	if err := json.Unmarshal(frame, &cmd); err != nil {
		return
	}

	s.mu.Lock()
	_, known := s.actuators[cmd.Actuator]
	var status string
	if known {
		status = normaliseAction(cmd.Actuator, cmd.Action, cmd.Value)
		s.actuators[cmd.Actuator] = status
	}
	s.mu.Unlock()

	if !known {
		s.log.Warnf("ignoring command for unknown actuator %q", cmd.Actuator)
		return
	}

	s.log.Infof("actuator %s -> %s", cmd.Actuator, status)
	if err := s.c.SendActuatorState(cmd.Actuator, status, cmd.Value); err != nil {
		s.log.Warnf("state report failed: %v", err)
	}
}

// normaliseAction maps a command's action/value onto this node's status
// vocabulary. Panels may send a numeric value instead of an action; any
// non-zero value counts as "on".
func normaliseAction(actuator, action, value string) string {
	a := strings.ToUpper(action)
	if a == "" && value != "" {
		if n, err := strconv.ParseFloat(value, 64); err == nil && n != 0 {
			a = "ON"
		} else {
			a = "OFF"
		}
	}

	if actuator == "window" {
		switch a {
		case "ON", "OPEN":
			return "OPEN"
		default:
			return "CLOSED"
		}
	}
	switch a {
	case "ON":
		return "ON"
	default:
		return "OFF"
	}
}
