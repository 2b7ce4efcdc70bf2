// Package client implements the protocol contract a greenhouse peer must
// honour: register first, answer server heartbeats, tolerate unknown
// fields and message types. Both bundled binaries (the panel CLI and the
// sensor-node simulator) and external integrations build on it.
package client

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/mkleiva/greenhouse/internal/proto"
)

// dialTimeout bounds the initial connect plus handshake exchange.
const dialTimeout = 10 * time.Second

// Client is one registered connection to the broker. Writes are
// serialised internally, so helpers may be called from any goroutine
// while Run loops on the read side.
type Client struct {
	conn   net.Conn
	role   string
	nodeID string

	wmu sync.Mutex
}

// Handler receives every frame the broker delivers except the
// SERVER_TO_CLIENT heartbeats Run answers itself and frames whose envelope
// does not decode: the decoded routing envelope plus the raw bytes for full
// decoding.
type Handler func(env proto.Envelope, frame []byte)

// Dial connects to the broker at addr and completes the registration
// handshake for the given role. It returns once the REGISTER_ACK has been
// received; anything else on the wire fails the dial.
func Dial(addr, role, nodeID string) (*Client, error) {
	var regType string
	switch role {
	case proto.RoleSensorNode:
		regType = proto.TypeRegisterNode
	case proto.RoleControlPanel:
		regType = proto.TypeRegisterPanel
	default:
		return nil, fmt.Errorf("unsupported role %q", role)
	}
	if nodeID == "" {
		return nil, fmt.Errorf("nodeId must not be empty")
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn.SetDeadline(time.Now().Add(dialTimeout))
	err = proto.WriteFrame(conn, proto.Marshal(proto.RegisterRequest{
		Type:            regType,
		Role:            role,
		NodeID:          nodeID,
		ProtocolVersion: proto.ProtocolVersion,
	}))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("send registration: %w", err)
	}

	frame, err := proto.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await registration ack: %w", err)
	}
	var ack proto.RegisterAck
	if err := json.Unmarshal(frame, &ack); err != nil || ack.Type != proto.TypeRegisterAck {
		conn.Close()
		return nil, fmt.Errorf("unexpected reply to registration: %s", frame)
	}
	conn.SetDeadline(time.Time{})

	return &Client{conn: conn, role: role, nodeID: nodeID}, nil
}

// NodeID returns the identifier this client registered under.
func (c *Client) NodeID() string { return c.nodeID }

// Close shuts the connection down; safe to call more than once and
// concurrently with Run.
func (c *Client) Close() error { return c.conn.Close() }

// Run reads frames until the stream ends, answering SERVER_TO_CLIENT
// heartbeats automatically and passing everything else to handler. A nil
// handler just keeps the connection alive. Returns the error that ended
// the read loop (io.EOF when the broker closed the stream cleanly).
func (c *Client) Run(handler Handler) error {
	for {
		frame, err := proto.ReadFrame(c.conn)
		if err != nil {
			return err
		}

		env, err := proto.DecodeEnvelope(frame)
		if err != nil {
			// Tolerate junk the way the broker does: drop and move on.
			continue
		}

		if env.Type == proto.TypeHeartbeat {
			var hb proto.Heartbeat
			if json.Unmarshal(frame, &hb) == nil && hb.Direction == proto.DirectionServerToClient {
				if err := c.SendHeartbeat(); err != nil {
					return err
				}
				continue
			}
		}

		if handler != nil {
			handler(env, frame)
		}
	}
}

// send marshals msg and writes it as one frame, serialised against other
// senders on this client.
func (c *Client) send(msg any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return proto.WriteFrame(c.conn, proto.Marshal(msg))
}

// SendRaw writes an already-encoded payload as one frame.
func (c *Client) SendRaw(frame []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return proto.WriteFrame(c.conn, frame)
}

// SendHeartbeat sends a client-to-server heartbeat.
func (c *Client) SendHeartbeat() error {
	return c.send(proto.Heartbeat{
		Type:            proto.TypeHeartbeat,
		Direction:       proto.DirectionClientToServer,
		ProtocolVersion: proto.ProtocolVersion,
		NodeID:          c.nodeID,
	})
}

// SendSensorData publishes one reading; the timestamp is stamped here so
// simulators do not have to care.
func (c *Client) SendSensorData(sensorKey, value, unit string) error {
	return c.send(proto.SensorData{
		Type:      proto.TypeSensorData,
		NodeID:    c.nodeID,
		SensorKey: sensorKey,
		Value:     value,
		Unit:      unit,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendActuatorState reports an actuator's current state.
func (c *Client) SendActuatorState(actuator, status, value string) error {
	return c.send(proto.ActuatorState{
		Type:      proto.TypeActuatorState,
		NodeID:    c.nodeID,
		Actuator:  actuator,
		Status:    status,
		Value:     value,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SendCommand issues an actuator command to target ("ALL" for the whole
// fleet). Panels only; the broker drops commands from sensor nodes.
func (c *Client) SendCommand(target, actuator, action string) error {
	return c.send(proto.ActuatorCommand{
		Type:       proto.TypeActuatorCommand,
		Actuator:   actuator,
		Action:     action,
		TargetNode: target,
	})
}
