// Package proto defines the wire protocol shared by the greenhoused broker
// and its clients: length-prefixed framing plus the JSON message schema.
//
// Every frame is a 4-byte big-endian length followed by a UTF-8 JSON object
// carrying at least a "type" field. The broker routes on a handful of fields
// (type, role, nodeId, targetNode) and forwards the original frame bytes
// verbatim — it never re-serialises a message it did not originate.
package proto

import "encoding/json"

// Message type constants.
const (
	TypeRegisterNode  = "REGISTER_NODE"
	TypeRegisterPanel = "REGISTER_CONTROL_PANEL"
	TypeRegisterAck   = "REGISTER_ACK"

	TypeSensorData      = "SENSOR_DATA"
	TypeActuatorCommand = "ACTUATOR_COMMAND"
	TypeActuatorState   = "ACTUATOR_STATE"
	TypeActuatorStatus  = "ACTUATOR_STATUS"
	TypeCommandAck      = "COMMAND_ACK"

	TypeHeartbeat = "HEARTBEAT"
	TypeError     = "ERROR"

	TypeNodeConnected    = "NODE_CONNECTED"
	TypeNodeDisconnected = "NODE_DISCONNECTED"
	TypeNodeList         = "NODE_LIST"
)

// Peer role constants.
const (
	RoleSensorNode   = "SENSOR_NODE"
	RoleControlPanel = "CONTROL_PANEL"
)

// Heartbeat direction constants.
const (
	DirectionServerToClient = "SERVER_TO_CLIENT"
	DirectionClientToServer = "CLIENT_TO_SERVER"
)

// ProtocolVersion is the version stamped on frames this module originates.
const ProtocolVersion = "1.0"

// TargetAll is the ACTUATOR_COMMAND target sentinel meaning every
// registered sensor node.
const TargetAll = "ALL"

// knownTypes is the set of message types this protocol revision defines.
// Frames of a known type the broker has no rule for are accepted and
// ignored; unknown types are logged so protocol drift is visible.
var knownTypes = map[string]bool{
	TypeRegisterNode:     true,
	TypeRegisterPanel:    true,
	TypeRegisterAck:      true,
	TypeSensorData:       true,
	TypeActuatorCommand:  true,
	TypeActuatorState:    true,
	TypeActuatorStatus:   true,
	TypeCommandAck:       true,
	TypeHeartbeat:        true,
	TypeError:            true,
	TypeNodeConnected:    true,
	TypeNodeDisconnected: true,
	TypeNodeList:         true,
}

// KnownType reports whether t is a message type defined by this protocol
// revision.
func KnownType(t string) bool { return knownTypes[t] }

// Envelope is the minimal decoded view of a frame: only the fields the
// broker routes on. Everything else in the payload stays opaque.
type Envelope struct {
	Type       string `json:"type"`
	Role       string `json:"role"`
	NodeID     string `json:"nodeId"`
	TargetNode string `json:"targetNode"`
}

// DecodeEnvelope parses the routing fields out of a raw frame payload.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(frame, &env)
	return env, err
}

// ─── Message shapes ───────────────────────────────────────────────────────────
//
// Typed structs for every message this module originates. Optional fields
// carry omitempty so an absent field is absent on the wire, not "".
// Consumers are required to ignore fields they do not recognise.

// RegisterRequest is the handshake frame (REGISTER_NODE or
// REGISTER_CONTROL_PANEL) a client sends as its first message.
type RegisterRequest struct {
	Type            string `json:"type"`
	Role            string `json:"role"`
	NodeID          string `json:"nodeId"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
}

// RegisterAck is the broker's reply to a successful handshake.
type RegisterAck struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocolVersion"`
	Role            string `json:"role"`
	NodeID          string `json:"nodeId"`
	Message         string `json:"message"`
}

// Heartbeat is sent by the broker after an idle window expires and echoed
// back by cooperating clients.
type Heartbeat struct {
	Type            string `json:"type"`
	Direction       string `json:"direction"`
	ProtocolVersion string `json:"protocolVersion,omitempty"`
	NodeID          string `json:"nodeId,omitempty"`
}

// SensorData is one reading published by a sensor node. Value is
// string-encoded so the broker and panels never need to agree on numeric
// representation.
type SensorData struct {
	Type      string `json:"type"`
	NodeID    string `json:"nodeId"`
	SensorKey string `json:"sensorKey"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ActuatorCommand is a panel's instruction to one sensor node (TargetNode
// set to its id) or to all of them (TargetNode = TargetAll).
type ActuatorCommand struct {
	Type       string `json:"type"`
	Actuator   string `json:"actuator"`
	Action     string `json:"action,omitempty"`
	Value      string `json:"value,omitempty"`
	TargetNode string `json:"targetNode,omitempty"`
}

// ActuatorState reports an actuator's state back to the panels. The
// fleet's firmware is split between two field conventions
// (actuator/actuatorKey, status/state); both are representable here and
// the broker forwards whichever the publisher used untouched.
type ActuatorState struct {
	Type        string `json:"type"`
	NodeID      string `json:"nodeId"`
	Actuator    string `json:"actuator,omitempty"`
	ActuatorKey string `json:"actuatorKey,omitempty"`
	Status      string `json:"status,omitempty"`
	State       string `json:"state,omitempty"`
	Value       string `json:"value,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// NodeEvent announces a sensor node joining (NODE_CONNECTED) or leaving
// (NODE_DISCONNECTED) to the panels.
type NodeEvent struct {
	Type   string `json:"type"`
	NodeID string `json:"nodeId"`
}

// NodeList carries the comma-separated ids of the currently registered
// sensor nodes; sent to a panel right after its REGISTER_ACK.
type NodeList struct {
	Type  string `json:"type"`
	Nodes string `json:"nodes"`
}

// ErrorMessage is the broker's best-effort report of a dropped frame back
// to its sender.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Marshal encodes any message struct to a frame payload. Encoding a
// struct composed of string fields cannot fail, so errors are swallowed;
// callers hand the result straight to WriteFrame.
func Marshal(msg any) []byte {
	data, _ := json.Marshal(msg)
	return data
}
