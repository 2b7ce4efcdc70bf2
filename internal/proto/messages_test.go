package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	frame := []byte(`{"type":"ACTUATOR_COMMAND","targetNode":"dev-1","actuator":"fan","action":"ON","extra":42}`)

	env, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeActuatorCommand, env.Type)
	assert.Equal(t, "dev-1", env.TargetNode)
	assert.Empty(t, env.Role)
	assert.Empty(t, env.NodeID)
}

func TestDecodeEnvelopeMalformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("this is not json"))
	assert.Error(t, err)
}

func TestRegisterAckShape(t *testing.T) {
	frame := Marshal(RegisterAck{
		Type:            TypeRegisterAck,
		ProtocolVersion: ProtocolVersion,
		Role:            RoleSensorNode,
		NodeID:          "dev-1",
		Message:         "Registration successful",
	})

	// Field names are part of the wire contract; decode into a loose map
	// to pin them down.
	var m map[string]string
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.Equal(t, map[string]string{
		"type":            "REGISTER_ACK",
		"protocolVersion": "1.0",
		"role":            "SENSOR_NODE",
		"nodeId":          "dev-1",
		"message":         "Registration successful",
	}, m)
}

func TestOptionalFieldsOmitted(t *testing.T) {
	frame := Marshal(Heartbeat{Type: TypeHeartbeat, Direction: DirectionServerToClient})

	var m map[string]any
	require.NoError(t, json.Unmarshal(frame, &m))
	assert.NotContains(t, m, "nodeId")
	assert.NotContains(t, m, "protocolVersion")
}

func TestActuatorStateFieldDuality(t *testing.T) {
	// Old-convention publisher: actuatorKey + state.
	old := Marshal(ActuatorState{
		Type: TypeActuatorState, NodeID: "dev-2", ActuatorKey: "fan", State: "ON",
	})
	var m map[string]any
	require.NoError(t, json.Unmarshal(old, &m))
	assert.Contains(t, m, "actuatorKey")
	assert.Contains(t, m, "state")
	assert.NotContains(t, m, "actuator")
	assert.NotContains(t, m, "status")
}

func TestKnownType(t *testing.T) {
	assert.True(t, KnownType(TypeSensorData))
	assert.True(t, KnownType(TypeCommandAck))
	assert.False(t, KnownType("TELEMETRY_V2"))
	assert.False(t, KnownType(""))
}
