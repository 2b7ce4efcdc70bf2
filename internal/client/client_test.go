package client

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkleiva/greenhouse/internal/broker"
	"github.com/mkleiva/greenhouse/internal/proto"
)

// startBroker brings up a real broker on a loopback port for the client to
// talk to.
func startBroker(t *testing.T, cfg broker.Config) (*broker.Broker, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	b, err := broker.New(cfg, log)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, b.Serve(ln))
	t.Cleanup(b.Stop)
	return b, ln.Addr().String()
}

func TestDialRegistersSensor(t *testing.T) {
	b, addr := startBroker(t, broker.Config{})

	c, err := Dial(addr, proto.RoleSensorNode, "dev-1")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "dev-1", c.NodeID())
	require.Eventually(t, func() bool {
		return b.Registry().CountSensors() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDialRejectsBadInput(t *testing.T) {
	_, addr := startBroker(t, broker.Config{})

	_, err := Dial(addr, "GARDENER", "dev-1")
	assert.Error(t, err)

	_, err = Dial(addr, proto.RoleSensorNode, "")
	assert.Error(t, err)
}

func TestPanelReceivesSensorData(t *testing.T) {
	_, addr := startBroker(t, broker.Config{})

	panel, err := Dial(addr, proto.RoleControlPanel, "panel-1")
	require.NoError(t, err)
	defer panel.Close()

	got := make(chan []byte, 16)
	go panel.Run(func(env proto.Envelope, frame []byte) {
		if env.Type == proto.TypeSensorData {
			got <- frame
		}
	})

	sensor, err := Dial(addr, proto.RoleSensorNode, "dev-1")
	require.NoError(t, err)
	defer sensor.Close()
	require.NoError(t, sensor.SendSensorData("temp", "22.5", "°C"))

	select {
	case frame := <-got:
		var sd proto.SensorData
		require.NoError(t, json.Unmarshal(frame, &sd))
		assert.Equal(t, "dev-1", sd.NodeID)
		assert.Equal(t, "temp", sd.SensorKey)
		assert.Equal(t, "22.5", sd.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("panel never received the reading")
	}
}

func TestCommandReachesSensor(t *testing.T) {
	_, addr := startBroker(t, broker.Config{})

	sensor, err := Dial(addr, proto.RoleSensorNode, "dev-1")
	require.NoError(t, err)
	defer sensor.Close()

	got := make(chan proto.Envelope, 16)
	go sensor.Run(func(env proto.Envelope, frame []byte) {
		got <- env
	})

	panel, err := Dial(addr, proto.RoleControlPanel, "panel-1")
	require.NoError(t, err)
	defer panel.Close()
	require.NoError(t, panel.SendCommand("dev-1", "fan", "ON"))

	select {
	case env := <-got:
		assert.Equal(t, proto.TypeActuatorCommand, env.Type)
		assert.Equal(t, "dev-1", env.TargetNode)
	case <-time.After(2 * time.Second):
		t.Fatal("sensor never received the command")
	}
}

func TestRunAnswersHeartbeats(t *testing.T) {
	// Idle window far shorter than the test: without the automatic
	// heartbeat reply the broker would drop the client.
	b, addr := startBroker(t, broker.Config{IdleWindow: 80 * time.Millisecond, IdleLimit: 2})

	sensor, err := Dial(addr, proto.RoleSensorNode, "dev-1")
	require.NoError(t, err)
	defer sensor.Close()
	go sensor.Run(nil)

	time.Sleep(600 * time.Millisecond) // several idle windows

	_, ok := b.Registry().LookupSensor("dev-1")
	assert.True(t, ok, "client should have answered the broker's heartbeats")
}
