package broker

// session.go – per-connection lifecycle: socket setup, handshake, active
// dispatch, idle/heartbeat discipline, and teardown.
//
// State machine
// ─────────────
//
//	NEW ──accept──▶ AWAIT_HANDSHAKE ──valid REGISTER_*──▶ ACTIVE ──▶ CLOSED
//	                     │                                  │
//	                     └─ bad first frame / EOF ──────────┴─ idle / I/O error ─▶ CLOSED
//
// Each session owns its socket and read-side state exclusively. The write
// side (the peer) is shared through the registry, which is the only path by
// which other sessions reach this connection.

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mkleiva/greenhouse/internal/proto"
)

type session struct {
	b    *Broker
	peer *peer
	log  *logrus.Entry

	role       string
	nodeID     string
	registered bool
	idleTicks  int
}

// errSessionDone signals an orderly reason to leave the read loop (idle
// exhaustion, protocol violation). I/O errors end the loop the same way
// but come from the stream itself.
var errSessionDone = errors.New("session done")

func newSession(b *Broker, conn net.Conn) *session {
	return &session{
		b:    b,
		peer: &peer{conn: conn},
		log:  b.log.WithField("remote", conn.RemoteAddr().String()),
	}
}

// run is the session's read loop. It returns only when the connection is
// finished; on the way out the deferred teardown unregisters the session
// exactly once and closes the socket.
func (s *session) run() {
	defer s.teardown()

	s.configureSocket()

	for {
		s.peer.conn.SetReadDeadline(time.Now().Add(s.b.cfg.IdleWindow))
		frame, err := proto.ReadFrame(s.peer.conn)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if s.handleIdle() != nil {
					return
				}
				continue
			}
			if err != io.EOF {
				s.log.Debugf("read: %v", err)
			}
			return
		}

		// Any complete frame counts as activity, heartbeats included.
		s.idleTicks = 0

		if !s.registered {
			if s.handshake(frame) != nil {
				return
			}
			continue
		}
		if s.dispatch(frame) != nil {
			return
		}
	}
}

// configureSocket applies the per-connection TCP settings: Nagle off so
// small telemetry frames are not batched, keepalive on as a backstop below
// the protocol's own idle discipline.
func (s *session) configureSocket() {
	if tc, ok := s.peer.conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
}

// handshake processes the mandatory first frame. Any deviation — wrong
// type, missing fields, undecodable JSON — closes the connection without
// an ACK, and the peer never appears in a registry directory.
func (s *session) handshake(frame []byte) error {
	env, err := proto.DecodeEnvelope(frame)
	if err != nil {
		s.log.Warnf("handshake: undecodable first frame: %v", err)
		return errSessionDone
	}

	var wantRole string
	switch env.Type {
	case proto.TypeRegisterNode:
		wantRole = proto.RoleSensorNode
	case proto.TypeRegisterPanel:
		wantRole = proto.RoleControlPanel
	default:
		s.log.Warnf("handshake: first frame type %q is not a registration", env.Type)
		return errSessionDone
	}
	if env.Role == "" || env.NodeID == "" {
		s.log.Warn("handshake: registration missing role or nodeId")
		return errSessionDone
	}
	if env.Role != wantRole {
		s.log.Warnf("handshake: role %q does not match registration type %q", env.Role, env.Type)
		return errSessionDone
	}

	s.role = env.Role
	s.nodeID = env.NodeID
	s.peer.name = env.NodeID
	s.log = s.log.WithFields(logrus.Fields{"role": s.role, "nodeId": s.nodeID})

	ack := proto.Marshal(proto.RegisterAck{
		Type:            proto.TypeRegisterAck,
		ProtocolVersion: proto.ProtocolVersion,
		Role:            s.role,
		NodeID:          s.nodeID,
		Message:         "Registration successful",
	})
	if err := s.peer.send(ack); err != nil {
		s.log.Debugf("handshake: ack write failed: %v", err)
		return errSessionDone
	}

	switch s.role {
	case proto.RoleSensorNode:
		s.b.reg.registerSensor(s.nodeID, s.peer)
		s.b.reg.BroadcastToPanels(proto.Marshal(proto.NodeEvent{
			Type:   proto.TypeNodeConnected,
			NodeID: s.nodeID,
		}))
	case proto.RoleControlPanel:
		s.b.reg.registerPanel(s.peer, s.nodeID)
		// Tell the new panel which sensor nodes are already on the fabric.
		s.peer.send(proto.Marshal(proto.NodeList{
			Type:  proto.TypeNodeList,
			Nodes: strings.Join(s.b.reg.ListSensorIDs(), ","),
		}))
	}

	s.registered = true
	s.log.Info("registered")
	return nil
}

// dispatch routes one post-handshake frame. The original bytes are
// forwarded untouched; only the envelope fields are inspected.
func (s *session) dispatch(frame []byte) error {
	env, err := proto.DecodeEnvelope(frame)
	if err != nil {
		s.log.Warnf("dropping undecodable frame: %v", err)
		return nil
	}

	switch env.Type {
	case proto.TypeHeartbeat:
		// Activity bookkeeping already happened; nothing to forward.

	case proto.TypeSensorData, proto.TypeActuatorState, proto.TypeActuatorStatus, proto.TypeCommandAck:
		if s.role != proto.RoleSensorNode {
			s.log.Warnf("dropping %s from non-sensor peer", env.Type)
			return nil
		}
		s.b.reg.BroadcastToPanels(frame)

	case proto.TypeActuatorCommand:
		if s.role != proto.RoleControlPanel {
			s.log.Warnf("dropping %s from non-panel peer", env.Type)
			return nil
		}
		s.routeCommand(env, frame)

	case proto.TypeRegisterNode, proto.TypeRegisterPanel:
		s.log.Warn("repeated registration after handshake")
		return errSessionDone

	default:
		if proto.KnownType(env.Type) {
			s.log.Debugf("ignoring %s", env.Type)
		} else {
			s.log.Warnf("ignoring unknown message type %q", env.Type)
		}
	}
	return nil
}

// routeCommand delivers an ACTUATOR_COMMAND from this panel to its target:
// every sensor node for the ALL sentinel, one node when targetNode
// resolves, otherwise dropped with an ERROR frame back to the panel.
func (s *session) routeCommand(env proto.Envelope, frame []byte) {
	switch {
	case env.TargetNode == proto.TargetAll:
		s.b.reg.BroadcastToSensors(frame)
	case s.b.reg.SendToSensor(env.TargetNode, frame):
		// Delivered.
	default:
		s.log.Warnf("dropping command for unknown target %q", env.TargetNode)
		s.peer.send(proto.Marshal(proto.ErrorMessage{
			Type:    proto.TypeError,
			Message: "unknown target node: " + env.TargetNode,
			Code:    "UNKNOWN_TARGET",
		}))
	}
}

// handleIdle runs each time the read deadline expires with no frame.
// Registered peers get a server heartbeat each idle window; once the
// consecutive-idle count passes the tolerance the connection is closed,
// putting the hard inactivity ceiling at roughly (tolerance+1) windows.
func (s *session) handleIdle() error {
	s.idleTicks++

	if s.idleTicks > s.b.cfg.IdleLimit {
		s.log.Info("closing idle connection")
		return errSessionDone
	}

	if s.registered {
		hb := proto.Marshal(proto.Heartbeat{
			Type:            proto.TypeHeartbeat,
			Direction:       proto.DirectionServerToClient,
			ProtocolVersion: proto.ProtocolVersion,
		})
		if err := s.peer.send(hb); err != nil {
			s.log.Debugf("heartbeat write failed: %v", err)
			return errSessionDone
		}
	}
	return nil
}

// teardown unregisters the session (a no-op if the handshake never
// completed), closes the socket, and drops the session from the broker's
// live set. It runs exactly once, whatever path ended the read loop.
func (s *session) teardown() {
	if s.registered {
		switch s.role {
		case proto.RoleSensorNode:
			if s.b.reg.unregisterSensor(s.nodeID, s.peer) {
				s.b.reg.BroadcastToPanels(proto.Marshal(proto.NodeEvent{
					Type:   proto.TypeNodeDisconnected,
					NodeID: s.nodeID,
				}))
			}
		case proto.RoleControlPanel:
			s.b.reg.unregisterPanel(s.peer)
		}
		s.registered = false
	}
	s.peer.conn.Close()
	s.b.dropSession(s)
	s.log.Debug("session closed")
}
