package broker

import (
	"net"
	"sort"
	"sync"

	"github.com/mkleiva/greenhouse/internal/proto"
)

// peer is the write side of one client connection. The owning session
// writes to it during handshake and heartbeats; other sessions write to it
// when routing frames. mu serialises those writers so two frames never
// interleave on the wire.
type peer struct {
	conn net.Conn
	name string // display identifier from the handshake; log-only for panels

	mu sync.Mutex
}

// send writes one frame to the peer, serialised against concurrent senders.
func (p *peer) send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return proto.WriteFrame(p.conn, frame)
}

// Registry is the broker's directory of registered peers and the only path
// by which one connection writes to another's socket.
//
// Panels are keyed by their write handle (duplicate display ids cannot
// collide); sensor nodes are keyed by nodeId with last-write-wins on
// duplicates. Broadcasts snapshot the target set under the lock, write
// outside it, and re-lock to prune exactly the entries whose writes
// failed — a registry-wide lock is never held across a socket write.
type Registry struct {
	mu      sync.Mutex
	panels  map[*peer]string
	sensors map[string]*peer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		panels:  make(map[*peer]string),
		sensors: make(map[string]*peer),
	}
}

// registerPanel adds a panel write handle. Re-registering the same handle
// replaces its label.
func (r *Registry) registerPanel(p *peer, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panels[p] = label
}

// unregisterPanel removes a panel; no-op if absent.
func (r *Registry) unregisterPanel(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.panels, p)
}

// registerSensor maps nodeID to a sensor write handle, last-write-wins.
func (r *Registry) registerSensor(nodeID string, p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensors[nodeID] = p
}

// unregisterSensor removes nodeID, but only while it still maps to p: a
// newer registration under the same id must survive the old connection's
// teardown. Reports whether an entry was removed.
func (r *Registry) unregisterSensor(nodeID string, p *peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sensors[nodeID] == p {
		delete(r.sensors, nodeID)
		return true
	}
	return false
}

// LookupSensor returns the write handle registered under nodeID, if any.
func (r *Registry) LookupSensor(nodeID string) (*peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sensors[nodeID]
	return p, ok
}

// CountPanels returns the number of registered panels.
func (r *Registry) CountPanels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.panels)
}

// CountSensors returns the number of registered sensor nodes.
func (r *Registry) CountSensors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sensors)
}

// ListSensorIDs returns the registered sensor node ids, sorted for stable
// presentation.
func (r *Registry) ListSensorIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sensors))
	for id := range r.sensors {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// BroadcastToPanels writes frame to every registered panel. A failed write
// means the panel is dead: that one entry is pruned and delivery continues
// to the rest.
func (r *Registry) BroadcastToPanels(frame []byte) {
	r.mu.Lock()
	targets := make([]*peer, 0, len(r.panels))
	for p := range r.panels {
		targets = append(targets, p)
	}
	r.mu.Unlock()

	for _, p := range targets {
		if err := p.send(frame); err != nil {
			r.unregisterPanel(p)
		}
	}
}

// BroadcastToSensors writes frame to every registered sensor node, pruning
// entries whose writes fail.
func (r *Registry) BroadcastToSensors(frame []byte) {
	r.mu.Lock()
	type target struct {
		id string
		p  *peer
	}
	targets := make([]target, 0, len(r.sensors))
	for id, p := range r.sensors {
		targets = append(targets, target{id, p})
	}
	r.mu.Unlock()

	for _, t := range targets {
		if err := t.p.send(frame); err != nil {
			r.unregisterSensor(t.id, t.p)
		}
	}
}

// SendToSensor writes frame to the sensor registered under nodeID.
// Returns false if no such sensor is registered or the write failed (in
// which case the dead entry has been pruned).
func (r *Registry) SendToSensor(nodeID string, frame []byte) bool {
	p, ok := r.LookupSensor(nodeID)
	if !ok {
		return false
	}
	if err := p.send(frame); err != nil {
		r.unregisterSensor(nodeID, p)
		return false
	}
	return true
}
