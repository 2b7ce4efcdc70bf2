// Package broker implements the greenhoused message broker: a single TCP
// endpoint that sensor nodes publish telemetry to and control panels
// subscribe through.
//
// The broker stores nothing and inspects payloads only far enough to route
// them. Each accepted connection runs its own read loop (session.go); the
// registry (registry.go) holds the two peer directories and is the sole
// cross-session write path.
package broker

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Broker is the central server: listener, live-session set, and registry.
type Broker struct {
	cfg Config
	log *logrus.Logger
	reg *Registry

	mu       sync.Mutex
	ln       net.Listener
	running  bool
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New creates a broker for cfg. The port must already be in the
// registered-port range; cfg zero values are filled with defaults.
func New(cfg Config, log *logrus.Logger) (*Broker, error) {
	cfg.applyDefaults()
	if err := ValidatePort(cfg.Port); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Broker{
		cfg:      cfg,
		log:      log,
		reg:      NewRegistry(),
		sessions: make(map[*session]struct{}),
	}, nil
}

// Registry exposes the peer directories, mainly for tests and status
// reporting.
func (b *Broker) Registry() *Registry { return b.reg }

// Addr returns the listener's address, or nil while stopped.
func (b *Broker) Addr() net.Addr {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Start binds the configured port and spawns the accept loop. Calling
// Start on a running broker is a warned no-op. net.Listen binds with
// address reuse, so a restart does not trip over sockets in TIME_WAIT.
func (b *Broker) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		b.log.Warn("broker already running")
		return nil
	}
	b.mu.Unlock()

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", b.cfg.Port, err)
	}
	return b.Serve(ln)
}

// Serve adopts ln as the broker's listener and starts accepting on it.
// Useful when the caller wants to bind the socket itself (tests bind an
// ephemeral loopback port this way).
func (b *Broker) Serve(ln net.Listener) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		ln.Close()
		return fmt.Errorf("broker already running")
	}
	b.ln = ln
	b.running = true
	b.mu.Unlock()

	b.log.Infof("broker listening on %s", ln.Addr())

	b.wg.Add(1)
	go b.acceptLoop(ln)
	return nil
}

// acceptLoop hands each incoming connection to a fresh session. Accept
// errors while running are logged and the loop continues; once the
// listener is closed by Stop, the loop exits silently.
func (b *Broker) acceptLoop(ln net.Listener) {
	defer b.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !b.isRunning() {
				return
			}
			b.log.Warnf("accept: %v", err)
			continue
		}

		s := newSession(b, conn)
		b.mu.Lock()
		if !b.running {
			// Stop won the race; it will not see this connection, so
			// refuse it here rather than leak a session.
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.sessions[s] = struct{}{}
		b.mu.Unlock()

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			s.run()
		}()
	}
}

// Stop closes the listener (waking the accept loop), closes every live
// connection so its read loop surfaces an I/O error and tears itself
// down, and waits for all session goroutines to finish. Idempotent.
func (b *Broker) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	// Flip running before snapshotting sessions: the accept loop refuses
	// new connections once it sees the flag, so the snapshot is complete.
	b.running = false
	ln := b.ln
	b.ln = nil
	live := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		live = append(live, s)
	}
	b.mu.Unlock()

	ln.Close()
	for _, s := range live {
		s.peer.conn.Close()
	}
	b.wg.Wait()
	b.log.Info("broker stopped")
}

func (b *Broker) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// dropSession removes a finished session from the live set.
func (b *Broker) dropSession(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
}
