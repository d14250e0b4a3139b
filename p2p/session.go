// Copyright 2025 The nethermind Authors
// This file is part of the nethermind library.
//
// The nethermind library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The nethermind library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the nethermind library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import (
	"errors"
	"net"
	"sync"

	"github.com/ilovesweetpickles/nethermind/common/mclock"
	"github.com/ilovesweetpickles/nethermind/log"
)

// Direction tells which side opened the connection. It is fixed for the
// lifetime of a session and determines the handshake role: outbound
// sessions run the initiator side, inbound sessions the recipient side.
type Direction uint8

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// SessionState is the lifecycle state of a session. States only ever
// advance; a session is single-use.
type SessionState uint8

const (
	StateCreated SessionState = iota
	StateHandshaking
	StateEstablished
	StateDisconnecting
	StateDisconnected
)

func (st SessionState) String() string {
	switch st {
	case StateCreated:
		return "created"
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Env bundles the node-level collaborators handed to every session for the
// application layer's benefit. The transport stores but never interprets
// them.
type Env struct {
	BlockTree any
	TxPool    any
	Codec     any
	Clock     mclock.Clock
}

// DisconnectEvent is delivered exactly once per session, when it reaches
// the Disconnected state.
type DisconnectEvent struct {
	Session *Session
	Reason  DiscReason
	// LocalInitiated is true when this side started the teardown and
	// false when the remote end closed the connection.
	LocalInitiated bool
}

// Session is the stateful representation of one peer connection. It is
// created before the handshake runs, so its remote identity may still be
// unresolved; once the handshake assigns it, the identity is write-once.
//
// The session exclusively owns the network connection. Closing it, via
// Disconnect or any internal failure path, is the sole mechanism that
// releases the socket and is safe to invoke from any goroutine at any
// lifecycle stage.
type Session struct {
	srv *Server // non-owning back reference, routes disconnect events
	fd  net.Conn

	direction  Direction
	localID    NodeID
	remoteHost string
	remotePort int
	created    mclock.AbsTime
	env        *Env
	log        log.Logger

	mu       sync.Mutex
	t        Transport // write-once, installed under mu
	state    SessionState
	remoteID *NodeID
}

func newSession(srv *Server, fd net.Conn, dir Direction, remoteID *NodeID, host string, port int) *Session {
	s := &Session{
		srv:        srv,
		fd:         fd,
		direction:  dir,
		localID:    srv.localID,
		remoteHost: host,
		remotePort: port,
		created:    srv.clock.Now(),
		env:        srv.Env,
		state:      StateCreated,
	}
	logctx := []interface{}{"dir", dir, "addr", fd.RemoteAddr()}
	if remoteID != nil {
		id := *remoteID
		s.remoteID = &id
		logctx = append(logctx, "id", id.TerminalString())
	}
	s.log = srv.log.New(logctx...)
	return s
}

// Direction reports which side opened the connection.
func (s *Session) Direction() Direction { return s.direction }

// LocalID returns the node's own identity.
func (s *Session) LocalID() NodeID { return s.localID }

// RemoteAddr returns the remote host and port.
func (s *Session) RemoteAddr() (string, int) { return s.remoteHost, s.remotePort }

// Env returns the opaque collaborators threaded into the session.
func (s *Session) Env() *Env { return s.env }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteID returns the remote identity and whether it has been resolved.
// Outbound sessions know it from creation; inbound sessions resolve it
// when the handshake reveals it.
func (s *Session) RemoteID() (NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteID == nil {
		return NodeID{}, false
	}
	return *s.remoteID, true
}

// setRemoteID resolves the remote identity. The identity is write-once:
// a second assignment fails.
func (s *Session) setRemoteID(id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteID != nil {
		return errors.New("p2p: remote identity already resolved")
	}
	s.remoteID = &id
	return nil
}

// setTransport installs the wire transport and moves the session into
// the handshaking stage. It fails when teardown has already started, in
// which case the connection is closed and the transport must not be
// used.
func (s *Session) setTransport(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return false
	}
	s.t = t
	s.state = StateHandshaking
	return true
}

// setEstablished transitions the session into the only state in which
// application messages may flow. It fails when the session was torn down
// while the handshake was still running.
func (s *Session) setEstablished() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateHandshaking {
		return ErrNotEstablished
	}
	if s.remoteID == nil {
		return errors.New("p2p: handshake finished without remote identity")
	}
	s.state = StateEstablished
	return nil
}

// ReadMsg reads the next application message. It fails until the session
// is established.
func (s *Session) ReadMsg() (Msg, error) {
	s.mu.Lock()
	t, st := s.t, s.state
	s.mu.Unlock()
	if st != StateEstablished {
		return Msg{}, ErrNotEstablished
	}
	return t.ReadMsg()
}

// WriteMsg sends an application message. It fails until the session is
// established.
func (s *Session) WriteMsg(msg Msg) error {
	s.mu.Lock()
	t, st := s.t, s.state
	s.mu.Unlock()
	if st != StateEstablished {
		return ErrNotEstablished
	}
	return t.WriteMsg(msg)
}

// Disconnect requests teardown of the session. It is idempotent: only the
// first close, local or remote, produces the disconnect event.
func (s *Session) Disconnect(reason DiscReason) {
	s.disconnect(reason, true)
}

// disconnect drives Disconnecting -> Disconnected. The state guard makes
// the path first-close-wins: racing calls from the read loop, the
// handshake path, shutdown and Disconnect collapse into one teardown and
// one event. The server is detached before the event fires so a
// re-entrant call from an event observer cannot tear down twice.
func (s *Session) disconnect(reason DiscReason, local bool) {
	s.mu.Lock()
	if s.state == StateDisconnecting || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnecting
	srv := s.srv
	s.srv = nil
	t := s.t
	s.mu.Unlock()

	// Closing the connection is the universal cancellation primitive: it
	// unblocks any pending handshake or read on this session.
	if t != nil {
		t.Close()
	} else {
		s.fd.Close()
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()

	s.log.Debug("Session disconnected", "reason", reason, "local", local)
	if srv != nil {
		srv.sessionClosed(s, reason, local)
	}
}
