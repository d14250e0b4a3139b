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

// Package p2p implements the peer-to-peer transport: listening for and
// dialing TCP connections, running the encrypted handshake on them and
// managing the resulting session lifecycles.
package p2p

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"
	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/ilovesweetpickles/nethermind/common/mclock"
	"github.com/ilovesweetpickles/nethermind/event"
	"github.com/ilovesweetpickles/nethermind/log"
)

// Server coordinates the transport layer of one node. After Init it
// accepts inbound connections; Connect adds outbound ones. Every
// connection becomes a Session that is announced on the session feed
// before its handshake runs and on the disconnect feed when it dies.
type Server struct {
	Config

	log          log.Logger
	localID      NodeID
	clock        mclock.Clock
	newTransport TransportFactory
	dialer       NodeDialer
	dialTimeout  time.Duration

	lock       sync.Mutex
	running    bool
	quit       chan struct{}
	listener   net.Listener
	acceptPool *workerpool.WorkerPool
	ioPool     *workerpool.WorkerPool
	sessions   map[*Session]struct{}

	loopWG sync.WaitGroup // session read loops

	sessionFeed event.Feed[*Session]
	discFeed    event.Feed[DisconnectEvent]
}

// LocalID returns the node's own identity. Valid after Init.
func (srv *Server) LocalID() NodeID { return srv.localID }

// ListenAddr returns the bound listener address, useful when ListenPort
// was 0. It is empty before Init.
func (srv *Server) ListenAddr() string {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

// SubscribeSessions subscribes ch to session creation events. A session
// is announced right after creation, before its handshake has run.
func (srv *Server) SubscribeSessions(ch chan<- *Session) event.Subscription {
	return srv.sessionFeed.Subscribe(ch)
}

// SubscribeDisconnects subscribes ch to session teardown events. Each
// session produces exactly one.
func (srv *Server) SubscribeDisconnects(ch chan<- DisconnectEvent) event.Subscription {
	return srv.discFeed.Subscribe(ch)
}

// Init binds the listener and starts accepting connections. It can
// succeed at most once per server; later calls return
// ErrAlreadyListening and leave the running server untouched.
func (srv *Server) Init() error {
	srv.lock.Lock()
	defer srv.lock.Unlock()
	if srv.running {
		return ErrAlreadyListening
	}
	if srv.PrivateKey == nil {
		return errors.New("p2p: server has no private key")
	}

	srv.localID = PubkeyToID(srv.PrivateKey.PubKey())
	srv.clock = srv.Config.Clock
	if srv.clock == nil {
		srv.clock = mclock.System{}
	}
	srv.newTransport = srv.Config.Transport
	if srv.newTransport == nil {
		srv.newTransport = newRLPX
	}
	srv.dialer = srv.Config.Dialer
	if srv.dialer == nil {
		srv.dialer = tcpDialer{d: &net.Dialer{Timeout: defaultDialTimeout}}
	}
	if srv.dialTimeout == 0 {
		srv.dialTimeout = defaultDialTimeout
	}
	srv.log = srv.Config.Logger
	if srv.log == nil {
		srv.log = log.Root()
	}
	srv.log = srv.log.New("self", srv.localID.TerminalString())

	ioWorkers := srv.MaxIOWorkers
	if ioWorkers <= 0 {
		ioWorkers = runtime.NumCPU()
	}
	// One dedicated worker owns the listener; everything else runs on
	// the I/O pool.
	srv.acceptPool = workerpool.New(1)
	srv.ioPool = workerpool.New(ioWorkers)

	listener, err := net.Listen("tcp", ":"+strconv.Itoa(srv.ListenPort))
	if err != nil {
		srv.acceptPool.Stop()
		srv.ioPool.Stop()
		srv.acceptPool, srv.ioPool = nil, nil
		return &BindError{Port: srv.ListenPort, Err: err}
	}
	srv.listener = listener
	srv.quit = make(chan struct{})
	srv.sessions = make(map[*Session]struct{})
	srv.running = true

	srv.acceptPool.Submit(context.Background(), func() error {
		srv.acceptLoop()
		return nil
	}, 0)
	srv.log.Info("TCP listener up", "addr", listener.Addr())
	return nil
}

// acceptLoop runs on the accept pool until the listener closes.
func (srv *Server) acceptLoop() {
	for {
		fd, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				// Shutdown closed the listener.
			default:
				srv.log.Error("Accept failed", "err", err)
			}
			return
		}
		srv.lock.Lock()
		if !srv.running {
			srv.lock.Unlock()
			fd.Close()
			return
		}
		pool := srv.ioPool
		srv.lock.Unlock()
		pool.Submit(context.Background(), func() error {
			srv.setupConn(fd, Inbound, nil)
			return nil
		}, 0)
	}
}

// setupConn builds the session pipeline for one fresh connection: count
// it, create and announce the session, register it, then run the
// handshake. Failures past session creation never propagate to a caller,
// they tear the session down.
func (srv *Server) setupConn(fd net.Conn, dir Direction, dest *Node) {
	if dir == Inbound {
		srv.Metrics.markInbound()
	} else {
		srv.Metrics.markOutbound()
	}

	var remoteID *NodeID
	host, port := connAddr(fd)
	if dest != nil {
		remoteID = &dest.ID
		host, port = dest.Host, dest.Port
	}
	s := newSession(srv, fd, dir, remoteID, host, port)

	srv.lock.Lock()
	if !srv.running {
		srv.lock.Unlock()
		fd.Close()
		return
	}
	srv.sessions[s] = struct{}{}
	srv.lock.Unlock()

	s.log.Debug("Session created")
	srv.sessionFeed.Send(s)

	if srv.Registry != nil {
		if err := srv.Registry.Register(s); err != nil {
			s.log.Debug("Session rejected", "err", err)
			s.disconnect(DiscTooManyPeers, true)
			return
		}
	}
	srv.runHandshake(s, dest)
}

// runHandshake installs the transport on the session and drives the
// cryptographic handshake to completion.
func (srv *Server) runHandshake(s *Session, dest *Node) {
	var dialDest *btcec.PublicKey
	if dest != nil {
		pub, err := dest.ID.Pubkey()
		if err != nil {
			s.log.Debug("Invalid dial destination", "err", err)
			s.disconnect(DiscHandshakeError, true)
			return
		}
		dialDest = pub
	}

	t := srv.newTransport(s.fd, dialDest)
	if !s.setTransport(t) {
		// Torn down before the transport was installed; the connection
		// is closed already.
		return
	}

	remote, err := t.Handshake(srv.PrivateKey, dialDest)
	if err != nil {
		s.log.Debug("Handshake failed", "err", err)
		s.disconnect(DiscHandshakeError, true)
		return
	}
	if s.direction == Inbound {
		if err := s.setRemoteID(PubkeyToID(remote)); err != nil {
			s.disconnect(DiscProtocolError, true)
			return
		}
	}
	if err := s.setEstablished(); err != nil {
		// Torn down while the handshake was in flight.
		return
	}
	id, _ := s.RemoteID()
	s.log.Debug("Session established", "id", id.TerminalString())

	srv.loopWG.Add(1)
	go srv.runSession(s)
}

// runSession is the read loop of an established session.
func (srv *Server) runSession(s *Session) {
	defer srv.loopWG.Done()
	for {
		msg, err := s.ReadMsg()
		if err != nil {
			switch {
			case errors.Is(err, ErrNotEstablished):
				// Already torn down.
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				s.disconnect(DiscRemoteClosed, false)
			default:
				s.log.Debug("Message read failed", "err", err)
				s.disconnect(DiscNetworkError, false)
			}
			return
		}
		if srv.MsgHandler == nil {
			msg.Discard()
			continue
		}
		if err := srv.MsgHandler(s, msg); err != nil {
			s.log.Debug("Message handling failed", "err", err)
			s.disconnect(DiscProtocolError, true)
			return
		}
	}
}

// sessionClosed is called by a session, exactly once, when it has fully
// torn down.
func (srv *Server) sessionClosed(s *Session, reason DiscReason, local bool) {
	srv.lock.Lock()
	delete(srv.sessions, s)
	srv.lock.Unlock()
	srv.discFeed.Send(DisconnectEvent{Session: s, Reason: reason, LocalInitiated: local})
}

// Shutdown stops the server: it closes the listener, disconnects every
// session with DiscQuitting and drains the worker pools. Teardown is
// best effort with a hard deadline; on expiry remaining work is
// abandoned with a warning. Shutdown never fails and is idempotent.
func (srv *Server) Shutdown() {
	srv.lock.Lock()
	if !srv.running {
		srv.lock.Unlock()
		return
	}
	srv.running = false
	close(srv.quit)
	listener := srv.listener
	acceptPool, ioPool := srv.acceptPool, srv.ioPool
	open := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		open = append(open, s)
	}
	srv.lock.Unlock()

	srv.log.Info("Shutting down", "sessions", len(open))
	if err := listener.Close(); err != nil {
		srv.log.Warn("Listener close failed", "err", err)
	}
	for _, s := range open {
		s.Disconnect(DiscQuitting)
	}

	done := make(chan struct{})
	go func() {
		srv.drainPool("accept", acceptPool)
		srv.drainPool("io", ioPool)
		srv.loopWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		srv.log.Info("Shutdown complete")
	case <-srv.clock.After(shutdownHardTimeout):
		srv.log.Warn("Shutdown deadline hit, abandoning remaining teardown")
	}
}

// drainPool waits for a worker pool to finish its queued tasks, giving
// up after the quiesce timeout.
func (srv *Server) drainPool(name string, pool *workerpool.WorkerPool) {
	stopped := make(chan struct{})
	go func() {
		pool.StopWait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-srv.clock.After(poolQuiesceTimeout):
		srv.log.Warn("Worker pool did not quiesce", "pool", name)
	}
}

func connAddr(fd net.Conn) (string, int) {
	if tcp, ok := fd.RemoteAddr().(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	return fd.RemoteAddr().String(), 0
}
