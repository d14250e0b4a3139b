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
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilovesweetpickles/nethermind/common/mclock"
	"github.com/ilovesweetpickles/nethermind/log"
)

// stallTransport blocks its handshake on the connection until the peer
// sends data or the connection closes.
type stallTransport struct {
	fd net.Conn
}

func (t stallTransport) Handshake(*btcec.PrivateKey, *btcec.PublicKey) (*btcec.PublicKey, error) {
	_, err := t.fd.Read(make([]byte, 1))
	return nil, err
}

func (t stallTransport) ReadMsg() (Msg, error) { return Msg{}, io.EOF }
func (t stallTransport) WriteMsg(Msg) error    { return io.EOF }
func (t stallTransport) Close() error          { return t.fd.Close() }

func newTestKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

// bareServer builds a server with just enough state for session unit
// tests, bypassing Init.
func bareServer(t *testing.T) *Server {
	t.Helper()
	srv := &Server{}
	srv.PrivateKey = newTestKey(t)
	srv.localID = PubkeyToID(srv.PrivateKey.PubKey())
	srv.clock = mclock.System{}
	srv.log = log.Root()
	srv.sessions = make(map[*Session]struct{})
	return srv
}

func pipeSession(t *testing.T, srv *Server, dir Direction, remoteID *NodeID) *Session {
	t.Helper()
	fd, peer := net.Pipe()
	t.Cleanup(func() {
		fd.Close()
		peer.Close()
	})
	s := newSession(srv, fd, dir, remoteID, "127.0.0.1", 30303)
	srv.sessions[s] = struct{}{}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	srv := bareServer(t)
	s := pipeSession(t, srv, Inbound, nil)

	assert.Equal(t, StateCreated, s.State())
	assert.Equal(t, Inbound, s.Direction())
	assert.Equal(t, srv.localID, s.LocalID())
	_, known := s.RemoteID()
	assert.False(t, known, "inbound identity must start unresolved")

	require.True(t, s.setTransport(stallTransport{fd: s.fd}))
	assert.Equal(t, StateHandshaking, s.State())

	// Establishing without a resolved identity must fail.
	assert.Error(t, s.setEstablished())

	id := PubkeyToID(newTestKey(t).PubKey())
	require.NoError(t, s.setRemoteID(id))
	require.NoError(t, s.setEstablished())
	assert.Equal(t, StateEstablished, s.State())

	s.Disconnect(DiscRequested)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSessionRemoteIDWriteOnce(t *testing.T) {
	srv := bareServer(t)
	s := pipeSession(t, srv, Inbound, nil)

	first := PubkeyToID(newTestKey(t).PubKey())
	second := PubkeyToID(newTestKey(t).PubKey())
	require.NoError(t, s.setRemoteID(first))
	assert.Error(t, s.setRemoteID(second))

	got, known := s.RemoteID()
	assert.True(t, known)
	assert.Equal(t, first, got)
}

func TestSessionOutboundKnownIdentity(t *testing.T) {
	srv := bareServer(t)
	id := PubkeyToID(newTestKey(t).PubKey())
	s := pipeSession(t, srv, Outbound, &id)

	got, known := s.RemoteID()
	assert.True(t, known)
	assert.Equal(t, id, got)
	assert.Error(t, s.setRemoteID(id), "outbound identity is fixed at creation")
}

func TestSessionIOBeforeEstablished(t *testing.T) {
	srv := bareServer(t)
	s := pipeSession(t, srv, Inbound, nil)

	_, err := s.ReadMsg()
	assert.ErrorIs(t, err, ErrNotEstablished)
	assert.ErrorIs(t, s.WriteMsg(Msg{}), ErrNotEstablished)
}

func TestSessionDisconnectOnce(t *testing.T) {
	srv := bareServer(t)
	events := make(chan DisconnectEvent, 16)
	sub := srv.SubscribeDisconnects(events)
	defer sub.Unsubscribe()

	s := pipeSession(t, srv, Inbound, nil)

	// Many racing teardowns must collapse into exactly one event.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		reason := DiscRequested
		if i%2 == 1 {
			reason = DiscNetworkError
		}
		go func(r DiscReason) {
			defer wg.Done()
			s.Disconnect(r)
		}(reason)
	}
	wg.Wait()

	ev := <-events
	assert.Same(t, s, ev.Session)
	assert.True(t, ev.LocalInitiated)
	select {
	case ev := <-events:
		t.Fatalf("second disconnect event delivered: %v", ev.Reason)
	default:
	}

	srv.lock.Lock()
	_, tracked := srv.sessions[s]
	srv.lock.Unlock()
	assert.False(t, tracked, "closed session must leave the server's set")
}

func TestSessionDisconnectDuringSetup(t *testing.T) {
	// A teardown racing the transport installation must neither race on
	// the transport field nor produce more than one disconnect event.
	srv := bareServer(t)
	srv.newTransport = func(fd net.Conn, _ *btcec.PublicKey) Transport {
		return stallTransport{fd: fd}
	}
	events := make(chan DisconnectEvent, 16)
	sub := srv.SubscribeDisconnects(events)
	defer sub.Unsubscribe()

	for i := 0; i < 32; i++ {
		s := pipeSession(t, srv, Inbound, nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Disconnect(DiscRequested)
		}()
		go func() {
			defer wg.Done()
			srv.runHandshake(s, nil)
		}()
		wg.Wait()

		assert.Equal(t, StateDisconnected, s.State())
		select {
		case <-events:
		case <-time.After(time.Second):
			t.Fatal("no disconnect event")
		}
		select {
		case ev := <-events:
			t.Fatalf("second disconnect event delivered: %v", ev.Reason)
		default:
		}
	}
}

func TestSessionTransportInstallAfterTeardown(t *testing.T) {
	srv := bareServer(t)
	s := pipeSession(t, srv, Inbound, nil)

	s.Disconnect(DiscRequested)
	assert.False(t, s.setTransport(stallTransport{fd: s.fd}),
		"transport must not install on a closed session")
}
