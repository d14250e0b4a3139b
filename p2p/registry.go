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
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ilovesweetpickles/nethermind/event"
)

// Registry admits sessions into the node's peer bookkeeping. Register is
// called before the handshake runs, so the session's remote identity may
// still be unresolved at that point. Returning an error makes the server
// drop the connection.
type Registry interface {
	Register(*Session) error
}

// PeerSet is the standard Registry: it tracks live sessions, enforces a
// size cap and rejects duplicate identities on the outbound side, where
// the identity is known at registration time.
type PeerSet struct {
	mu       sync.Mutex
	max      int
	sessions map[*Session]struct{}
	ids      mapset.Set[NodeID]

	sub  event.Subscription
	quit chan struct{}
	wg   sync.WaitGroup
}

// NewPeerSet creates a peer set admitting at most max sessions.
func NewPeerSet(max int) *PeerSet {
	return &PeerSet{
		max:      max,
		sessions: make(map[*Session]struct{}),
		ids:      mapset.NewSet[NodeID](),
	}
}

// Register implements Registry.
func (ps *PeerSet) Register(s *Session) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.sessions) >= ps.max {
		return ErrTooManyPeers
	}
	if id, ok := s.RemoteID(); ok && !ps.ids.Add(id) {
		return ErrAlreadyConnected
	}
	ps.sessions[s] = struct{}{}
	return nil
}

// remove forgets a closed session.
func (ps *PeerSet) remove(s *Session) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, ok := ps.sessions[s]; !ok {
		return
	}
	delete(ps.sessions, s)
	if id, ok := s.RemoteID(); ok {
		ps.ids.Remove(id)
	}
}

// Len returns the number of registered sessions.
func (ps *PeerSet) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.sessions)
}

// Track wires the peer set to the server's disconnect feed so closed
// sessions free their slot. Call Close when done with the server.
func (ps *PeerSet) Track(srv *Server) {
	ch := make(chan DisconnectEvent, 16)
	ps.sub = srv.SubscribeDisconnects(ch)
	ps.quit = make(chan struct{})
	ps.wg.Add(1)
	go func() {
		defer ps.wg.Done()
		for {
			select {
			case ev := <-ch:
				ps.remove(ev.Session)
			case <-ps.quit:
				return
			}
		}
	}()
}

// Close detaches the peer set from the server feed.
func (ps *PeerSet) Close() {
	if ps.sub != nil {
		ps.sub.Unsubscribe()
		close(ps.quit)
		ps.wg.Wait()
		ps.sub = nil
	}
}
