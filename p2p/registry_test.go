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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerSetCapacity(t *testing.T) {
	srv := bareServer(t)
	ps := NewPeerSet(1)

	s1 := pipeSession(t, srv, Inbound, nil)
	s2 := pipeSession(t, srv, Inbound, nil)

	require.NoError(t, ps.Register(s1))
	assert.ErrorIs(t, ps.Register(s2), ErrTooManyPeers)
	assert.Equal(t, 1, ps.Len())

	ps.remove(s1)
	assert.NoError(t, ps.Register(s2))
}

func TestPeerSetDuplicateIdentity(t *testing.T) {
	srv := bareServer(t)
	ps := NewPeerSet(10)
	id := PubkeyToID(newTestKey(t).PubKey())

	s1 := pipeSession(t, srv, Outbound, &id)
	s2 := pipeSession(t, srv, Outbound, &id)

	require.NoError(t, ps.Register(s1))
	assert.ErrorIs(t, ps.Register(s2), ErrAlreadyConnected)

	// Freeing the identity admits a new session to the same peer.
	ps.remove(s1)
	assert.NoError(t, ps.Register(s2))
	assert.Equal(t, 1, ps.Len())
}

func TestPeerSetRemoveUnknown(t *testing.T) {
	srv := bareServer(t)
	ps := NewPeerSet(1)
	s := pipeSession(t, srv, Inbound, nil)

	// Removing a session that was never admitted is a no-op.
	ps.remove(s)
	assert.Equal(t, 0, ps.Len())
}
