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

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeIDPubkeyRoundTrip(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	id := PubkeyToID(key.PubKey())
	pub, err := id.Pubkey()
	require.NoError(t, err)
	assert.True(t, pub.IsEqual(key.PubKey()))
}

func TestParseNode(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	id := PubkeyToID(key.PubKey())

	url := (&Node{ID: id, Host: "10.3.58.6", Port: 30303}).String()
	n, err := ParseNode(url)
	require.NoError(t, err)
	assert.Equal(t, id, n.ID)
	assert.Equal(t, "10.3.58.6", n.Host)
	assert.Equal(t, 30303, n.Port)
}

func TestParseNodeErrors(t *testing.T) {
	tests := []string{
		"http://foo",
		"enode://10.3.58.6:30303",
		"enode://01010101@10.3.58.6:30303",
		"enode://" + "00" + "@10.3.58.6:30303",
		"enode://" + testNodeURLID + "@10.3.58.6",
		"enode://" + testNodeURLID + "@10.3.58.6:foo",
		"enode://" + testNodeURLID + "@10.3.58.6:0",
	}
	for _, url := range tests {
		_, err := ParseNode(url)
		assert.Error(t, err, "url: %s", url)
	}
}

// a valid hex-encoded node ID for URL parse tests
var testNodeURLID = func() string {
	key, err := btcec.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	return PubkeyToID(key.PubKey()).String()
}()
