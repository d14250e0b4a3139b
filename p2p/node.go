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
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
)

// NodeID is the persistent public identity of a node: the 64-byte
// uncompressed secp256k1 public key without the format prefix.
type NodeID [64]byte

// PubkeyToID converts a public key to a node identity.
func PubkeyToID(pub *btcec.PublicKey) NodeID {
	var id NodeID
	copy(id[:], pub.SerializeUncompressed()[1:])
	return id
}

// Pubkey recovers the public key represented by the identity.
func (id NodeID) Pubkey() (*btcec.PublicKey, error) {
	return btcec.ParsePubKey(append([]byte{0x04}, id[:]...))
}

// String returns the identity as a long hexadecimal number.
func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:])
}

// TerminalString returns a shortened hex string for terminal logging.
func (id NodeID) TerminalString() string {
	return fmt.Sprintf("%x", id[:8])
}

// Node names a dialable remote peer: its identity and network address.
type Node struct {
	ID   NodeID
	Host string
	Port int
}

// Addr returns the host:port address of the node.
func (n *Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// String returns the node URL.
func (n *Node) String() string {
	return fmt.Sprintf("enode://%x@%s", n.ID[:], n.Addr())
}

// ParseNode parses a node URL of the form
//
//	enode://<hex node id>@<host>:<port>
func ParseNode(rawurl string) (*Node, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "enode" {
		return nil, fmt.Errorf("invalid URL scheme, want \"enode\"")
	}
	if u.User == nil {
		return nil, fmt.Errorf("node URL is missing the node ID")
	}
	idb, err := hex.DecodeString(u.User.String())
	if err != nil || len(idb) != len(NodeID{}) {
		return nil, fmt.Errorf("invalid node ID (want %d hex chars)", 2*len(NodeID{}))
	}
	var id NodeID
	copy(id[:], idb)
	// reject identities that are not points on the curve
	if _, err := id.Pubkey(); err != nil {
		return nil, fmt.Errorf("invalid node ID: %v", err)
	}
	host, portstr, err := net.SplitHostPort(u.Host)
	if err != nil {
		return nil, fmt.Errorf("invalid host: %v", err)
	}
	port, err := strconv.Atoi(portstr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", portstr)
	}
	return &Node{ID: id, Host: host, Port: port}, nil
}
