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
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/ilovesweetpickles/nethermind/common/mclock"
	"github.com/ilovesweetpickles/nethermind/log"
)

const (
	// defaultDialTimeout bounds an outbound connection attempt. The
	// grace period is added on top so that a dial completing right at
	// the deadline can still report its own error instead of losing
	// the race to the timer.
	defaultDialTimeout = 15 * time.Second
	dialGracePeriod    = 2 * time.Second

	// handshakeTimeout bounds the whole cryptographic handshake,
	// covering both exchanged frames.
	handshakeTimeout = 5 * time.Second

	// frameReadTimeout is the idle deadline applied to established
	// sessions. A peer that sends nothing for this long is dropped.
	frameReadTimeout = 30 * time.Second

	// frameWriteTimeout bounds a single message write.
	frameWriteTimeout = 20 * time.Second

	// poolQuiesceTimeout is how long Shutdown waits for each worker
	// pool to drain before abandoning it.
	poolQuiesceTimeout = 2 * time.Second

	// shutdownHardTimeout bounds the whole Shutdown call. When it
	// fires, whatever has not finished is abandoned.
	shutdownHardTimeout = 10 * time.Second
)

// Config holds the server options. Zero fields other than PrivateKey fall
// back to working defaults when Init runs.
type Config struct {
	// PrivateKey is the node's secp256k1 identity key. Required.
	PrivateKey *btcec.PrivateKey

	// ListenPort is the TCP port to accept inbound connections on.
	// Port 0 asks the kernel for an ephemeral port.
	ListenPort int

	// MaxIOWorkers caps the pool that runs connection setup, handshakes
	// and dials. Defaults to the number of CPUs.
	MaxIOWorkers int

	// Registry admits or rejects sessions before their handshake runs.
	// A nil registry admits everything.
	Registry Registry

	// Metrics counts connection attempts. Optional.
	Metrics *ConnMetrics

	// Transport constructs the wire transport for a connection. Defaults
	// to the encrypted framed transport. Overridable for testing.
	Transport TransportFactory

	// Dialer opens outbound TCP connections. Defaults to a net.Dialer
	// based implementation.
	Dialer NodeDialer

	// Clock is the time source, swappable in tests.
	Clock mclock.Clock

	// Logger is the base logger for the server and its sessions.
	Logger log.Logger

	// Env is handed to every session for the application layer.
	Env *Env

	// MsgHandler receives every application message read from an
	// established session. Returning an error drops the session with
	// DiscProtocolError. A nil handler discards messages.
	MsgHandler func(*Session, Msg) error
}
