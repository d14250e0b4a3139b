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
	"fmt"
)

var (
	// ErrAlreadyListening is returned by Init when the server has already
	// been initialized. The existing listener is left untouched.
	ErrAlreadyListening = errors.New("p2p: already listening")

	// ErrServerStopped is returned by operations on a server that has not
	// been initialized or has been shut down.
	ErrServerStopped = errors.New("p2p: server stopped")

	// ErrDialTimeout is the cause recorded in a DialError when the
	// connection attempt lost the race against the dial timeout.
	ErrDialTimeout = errors.New("dial timed out")

	// ErrTooManyPeers is returned by a Registry that is at capacity.
	ErrTooManyPeers = errors.New("p2p: too many peers")

	// ErrAlreadyConnected is returned by a Registry when a session to the
	// same identity already exists.
	ErrAlreadyConnected = errors.New("p2p: already connected")

	// ErrNotEstablished is returned when application traffic is attempted
	// on a session whose handshake has not completed.
	ErrNotEstablished = errors.New("p2p: session not established")
)

// BindError wraps a failure to bind the listening socket.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("p2p: can't bind port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// DialError reports a failed connection attempt. It names the target so
// callers can tell which dial failed; the cause is either ErrDialTimeout
// or the underlying network error.
type DialError struct {
	Node *Node
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("p2p: dial %s@%s: %v", e.Node.ID.TerminalString(), e.Node.Addr(), e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// DiscReason describes why a session was disconnected.
type DiscReason uint8

const (
	DiscRequested DiscReason = iota
	DiscNetworkError
	DiscProtocolError
	DiscHandshakeError
	DiscRemoteClosed
	DiscTooManyPeers
	DiscQuitting
)

var discReasonToString = [...]string{
	DiscRequested:      "disconnect requested",
	DiscNetworkError:   "network error",
	DiscProtocolError:  "breach of protocol",
	DiscHandshakeError: "handshake failed",
	DiscRemoteClosed:   "remote closed connection",
	DiscTooManyPeers:   "too many peers",
	DiscQuitting:       "client quitting",
}

func (d DiscReason) String() string {
	if int(d) >= len(discReasonToString) {
		return fmt.Sprintf("unknown disconnect reason %d", d)
	}
	return discReasonToString[d]
}

func (d DiscReason) Error() string {
	return d.String()
}
