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
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/ilovesweetpickles/nethermind/p2p/rlpx"
)

// Transport is the wire protocol spoken on one connection: the
// cryptographic handshake followed by framed messages.
type Transport interface {
	// Handshake runs the key agreement and returns the remote identity
	// key. dialDest is set on the initiating side and makes the
	// handshake verify the responder against the expected identity.
	Handshake(prv *btcec.PrivateKey, dialDest *btcec.PublicKey) (*btcec.PublicKey, error)

	MsgReadWriter

	// Close shuts down the underlying connection. It unblocks a pending
	// Handshake, ReadMsg or WriteMsg.
	Close() error
}

// TransportFactory builds a Transport on top of a raw connection.
// dialDest is non-nil for outbound connections.
type TransportFactory func(fd net.Conn, dialDest *btcec.PublicKey) Transport

// rlpxTransport is the framed, encrypted transport. It applies the
// session deadlines around every blocking operation.
type rlpxTransport struct {
	wmu  sync.Mutex // protects wbuf across concurrent writers
	conn *rlpx.Conn
	wbuf bytes.Buffer
}

func newRLPX(fd net.Conn, dialDest *btcec.PublicKey) Transport {
	return &rlpxTransport{conn: rlpx.NewConn(fd, dialDest)}
}

func (t *rlpxTransport) Handshake(prv *btcec.PrivateKey, dialDest *btcec.PublicKey) (*btcec.PublicKey, error) {
	t.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	remote, err := t.conn.Handshake(prv)
	if err != nil {
		return nil, err
	}
	t.conn.SetDeadline(time.Time{})
	t.conn.SetSnappy(true)
	return remote, nil
}

func (t *rlpxTransport) ReadMsg() (Msg, error) {
	t.conn.SetReadDeadline(time.Now().Add(frameReadTimeout))
	code, data, err := t.conn.Read()
	if err != nil {
		return Msg{}, err
	}
	return Msg{
		Code:    code,
		Size:    uint32(len(data)),
		Payload: bytes.NewReader(data),
	}, nil
}

func (t *rlpxTransport) WriteMsg(msg Msg) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))

	// Copy the message payload, the frame writer needs it contiguous.
	t.wbuf.Reset()
	t.wbuf.Grow(int(msg.Size))
	if _, err := t.wbuf.ReadFrom(msg.Payload); err != nil {
		return err
	}
	_, err := t.conn.Write(msg.Code, t.wbuf.Bytes())
	return err
}

func (t *rlpxTransport) Close() error {
	return t.conn.Close()
}
