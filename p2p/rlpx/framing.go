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

package rlpx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxHandshakeFrame is the maximum body size of a single handshake frame.
// The length prefix is two bytes, so this bound is enforced by the wire
// format itself on the read side and checked explicitly on the write side.
const MaxHandshakeFrame = 0xFFFF

var errFrameTooLarge = fmt.Errorf("message longer than %d bytes", MaxHandshakeFrame)

// HandshakeConn splits the pre-handshake byte stream into discrete frames.
// Each frame is prefixed by a 2-byte big-endian length field which does not
// count itself. The codec carries no session state; it only reassembles
// delimited records so the handshake never sees a partial message.
type HandshakeConn struct {
	rw     io.ReadWriter
	lenbuf [2]byte
}

// NewHandshakeConn wraps the given stream with the handshake frame codec.
func NewHandshakeConn(rw io.ReadWriter) *HandshakeConn {
	return &HandshakeConn{rw: rw}
}

// ReadFrame reads the next length-delimited frame from the stream.
// A clean EOF before the length prefix is reported as io.EOF; a stream
// ending mid-frame is reported as io.ErrUnexpectedEOF.
func (hc *HandshakeConn) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(hc.rw, hc.lenbuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint16(hc.lenbuf[:])
	frame := make([]byte, size)
	if _, err := io.ReadFull(hc.rw, frame); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// WriteFrame writes the frame with its length prefix.
func (hc *HandshakeConn) WriteFrame(frame []byte) error {
	if len(frame) > MaxHandshakeFrame {
		return errFrameTooLarge
	}
	binary.BigEndian.PutUint16(hc.lenbuf[:], uint16(len(frame)))
	if _, err := hc.rw.Write(hc.lenbuf[:]); err != nil {
		return err
	}
	_, err := hc.rw.Write(frame)
	return err
}
