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
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	hc := NewHandshakeConn(&buf)

	frames := [][]byte{
		{},
		{0x01},
		bytes.Repeat([]byte{0xAB}, 307),
		bytes.Repeat([]byte{0xCD}, MaxHandshakeFrame),
	}
	for _, want := range frames {
		require.NoError(t, hc.WriteFrame(want))
		got, err := hc.ReadFrame()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestHandshakeFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	hc := NewHandshakeConn(&buf)

	err := hc.WriteFrame(make([]byte, MaxHandshakeFrame+1))
	assert.ErrorIs(t, err, errFrameTooLarge)
	assert.Zero(t, buf.Len(), "no bytes should reach the wire")
}

func TestHandshakeFrameTruncated(t *testing.T) {
	// Stream ends in the middle of the frame body.
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x10})
	buf.Write(bytes.Repeat([]byte{0x00}, 7))

	hc := NewHandshakeConn(&buf)
	_, err := hc.ReadFrame()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHandshakeFrameCleanEOF(t *testing.T) {
	hc := NewHandshakeConn(new(bytes.Buffer))
	_, err := hc.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}
