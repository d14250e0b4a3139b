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

// Package rlpx implements the encrypted peer transport: the encryption
// handshake that authenticates both identities and derives session keys,
// and the framed cipher stream used for all traffic afterwards.
package rlpx

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash"
	"io"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/golang/snappy"
	"golang.org/x/crypto/sha3"
)

const (
	maxUint24 = ^uint32(0) >> 8

	sigLen   = 65 // compact signature with recovery id
	pubLen   = 65 // uncompressed secp256k1 point
	nonceLen = 32

	hsMsgLen = sigLen + pubLen + pubLen + nonceLen
)

var (
	// ErrBadHandshake is returned for malformed or unverifiable
	// handshake messages.
	ErrBadHandshake = errors.New("rlpx: invalid handshake message")

	// ErrUnexpectedIdentity is returned by the initiator when the
	// responder proves an identity other than the one that was dialed.
	ErrUnexpectedIdentity = errors.New("rlpx: remote identity mismatch")

	errHandshakeNotDone     = errors.New("rlpx: handshake not completed")
	errPlainMessageTooLarge = errors.New("rlpx: message length >= 16MB")

	// sixteen zero bytes, used for frame padding.
	zero16 = make([]byte, 16)
)

// Conn is an encrypted connection to a remote peer. A fresh Conn starts out
// in handshake mode, where the stream carries length-delimited plaintext
// handshake frames; Handshake switches it to the framed cipher stream.
type Conn struct {
	rmu, wmu sync.Mutex

	// dialDest is the identity this connection was dialed to. It is nil on
	// accepted connections and determines the handshake role: a known
	// destination makes this side the initiator.
	dialDest *btcec.PublicKey

	conn    net.Conn
	hs      *HandshakeConn
	session *sessionState
	snappy  bool
}

// NewConn wraps the given network connection. dialDest must be set to the
// dialed identity for outbound connections and nil for inbound ones.
func NewConn(conn net.Conn, dialDest *btcec.PublicKey) *Conn {
	return &Conn{
		dialDest: dialDest,
		conn:     conn,
		hs:       NewHandshakeConn(conn),
	}
}

// SetSnappy enables snappy compression of frame payloads. It must not be
// flipped while reads or writes are in flight.
func (c *Conn) SetSnappy(enabled bool) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.snappy = enabled
}

// SetDeadline sets the read and write deadline of the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline of the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline of the underlying connection.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// Close closes the underlying network connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Secrets represents the connection secrets negotiated during the handshake.
type Secrets struct {
	Remote                *btcec.PublicKey
	AES, MAC              []byte
	EgressMAC, IngressMAC hash.Hash
}

// Handshake runs the encryption handshake, acting as initiator when the
// connection was dialed to a known identity and as recipient otherwise.
// On success the handshake framer is uninstalled and the connection
// switches to the encrypted frame stream. The returned key is the remote
// static identity proven by the handshake.
func (c *Conn) Handshake(prv *btcec.PrivateKey) (*btcec.PublicKey, error) {
	var (
		sec Secrets
		err error
	)
	if c.dialDest != nil {
		sec, err = initiatorHandshake(c.hs, prv, c.dialDest)
	} else {
		sec, err = recipientHandshake(c.hs, prv)
	}
	if err != nil {
		return nil, err
	}
	c.InitWithSecrets(sec)
	c.hs = nil
	return sec.Remote, nil
}

// InitWithSecrets activates the frame stream with the given secrets. It is
// called by Handshake and exposed for testing.
func (c *Conn) InitWithSecrets(sec Secrets) {
	if c.session != nil {
		panic("can't handshake twice")
	}
	macc, err := aes.NewCipher(sec.MAC)
	if err != nil {
		panic("invalid MAC secret: " + err.Error())
	}
	encc, err := aes.NewCipher(sec.AES)
	if err != nil {
		panic("invalid AES secret: " + err.Error())
	}
	// we use an all-zeroes IV for AES because the key used
	// for encryption is ephemeral.
	iv := make([]byte, encc.BlockSize())
	c.session = &sessionState{
		enc:        cipher.NewCTR(encc, iv),
		dec:        cipher.NewCTR(encc, iv),
		macCipher:  macc,
		egressMAC:  sec.EgressMAC,
		ingressMAC: sec.IngressMAC,
	}
}

// sessionState holds the cipher and MAC state of an established connection.
type sessionState struct {
	enc, dec   cipher.Stream
	macCipher  cipher.Block
	egressMAC  hash.Hash
	ingressMAC hash.Hash
}

// Read reads and decrypts the next message from the frame stream.
func (c *Conn) Read() (code uint64, data []byte, err error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.session == nil {
		return 0, nil, errHandshakeNotDone
	}

	frame, err := c.readFrame()
	if err != nil {
		return 0, nil, err
	}
	code, n := binary.Uvarint(frame)
	if n <= 0 {
		return 0, nil, errors.New("rlpx: invalid message code")
	}
	data = frame[n:]

	// if snappy is enabled, verify and decompress message
	if c.snappy {
		size, err := snappy.DecodedLen(data)
		if err != nil {
			return code, nil, err
		}
		if size > int(maxUint24) {
			return code, nil, errPlainMessageTooLarge
		}
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return code, nil, err
		}
	}
	return code, data, nil
}

func (c *Conn) readFrame() ([]byte, error) {
	h := c.session

	// read the header
	headbuf := make([]byte, 32)
	if _, err := io.ReadFull(c.conn, headbuf); err != nil {
		return nil, err
	}

	// verify header mac
	shouldMAC := updateMAC(h.ingressMAC, h.macCipher, headbuf[:16])
	if !hmac.Equal(shouldMAC, headbuf[16:]) {
		return nil, errors.New("rlpx: bad header MAC")
	}
	h.dec.XORKeyStream(headbuf[:16], headbuf[:16]) // first half is now decrypted
	fsize := readUint24(headbuf)

	// read the frame content, rounded up to the 16 byte cipher block boundary
	rsize := fsize
	if padding := fsize % 16; padding > 0 {
		rsize += 16 - padding
	}
	framebuf := make([]byte, rsize)
	if _, err := io.ReadFull(c.conn, framebuf); err != nil {
		return nil, err
	}

	// read and validate frame MAC. we can re-use headbuf for that.
	h.ingressMAC.Write(framebuf)
	fmacseed := h.ingressMAC.Sum(nil)
	if _, err := io.ReadFull(c.conn, headbuf[:16]); err != nil {
		return nil, err
	}
	shouldMAC = updateMAC(h.ingressMAC, h.macCipher, fmacseed)
	if !hmac.Equal(shouldMAC, headbuf[:16]) {
		return nil, errors.New("rlpx: bad frame MAC")
	}

	// decrypt frame content
	h.dec.XORKeyStream(framebuf, framebuf)
	return framebuf[:fsize], nil
}

// Write encrypts and writes a message to the frame stream. It returns the
// payload size written to the wire, which differs from len(data) when
// snappy compression is enabled.
func (c *Conn) Write(code uint64, data []byte) (uint32, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.session == nil {
		return 0, errHandshakeNotDone
	}
	if c.snappy {
		if uint64(len(data)) > uint64(maxUint24) {
			return 0, errPlainMessageTooLarge
		}
		data = snappy.Encode(nil, data)
	}

	var codebuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(codebuf[:], code)
	fsize := uint32(n) + uint32(len(data))
	if fsize > maxUint24 {
		return 0, errors.New("rlpx: message size overflows uint24")
	}

	h := c.session

	// write the header
	headbuf := make([]byte, 32)
	putUint24(fsize, headbuf)
	h.enc.XORKeyStream(headbuf[:16], headbuf[:16]) // first half is now encrypted

	// write header MAC
	copy(headbuf[16:], updateMAC(h.egressMAC, h.macCipher, headbuf[:16]))
	if _, err := c.conn.Write(headbuf); err != nil {
		return 0, err
	}

	// write encrypted frame, updating the egress MAC hash with
	// the data written to conn.
	tee := cipher.StreamWriter{S: h.enc, W: io.MultiWriter(c.conn, h.egressMAC)}
	if _, err := tee.Write(codebuf[:n]); err != nil {
		return 0, err
	}
	if _, err := tee.Write(data); err != nil {
		return 0, err
	}
	if padding := fsize % 16; padding > 0 {
		if _, err := tee.Write(zero16[:16-padding]); err != nil {
			return 0, err
		}
	}

	// write frame MAC. egress MAC hash is up to date because
	// frame content was written to it as well.
	fmacseed := h.egressMAC.Sum(nil)
	mac := updateMAC(h.egressMAC, h.macCipher, fmacseed)
	_, err := c.conn.Write(mac)
	return uint32(len(data)), err
}

func readUint24(b []byte) uint32 {
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16
}

func putUint24(v uint32, b []byte) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// updateMAC reseeds the given hash with encrypted seed.
// it returns the first 16 bytes of the hash sum after seeding.
func updateMAC(mac hash.Hash, block cipher.Block, seed []byte) []byte {
	aesbuf := make([]byte, aes.BlockSize)
	block.Encrypt(aesbuf, mac.Sum(nil))
	for i := range aesbuf {
		aesbuf[i] ^= seed[i]
	}
	mac.Write(aesbuf)
	return mac.Sum(nil)[:16]
}

// initiatorHandshake negotiates session secrets on the dialing side of the
// connection. The responder must prove the dialed identity.
func initiatorHandshake(hs *HandshakeConn, prv *btcec.PrivateKey, remote *btcec.PublicKey) (Secrets, error) {
	eph, nonce, authPacket, err := makeHandshakeMsg(prv)
	if err != nil {
		return Secrets{}, err
	}
	if err := hs.WriteFrame(authPacket); err != nil {
		return Secrets{}, err
	}
	ackPacket, err := hs.ReadFrame()
	if err != nil {
		return Secrets{}, err
	}
	remotePub, remoteEph, respNonce, err := parseHandshakeMsg(ackPacket)
	if err != nil {
		return Secrets{}, err
	}
	if !remotePub.IsEqual(remote) {
		return Secrets{}, ErrUnexpectedIdentity
	}
	return deriveSecrets(true, eph, remoteEph, nonce, respNonce, authPacket, ackPacket, remotePub)
}

// recipientHandshake negotiates session secrets on the listening side of
// the connection. The initiator's identity is revealed by its auth message.
func recipientHandshake(hs *HandshakeConn, prv *btcec.PrivateKey) (Secrets, error) {
	authPacket, err := hs.ReadFrame()
	if err != nil {
		return Secrets{}, err
	}
	remotePub, remoteEph, initNonce, err := parseHandshakeMsg(authPacket)
	if err != nil {
		return Secrets{}, err
	}
	eph, nonce, ackPacket, err := makeHandshakeMsg(prv)
	if err != nil {
		return Secrets{}, err
	}
	if err := hs.WriteFrame(ackPacket); err != nil {
		return Secrets{}, err
	}
	return deriveSecrets(false, eph, remoteEph, initNonce, nonce, authPacket, ackPacket, remotePub)
}

// makeHandshakeMsg builds one side's handshake message: a fresh ephemeral
// key and nonce, bound to the static identity by a recoverable signature
// over their digest.
func makeHandshakeMsg(prv *btcec.PrivateKey) (eph *btcec.PrivateKey, nonce []byte, packet []byte, err error) {
	eph, err = btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, nil, err
	}
	ephPub := eph.PubKey().SerializeUncompressed()
	sig, err := btcecdsa.SignCompact(prv, keccak256(ephPub, nonce), false)
	if err != nil {
		return nil, nil, nil, err
	}

	packet = make([]byte, 0, hsMsgLen)
	packet = append(packet, sig...)
	packet = append(packet, prv.PubKey().SerializeUncompressed()...)
	packet = append(packet, ephPub...)
	packet = append(packet, nonce...)
	return eph, nonce, packet, nil
}

// parseHandshakeMsg decodes a handshake message and verifies that the
// ephemeral key and nonce were signed by the claimed static identity.
func parseHandshakeMsg(packet []byte) (pub, eph *btcec.PublicKey, nonce []byte, err error) {
	if len(packet) != hsMsgLen {
		return nil, nil, nil, ErrBadHandshake
	}
	var (
		sig    = packet[:sigLen]
		pubb   = packet[sigLen : sigLen+pubLen]
		ephb   = packet[sigLen+pubLen : sigLen+2*pubLen]
		nonceb = packet[sigLen+2*pubLen:]
	)
	if pub, err = btcec.ParsePubKey(pubb); err != nil {
		return nil, nil, nil, ErrBadHandshake
	}
	if eph, err = btcec.ParsePubKey(ephb); err != nil {
		return nil, nil, nil, ErrBadHandshake
	}
	recovered, _, err := btcecdsa.RecoverCompact(sig, keccak256(ephb, nonceb))
	if err != nil || !recovered.IsEqual(pub) {
		return nil, nil, nil, ErrBadHandshake
	}
	return pub, eph, nonceb, nil
}

// deriveSecrets computes the session secrets from the ephemeral key
// agreement and seeds the two MAC states with the handshake transcripts.
func deriveSecrets(initiator bool, eph *btcec.PrivateKey, remoteEph *btcec.PublicKey, initNonce, respNonce, auth, ack []byte, remote *btcec.PublicKey) (Secrets, error) {
	ecdhe := btcec.GenerateSharedSecret(eph, remoteEph)

	// derive base secrets from ephemeral key agreement
	shared := keccak256(ecdhe, keccak256(respNonce, initNonce))
	aesSecret := keccak256(ecdhe, shared)
	s := Secrets{
		Remote: remote,
		AES:    aesSecret,
		MAC:    keccak256(ecdhe, aesSecret),
	}

	// setup sha3 instances for the MACs
	mac1 := sha3.NewLegacyKeccak256()
	mac1.Write(xor(s.MAC, respNonce))
	mac1.Write(auth)
	mac2 := sha3.NewLegacyKeccak256()
	mac2.Write(xor(s.MAC, initNonce))
	mac2.Write(ack)
	if initiator {
		s.EgressMAC, s.IngressMAC = mac1, mac2
	} else {
		s.EgressMAC, s.IngressMAC = mac2, mac1
	}
	return s, nil
}

func keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

func xor(one, other []byte) []byte {
	out := make([]byte, len(one))
	for i := 0; i < len(one); i++ {
		out[i] = one[i] ^ other[i]
	}
	return out
}
