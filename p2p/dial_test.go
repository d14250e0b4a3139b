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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilovesweetpickles/nethermind/common/mclock"
)

// blockingDialer parks every dial until released.
type blockingDialer struct {
	release chan struct{}
}

func (d blockingDialer) Dial(*Node) (net.Conn, error) {
	<-d.release
	return nil, errors.New("dial aborted")
}

func TestConnectStopped(t *testing.T) {
	srv := &Server{}
	node := &Node{ID: PubkeyToID(newTestKey(t).PubKey()), Host: "127.0.0.1", Port: 30303}
	assert.ErrorIs(t, srv.Connect(node), ErrServerStopped)
}

func TestConnectInvalidIdentity(t *testing.T) {
	srv := startTestServer(t, Config{})
	err := srv.Connect(&Node{Host: "127.0.0.1", Port: 30303})

	var derr *DialError
	require.ErrorAs(t, err, &derr)
}

func TestConnectRefused(t *testing.T) {
	srv := startTestServer(t, Config{})

	// Grab a free port and close it again so the dial is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	node := &Node{ID: PubkeyToID(newTestKey(t).PubKey()), Host: "127.0.0.1", Port: port}
	err = srv.Connect(node)

	var derr *DialError
	require.ErrorAs(t, err, &derr)
	assert.Same(t, node, derr.Node)
	assert.NotErrorIs(t, err, ErrDialTimeout)
	assert.Contains(t, err.Error(), node.Addr())
}

func TestConnectTimeout(t *testing.T) {
	clock := new(mclock.Simulated)
	dialer := blockingDialer{release: make(chan struct{})}
	srv := startTestServer(t, Config{
		Dialer: dialer,
		Clock:  clock,
	})
	// Unblock the parked dial before the server shuts down.
	t.Cleanup(func() { close(dialer.release) })

	node := &Node{ID: PubkeyToID(newTestKey(t).PubKey()), Host: "127.0.0.1", Port: 30303}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Connect(node)
	}()

	// Wait for the dial timer, then run the clock past it.
	clock.WaitForTimers(1)
	clock.Run(srv.dialTimeout + dialGracePeriod)

	err := <-errc
	var derr *DialError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, ErrDialTimeout)
}

func TestDialTaskAbandoned(t *testing.T) {
	// When the timer claims the task first, a late connection must be
	// closed instead of leaked.
	fd1, fd2 := net.Pipe()
	defer fd2.Close()

	task := newDialTask(&Node{Host: "127.0.0.1", Port: 30303})
	require.True(t, task.claim(), "first claim must win")

	task.run(connDialer{fd: fd1})
	select {
	case <-task.res:
		t.Fatal("abandoned task must not report a result")
	default:
	}

	// The pipe is closed when its peer read fails immediately.
	fd2.SetReadDeadline(time.Now().Add(time.Second))
	_, err := fd2.Read(make([]byte, 1))
	assert.Error(t, err)
}

type connDialer struct {
	fd net.Conn
}

func (d connDialer) Dial(*Node) (net.Conn, error) { return d.fd, nil }
