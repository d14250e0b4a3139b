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
	"context"
	"net"
	"sync/atomic"
)

// NodeDialer opens the raw TCP connection to a node. It exists so tests
// can substitute the network.
type NodeDialer interface {
	Dial(*Node) (net.Conn, error)
}

// tcpDialer dials through a net.Dialer with its own connect timeout as a
// backstop below the server's dial timer.
type tcpDialer struct {
	d *net.Dialer
}

func (t tcpDialer) Dial(dest *Node) (net.Conn, error) {
	fd, err := t.d.Dial("tcp", dest.Addr())
	if err != nil {
		return nil, err
	}
	if tc, ok := fd.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	return fd, nil
}

// dialResult is what a finished dial attempt reports back to Connect.
type dialResult struct {
	conn net.Conn
	err  error
}

// dialTask is one outbound connection attempt. Exactly one party claims
// it: the dialing goroutine when the attempt finishes, or Connect when
// the timer fires first. The loser of the race abandons the task, and an
// abandoned winner connection gets closed rather than leaked.
type dialTask struct {
	dest    *Node
	claimed atomic.Bool
	res     chan dialResult // buffered, capacity 1
}

func newDialTask(dest *Node) *dialTask {
	return &dialTask{dest: dest, res: make(chan dialResult, 1)}
}

// claim returns true for exactly one caller.
func (t *dialTask) claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// run performs the TCP connect. When the task was claimed by the timeout
// before the connect finished, the fresh connection is closed and the
// result dropped.
func (t *dialTask) run(d NodeDialer) {
	fd, err := d.Dial(t.dest)
	if !t.claim() {
		if fd != nil {
			fd.Close()
		}
		return
	}
	t.res <- dialResult{conn: fd, err: err}
}

// Connect opens an outbound session to dest. It returns once the TCP
// connection is up and its setup has been handed to the I/O pool;
// session creation, the announcement on the session feed and the
// handshake all happen asynchronously from there, observable through
// the session feed, the session state and the disconnect feed.
//
// The attempt is raced against the dial timeout. On timeout the returned
// error wraps ErrDialTimeout and the late connection, should it still
// arrive, is closed.
func (srv *Server) Connect(dest *Node) error {
	if _, err := dest.ID.Pubkey(); err != nil {
		return &DialError{Node: dest, Err: err}
	}
	srv.lock.Lock()
	if !srv.running {
		srv.lock.Unlock()
		return ErrServerStopped
	}
	pool, quit := srv.ioPool, srv.quit
	srv.lock.Unlock()

	srv.log.Debug("Dialing peer", "id", dest.ID.TerminalString(), "addr", dest.Addr())
	task := newDialTask(dest)
	pool.Submit(context.Background(), func() error {
		task.run(srv.dialer)
		return nil
	}, 0)

	timeout := srv.clock.After(srv.dialTimeout + dialGracePeriod)
	select {
	case res := <-task.res:
		if res.err != nil {
			return &DialError{Node: dest, Err: res.err}
		}
		return srv.startOutbound(res.conn, dest)

	case <-timeout:
		if !task.claim() {
			// The dial finished between the timer firing and the
			// claim, its result is already in flight. Use it.
			res := <-task.res
			if res.err != nil {
				return &DialError{Node: dest, Err: res.err}
			}
			return srv.startOutbound(res.conn, dest)
		}
		return &DialError{Node: dest, Err: ErrDialTimeout}

	case <-quit:
		if task.claim() {
			return ErrServerStopped
		}
		res := <-task.res
		if res.conn != nil {
			res.conn.Close()
		}
		return ErrServerStopped
	}
}

// startOutbound hands the fresh connection over to the setup pipeline.
// From here on failures belong to the session, not the Connect caller.
func (srv *Server) startOutbound(fd net.Conn, dest *Node) error {
	srv.lock.Lock()
	if !srv.running {
		srv.lock.Unlock()
		fd.Close()
		return ErrServerStopped
	}
	pool := srv.ioPool
	srv.lock.Unlock()

	pool.Submit(context.Background(), func() error {
		srv.setupConn(fd, Outbound, dest)
		return nil
	}, 0)
	return nil
}
