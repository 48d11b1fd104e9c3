// Package testutil provides shared utilities for testing.
package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/Jigsaw-Code/outline-sdk/transport"
)

// BufferedPipe is like net.Pipe(), but with internal buffering on writes. In practice, our
// connections are generally TCP connections, for which writes will not block.
//
// Buffered writes may not be fully flushed to the peer when this connection is closed. Thus this
// pipe may not be suitable for tests which require strict adherence to the net.Conn contract.
func BufferedPipe() (net.Conn, net.Conn) {
	rx, tx := net.Pipe()
	return newBufferedConn(rx, 64), newBufferedConn(tx, 64)
}

// A network connection with buffered writes. Only necessary because we use synchronous connections
// created by net.Pipe().
type bufferedConn struct {
	net.Conn
	writes    chan []byte
	closedErr error // set to an error if and when the underlying connection is closed
	closed    bool
	mu        sync.Mutex
}

func newBufferedConn(conn net.Conn, bufferedWrites int) *bufferedConn {
	bc := &bufferedConn{Conn: conn, writes: make(chan []byte, bufferedWrites)}
	go bc.flushWrites()
	return bc
}

func (conn *bufferedConn) flushWrites() {
	for b := range conn.writes {
		if _, err := conn.Conn.Write(b); err == io.EOF || err == io.ErrClosedPipe {
			conn.mu.Lock()
			conn.closedErr = err
			conn.mu.Unlock()
		}
	}
}

func (conn *bufferedConn) Write(b []byte) (n int, err error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closedErr != nil {
		return 0, conn.closedErr
	}
	if conn.closed {
		return 0, io.ErrClosedPipe
	}
	copyB := make([]byte, len(b))
	n = copy(copyB, b)
	conn.writes <- copyB
	return
}

func (conn *bufferedConn) Close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if !conn.closed {
		close(conn.writes)
	}
	conn.closed = true
	return conn.Conn.Close()
}

// PipeDialer is a transport.StreamDialer whose connections lead to in-memory peers. Each dial runs
// Serve on its own goroutine with the peer's end of a BufferedPipe. The peer end is closed when
// Serve returns.
type PipeDialer struct {
	// Serve is passed the 1-based dial number. Required.
	Serve func(dial int, peer net.Conn)

	dials int64
}

// DialStream implements transport.StreamDialer.
func (d *PipeDialer) DialStream(ctx context.Context, _ string) (transport.StreamConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := atomic.AddInt64(&d.dials, 1)
	client, peer := BufferedPipe()
	go func() {
		defer peer.Close()
		d.Serve(int(n), peer)
	}()
	return pipeStreamConn{client}, nil
}

// Dials returns the number of calls to DialStream so far.
func (d *PipeDialer) Dials() int {
	return int(atomic.LoadInt64(&d.dials))
}

type pipeStreamConn struct {
	net.Conn
}

func (c pipeStreamConn) CloseRead() error  { return nil }
func (c pipeStreamConn) CloseWrite() error { return nil }

// ReadClientHello reads a single TLS record from conn, as sent by a client opening a handshake.
func ReadClientHello(conn net.Conn) ([]byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}
	payload := make([]byte, int(hdr[3])<<8|int(hdr[4]))
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}
