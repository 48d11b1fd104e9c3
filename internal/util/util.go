// Package util provides general utilities for tlsminer and subpackages.
package util

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
)

// TimeoutError implements net.Error.
type TimeoutError string

func (err TimeoutError) Error() string { return string(err) }

// Timeout returns true.
func (err TimeoutError) Timeout() bool { return true }

// Temporary returns false.
func (err TimeoutError) Temporary() bool { return false }

// IsTimeout reports whether err is, or wraps, a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err indicates that the peer or the local side closed the connection.
func IsClosed(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED):
		return true
	default:
		return false
	}
}

// DialContext dials addr using d. If the dial has not completed by the context deadline, a
// TimeoutError is returned and any connection produced later is closed. Dialers which honor the
// context return on their own; this covers those which do not.
func DialContext(ctx context.Context, d transport.StreamDialer, addr string) (transport.StreamConn, error) {
	// Adapted from net/http.persistConn.addTLS.
	dl, ok := ctx.Deadline()
	if !ok {
		return d.DialStream(ctx, addr)
	}

	type result struct {
		conn transport.StreamConn
		err  error
	}
	timer := time.NewTimer(time.Until(dl))
	defer timer.Stop()
	resultC := make(chan result, 1)
	go func() {
		conn, err := d.DialStream(ctx, addr)
		resultC <- result{conn, err}
	}()
	select {
	case res := <-resultC:
		return res.conn, res.err
	case <-timer.C:
		go func() {
			if res := <-resultC; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, TimeoutError("timed out dialing " + addr)
	}
}
