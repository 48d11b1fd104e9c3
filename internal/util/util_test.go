package util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/stretchr/testify/require"
)

type funcDialer func(ctx context.Context, addr string) (transport.StreamConn, error)

func (f funcDialer) DialStream(ctx context.Context, addr string) (transport.StreamConn, error) {
	return f(ctx, addr)
}

// A StreamConn over one end of a net.Pipe.
type pipeConn struct {
	net.Conn
	closed chan struct{}
}

func (c *pipeConn) CloseRead() error  { return nil }
func (c *pipeConn) CloseWrite() error { return nil }

func (c *pipeConn) Close() error {
	close(c.closed)
	return c.Conn.Close()
}

func TestClassification(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name            string
		err             error
		timeout, closed bool
	}{
		{"nil", nil, false, false},
		{"timeout error", TimeoutError("slow"), true, false},
		{"wrapped deadline", fmt.Errorf("failed to read: %w", os.ErrDeadlineExceeded), true, false},
		{"context deadline", context.DeadlineExceeded, true, false},
		{"eof", io.EOF, false, true},
		{"wrapped eof", fmt.Errorf("failed to read: %w", io.EOF), false, true},
		{"net closed", net.ErrClosed, false, true},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, false, true},
		{"other", errors.New("something else"), false, false},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.timeout, IsTimeout(tc.err))
			require.Equal(t, tc.closed, IsClosed(tc.err))
		})
	}
}

func TestDialContext(t *testing.T) {
	t.Parallel()

	t.Run("completes", func(t *testing.T) {
		t.Parallel()

		client, server := net.Pipe()
		defer server.Close()
		d := funcDialer(func(_ context.Context, _ string) (transport.StreamConn, error) {
			return &pipeConn{client, make(chan struct{})}, nil
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		conn, err := DialContext(ctx, d, "example.com:443")
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		var (
			client, server = net.Pipe()
			conn           = &pipeConn{client, make(chan struct{})}
			release        = make(chan struct{})
		)
		defer server.Close()

		// Ignores the context, as some dialers do.
		d := funcDialer(func(_ context.Context, _ string) (transport.StreamConn, error) {
			<-release
			return conn, nil
		})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := DialContext(ctx, d, "example.com:443")
		require.Error(t, err)
		require.IsType(t, TimeoutError(""), err)
		require.True(t, IsTimeout(err))

		close(release)
		select {
		case <-conn.closed:
		case <-time.After(time.Second):
			t.Fatal("late connection was not closed")
		}
	})
}
