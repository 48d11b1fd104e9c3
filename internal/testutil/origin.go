package testutil

import (
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// Origin is a loopback TCP server standing in for a mining target. Closes when the test completes.
type Origin struct {
	net.Listener
	logger   *SafeTestLogger
	t        *testing.T
	handle   func(net.Conn) error
	accepted int64

	mu    sync.Mutex
	conns []net.Conn
}

// StartOrigin starts an Origin which runs a real TLS server handshake on every connection. The
// handshake never completes, since miners hang up after the server's key exchange; the server side
// simply gives up when the client closes. If cfg is nil, a TLS 1.2 config serving RSACert is used.
// There is no need to call Close on the returned origin.
func StartOrigin(t *testing.T, cfg *tls.Config) *Origin {
	t.Helper()

	if cfg == nil {
		cfg = &tls.Config{
			Certificates: []tls.Certificate{RSACert},
			MaxVersion:   tls.VersionTLS12,
		}
	}
	return StartRawOrigin(t, func(conn net.Conn) error {
		return tls.Server(conn, cfg).Handshake()
	})
}

// StartRawOrigin starts an Origin which passes each accepted connection to handle. Connections
// are closed when handle returns.
func StartRawOrigin(t *testing.T, handle func(net.Conn) error) *Origin {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	o := &Origin{Listener: l, logger: NewSafeLogger(t, "origin"), t: t, handle: handle}
	t.Cleanup(func() {
		l.Close()
		o.mu.Lock()
		for _, c := range o.conns {
			c.Close()
		}
		o.mu.Unlock()
	})
	go o.listenAndServe()
	return o
}

// Accepted returns the number of connections accepted so far.
func (o *Origin) Accepted() int {
	return int(atomic.LoadInt64(&o.accepted))
}

func (o *Origin) listenAndServe() {
	for {
		c, err := o.Accept()
		if err != nil {
			o.logger.Logf("accept error after %d connections: %v", o.Accepted(), err)
			return
		}
		number := atomic.AddInt64(&o.accepted, 1)
		o.mu.Lock()
		o.conns = append(o.conns, c)
		o.mu.Unlock()
		go func(conn net.Conn, number int64) {
			defer conn.Close()
			if err := o.handle(conn); err != nil {
				o.logger.Logf("error for connection %d: %v", number, err)
			}
		}(c, number)
	}
}
