// Package tlsminer mines proof-of-work trials out of TLS 1.2 handshakes.
//
// Each attempt commits to a fresh nonce by sending SHA-256(prevHash || merkleRoot || nonce) as the
// ClientHello random, then reads the server's first flight up to the ServerKeyExchange. The
// server's signed key exchange parameters and signature are unpredictable before the ClientHello is
// sent, so hashing them together with the nonce yields one unbiased trial per round trip. Attempts
// never complete the handshake; the connection is dropped as soon as the trial is evaluated and a
// replacement is opened, keeping a fixed number of attempts in flight.
package tlsminer

import (
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/getlantern/tlsminer/pow"
	"github.com/getlantern/tlsminer/report"
)

const (
	// DefaultPoolSize is the default number of concurrent attempts.
	DefaultPoolSize = 1

	// DefaultIdleTimeout bounds connects, writes and each read.
	DefaultIdleTimeout = 3 * time.Second

	// DefaultRetryBackoff is how long a replacement waits to redial after a failure to connect.
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Config specifies configuration for mining. It is copied by NewPool and must not be modified
// afterwards.
type Config struct {
	// Address of the target server, as host:port. Required.
	Address string

	// ServerName is sent as SNI. If empty, no SNI extension is sent.
	ServerName string

	// PrevBlockHash and MerkleRoot are committed to, along with the nonce, in each client random.
	PrevBlockHash, MerkleRoot [32]byte

	// PoolSize is the number of attempts kept in flight. Defaults to DefaultPoolSize.
	PoolSize int

	// IdleTimeout bounds the connect, the ClientHello write and each read. Defaults to
	// DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Difficulty is the number of leading zero bits a trial digest needs to count as a solution.
	// The zero value accepts every trial; pow.DefaultDifficulty requires a zero first byte.
	Difficulty pow.Difficulty

	// Rand is the source of nonces. Defaults to crypto/rand.Reader. Only read from the pool's
	// event loop, so it need not be safe for concurrent use.
	Rand io.Reader

	// Dialer is used to reach the target. Defaults to a plain TCP dialer.
	Dialer transport.StreamDialer

	// Reporter, if set, is sent every solution found.
	Reporter report.Reporter

	// Registerer, if set, is used to register the pool's metrics.
	Registerer prometheus.Registerer

	// RetryBackoff delays the dial of an attempt replacing one which failed to connect, and the
	// construction of an attempt replacing one which could not be constructed. Defaults to
	// DefaultRetryBackoff.
	RetryBackoff time.Duration
}

func (cfg Config) withDefaults() Config {
	newCfg := cfg
	if cfg.PoolSize == 0 {
		newCfg.PoolSize = DefaultPoolSize
	}
	if cfg.IdleTimeout == 0 {
		newCfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Rand == nil {
		newCfg.Rand = rand.Reader
	}
	if cfg.Dialer == nil {
		newCfg.Dialer = &transport.TCPDialer{}
	}
	if cfg.RetryBackoff == 0 {
		newCfg.RetryBackoff = DefaultRetryBackoff
	}
	return newCfg
}

func (cfg Config) validate() error {
	switch {
	case cfg.Address == "":
		return errors.New("address is required")
	case cfg.PoolSize < 0:
		return errors.New("pool size must not be negative")
	case cfg.Difficulty < 0:
		return errors.New("difficulty must not be negative")
	case cfg.IdleTimeout < 0:
		return errors.New("idle timeout must not be negative")
	case cfg.RetryBackoff < 0:
		return errors.New("retry backoff must not be negative")
	}
	return nil
}
