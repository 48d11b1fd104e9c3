// Command tlsminer mines proof-of-work trials against a TLS 1.2 server until interrupted.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/transport/socks5"
	"github.com/getlantern/golog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/getlantern/tlsminer"
	"github.com/getlantern/tlsminer/pow"
	"github.com/getlantern/tlsminer/report"
)

var (
	host         = flag.String("host", "", "the server to mine against")
	port         = flag.Int("port", 443, "the port to use on the server")
	serverName   = flag.String("sni", "", "server name indicator; defaults to -host")
	prevHash     = flag.String("prev-hash", hex.EncodeToString(bytes.Repeat([]byte{0xAA}, 32)), "previous block hash, as 64 hex characters")
	merkleRoot   = flag.String("merkle-root", hex.EncodeToString(bytes.Repeat([]byte{0xBB}, 32)), "merkle root, as 64 hex characters")
	conns        = flag.Int("conns", tlsminer.DefaultPoolSize, "number of concurrent handshakes")
	timeout      = flag.Duration("timeout", tlsminer.DefaultIdleTimeout, "bound on connects, writes and each read")
	difficulty   = flag.Int("difficulty", int(pow.DefaultDifficulty), "leading zero bits required of a solution")
	socksAddr    = flag.String("socks5", "", "dial through the SOCKS5 proxy at this address")
	metricsAddr  = flag.String("metrics", "", "serve Prometheus metrics on this address")
	redisAddr    = flag.String("redis", "", "append solutions to a list on the Redis server at this address")
	redisKey     = flag.String("redis-key", "tlsminer:solutions", "Redis list to append solutions to")
	redisChannel = flag.String("redis-channel", "", "Redis channel to publish solutions on, if any")
)

var log = golog.LoggerFor("tlsminer.cmd")

func fail(a ...interface{}) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}

func parseHash(name, s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("bad %s: %w", name, err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("bad %s: expected %d bytes, got %d", name, len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// resolve looks up host once, as the target should not move between attempts.
func resolve(ctx context.Context, host string) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, errors.New("no addresses")
	}
	return addrs[0].IP, nil
}

func dialer() (transport.StreamDialer, error) {
	if *socksAddr == "" {
		return &transport.TCPDialer{}, nil
	}
	return socks5.NewStreamDialer(&transport.StreamDialerEndpoint{
		Dialer:  &transport.TCPDialer{},
		Address: *socksAddr,
	})
}

func redisReporter(ctx context.Context) (report.Reporter, error) {
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return report.Redis{Client: rdb, Key: *redisKey, Channel: *redisChannel}, nil
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Debugf("Serving metrics on %v", *metricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

func main() {
	flag.Parse()

	if *host == "" {
		fail("host must be specified")
	}
	if *serverName == "" {
		*serverName = *host
	}
	if net.ParseIP(*serverName) != nil {
		// SNI may not carry an IP address.
		*serverName = ""
	}
	ph, err := parseHash("prev-hash", *prevHash)
	if err != nil {
		fail(err)
	}
	mr, err := parseHash("merkle-root", *merkleRoot)
	if err != nil {
		fail(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ip, err := resolve(ctx, *host)
	if err != nil {
		fail("failed to resolve", *host+":", err)
	}
	d, err := dialer()
	if err != nil {
		fail("failed to create dialer:", err)
	}

	cfg := tlsminer.Config{
		Address:       net.JoinHostPort(ip.String(), strconv.Itoa(*port)),
		ServerName:    *serverName,
		PrevBlockHash: ph,
		MerkleRoot:    mr,
		PoolSize:      *conns,
		IdleTimeout:   *timeout,
		Difficulty:    pow.Difficulty(*difficulty),
		Dialer:        d,
	}
	if *redisAddr != "" {
		if cfg.Reporter, err = redisReporter(ctx); err != nil {
			fail(err)
		}
	}
	reg := prometheus.NewRegistry()
	if *metricsAddr != "" {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		cfg.Registerer = reg
	}

	pool, err := tlsminer.NewPool(cfg)
	if err != nil {
		fail("failed to create pool:", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	if *metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, reg) })
	}
	if err := g.Wait(); err != nil {
		fail(err)
	}

	stats := pool.Stats()
	fmt.Printf("opened %d, completed %d, failed %d, solutions %d\n",
		stats.Opened, stats.Completed, stats.Failed, stats.Solutions)
}
