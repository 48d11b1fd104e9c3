package tlsminer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/getlantern/golog"
	"golang.org/x/sync/errgroup"

	"github.com/getlantern/tlsminer/internal/tlsmsg"
	"github.com/getlantern/tlsminer/pow"
)

const (
	// Solutions waiting for the reporter. Beyond this, deliveries are dropped (but still logged).
	solutionBuffer = 64

	// Bounds each delivery to the reporter.
	reportTimeout = 10 * time.Second
)

var log = golog.LoggerFor("tlsminer")

// Stats is a snapshot of a pool's counters.
type Stats struct {
	// Live is the number of attempts currently in flight.
	Live int
	// Opened counts attempts which went live.
	Opened int
	// Completed counts attempts which reached the key exchange and evaluated a trial.
	Completed int
	// Failed counts attempts released for any other reason, including those which could not be
	// constructed. Attempts released at shutdown are not counted.
	Failed int
	// Solutions counts trials which met the difficulty.
	Solutions int
}

// A liveAttempt is an attempt along with its transport.
type liveAttempt struct {
	*attempt
	cancel context.CancelFunc
	conn   transport.StreamConn // nil until connected
}

// A Pool keeps a fixed number of attempts in flight against a single server. All attempt state is
// owned by a single event loop; per-attempt goroutines only perform socket I/O.
type Pool struct {
	cfg       Config
	committer *pow.Committer
	metrics   *metrics

	events    chan event
	respawn   chan struct{}
	solutions chan *pow.Solution

	// Owned by the event loop.
	attempts map[uint64]*liveAttempt
	nextID   uint64

	running                                 int32
	live, opened, completed, failed, solved int64
}

// NewPool validates cfg and creates a pool. Nothing happens until Run is called.
func NewPool(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bad config: %w", err)
	}
	cfg = cfg.withDefaults()
	committer, err := pow.NewCommitter(cfg.PrevBlockHash, cfg.MerkleRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to create committer: %w", err)
	}
	// Hello construction depends only on the config, so a config which can't produce one fails here
	// rather than on every attempt.
	if _, err := tlsmsg.BuildClientHello([32]byte{}, cfg.ServerName); err != nil {
		return nil, fmt.Errorf("unable to build client hello for %v: %w", cfg.Address, err)
	}
	return &Pool{
		cfg:       cfg,
		committer: committer,
		metrics:   newMetrics(cfg.Registerer),
		events:    make(chan event),
		respawn:   make(chan struct{}),
		solutions: make(chan *pow.Solution, solutionBuffer),
		attempts:  map[uint64]*liveAttempt{},
	}, nil
}

// Run mines until ctx is done, then releases every live attempt and returns nil. An attempt which
// can't be constructed for any reason other than unavailable randomness stops the pool with an
// error. Run may only be called once.
func (p *Pool) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return errors.New("pool has already been run")
	}
	log.Debugf("Mining against %v with %d attempts at difficulty %d", p.cfg.Address, p.cfg.PoolSize, p.cfg.Difficulty)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(p.solutions)
		return p.loop(ctx)
	})
	g.Go(func() error {
		p.deliver(ctx)
		return nil
	})
	return g.Wait()
}

// Stats returns a snapshot of the pool's counters. Safe for concurrent use.
func (p *Pool) Stats() Stats {
	return Stats{
		Live:      int(atomic.LoadInt64(&p.live)),
		Opened:    int(atomic.LoadInt64(&p.opened)),
		Completed: int(atomic.LoadInt64(&p.completed)),
		Failed:    int(atomic.LoadInt64(&p.failed)),
		Solutions: int(atomic.LoadInt64(&p.solved)),
	}
}

func (p *Pool) loop(ctx context.Context) error {
	for i := 0; i < p.cfg.PoolSize; i++ {
		if err := p.open(ctx, 0); err != nil {
			p.shutdown()
			return err
		}
	}
	for {
		var err error
		select {
		case ev := <-p.events:
			err = p.onEvent(ctx, ev)
		case <-p.respawn:
			err = p.open(ctx, 0)
		case <-ctx.Done():
			p.shutdown()
			return nil
		}
		if err != nil {
			p.shutdown()
			return err
		}
	}
}

// open starts a new attempt. dialDelay postpones the dial. If randomness is unavailable, another
// try is scheduled after the retry backoff; any other construction failure is returned.
func (p *Pool) open(ctx context.Context, dialDelay time.Duration) error {
	if ctx.Err() != nil {
		return nil
	}
	id := p.nextID
	p.nextID++
	a, err := newAttempt(id, &p.cfg, p.committer)
	if err != nil {
		reason := reasonFor(err)
		atomic.AddInt64(&p.failed, 1)
		p.metrics.onConstructionFailure(reason)
		if reason != ReasonRandomness {
			return fmt.Errorf("unable to open attempt %d: %w", id, err)
		}
		log.Errorf("Unable to open attempt %d, retrying in %v: %v", id, p.cfg.RetryBackoff, err)
		time.AfterFunc(p.cfg.RetryBackoff, func() {
			select {
			case p.respawn <- struct{}{}:
			case <-ctx.Done():
			}
		})
		return nil
	}

	linkCtx, cancel := context.WithCancel(ctx)
	p.attempts[id] = &liveAttempt{attempt: a, cancel: cancel}
	atomic.AddInt64(&p.live, 1)
	atomic.AddInt64(&p.opened, 1)
	p.metrics.onOpen()
	go p.link(linkCtx, id, a.hello, dialDelay)
	return nil
}

func (p *Pool) onEvent(ctx context.Context, ev event) error {
	la, ok := p.attempts[ev.id]
	if !ok || ctx.Err() != nil {
		// Released while the event was in flight, or shutting down.
		if ev.conn != nil {
			ev.conn.Close()
		}
		return nil
	}
	var tr transition
	switch ev.kind {
	case eventConnected:
		la.conn = ev.conn
		return nil
	case eventData:
		tr = la.onReadable(ev.data, p.cfg.Difficulty)
	case eventClosed:
		tr = la.onClosed(ev.err)
	}
	return p.apply(ctx, la, tr)
}

// apply carries out a transition's effects, in order.
func (p *Pool) apply(ctx context.Context, la *liveAttempt, tr transition) error {
	if tr.from != tr.to {
		log.Tracef("Attempt %d: %v -> %v", la.id, tr.from, tr.to)
	}
	for _, e := range tr.effects {
		switch e := e.(type) {
		case trialScored:
			log.Tracef("Attempt %d trial digest %x (%d leading zero bits, need %d)",
				la.id, e.digest, pow.LeadingZeroBits(e.digest), p.cfg.Difficulty)
		case reportSolution:
			p.onSolution(e.solution)
		case release:
			if p.terminate(la, e.reason, e.err) {
				var dialDelay time.Duration
				if e.reason == ReasonDial {
					dialDelay = p.cfg.RetryBackoff
				}
				if err := p.open(ctx, dialDelay); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// terminate releases la: its state is dropped, it is forgotten by the loop, and its connection is
// closed. Returns false if la was already released.
func (p *Pool) terminate(la *liveAttempt, reason Reason, err error) bool {
	if !la.release() {
		return false
	}
	delete(p.attempts, la.id)
	la.cancel()
	if la.conn != nil {
		la.conn.Close()
	}

	elapsed := time.Since(la.opened)
	atomic.AddInt64(&p.live, -1)
	switch reason {
	case ReasonCompleted:
		atomic.AddInt64(&p.completed, 1)
	case ReasonShutdown:
	default:
		atomic.AddInt64(&p.failed, 1)
	}
	p.metrics.onRelease(reason, elapsed)
	if err != nil {
		log.Debugf("Released attempt %d (%v) after %v: %v", la.id, reason, elapsed, err)
	} else {
		log.Debugf("Released attempt %d (%v) after %v", la.id, reason, elapsed)
	}
	return true
}

func (p *Pool) onSolution(s *pow.Solution) {
	atomic.AddInt64(&p.solved, 1)
	p.metrics.solutions.Inc()
	b, err := json.Marshal(s)
	if err != nil {
		log.Errorf("Unable to encode solution with nonce %v: %v", s.Nonce, err)
	} else {
		log.Debugf("SOLUTION %s", b)
	}
	if p.cfg.Reporter == nil {
		return
	}
	select {
	case p.solutions <- s:
	default:
		log.Errorf("Reporter is backed up; dropping delivery of solution with nonce %v", s.Nonce)
	}
}

func (p *Pool) shutdown() {
	for _, la := range p.attempts {
		p.terminate(la, ReasonShutdown, nil)
	}
	log.Debugf("Stopped mining against %v", p.cfg.Address)
}

// deliver hands solutions to the reporter until the event loop exits. Deliveries outlive ctx so
// that solutions found just before shutdown are not lost.
func (p *Pool) deliver(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for s := range p.solutions {
		rctx, cancel := context.WithTimeout(ctx, reportTimeout)
		if err := p.cfg.Reporter.Report(rctx, s); err != nil {
			log.Errorf("Unable to report solution with nonce %v: %v", s.Nonce, err)
		}
		cancel()
	}
}
