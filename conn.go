package tlsminer

import (
	"fmt"
	"time"

	"github.com/getlantern/tlsminer/internal/tlsmsg"
	"github.com/getlantern/tlsminer/pow"
)

// phase of a single attempt's handshake.
type phase int

const (
	awaitingHello phase = iota
	awaitingCertificate
	awaitingKeyExchange
	completed
	failed
)

func (p phase) String() string {
	switch p {
	case awaitingHello:
		return "awaiting hello"
	case awaitingCertificate:
		return "awaiting certificate"
	case awaitingKeyExchange:
		return "awaiting key exchange"
	case completed:
		return "completed"
	case failed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p phase) terminal() bool { return p == completed || p == failed }

// expects is the handshake message type each non-terminal phase waits for.
var expects = map[phase]uint8{
	awaitingHello:       tlsmsg.TypeServerHello,
	awaitingCertificate: tlsmsg.TypeCertificate,
	awaitingKeyExchange: tlsmsg.TypeServerKeyExchange,
}

// An effect is something the pool must do as a result of a transition.
type effect interface {
	isEffect()
}

// trialScored carries the digest of every evaluated trial, winning or not.
type trialScored struct {
	digest [32]byte
}

// reportSolution asks the pool to log and deliver a winning trial.
type reportSolution struct {
	solution *pow.Solution
}

// release asks the pool to tear down the attempt and replace it.
type release struct {
	reason Reason
	err    error
}

func (trialScored) isEffect()    {}
func (reportSolution) isEffect() {}
func (release) isEffect()        {}

// A transition is the result of feeding an attempt an event. Effects are ordered.
type transition struct {
	from, to phase
	effects  []effect
}

// An attempt is one handshake, from ClientHello to ServerKeyExchange. Attempts perform no I/O and
// are only ever touched by the pool's event loop.
type attempt struct {
	id     uint64
	server string
	opened time.Time
	phase  phase

	nonce        pow.Nonce
	clientRandom [32]byte
	hello        []byte

	records    []byte // unconsumed record bytes
	handshakes []byte // unconsumed handshake payload bytes

	serverHello *tlsmsg.ServerHello
	certificate tlsmsg.Certificate
	keyExchange *tlsmsg.ServerKeyExchange

	released bool
}

// newAttempt draws a nonce from cfg.Rand and builds the ClientHello committing to it.
func newAttempt(id uint64, cfg *Config, c *pow.Committer) (*attempt, error) {
	nonce, err := pow.NewNonce(cfg.Rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	clientRandom := c.ClientRandom(nonce)
	hello, err := tlsmsg.BuildClientHello(clientRandom, cfg.ServerName)
	if err != nil {
		return nil, fmt.Errorf("failed to build client hello: %w", err)
	}
	return &attempt{
		id:           id,
		server:       cfg.Address,
		opened:       time.Now(),
		phase:        awaitingHello,
		nonce:        nonce,
		clientRandom: clientRandom,
		hello:        hello,
	}, nil
}

// onReadable consumes newly received bytes. Every complete record is processed, so a single call
// may advance through several phases. Bytes arriving after a terminal phase are ignored.
func (a *attempt) onReadable(data []byte, d pow.Difficulty) transition {
	tr := transition{from: a.phase, to: a.phase}
	if a.phase.terminal() {
		return tr
	}
	a.records = append(a.records, data...)
	for !a.phase.terminal() {
		record, n, err := tlsmsg.TryExtractRecord(a.records)
		if err == tlsmsg.ErrIncomplete {
			break
		}
		if err != nil {
			return a.fail(tr, err)
		}
		a.records = a.records[n:]
		if err := record.ExpectHandshake(); err != nil {
			return a.fail(tr, err)
		}
		a.handshakes = append(a.handshakes, record.Payload...)

		for !a.phase.terminal() {
			msgType, msg, n, err := tlsmsg.TryExtractHandshake(a.handshakes)
			if err == tlsmsg.ErrIncomplete {
				break
			}
			if err != nil {
				return a.fail(tr, err)
			}
			a.handshakes = a.handshakes[n:]
			if err := a.onMessage(msgType, msg); err != nil {
				return a.fail(tr, err)
			}
		}
	}
	tr.to = a.phase
	if a.phase == completed {
		digest, s := a.trial(d)
		tr.effects = append(tr.effects, trialScored{digest})
		if s != nil {
			tr.effects = append(tr.effects, reportSolution{s})
		}
		tr.effects = append(tr.effects, release{ReasonCompleted, nil})
	}
	return tr
}

// onClosed handles the end of the transport. err explains why; it is never nil.
func (a *attempt) onClosed(err error) transition {
	tr := transition{from: a.phase, to: a.phase}
	if a.phase.terminal() {
		return tr
	}
	return a.fail(tr, err)
}

func (a *attempt) fail(tr transition, err error) transition {
	a.phase = failed
	tr.to = failed
	tr.effects = append(tr.effects, release{reasonFor(err), err})
	return tr
}

// Decodes msg for the current phase and advances.
func (a *attempt) onMessage(msgType uint8, msg []byte) error {
	if expected := expects[a.phase]; msgType != expected {
		return &tlsmsg.DecodeError{
			Message: "handshake",
			Err:     fmt.Errorf("expected message type %d while %v, got %d", expected, a.phase, msgType),
		}
	}
	switch a.phase {
	case awaitingHello:
		sh, err := tlsmsg.DecodeServerHello(msg)
		if err != nil {
			return err
		}
		a.serverHello = sh
		a.phase = awaitingCertificate
	case awaitingCertificate:
		a.certificate = tlsmsg.DecodeCertificate(msg)
		a.phase = awaitingKeyExchange
	case awaitingKeyExchange:
		ske, err := tlsmsg.DecodeServerKeyExchange(msg, a.serverHello.CipherSuite)
		if err != nil {
			return err
		}
		a.keyExchange = ske
		a.phase = completed
	}
	return nil
}

// trial scores the completed handshake, returning its digest and, if it meets d, a solution.
func (a *attempt) trial(d pow.Difficulty) ([32]byte, *pow.Solution) {
	params, sig := a.keyExchange.Params, a.keyExchange.Signature
	digest, ok := pow.SatisfiesDifficulty(params, sig, a.nonce, d)
	if !ok {
		return digest, nil
	}
	return digest, &pow.Solution{
		Nonce:        a.nonce,
		ClientRandom: a.clientRandom,
		ServerRandom: a.serverHello.Random,
		Params:       params,
		Signature:    sig,
		Digest:       digest,
		Difficulty:   d,
		Server:       a.server,
		Found:        time.Now(),
	}
}

// release drops everything the attempt holds. Only the first call returns true.
func (a *attempt) release() bool {
	if a.released {
		return false
	}
	a.released = true
	a.hello = nil
	a.records, a.handshakes = nil, nil
	a.serverHello, a.certificate, a.keyExchange = nil, nil, nil
	return true
}
