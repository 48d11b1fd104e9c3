package tlsminer

import (
	"context"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"

	"github.com/getlantern/tlsminer/internal/util"
)

// Size of each link's read buffer. Comfortably holds a typical first flight.
const readBufferSize = 16 * 1024

type eventKind int

const (
	eventConnected eventKind = iota
	eventData
	eventClosed
)

// An event is posted by a link to the pool's event loop.
type event struct {
	id   uint64
	kind eventKind
	conn transport.StreamConn // eventConnected
	data []byte               // eventData; owned by the receiver
	err  error                // eventClosed
}

// link runs the transport side of one attempt: dial, send the ClientHello, then read until
// something goes wrong or ctx is cancelled. Links never touch attempt state; everything is posted
// to the event loop, in order. The connection is closed when ctx is cancelled.
func (p *Pool) link(ctx context.Context, id uint64, hello []byte, dialDelay time.Duration) {
	if dialDelay > 0 {
		timer := time.NewTimer(dialDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.IdleTimeout)
	conn, err := util.DialContext(dialCtx, p.cfg.Dialer, p.cfg.Address)
	cancel()
	if err != nil {
		p.post(ctx, event{id: id, kind: eventClosed, err: &TransportError{"dial", err}})
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if !p.post(ctx, event{id: id, kind: eventConnected, conn: conn}) {
		return
	}

	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.IdleTimeout)); err != nil {
		p.post(ctx, event{id: id, kind: eventClosed, err: &TransportError{"write", err}})
		return
	}
	if _, err := conn.Write(hello); err != nil {
		p.post(ctx, event{id: id, kind: eventClosed, err: &TransportError{"write", err}})
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout)); err != nil {
			p.post(ctx, event{id: id, kind: eventClosed, err: &TransportError{"read", err}})
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !p.post(ctx, event{id: id, kind: eventData, data: data}) {
				return
			}
		}
		if err != nil {
			p.post(ctx, event{id: id, kind: eventClosed, err: &TransportError{"read", err}})
			return
		}
	}
}

// post hands ev to the event loop. Returns false if ctx was cancelled first, in which case the
// loop has already forgotten this link's attempt.
func (p *Pool) post(ctx context.Context, ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
