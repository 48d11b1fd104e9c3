package tlsminer

import (
	"errors"
	"fmt"

	"github.com/getlantern/tlsminer/internal/tlsmsg"
	"github.com/getlantern/tlsminer/internal/util"
	"github.com/getlantern/tlsminer/pow"
)

// Reason explains why an attempt was released.
type Reason string

// Release reasons. Every reason but ReasonShutdown is followed by a replacement attempt.
const (
	ReasonCompleted  Reason = "completed"  // the key exchange arrived and a trial was evaluated
	ReasonDecode     Reason = "decode"     // the server sent something malformed or unexpected
	ReasonDial       Reason = "dial"       // the target could not be reached
	ReasonClosed     Reason = "closed"     // the connection was closed or reset
	ReasonTimeout    Reason = "timeout"    // the idle timeout expired
	ReasonTransport  Reason = "transport"  // any other network failure
	ReasonRandomness Reason = "randomness" // no nonce could be drawn
	ReasonShutdown   Reason = "shutdown"
)

// TransportError wraps errors reported by the dialer or the connection.
type TransportError struct {
	// Op is one of "dial", "write" or "read".
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// Timeout reports whether the underlying error was a timeout.
func (err *TransportError) Timeout() bool {
	return util.IsTimeout(err.Err)
}

func reasonFor(err error) Reason {
	var (
		decodeErr    *tlsmsg.DecodeError
		transportErr *TransportError
	)
	switch {
	case err == nil:
		return ReasonCompleted
	case errors.As(err, &decodeErr):
		return ReasonDecode
	case errors.Is(err, pow.ErrRandomnessUnavailable):
		return ReasonRandomness
	case errors.As(err, &transportErr) && transportErr.Op == "dial":
		return ReasonDial
	case util.IsTimeout(err):
		return ReasonTimeout
	case util.IsClosed(err):
		return ReasonClosed
	default:
		return ReasonTransport
	}
}
