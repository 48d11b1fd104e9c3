// Package pow implements the proof-of-work side of the miner. Each trial commits to a locally
// chosen nonce before contacting the server (via the client random) and is then scored against the
// server's otherwise-unpredictable key exchange material.
//
// Trial format:
//
// +------------------------------------------------------------------------------+
// | client random = SHA-256(prev block hash | merkle root | nonce)                 |
// | digest        = SHA-256(server (EC)DH params | server signature | nonce)        |
// +------------------------------------------------------------------------------+
//
// A trial wins when the digest has at least Difficulty leading zero bits.
package pow

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// NonceLen is the length of a Nonce in bytes.
const NonceLen = 32

// ErrRandomnessUnavailable is wrapped by errors returned when the randomness source fails to
// produce a nonce.
var ErrRandomnessUnavailable = errors.New("randomness unavailable")

// A Nonce is chosen once per connection attempt and bound into both the client random and the
// proof-of-work digest.
type Nonce [NonceLen]byte

// NewNonce draws a fresh nonce from r. Consecutive calls never reuse output since every call
// consumes new bytes from the source.
func NewNonce(r io.Reader) (Nonce, error) {
	n := Nonce{}
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return n, fmt.Errorf("%w: failed to read %d random bytes: %v", ErrRandomnessUnavailable, NonceLen, err)
	}
	return n, nil
}

func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}
