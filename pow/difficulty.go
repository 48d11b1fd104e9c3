package pow

import (
	"crypto/sha256"
	"math/bits"
)

// DefaultDifficulty requires the first byte of the digest to be zero.
const DefaultDifficulty Difficulty = 8

// Difficulty is the number of leading zero bits a digest needs to count as a solution. The zero
// value accepts every digest.
type Difficulty int

// SatisfiedBy reports whether digest has at least d leading zero bits.
func (d Difficulty) SatisfiedBy(digest [32]byte) bool {
	return LeadingZeroBits(digest) >= int(d)
}

// LeadingZeroBits counts the leading zero bits of digest.
func LeadingZeroBits(digest [32]byte) int {
	n := 0
	for _, b := range digest {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}
	return n
}

// Digest hashes the server's key exchange parameters, the server's signature and the nonce, in
// that order.
func Digest(params, sig []byte, n Nonce) [32]byte {
	h := sha256.New()
	h.Write(params)
	h.Write(sig)
	h.Write(n[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// SatisfiesDifficulty computes the trial digest and reports whether it meets d.
func SatisfiesDifficulty(params, sig []byte, n Nonce, d Difficulty) ([32]byte, bool) {
	digest := Digest(params, sig, n)
	return digest, d.SatisfiedBy(digest)
}
