package pow

import (
	"crypto/sha256"
	"encoding"
	"fmt"
	"hash"
)

// DeriveClientRandom computes the client random sent in the ClientHello. It is a commitment to
// the nonce: SHA-256 over the previous block hash, the merkle root and the nonce, in that order.
func DeriveClientRandom(prevHash, merkleRoot [32]byte, n Nonce) [32]byte {
	h := sha256.New()
	h.Write(prevHash[:])
	h.Write(merkleRoot[:])
	h.Write(n[:])

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// A Committer derives client randoms for a fixed previous block hash and merkle root. The hash
// state over those 64 bytes is computed once and restored for every nonce, so each derivation
// only hashes the nonce itself. Output is identical to DeriveClientRandom.
//
// A Committer is immutable once created and may be shared.
type Committer struct {
	state []byte
}

// NewCommitter precomputes the hash state over prevHash and merkleRoot.
func NewCommitter(prevHash, merkleRoot [32]byte) (*Committer, error) {
	h := sha256.New()
	h.Write(prevHash[:])
	h.Write(merkleRoot[:])
	state, err := h.(encoding.BinaryMarshaler).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot hash state: %w", err)
	}
	return &Committer{state}, nil
}

// ClientRandom returns the client random committing to n.
func (c *Committer) ClientRandom(n Nonce) [32]byte {
	var out [32]byte
	h := c.restore()
	h.Write(n[:])
	h.Sum(out[:0])
	return out
}

func (c *Committer) restore() hash.Hash {
	h := sha256.New()
	// The state was produced by the same implementation, so this cannot fail.
	if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(c.state); err != nil {
		panic(fmt.Sprintf("pow: failed to restore hash state: %v", err))
	}
	return h
}
