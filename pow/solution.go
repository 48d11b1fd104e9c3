package pow

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// A Solution is a winning trial. Nonce, ServerRandom, Params and Signature are the values a third
// party needs to reproduce the digest; the remaining fields are context.
type Solution struct {
	Nonce        Nonce
	ClientRandom [32]byte
	ServerRandom [32]byte
	Params       []byte
	Signature    []byte

	Digest     [32]byte
	Difficulty Difficulty
	Server     string
	Found      time.Time
}

// Verify recomputes the digest from the solution's inputs and checks it against the recorded
// digest and difficulty.
func Verify(s *Solution) error {
	if s == nil {
		return errors.New("nil solution")
	}
	digest := Digest(s.Params, s.Signature, s.Nonce)
	if digest != s.Digest {
		return fmt.Errorf("digest mismatch: computed %x, recorded %x", digest, s.Digest)
	}
	if !s.Difficulty.SatisfiedBy(digest) {
		return fmt.Errorf("digest %x has %d leading zero bits, need %d",
			digest, LeadingZeroBits(digest), s.Difficulty)
	}
	return nil
}

// VerifyCommitment checks that the solution's client random commits to its nonce under the given
// previous block hash and merkle root.
func VerifyCommitment(s *Solution, prevHash, merkleRoot [32]byte) error {
	if DeriveClientRandom(prevHash, merkleRoot, s.Nonce) != s.ClientRandom {
		return errors.New("client random does not commit to nonce")
	}
	return nil
}

type solutionJSON struct {
	Nonce        string    `json:"nonce"`
	ClientRandom string    `json:"client_random"`
	ServerRandom string    `json:"server_random"`
	Params       string    `json:"server_dh_params"`
	Signature    string    `json:"sig"`
	Digest       string    `json:"digest"`
	Difficulty   int       `json:"difficulty"`
	Server       string    `json:"server,omitempty"`
	Found        time.Time `json:"found"`
}

// MarshalJSON encodes byte fields as hex strings.
func (s Solution) MarshalJSON() ([]byte, error) {
	return json.Marshal(solutionJSON{
		Nonce:        hex.EncodeToString(s.Nonce[:]),
		ClientRandom: hex.EncodeToString(s.ClientRandom[:]),
		ServerRandom: hex.EncodeToString(s.ServerRandom[:]),
		Params:       hex.EncodeToString(s.Params),
		Signature:    hex.EncodeToString(s.Signature),
		Digest:       hex.EncodeToString(s.Digest[:]),
		Difficulty:   int(s.Difficulty),
		Server:       s.Server,
		Found:        s.Found,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Solution) UnmarshalJSON(b []byte) error {
	var sj solutionJSON
	if err := json.Unmarshal(b, &sj); err != nil {
		return err
	}
	decoded := Solution{Difficulty: Difficulty(sj.Difficulty), Server: sj.Server, Found: sj.Found}
	fixed := []struct {
		name string
		src  string
		dst  []byte
	}{
		{"nonce", sj.Nonce, decoded.Nonce[:]},
		{"client_random", sj.ClientRandom, decoded.ClientRandom[:]},
		{"server_random", sj.ServerRandom, decoded.ServerRandom[:]},
		{"digest", sj.Digest, decoded.Digest[:]},
	}
	for _, f := range fixed {
		b, err := hex.DecodeString(f.src)
		if err != nil {
			return fmt.Errorf("failed to decode %s: %w", f.name, err)
		}
		if len(b) != len(f.dst) {
			return fmt.Errorf("expected %d bytes for %s, got %d", len(f.dst), f.name, len(b))
		}
		copy(f.dst, b)
	}
	var err error
	if decoded.Params, err = hex.DecodeString(sj.Params); err != nil {
		return fmt.Errorf("failed to decode server_dh_params: %w", err)
	}
	if decoded.Signature, err = hex.DecodeString(sj.Signature); err != nil {
		return fmt.Errorf("failed to decode sig: %w", err)
	}
	*s = decoded
	return nil
}
