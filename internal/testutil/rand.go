package testutil

import (
	"errors"
	"io"
	mathRand "math/rand"
	"sync"
)

// ErrRandFailure is returned by FailingReader.
var ErrRandFailure = errors.New("randomness failure")

// SeededReader is a reproducible randomness source. Not safe for concurrent use.
func SeededReader(seed int64) io.Reader {
	return mathRand.New(mathRand.NewSource(seed))
}

// FailingReader fails its first Failures reads with ErrRandFailure, then reads from R. Safe for
// concurrent use.
type FailingReader struct {
	R        io.Reader
	Failures int

	mu    sync.Mutex
	calls int
}

func (r *FailingReader) Read(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.Failures {
		return 0, ErrRandFailure
	}
	return r.R.Read(b)
}

// Calls returns the number of calls to Read so far.
func (r *FailingReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
