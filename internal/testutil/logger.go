package testutil

import (
	"sync"
	"testing"
)

// SafeTestLogger allows concurrent goroutines to safely log to a testing.T instance. Logging after
// the test completes is a no-op rather than a panic.
type SafeTestLogger struct {
	sync.Mutex
	testComplete bool
	prefix       string
	t            *testing.T
}

// NewSafeLogger wraps the testing.T instance in a SafeTestLogger. Each line is prefixed with
// prefix, if set.
func NewSafeLogger(t *testing.T, prefix string) *SafeTestLogger {
	l := &SafeTestLogger{t: t, prefix: prefix}
	t.Cleanup(func() {
		l.Lock()
		l.testComplete = true
		l.Unlock()
	})
	return l
}

// Logf safely logs to the wrapped testing.T instance.
func (l *SafeTestLogger) Logf(format string, a ...interface{}) {
	l.Lock()
	defer l.Unlock()
	if l.testComplete {
		return
	}
	l.t.Helper()
	if l.prefix != "" {
		format = l.prefix + ": " + format
	}
	l.t.Logf(format, a...)
}
