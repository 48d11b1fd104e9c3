// Package report delivers mining solutions to the outside world.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getlantern/golog"
	"github.com/redis/go-redis/v9"

	"github.com/getlantern/tlsminer/pow"
)

// A Reporter is handed every solution found. Report may block; callers bound it with ctx.
type Reporter interface {
	Report(ctx context.Context, s *pow.Solution) error
}

// Func adapts a function to a Reporter.
type Func func(ctx context.Context, s *pow.Solution) error

// Report calls f.
func (f Func) Report(ctx context.Context, s *pow.Solution) error {
	return f(ctx, s)
}

// Multi reports to each of its reporters in turn. Every reporter is tried; errors are joined.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, s *pow.Solution) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each solution, as JSON, to a golog logger.
type Log struct {
	Logger golog.Logger
}

// Report implements Reporter.
func (l Log) Report(_ context.Context, s *pow.Solution) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode solution: %w", err)
	}
	l.Logger.Debugf("Solution: %s", b)
	return nil
}

// RedisClient is the subset of *redis.Client used by Redis.
type RedisClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis appends each solution, as JSON, to a list and publishes it on a channel. Either may be
// left empty to skip it.
type Redis struct {
	Client  RedisClient
	Key     string
	Channel string
}

// Report implements Reporter. Solutions which do not verify are rejected.
func (r Redis) Report(ctx context.Context, s *pow.Solution) error {
	if err := pow.Verify(s); err != nil {
		return fmt.Errorf("refusing to report invalid solution: %w", err)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode solution: %w", err)
	}
	if r.Key != "" {
		if err := r.Client.RPush(ctx, r.Key, b).Err(); err != nil {
			return fmt.Errorf("failed to append solution to %v: %w", r.Key, err)
		}
	}
	if r.Channel != "" {
		if err := r.Client.Publish(ctx, r.Channel, b).Err(); err != nil {
			return fmt.Errorf("failed to publish solution on %v: %w", r.Channel, err)
		}
	}
	return nil
}
