package history

import (
	"context"
	"fmt"
	"time"

	"github.com/asta/histd/internal/storage"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// IDGenerator hands out record ids of the form HIST_<unix millis>_<counter>.
// The counter lives in the KV store so ids stay unique across processes that
// share it; the timestamp alone would not.
type IDGenerator struct {
	kv    storage.KV
	clock Clock
}

// NewIDGenerator creates an IDGenerator on kv using the wall clock.
func NewIDGenerator(kv storage.KV) *IDGenerator {
	return &IDGenerator{kv: kv, clock: realClock{}}
}

// NewIDGeneratorWithClock creates an IDGenerator with a custom clock (for testing).
func NewIDGeneratorWithClock(kv storage.KV, clock Clock) *IDGenerator {
	return &IDGenerator{kv: kv, clock: clock}
}

// Next increments the shared counter and returns a fresh id.
func (g *IDGenerator) Next(ctx context.Context) (string, error) {
	n, err := g.kv.Incr(ctx, CounterKey)
	if err != nil {
		return "", fmt.Errorf("incrementing id counter: %w", err)
	}
	return fmt.Sprintf("HIST_%d_%d", g.clock.Now().UnixMilli(), n), nil
}
