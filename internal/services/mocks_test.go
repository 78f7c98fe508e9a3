package services

import (
	"context"
	"sync"
)

// recordingSink captures notifications for assertions. Services fire
// notifications from goroutines, so access is guarded.
type recordingSink struct {
	mu    sync.Mutex
	kinds []string
}

func (s *recordingSink) Notify(_ context.Context, _, _, _, kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, kind)
}

func (s *recordingSink) Kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.kinds))
	copy(out, s.kinds)
	return out
}

// staticSource is a LocationSource yielding a fixed set of readings.
type staticSource struct {
	readings []PositionReading
}

func (s *staticSource) Positions(ctx context.Context) (<-chan PositionReading, error) {
	out := make(chan PositionReading)
	go func() {
		defer close(out)
		for _, r := range s.readings {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
