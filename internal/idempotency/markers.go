package idempotency

import (
	"context"
	"sync"
)

// State of a per-path marker.
type State string

const (
	InFlight State = "in-flight"
	Done     State = "done"
)

// Markers guards each document path against being processed twice.
// Claim is an atomic check-and-set: exactly one caller wins per key.
type Markers interface {
	Claim(ctx context.Context, key string) (bool, error)
	Done(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
	State(ctx context.Context, key string) (State, bool, error)
}

// Memory keeps markers in process memory.
type Memory struct {
	m sync.Map
}

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) Claim(_ context.Context, key string) (bool, error) {
	_, loaded := s.m.LoadOrStore(key, InFlight)
	return !loaded, nil
}

func (s *Memory) Done(_ context.Context, key string) error {
	s.m.Store(key, Done)
	return nil
}

func (s *Memory) Release(_ context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

func (s *Memory) State(_ context.Context, key string) (State, bool, error) {
	v, ok := s.m.Load(key)
	if !ok {
		return "", false, nil
	}
	return v.(State), true, nil
}

// Count returns the number of markers per state.
func (s *Memory) Count() map[State]int {
	out := map[State]int{}
	s.m.Range(func(_, v interface{}) bool {
		out[v.(State)]++
		return true
	})
	return out
}
