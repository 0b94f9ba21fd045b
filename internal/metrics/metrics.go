package metrics

import (
	"sync"
	"time"
)

// Recorder is the injected observability hook for the market services.
// It replaces ambient global counters: components receive a Recorder and
// never touch shared mutable state.
type Recorder interface {
	Inc(name string)
	Add(name string, delta int64)
	Observe(name string, d time.Duration)
}

type nopRecorder struct{}

func NewNopRecorder() Recorder { return nopRecorder{} }

func (nopRecorder) Inc(string)                    {}
func (nopRecorder) Add(string, int64)             {}
func (nopRecorder) Observe(string, time.Duration) {}

// InMemoryRecorder aggregates counters and durations behind a mutex.
// Used by tests and the /metrics-style introspection endpoint.
type InMemoryRecorder struct {
	mu        sync.Mutex
	counters  map[string]int64
	durations map[string][]time.Duration
}

func NewInMemoryRecorder() *InMemoryRecorder {
	return &InMemoryRecorder{
		counters:  make(map[string]int64),
		durations: make(map[string][]time.Duration),
	}
}

func (r *InMemoryRecorder) Inc(name string) {
	r.Add(name, 1)
}

func (r *InMemoryRecorder) Add(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

func (r *InMemoryRecorder) Observe(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[name] = append(r.durations[name], d)
}

func (r *InMemoryRecorder) Counter(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Observations returns a copy of the recorded durations for name.
func (r *InMemoryRecorder) Observations(name string) []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.durations[name]))
	copy(out, r.durations[name])
	return out
}

// Counters returns a copy of all counter values.
func (r *InMemoryRecorder) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}
