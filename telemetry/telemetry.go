// Package telemetry records per-call backend observations into a bounded
// rolling buffer. The sample stream is the raw material for the optimizer:
// the Maintenance Engine periodically reduces it to per-backend stats and
// feeds those into the routing bias.
package telemetry

import (
	"sync"
	"time"
)

// Op identifies the broker operation a sample describes.
type Op string

const (
	OpStore  Op = "store"
	OpSearch Op = "search"
	OpDelete Op = "delete"
	OpHealth Op = "health"
)

const (
	// DefaultCapacity bounds the rolling buffer; once full, the oldest
	// sample is overwritten.
	DefaultCapacity = 1000

	// DefaultWindow is how many recent samples per backend the optimizer
	// aggregates over.
	DefaultWindow = 100
)

// Sample is a single observed backend call.
type Sample struct {
	Op           Op            `json:"op"`
	Backend      string        `json:"backend"`
	Latency      time.Duration `json:"latency"`
	PayloadBytes int           `json:"payload_bytes"`
	OK           bool          `json:"ok"`
	At           time.Time     `json:"at"`
}

// BackendStats aggregates the most recent samples for one backend.
type BackendStats struct {
	Backend         string        `json:"backend"`
	Samples         int           `json:"samples"`
	Failures        int           `json:"failures"`
	SuccessRate     float64       `json:"success_rate"`
	AvgLatency      time.Duration `json:"avg_latency"`
	AvgPayloadBytes int           `json:"avg_payload_bytes"`
	LastSampleAt    time.Time     `json:"last_sample_at"`
}

// Recorder is a fixed-size ring of samples, safe for concurrent append from
// every in-flight call while the optimizer reads snapshots.
type Recorder struct {
	mu       sync.RWMutex
	samples  []Sample
	next     int
	total    uint64
	capacity int
	now      func() time.Time
}

// NewRecorder builds a recorder holding at most capacity samples.
// capacity <= 0 selects DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Record appends one sample, overwriting the oldest once the ring is full.
// A zero At is stamped with the current time.
func (r *Recorder) Record(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.At.IsZero() {
		s.At = r.now()
	}
	if len(r.samples) < r.capacity {
		r.samples = append(r.samples, s)
	} else {
		r.samples[r.next] = s
	}
	r.next = (r.next + 1) % r.capacity
	r.total++
}

// RecordCall is Record with the usual call-site shape: latency measured by
// the caller and success derived from err.
func (r *Recorder) RecordCall(op Op, backend string, latency time.Duration, payloadBytes int, err error) {
	r.Record(Sample{
		Op:           op,
		Backend:      backend,
		Latency:      latency,
		PayloadBytes: payloadBytes,
		OK:           err == nil,
	})
}

// Len reports how many samples are resident (at most the capacity).
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.samples)
}

// Total reports how many samples were ever recorded, including overwritten
// ones.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Snapshot copies the resident samples in chronological order, oldest first.
func (r *Recorder) Snapshot() []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sample, 0, len(r.samples))
	if len(r.samples) < r.capacity {
		out = append(out, r.samples...)
		return out
	}
	out = append(out, r.samples[r.next:]...)
	out = append(out, r.samples[:r.next]...)
	return out
}

// BackendStats reduces the newest window samples per backend. A backend with
// no samples in the window simply has no map entry; callers treat absence as
// "no evidence", not as failure. window <= 0 selects DefaultWindow.
func (r *Recorder) BackendStats(window int) map[string]BackendStats {
	if window <= 0 {
		window = DefaultWindow
	}
	snap := r.Snapshot()

	stats := make(map[string]BackendStats)
	counts := make(map[string]int)
	latencySums := make(map[string]time.Duration)
	payloadSums := make(map[string]int)

	// Newest first, at most window samples per backend.
	for i := len(snap) - 1; i >= 0; i-- {
		s := snap[i]
		if counts[s.Backend] >= window {
			continue
		}
		counts[s.Backend]++

		st := stats[s.Backend]
		st.Backend = s.Backend
		st.Samples++
		if !s.OK {
			st.Failures++
		}
		if s.At.After(st.LastSampleAt) {
			st.LastSampleAt = s.At
		}
		latencySums[s.Backend] += s.Latency
		payloadSums[s.Backend] += s.PayloadBytes
		stats[s.Backend] = st
	}

	for name, st := range stats {
		st.SuccessRate = float64(st.Samples-st.Failures) / float64(st.Samples)
		st.AvgLatency = latencySums[name] / time.Duration(st.Samples)
		st.AvgPayloadBytes = payloadSums[name] / st.Samples
		stats[name] = st
	}
	return stats
}
