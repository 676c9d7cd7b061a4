package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// latencies is an append-only sample set in microseconds
type latencies struct {
	mu      sync.Mutex
	samples []int64
}

func (l *latencies) record(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d.Microseconds())
	l.mu.Unlock()
}

// percentiles returns p50, p90, p99 and max in microseconds
func (l *latencies) percentiles() (p50, p90, p99, max int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(l.samples))
	copy(sorted, l.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*99/100], sorted[n-1]
}

// Stats tracks benchmark statistics using atomic operations.
type Stats struct {
	publishes  uint64
	deliveries uint64
	terminals  uint64
	errors     uint64

	commit   latencies
	delivery latencies
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{}
}

// RecordPublish records a committed producer call
func (s *Stats) RecordPublish(latency time.Duration) {
	atomic.AddUint64(&s.publishes, 1)
	s.commit.record(latency)
}

// RecordDelivery records an update observed by a subscriber
func (s *Stats) RecordDelivery(latency time.Duration) {
	atomic.AddUint64(&s.deliveries, 1)
	s.delivery.record(latency)
}

// RecordTerminal records a subscriber reaching the terminal update
func (s *Stats) RecordTerminal() {
	atomic.AddUint64(&s.terminals, 1)
}

// RecordError records a failed operation.
func (s *Stats) RecordError() {
	atomic.AddUint64(&s.errors, 1)
}

// Snapshot returns a copy of current counters.
type Snapshot struct {
	Publishes  uint64
	Deliveries uint64
	Terminals  uint64
	Errors     uint64
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Publishes:  atomic.LoadUint64(&s.publishes),
		Deliveries: atomic.LoadUint64(&s.deliveries),
		Terminals:  atomic.LoadUint64(&s.terminals),
		Errors:     atomic.LoadUint64(&s.errors),
	}
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(w io.Writer, elapsed time.Duration) {
	snap := s.GetSnapshot()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Fprintf(w, "Publishes:     %d (%.2f/sec)\n", snap.Publishes, float64(snap.Publishes)/elapsed.Seconds())
	fmt.Fprintf(w, "Deliveries:    %d\n", snap.Deliveries)
	fmt.Fprintf(w, "Terminals:     %d\n", snap.Terminals)
	if snap.Errors > 0 {
		fmt.Fprintf(w, "Errors:        %d\n", snap.Errors)
	}
	fmt.Fprintln(w)

	p50, p90, p99, max := s.commit.percentiles()
	fmt.Fprintln(w, "Commit latency (microseconds):")
	fmt.Fprintf(w, "  P50: %d  P90: %d  P99: %d  Max: %d\n", p50, p90, p99, max)

	p50, p90, p99, max = s.delivery.percentiles()
	fmt.Fprintln(w, "Delivery latency (microseconds):")
	fmt.Fprintf(w, "  P50: %d  P90: %d  P99: %d  Max: %d\n", p50, p90, p99, max)
}
