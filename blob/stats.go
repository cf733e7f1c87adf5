package blob

import (
	"sync"
	"time"
)

// Stats tracks block transfer durations for hung detection and reporting.
type Stats struct {
	sum            time.Duration
	bytes          int64
	finishedBlocks int64
	mu             sync.Mutex
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{}
}

// Update records a successful block transfer.
func (s *Stats) Update(d time.Duration, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sum += d
	s.bytes += size
	s.finishedBlocks++
}

// Average returns the average transfer duration of finished blocks.
func (s *Stats) Average() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finishedBlocks == 0 {
		return 0
	}
	return s.sum / time.Duration(s.finishedBlocks)
}

// FinishedCount returns the number of finished block transfers.
func (s *Stats) FinishedCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedBlocks
}

// TotalBytes returns the number of bytes transferred by finished blocks.
func (s *Stats) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
