// Package history keeps per-frame totals for trend graphs and the tabular
// history export.
package history

import "sync"

// DefaultLength is the number of frames a Ring remembers.
const DefaultLength = 512

// Ring stores one value per frame for each partition, indexed by frame
// number modulo its length.
type Ring struct {
	mu     sync.Mutex
	length int
	values [][]float64
	last   int32
}

// NewRing creates a ring for partitions partitions.
func NewRing(partitions, length int) *Ring {
	if length <= 0 {
		length = DefaultLength
	}
	r := &Ring{length: length, values: make([][]float64, partitions)}
	return r
}

// Record stores ms as partition's value for frame.
func (r *Ring) Record(partition int, frame int32, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if partition < 0 {
		return
	}
	if partition >= len(r.values) {
		r.values = append(r.values, make([][]float64, partition+1-len(r.values))...)
	}
	if r.values[partition] == nil {
		r.values[partition] = make([]float64, r.length)
	}
	r.values[partition][r.index(frame)] = ms
	r.last = frame
}

// Reset drops every partition's history and resizes the ring for
// partitions partitions.
func (r *Ring) Reset(partitions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = make([][]float64, partitions)
}

// Clear zeroes partition's history.
func (r *Ring) Clear(partition int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if partition >= 0 && partition < len(r.values) {
		r.values[partition] = nil
	}
}

// Snapshot returns partition's values oldest first, ending with the most
// recently recorded frame.
func (r *Ring) Snapshot(partition int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]float64, r.length)
	if partition < 0 || partition >= len(r.values) || r.values[partition] == nil {
		return out
	}
	v := r.values[partition]
	next := (r.index(r.last) + 1) % r.length
	n := copy(out, v[next:])
	copy(out[n:], v[:next])
	return out
}

// Len returns the ring length.
func (r *Ring) Len() int { return r.length }

func (r *Ring) index(frame int32) int {
	return int(uint32(frame) % uint32(r.length))
}
