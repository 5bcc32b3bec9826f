package buffer

import (
	"sync"

	"livedash/internal/interfaces"
	"livedash/internal/types"
)

// DefaultCapacity is the number of points the dashboard keeps. It is also the
// largest capacity New accepts.
const DefaultCapacity = 200

// Rolling is a fixed-capacity FIFO of data points. When full, the oldest
// point is overwritten by the newest; storage never grows past capacity.
type Rolling struct {
	mu       sync.RWMutex
	data     []types.DataPoint
	capacity int
	index    int // next write position
	size     int
	nextSeq  int64
}

var _ interfaces.Appender = (*Rolling)(nil)
var _ interfaces.PointSource = (*Rolling)(nil)

// New creates an empty buffer. Capacity outside (0, DefaultCapacity] falls
// back to DefaultCapacity.
func New(capacity int) *Rolling {
	if capacity <= 0 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Rolling{
		data:     make([]types.DataPoint, capacity),
		capacity: capacity,
	}
}

// Append assigns the next sequence number and stores the point, evicting
// the oldest entry when the buffer is full.
func (r *Rolling) Append(value float64) types.DataPoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := types.DataPoint{Sequence: r.nextSeq, Value: value}
	r.nextSeq++

	r.data[r.index] = p
	r.index = (r.index + 1) % r.capacity
	if r.size < r.capacity {
		r.size++
	}
	return p
}

// Snapshot returns a copy of the contents, oldest first.
func (r *Rolling) Snapshot() []types.DataPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.DataPoint, r.size)
	start := 0
	if r.size == r.capacity {
		start = r.index
	}
	for i := 0; i < r.size; i++ {
		out[i] = r.data[(start+i)%r.capacity]
	}
	return out
}

func (r *Rolling) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

func (r *Rolling) Capacity() int {
	return r.capacity
}
