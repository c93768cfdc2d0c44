package scanning

import (
	"github.com/zombor/card-scanner/internal/barcode"
	"github.com/zombor/card-scanner/internal/geometry"
)

// ValidationThreshold is the number of consecutive reads an aligned code
// needs to be validated. iOS detects reliably at full resolution; Android
// detects less often so it gets a lower bar.
func ValidationThreshold(platform geometry.Platform) int {
	if platform == geometry.PlatformIOS {
		return 5
	}
	return 3
}

// ReadingTracker counts consecutive identical reads of each code
type ReadingTracker struct {
	counts map[string]int
}

// NewReadingTracker creates an empty ReadingTracker
func NewReadingTracker() *ReadingTracker {
	return &ReadingTracker{counts: make(map[string]int)}
}

// Observe records a read and returns the number of consecutive reads of the
// same type and value, starting at 1. Codes without a value are not tracked.
func (t *ReadingTracker) Observe(c barcode.Code) int {
	if c.Value == "" {
		return 1
	}
	key := c.Key()
	t.counts[key]++
	return t.counts[key]
}

// Prune forgets every code whose key is not in seen
func (t *ReadingTracker) Prune(seen map[string]struct{}) {
	for key := range t.counts {
		if _, ok := seen[key]; !ok {
			delete(t.counts, key)
		}
	}
}

// Reset forgets all readings
func (t *ReadingTracker) Reset() {
	clear(t.counts)
}

// Len returns the number of codes being tracked
func (t *ReadingTracker) Len() int {
	return len(t.counts)
}
