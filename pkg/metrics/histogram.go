package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
)

// Quantiles reported by every HistogramSummary.
var Quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Histogram counts observations against fixed upper bounds, with one
// overflow bucket above the last bound. It is safe for concurrent use.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64 // len(bounds)+1
	n      uint64
	sum    float64
	lo, hi float64
}

// NewHistogram returns a histogram over bounds, which need not be sorted.
func NewHistogram(bounds []float64) *Histogram {
	b := slices.Clone(bounds)
	slices.Sort(b)
	return &Histogram{bounds: b, counts: make([]uint64, len(b)+1)}
}

// Observe records v. A value equal to a bound falls in that bound's bucket.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[sort.SearchFloat64s(h.bounds, v)]++
	if h.n == 0 || v < h.lo {
		h.lo = v
	}
	if h.n == 0 || v > h.hi {
		h.hi = v
	}
	h.n++
	h.sum += v
}

// Reset discards every observation.
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.counts)
	h.n, h.sum, h.lo, h.hi = 0, 0, 0, 0
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

// Mean returns the arithmetic mean, or 0 before the first observation.
func (h *Histogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return 0
	}
	return h.sum / float64(h.n)
}

// HistogramSummary is a point-in-time copy of a Histogram.
type HistogramSummary struct {
	Count       uint64              `json:"count"`
	Sum         float64             `json:"sum"`
	Min         float64             `json:"min"`
	Max         float64             `json:"max"`
	Mean        float64             `json:"mean"`
	Buckets     []BucketCount       `json:"buckets"`
	Percentiles map[float64]float64 `json:"percentiles,omitempty"`
}

// BucketCount is a cumulative count of observations at or below UpperBound.
// The last bucket of a summary has an infinite bound.
type BucketCount struct {
	UpperBound float64 `json:"le"`
	Count      uint64  `json:"count"`
}

// Summary snapshots the histogram. An empty histogram yields a zero
// summary with no buckets.
func (h *Histogram) Summary() HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n == 0 {
		return HistogramSummary{}
	}

	s := HistogramSummary{
		Count:       h.n,
		Sum:         h.sum,
		Min:         h.lo,
		Max:         h.hi,
		Mean:        h.sum / float64(h.n),
		Buckets:     make([]BucketCount, len(h.counts)),
		Percentiles: make(map[float64]float64, len(Quantiles)),
	}
	var running uint64
	for i, c := range h.counts {
		running += c
		s.Buckets[i] = BucketCount{UpperBound: h.upper(i), Count: running}
	}
	for _, q := range Quantiles {
		s.Percentiles[q] = h.quantile(q)
	}
	return s
}

func (h *Histogram) upper(i int) float64 {
	if i < len(h.bounds) {
		return h.bounds[i]
	}
	return math.Inf(1)
}

// quantile interpolates linearly inside the bucket holding rank q*n. The
// first bucket starts at the observed minimum and the overflow bucket ends
// at the observed maximum, so the estimate stays within [Min, Max].
func (h *Histogram) quantile(q float64) float64 {
	rank := q * float64(h.n)
	var below uint64
	for i, c := range h.counts {
		if c == 0 || float64(below+c) < rank {
			below += c
			continue
		}
		lower := h.lo
		if i > 0 {
			lower = math.Max(h.bounds[i-1], h.lo)
		}
		upper := math.Min(h.upper(i), h.hi)
		est := lower + (rank-float64(below))/float64(c)*(upper-lower)
		return math.Min(math.Max(est, h.lo), h.hi)
	}
	return h.hi
}
