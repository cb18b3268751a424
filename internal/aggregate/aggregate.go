// Package aggregate maintains bucketed rolling statistics keyed by
// (signal type, source), feeding the pattern detector and wake engine.
package aggregate

import (
	"sync"
	"time"

	"github.com/shady2k/lifemodel/internal/signal"
)

// Trend classifies the recent direction of a bucket's value.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendVolatile   Trend = "volatile"
)

// Key identifies a bucket.
type Key struct {
	Type   signal.Type
	Source string
}

// Bucket holds the rolling aggregate for one (type, source) pair.
type Bucket struct {
	Key          Key
	Current      float64
	Min          float64
	Max          float64
	Count        int
	Avg          float64
	RateOfChange float64
	LastUpdate   time.Time
	Trend        Trend

	signals []*signal.Signal
	sum     float64
}

// Aggregator stores one Bucket per (type, source), created on first signal,
// pruned when empty and all contained signals have expired.
type Aggregator struct {
	mu      sync.Mutex
	buckets map[Key]*Bucket
}

// New constructs an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{buckets: make(map[Key]*Bucket)}
}

// AddAll inserts signals into their buckets, recomputing rolling stats.
func (a *Aggregator) AddAll(signals []*signal.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range signals {
		a.add(s)
	}
}

func (a *Aggregator) add(s *signal.Signal) {
	key := Key{Type: s.Type, Source: s.Source}
	b, ok := a.buckets[key]
	if !ok {
		b = &Bucket{Key: key, Min: s.Metrics.Value, Max: s.Metrics.Value}
		a.buckets[key] = b
	}

	prev := b.Current
	b.signals = append(b.signals, s)
	b.Count = len(b.signals)
	b.sum += s.Metrics.Value
	b.Current = s.Metrics.Value
	if s.Metrics.Value < b.Min || b.Count == 1 {
		b.Min = s.Metrics.Value
	}
	if s.Metrics.Value > b.Max || b.Count == 1 {
		b.Max = s.Metrics.Value
	}
	b.Avg = b.sum / float64(b.Count)
	b.RateOfChange = s.Metrics.Value - prev
	b.LastUpdate = s.Timestamp
	b.Trend = classifyTrend(b.RateOfChange, b.Max-b.Min)
}

func classifyTrend(rateOfChange, spread float64) Trend {
	switch {
	case spread > 0.5:
		return TrendVolatile
	case rateOfChange > 0.05:
		return TrendIncreasing
	case rateOfChange < -0.05:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// GetAllAggregates returns a snapshot slice of every current bucket.
func (a *Aggregator) GetAllAggregates() []Bucket {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Bucket, 0, len(a.buckets))
	for _, b := range a.buckets {
		out = append(out, *b)
	}
	return out
}

// Get returns the bucket for a key, if any.
func (a *Aggregator) Get(key Key) (Bucket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Prune drops expired signals from every bucket and removes buckets that end
// up empty.
func (a *Aggregator) Prune(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, b := range a.buckets {
		kept := b.signals[:0:0]
		sum := 0.0
		for _, s := range b.signals {
			if !s.Expired(now) {
				kept = append(kept, s)
				sum += s.Metrics.Value
			}
		}
		if len(kept) == 0 {
			delete(a.buckets, key)
			continue
		}
		b.signals = kept
		b.sum = sum
		b.Count = len(kept)
		b.Avg = sum / float64(b.Count)
		b.Current = kept[len(kept)-1].Metrics.Value
	}
}
