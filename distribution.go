package main

import (
	"fmt"
	"math"
	"sort"
)

// HundredPercent is the total every weighted list is normalized to.
const HundredPercent = 100.0

// Bucket is an inclusive integer range [Start, End] with a weight. Weights
// in a list are relative; lists are normalized to sum to 100 on load.
type Bucket struct {
	Start  int64   `yaml:"startValue" json:"startValue"`
	End    int64   `yaml:"endValue" json:"endValue"`
	Weight float64 `yaml:"percentage" json:"percentage"`
}

func (b Bucket) Validate() error {
	if b.Start > b.End {
		return fmt.Errorf("range start %d is after end %d", b.Start, b.End)
	}
	if b.Weight < 0 || b.Weight > HundredPercent {
		return fmt.Errorf("weight %g is outside [0,100]", b.Weight)
	}
	return nil
}

// Value returns a uniform integer in [Start, End].
func (b Bucket) Value(rng Rng) int64 {
	if b.End <= b.Start {
		return b.Start
	}
	return b.Start + rng.Int63n(b.End-b.Start+1)
}

// Weighted pairs anything with a weight so the same pickers serve value
// ranges, trace types and error conditions.
type Weighted[T any] struct {
	Item   T
	Weight float64
}

// A Picker hands out items according to their weights. The second return
// value is false when there is nothing left to hand out: the list was empty,
// or an exact-mode quota has been used up.
type Picker[T any] interface {
	Next() (T, bool)
}

// NewPicker returns an exact picker when count is positive, otherwise a
// random one.
func NewPicker[T any](rng Rng, items []Weighted[T], count int) Picker[T] {
	if count > 0 {
		return NewExactPicker(rng, items, count)
	}
	return NewRandomPicker(rng, items)
}

// Normalize scales weights so they sum to 100. A list whose weights sum to
// zero is returned unchanged.
func Normalize[T any](items []Weighted[T]) []Weighted[T] {
	total := 0.0
	for _, it := range items {
		total += it.Weight
	}
	if total <= 0 || total == HundredPercent {
		return items
	}
	out := make([]Weighted[T], len(items))
	for i, it := range items {
		out[i] = Weighted[T]{Item: it.Item, Weight: it.Weight * HundredPercent / total}
	}
	return out
}

// RandomPicker draws independently on every call; it never runs out.
type RandomPicker[T any] struct {
	rng        Rng
	items      []T
	cumulative []float64
}

// make sure it implements Picker
var _ Picker[int] = (*RandomPicker[int])(nil)

func NewRandomPicker[T any](rng Rng, items []Weighted[T]) *RandomPicker[T] {
	p := &RandomPicker[T]{rng: rng}
	sum := 0.0
	for _, it := range items {
		if it.Weight <= 0 {
			continue
		}
		sum += it.Weight
		p.items = append(p.items, it.Item)
		p.cumulative = append(p.cumulative, sum)
	}
	return p
}

func (p *RandomPicker[T]) Next() (T, bool) {
	var zero T
	n := len(p.cumulative)
	if n == 0 {
		return zero, false
	}
	u := p.rng.Float64() * p.cumulative[n-1]
	// first bucket whose cumulative weight exceeds u
	i := sort.Search(n, func(i int) bool { return p.cumulative[i] > u })
	if i == n {
		i = n - 1
	}
	return p.items[i], true
}

type portion[T any] struct {
	item      T
	remaining int
}

// ExactPicker hands out exactly count items in total, split across the
// weights. Once every portion is used up Next reports false.
type ExactPicker[T any] struct {
	rng       Rng
	portions  []portion[T]
	remaining int
}

// make sure it implements Picker
var _ Picker[int] = (*ExactPicker[int])(nil)

// NewExactPicker allocates weight*count/total to each item, rounding each
// share and carrying the rounding error into the next one. The last item
// absorbs whatever is left, so the shares always add up to count.
func NewExactPicker[T any](rng Rng, items []Weighted[T], count int) *ExactPicker[T] {
	p := &ExactPicker[T]{rng: rng}
	shares := Allocate(items, count)
	for i, it := range items {
		if shares[i] > 0 {
			p.portions = append(p.portions, portion[T]{item: it.Item, remaining: shares[i]})
			p.remaining += shares[i]
		}
	}
	return p
}

// Allocate returns the exact-mode share of count for every item, in order.
func Allocate[T any](items []Weighted[T], count int) []int {
	shares := make([]int, len(items))
	total := 0.0
	for _, it := range items {
		if it.Weight > 0 {
			total += it.Weight
		}
	}
	if total <= 0 || count <= 0 {
		return shares
	}
	last := -1
	for i, it := range items {
		if it.Weight > 0 {
			last = i
		}
	}
	allocated := 0
	carry := 0.0
	for i, it := range items {
		if it.Weight <= 0 {
			continue
		}
		if i == last {
			shares[i] = count - allocated
			break
		}
		exact := it.Weight*float64(count)/total + carry
		share := int(math.Round(exact))
		if share < 0 {
			share = 0
		}
		if share > count-allocated {
			share = count - allocated
		}
		carry = exact - float64(share)
		shares[i] = share
		allocated += share
	}
	return shares
}

// Next picks among the non-empty portions, weighted by what each has left,
// which makes the full sequence a uniform shuffle of the allocation.
func (p *ExactPicker[T]) Next() (T, bool) {
	var zero T
	if p.remaining <= 0 {
		return zero, false
	}
	u := p.rng.Intn(p.remaining)
	i := 0
	for ; i < len(p.portions)-1; i++ {
		if u < p.portions[i].remaining {
			break
		}
		u -= p.portions[i].remaining
	}
	item := p.portions[i].item
	p.portions[i].remaining--
	p.remaining--
	if p.portions[i].remaining == 0 {
		p.portions = append(p.portions[:i], p.portions[i+1:]...)
	}
	return item, true
}

// Remaining is the number of draws left before the picker is exhausted.
func (p *ExactPicker[T]) Remaining() int {
	return p.remaining
}

// ValueSampler turns a bucket list into concrete integers.
type ValueSampler struct {
	rng    Rng
	picker Picker[Bucket]
}

// NewValueSampler builds a sampler over buckets; count > 0 selects exact mode.
func NewValueSampler(rng Rng, buckets []Bucket, count int) *ValueSampler {
	return &ValueSampler{rng: rng, picker: NewPicker(rng, BucketWeights(buckets), count)}
}

// Next returns a value from the chosen bucket, or false when the sampler has
// nothing left.
func (s *ValueSampler) Next() (int64, bool) {
	b, ok := s.picker.Next()
	if !ok {
		return 0, false
	}
	return b.Value(s.rng), true
}

// BucketWeights normalizes a bucket list into weighted items.
func BucketWeights(buckets []Bucket) []Weighted[Bucket] {
	items := make([]Weighted[Bucket], len(buckets))
	for i, b := range buckets {
		items[i] = Weighted[Bucket]{Item: b, Weight: b.Weight}
	}
	return Normalize(items)
}

// ValidateBuckets checks every bucket of a list and reports the first bad one.
func ValidateBuckets(name string, buckets []Bucket) error {
	for i, b := range buckets {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", name, i, err)
		}
	}
	return nil
}
