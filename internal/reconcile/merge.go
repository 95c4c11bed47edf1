// Package reconcile converges a stored, sorted collection toward a freshly imported one using a
// two-pointer walk and per-entity write policies.
package reconcile

import (
	"context"
	"sort"
)

// Comparison classifies a stored record against an imported one.
type Comparison uint8

const (
	// Less means the stored key precedes the imported key: the stored record is extra.
	Less Comparison = iota
	// Equal means keys and every tracked payload field match.
	Equal
	// Changed means keys match but a tracked payload field differs.
	Changed
	// Greater means the stored cursor is past the imported key, or stored is exhausted: insert.
	Greater
)

func (c Comparison) String() string {
	switch c {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Changed:
		return "changed"
	case Greater:
		return "greater"
	default:
		return "unknown"
	}
}

// Classify combines a key ordering (negative, zero, positive) with a payload check.
func Classify(order int, samePayload func() bool) Comparison {
	switch {
	case order < 0:
		return Less
	case order > 0:
		return Greater
	case samePayload():
		return Equal
	default:
		return Changed
	}
}

// Policy holds the entity-specific comparator and write actions for one collection.
type Policy[T any] struct {
	// Name labels the collection in stats and metrics.
	Name    string
	Compare func(stored, imported T) Comparison
	Insert  func(ctx context.Context, imported T) error
	Update  func(ctx context.Context, stored, imported T) error
	// Extra applies the stored-only policy (soft clear, conditional delete, hard delete).
	Extra func(ctx context.Context, stored T) error
	// Unchanged is optional and runs for Equal matches.
	Unchanged func(ctx context.Context, stored, imported T) error
	// OnError is optional and receives every failed write. The merge always continues.
	OnError func(action string, err error)
}

// Stats counts the decisions made during one merge.
type Stats struct {
	Inserted  int
	Updated   int
	Unchanged int
	Extra     int
	Failed    int
}

// Writes returns the number of write decisions (everything except unchanged).
func (s Stats) Writes() int {
	return s.Inserted + s.Updated + s.Extra
}

// Merge walks imported against stored. Both slices must already be sorted by the same key that
// Compare orders on; use Prepare to get there.
func Merge[T any](ctx context.Context, imported, stored []T, p Policy[T]) Stats {
	var stats Stats
	cursor := 0

	compareAt := func(item T) Comparison {
		if cursor >= len(stored) {
			return Greater
		}
		return p.Compare(stored[cursor], item)
	}

	for _, item := range imported {
		cmp := compareAt(item)
		for cmp == Less {
			stats.Extra++
			p.run(&stats, "extra", p.extra(ctx, stored[cursor]))
			cursor++
			cmp = compareAt(item)
		}

		switch cmp {
		case Equal:
			stats.Unchanged++
			if p.Unchanged != nil {
				p.run(&stats, "unchanged", p.Unchanged(ctx, stored[cursor], item))
			}
			cursor++
		case Changed:
			stats.Updated++
			p.run(&stats, "update", p.Update(ctx, stored[cursor], item))
			cursor++
		case Greater:
			stats.Inserted++
			p.run(&stats, "insert", p.Insert(ctx, item))
		}
	}

	for ; cursor < len(stored); cursor++ {
		stats.Extra++
		p.run(&stats, "extra", p.extra(ctx, stored[cursor]))
	}

	return stats
}

func (p Policy[T]) extra(ctx context.Context, stored T) error {
	if p.Extra == nil {
		return nil
	}
	return p.Extra(ctx, stored)
}

func (p Policy[T]) run(stats *Stats, action string, err error) {
	if err == nil {
		return
	}
	stats.Failed++
	if p.OnError != nil {
		p.OnError(action, err)
	}
}

// Prepare returns a sorted copy of items with duplicate keys collapsed to the last occurrence in the
// original order. Two items share a key when neither is less than the other.
func Prepare[T any](items []T, less func(a, b T) bool) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	out := sorted[:0]
	for i := 0; i < len(sorted); i++ {
		if i+1 < len(sorted) && !less(sorted[i], sorted[i+1]) && !less(sorted[i+1], sorted[i]) {
			continue
		}
		out = append(out, sorted[i])
	}
	return out
}

// Sorted returns a sorted copy of items without de-duplication.
func Sorted[T any](items []T, less func(a, b T) bool) []T {
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}
