package service

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// Group is one bucket produced by GroupBy.
type Group[K comparable, V any] struct {
	Key   K
	Value V
}

// GroupBy folds items into buckets keyed by keyFn, in first-seen key order.
// Items for which keyFn reports false are skipped.
func GroupBy[T any, K comparable, V any](
	items []T,
	keyFn func(T) (K, bool),
	zero func() V,
	reduce func(V, T) V,
) []Group[K, V] {
	index := make(map[K]int)
	groups := make([]Group[K, V], 0)
	for _, item := range items {
		key, ok := keyFn(item)
		if !ok {
			continue
		}
		pos, seen := index[key]
		if !seen {
			pos = len(groups)
			index[key] = pos
			groups = append(groups, Group[K, V]{Key: key, Value: zero()})
		}
		groups[pos].Value = reduce(groups[pos].Value, item)
	}
	return groups
}

// usage accumulates unrounded totals for one group.
type usage struct {
	cost         decimal.Decimal
	tokens       int64
	transactions int64
	users        map[string]struct{}
}

func newUsage() *usage {
	return &usage{cost: decimal.Zero, users: make(map[string]struct{})}
}

func accumulate(u *usage, f fact) *usage {
	u.cost = u.cost.Add(f.tx.CalculatedCost)
	u.tokens += f.tx.TokenCount
	u.transactions++
	if f.tx.UserID != "" {
		u.users[f.tx.UserID] = struct{}{}
	}
	return u
}

// sortByCost orders groups by cost descending, then key ascending.
func sortByCost[K cmp.Ordered](groups []Group[K, *usage]) {
	slices.SortStableFunc(groups, func(a, b Group[K, *usage]) int {
		if c := b.Value.cost.Cmp(a.Value.cost); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
}

func sortByKey[K cmp.Ordered](groups []Group[K, *usage]) {
	slices.SortStableFunc(groups, func(a, b Group[K, *usage]) int {
		return cmp.Compare(a.Key, b.Key)
	})
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
