// Package aggregate computes the read-only views over a user's lines:
// totals, type and category groups, and the fixed/variable expense split.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"haushalt/internal/cache"
	"haushalt/internal/core"
	"haushalt/internal/storage"
)

type cacheKey struct {
	userID   string
	revision uint64
}

// Engine answers every view from one consistent snapshot per call. Results
// are memoized per user and store revision, so a committed change is always
// visible to the next call. Returned values are shared with the cache and
// must be treated as read-only.
type Engine struct {
	store *storage.Store
	cache *cache.LRU[cacheKey, core.Dashboard]
}

// New creates an engine. cacheSize 0 disables memoization.
func New(store *storage.Store, cacheSize int, ttl time.Duration) *Engine {
	e := &Engine{store: store}
	if cacheSize > 0 {
		e.cache = cache.NewLRU[cacheKey, core.Dashboard](cacheSize, ttl)
	}
	return e
}

// Cache exposes the memo cache for sweeping and stats. It is nil when
// memoization is disabled.
func (e *Engine) Cache() *cache.LRU[cacheKey, core.Dashboard] {
	return e.cache
}

func (e *Engine) Summary(ctx context.Context, userID string) (core.Summary, error) {
	d, err := e.Dashboard(ctx, userID)
	return d.Summary, err
}

func (e *Engine) Groups(ctx context.Context, userID string) ([]core.TypeGroup, error) {
	d, err := e.Dashboard(ctx, userID)
	return d.Groups, err
}

func (e *Engine) FixedVariable(ctx context.Context, userID string) (core.FixedVariable, error) {
	d, err := e.Dashboard(ctx, userID)
	return d.FixedVariable, err
}

// Dashboard returns all views computed from the same snapshot.
func (e *Engine) Dashboard(ctx context.Context, userID string) (core.Dashboard, error) {
	var out core.Dashboard
	err := e.store.WithShared(ctx, func(doc *storage.Document) error {
		key := cacheKey{userID: userID, revision: doc.Revision()}
		if e.cache != nil {
			if d, ok := e.cache.Get(key); ok {
				out = d
				return nil
			}
		}

		lines := doc.LinesOf(userID)
		snapshot := make([]core.Line, len(lines))
		for i, l := range lines {
			snapshot[i] = l.Clone()
		}
		out = Compute(snapshot)

		if e.cache != nil {
			e.cache.DeleteFunc(func(k cacheKey) bool {
				return k.userID == userID && k.revision < key.revision
			})
			e.cache.Set(key, out)
		}
		return nil
	})
	if err != nil {
		return core.Dashboard{}, err
	}
	return out, nil
}

// Compute derives every view from lines, which must belong to one user and
// be in creation order.
func Compute(lines []core.Line) core.Dashboard {
	return core.Dashboard{
		Summary:       Summarize(lines),
		Groups:        Group(lines),
		FixedVariable: SplitFixedVariable(lines),
	}
}

// Summarize totals income and expense as magnitudes. ByCategory is signed:
// income adds, expense subtracts.
func Summarize(lines []core.Line) core.Summary {
	s := core.Summary{
		Income:     decimal.Zero,
		Expense:    decimal.Zero,
		ByCategory: make(map[string]decimal.Decimal),
	}
	for _, l := range lines {
		total := l.EffectiveTotal()
		switch l.Type {
		case core.Income:
			s.Income = s.Income.Add(total)
		case core.Expense:
			s.Expense = s.Expense.Add(total)
		}
		s.ByCategory[l.Category] = s.ByCategory[l.Category].Add(signed(l, total))
	}
	s.Net = s.Income.Sub(s.Expense)
	return s
}

// Group buckets lines by type, income first, then by category in byte
// order. Lines keep creation order inside a category. Only non-empty
// buckets are returned.
func Group(lines []core.Line) []core.TypeGroup {
	groups := []core.TypeGroup{}
	for _, typ := range []core.LineType{core.Income, core.Expense} {
		byCategory := make(map[string]*core.CategoryGroup)
		var names []string
		for _, l := range lines {
			if l.Type != typ {
				continue
			}
			g, ok := byCategory[l.Category]
			if !ok {
				g = &core.CategoryGroup{Category: l.Category, Total: decimal.Zero}
				byCategory[l.Category] = g
				names = append(names, l.Category)
			}
			g.Lines = append(g.Lines, l)
			g.Total = g.Total.Add(signed(l, l.EffectiveTotal()))
		}
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)

		tg := core.TypeGroup{Type: typ, Total: decimal.Zero}
		for _, name := range names {
			g := byCategory[name]
			tg.Categories = append(tg.Categories, *g)
			tg.Total = tg.Total.Add(g.Total)
		}
		groups = append(groups, tg)
	}
	return groups
}

// SplitFixedVariable classifies expense lines. An explicit flag wins;
// otherwise a line with subitems counts as variable.
func SplitFixedVariable(lines []core.Line) core.FixedVariable {
	fv := core.FixedVariable{Fixed: decimal.Zero, Variable: decimal.Zero}
	for _, l := range lines {
		if l.Type != core.Expense {
			continue
		}
		if IsVariable(l) {
			fv.Variable = fv.Variable.Add(l.EffectiveTotal())
		} else {
			fv.Fixed = fv.Fixed.Add(l.EffectiveTotal())
		}
	}
	return fv
}

func IsVariable(l core.Line) bool {
	if l.IsVariable != nil {
		return *l.IsVariable
	}
	return len(l.Subitems) > 0
}

func signed(l core.Line, total decimal.Decimal) decimal.Decimal {
	if l.Type == core.Expense {
		return total.Neg()
	}
	return total
}
