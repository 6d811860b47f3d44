package core

import "github.com/shopspring/decimal"

// Summary holds the per-user totals. Income and Expense are unsigned
// magnitudes; ByCategory is signed, income adding and expense subtracting.
type Summary struct {
	Income     decimal.Decimal            `json:"income"`
	Expense    decimal.Decimal            `json:"expense"`
	Net        decimal.Decimal            `json:"net"`
	ByCategory map[string]decimal.Decimal `json:"by_category"`
}

// CategoryGroup is one category bucket inside a type group.
type CategoryGroup struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"` // signed like Summary.ByCategory
	Lines    []Line          `json:"lines"`
}

// TypeGroup buckets a user's lines of one type by category.
type TypeGroup struct {
	Type       LineType        `json:"type"`
	Total      decimal.Decimal `json:"total"`
	Categories []CategoryGroup `json:"categories"`
}

// FixedVariable splits expense totals into fixed and variable costs, as
// unsigned magnitudes consistent with Summary.Expense.
type FixedVariable struct {
	Fixed    decimal.Decimal `json:"fixed"`
	Variable decimal.Decimal `json:"variable"`
}

// Dashboard bundles every view computed from one snapshot.
type Dashboard struct {
	Summary       Summary       `json:"summary"`
	Groups        []TypeGroup   `json:"groups"`
	FixedVariable FixedVariable `json:"fixed_variable"`
}
