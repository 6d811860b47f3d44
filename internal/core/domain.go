package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	Income  LineType = "income"
	Expense LineType = "expense"
)

func init() {
	// Persisted documents keep amounts as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type (
	LineType string

	User struct {
		ID           string `json:"id"`
		Username     string `json:"username"`
		PasswordHash string `json:"password_hash"`
		CreatedAt    int64  `json:"created_at"` // unix seconds
	}

	Subitem struct {
		ID     string          `json:"id"`
		Label  string          `json:"label"`
		Amount decimal.Decimal `json:"amount"` // negative for refunds
	}

	Line struct {
		ID         string          `json:"id"`
		UserID     string          `json:"user_id"`
		Label      string          `json:"label"`
		Type       LineType        `json:"type"`
		Category   string          `json:"category"`
		BaseAmount decimal.Decimal `json:"base_amount"`
		Subitems   []Subitem       `json:"subitems"`
		IsVariable *bool           `json:"is_variable"`
	}

	// LineInput carries the caller-supplied fields of a new line.
	LineInput struct {
		Label      string
		Type       LineType
		Category   string
		BaseAmount decimal.Decimal
		IsVariable *bool
		Subitems   []SubitemInput
	}

	SubitemInput struct {
		Label  string
		Amount decimal.Decimal
	}

	// LinePatch lists the fields to change on an existing line. Nil fields are
	// left untouched. ClearIsVariable resets the flag to unset and wins over
	// IsVariable. A non-nil Subitems replaces the whole subitem sequence.
	LinePatch struct {
		Label           *string
		Type            *LineType
		Category        *string
		BaseAmount      *decimal.Decimal
		IsVariable      *bool
		ClearIsVariable bool
		Subitems        *[]SubitemInput
	}
)

// Valid reports whether t is one of the two recognized line types.
func (t LineType) Valid() bool {
	switch t {
	case Income, Expense:
		return true
	default:
		return false
	}
}

func (t LineType) String() string {
	return string(t)
}

// EffectiveTotal is the amount a line contributes to every aggregate: the sum
// of its subitems when it has any, its base amount otherwise.
func (l Line) EffectiveTotal() decimal.Decimal {
	if len(l.Subitems) == 0 {
		return l.BaseAmount
	}
	total := decimal.Zero
	for _, s := range l.Subitems {
		total = total.Add(s.Amount)
	}
	return total
}

// Clone returns a deep copy of the line.
func (l Line) Clone() Line {
	out := l
	if l.Subitems != nil {
		out.Subitems = append(make([]Subitem, 0, len(l.Subitems)), l.Subitems...)
	}
	if l.IsVariable != nil {
		v := *l.IsVariable
		out.IsVariable = &v
	}
	return out
}

// Validate checks the fields every stored line must satisfy.
func (l Line) Validate() error {
	if err := validateLabel(l.Label); err != nil {
		return err
	}
	if !l.Type.Valid() {
		return &ValidationError{Field: "type", Err: ErrInvalidType}
	}
	if err := validateCategory(l.Category); err != nil {
		return err
	}
	if l.BaseAmount.IsNegative() {
		return &ValidationError{Field: "base_amount", Err: ErrNegativeAmount}
	}
	return nil
}

func (in LineInput) Validate() error {
	return Line{
		Label:      in.Label,
		Type:       in.Type,
		Category:   in.Category,
		BaseAmount: in.BaseAmount,
	}.Validate()
}

// Apply returns a copy of l with the patch applied. The result is not
// validated.
func (p LinePatch) Apply(l Line) Line {
	out := l.Clone()
	if p.Label != nil {
		out.Label = strings.TrimSpace(*p.Label)
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.Category != nil {
		out.Category = strings.TrimSpace(*p.Category)
	}
	if p.BaseAmount != nil {
		out.BaseAmount = *p.BaseAmount
	}
	switch {
	case p.ClearIsVariable:
		out.IsVariable = nil
	case p.IsVariable != nil:
		v := *p.IsVariable
		out.IsVariable = &v
	}
	return out
}

func (u User) Validate() error {
	if strings.TrimSpace(u.Username) == "" {
		return &ValidationError{Field: "username", Err: ErrEmptyUsername}
	}
	if u.PasswordHash == "" {
		return &ValidationError{Field: "password_hash", Err: ErrEmptyPasswordHash}
	}
	return nil
}

func validateLabel(label string) error {
	if strings.TrimSpace(label) == "" {
		return &ValidationError{Field: "label", Err: ErrEmptyLabel}
	}
	if len(label) > 200 {
		return &ValidationError{Field: "label", Err: ErrLabelTooLong}
	}
	return nil
}

func validateCategory(category string) error {
	if strings.TrimSpace(category) == "" {
		return &ValidationError{Field: "category", Err: ErrEmptyCategory}
	}
	return nil
}

// ValidateCategoryName rejects names that cannot be assigned to a line.
func ValidateCategoryName(name string) error {
	return validateCategory(name)
}
