package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"haushalt/internal/core"
	"haushalt/internal/storage"
)

// Order selects how ListLines sorts its result.
type Order string

const (
	OrderCreated  Order = ""
	OrderCategory Order = "category" // type, then category, then label; case-insensitive
	OrderLabel    Order = "label"
)

// ParseOrder accepts the values of the order query parameter.
func ParseOrder(s string) (Order, error) {
	switch o := Order(strings.ToLower(strings.TrimSpace(s))); o {
	case OrderCreated, OrderCategory, OrderLabel:
		return o, nil
	case "created":
		return OrderCreated, nil
	default:
		return "", &core.ValidationError{Field: "order", Err: core.ErrUnknownOrder}
	}
}

// CreateLine stores a new line owned by userID. Initial subitems are
// optional; without them the line starts with an empty subitem list.
func (r *Repository) CreateLine(ctx context.Context, userID string, in core.LineInput) (core.Line, error) {
	line := core.Line{
		UserID:     userID,
		Label:      strings.TrimSpace(in.Label),
		Type:       in.Type,
		Category:   strings.TrimSpace(in.Category),
		BaseAmount: core.RoundAmount(in.BaseAmount),
		Subitems:   []core.Subitem{},
	}
	if in.IsVariable != nil {
		v := *in.IsVariable
		line.IsVariable = &v
	}
	if err := line.Validate(); err != nil {
		return core.Line{}, err
	}
	subitems, err := r.buildSubitems(in.Subitems)
	if err != nil {
		return core.Line{}, err
	}
	line.Subitems = subitems

	err = r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		if doc.UserIndex(userID) < 0 {
			return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
		}
		line.ID = r.newID()
		doc.Lines = append(doc.Lines, line.Clone())
		return nil
	})
	if err != nil {
		return core.Line{}, err
	}
	return line, nil
}

func (r *Repository) GetLine(ctx context.Context, userID, lineID string) (core.Line, error) {
	var line core.Line
	err := r.store.WithShared(ctx, func(doc *storage.Document) error {
		i := doc.LineIndex(userID, lineID)
		if i < 0 {
			return lineNotFound(lineID)
		}
		line = doc.Lines[i].Clone()
		return nil
	})
	return line, err
}

// UpdateLine applies patch to a line of userID. A missing line and a line
// owned by another user are both reported as not found.
func (r *Repository) UpdateLine(ctx context.Context, userID, lineID string, patch core.LinePatch) (core.Line, error) {
	if patch.BaseAmount != nil {
		rounded := core.RoundAmount(*patch.BaseAmount)
		patch.BaseAmount = &rounded
	}

	var updated core.Line
	err := r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		i := doc.LineIndex(userID, lineID)
		if i < 0 {
			return lineNotFound(lineID)
		}
		next := patch.Apply(doc.Lines[i])
		if patch.Subitems != nil {
			subs, err := r.buildSubitems(*patch.Subitems)
			if err != nil {
				return err
			}
			next.Subitems = subs
		}
		if err := next.Validate(); err != nil {
			return err
		}
		doc.Lines[i] = next
		updated = next.Clone()
		return nil
	})
	if err != nil {
		return core.Line{}, err
	}
	return updated, nil
}

// DeleteLine removes the line together with its subitems.
func (r *Repository) DeleteLine(ctx context.Context, userID, lineID string) error {
	return r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		i := doc.LineIndex(userID, lineID)
		if i < 0 {
			return lineNotFound(lineID)
		}
		doc.Lines = append(doc.Lines[:i], doc.Lines[i+1:]...)
		return nil
	})
}

// AddSubitem appends a subitem. amount may be negative for refunds.
func (r *Repository) AddSubitem(ctx context.Context, userID, lineID, label string, amount decimal.Decimal) (core.Subitem, error) {
	var sub core.Subitem
	err := r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		i := doc.LineIndex(userID, lineID)
		if i < 0 {
			return lineNotFound(lineID)
		}
		var err error
		if sub, err = r.newSubitem("", core.SubitemInput{Label: label, Amount: amount}); err != nil {
			return err
		}
		doc.Lines[i].Subitems = append(doc.Lines[i].Subitems, sub)
		return nil
	})
	if err != nil {
		return core.Subitem{}, err
	}
	return sub, nil
}

func (r *Repository) RemoveSubitem(ctx context.Context, userID, lineID, subitemID string) error {
	return r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		i := doc.LineIndex(userID, lineID)
		if i < 0 {
			return lineNotFound(lineID)
		}
		subs := doc.Lines[i].Subitems
		for j := range subs {
			if subs[j].ID == subitemID {
				doc.Lines[i].Subitems = append(subs[:j], subs[j+1:]...)
				return nil
			}
		}
		return fmt.Errorf("subitem %s of line %s: %w", subitemID, lineID, core.ErrNotFound)
	})
}

// ListLines returns copies of the lines owned by userID.
func (r *Repository) ListLines(ctx context.Context, userID string, order Order) ([]core.Line, error) {
	var lines []core.Line
	err := r.store.WithShared(ctx, func(doc *storage.Document) error {
		for _, l := range doc.LinesOf(userID) {
			lines = append(lines, l.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []core.Line{}
	}

	switch order {
	case OrderCreated:
	case OrderCategory:
		sort.SliceStable(lines, func(i, j int) bool {
			a, b := lines[i], lines[j]
			if a.Type != b.Type {
				return a.Type < b.Type
			}
			if ca, cb := strings.ToLower(a.Category), strings.ToLower(b.Category); ca != cb {
				return ca < cb
			}
			return strings.ToLower(a.Label) < strings.ToLower(b.Label)
		})
	case OrderLabel:
		sort.SliceStable(lines, func(i, j int) bool {
			return strings.ToLower(lines[i].Label) < strings.ToLower(lines[j].Label)
		})
	default:
		return nil, &core.ValidationError{Field: "order", Err: core.ErrUnknownOrder}
	}
	return lines, nil
}

// buildSubitems validates inputs and assigns fresh ids. The result is never
// nil.
func (r *Repository) buildSubitems(in []core.SubitemInput) ([]core.Subitem, error) {
	out := make([]core.Subitem, 0, len(in))
	for i, s := range in {
		sub, err := r.newSubitem(fmt.Sprintf("subitems[%d].", i), s)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// newSubitem reports label errors under prefix+"label".
func (r *Repository) newSubitem(prefix string, in core.SubitemInput) (core.Subitem, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return core.Subitem{}, &core.ValidationError{Field: prefix + "label", Err: core.ErrEmptyLabel}
	}
	if len(label) > 200 {
		return core.Subitem{}, &core.ValidationError{Field: prefix + "label", Err: core.ErrLabelTooLong}
	}
	return core.Subitem{
		ID:     r.newID(),
		Label:  label,
		Amount: core.RoundAmount(in.Amount),
	}, nil
}
