package ledger

import (
	"context"
	"sort"
	"strings"

	"haushalt/internal/core"
	"haushalt/internal/storage"
)

// ListCategories returns the distinct categories of userID's lines in byte
// order. Categories have no storage of their own.
func (r *Repository) ListCategories(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})
	err := r.store.WithShared(ctx, func(doc *storage.Document) error {
		for _, l := range doc.Lines {
			if l.UserID == userID {
				seen[l.Category] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// RenameCategory moves every line of userID in category oldName to newName
// in one transaction and returns how many lines changed. Matching is exact.
func (r *Repository) RenameCategory(ctx context.Context, userID, oldName, newName string) (int, error) {
	newName = strings.TrimSpace(newName)
	if err := core.ValidateCategoryName(newName); err != nil {
		return 0, err
	}
	if oldName == newName {
		return 0, nil
	}
	return r.reassign(ctx, userID, oldName, newName)
}

// DeleteCategory removes a category by reassigning its lines to target.
// Deleting an unused category is a no-op; deleting a used one without a
// target fails with *core.CategoryInUseError and changes nothing. A target
// equal to name renames nothing and reports zero lines.
func (r *Repository) DeleteCategory(ctx context.Context, userID, name, target string) (int, error) {
	target = strings.TrimSpace(target)

	moved := 0
	err := r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		used := 0
		for _, l := range doc.Lines {
			if l.UserID == userID && l.Category == name {
				used++
			}
		}
		if used == 0 {
			return storage.ErrUnchanged
		}
		if target == "" {
			return &core.CategoryInUseError{Category: name, Lines: used}
		}
		if target == name {
			return storage.ErrUnchanged
		}
		moved = moveCategory(doc, userID, name, target)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *Repository) reassign(ctx context.Context, userID, from, to string) (int, error) {
	moved := 0
	err := r.store.WithExclusive(ctx, func(doc *storage.Document) error {
		moved = moveCategory(doc, userID, from, to)
		if moved == 0 {
			return storage.ErrUnchanged
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func moveCategory(doc *storage.Document, userID, from, to string) int {
	n := 0
	for i := range doc.Lines {
		if doc.Lines[i].UserID == userID && doc.Lines[i].Category == from {
			doc.Lines[i].Category = to
			n++
		}
	}
	return n
}
