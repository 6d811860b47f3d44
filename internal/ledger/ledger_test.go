package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"haushalt/internal/core"
	"haushalt/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func boolPtr(b bool) *bool { return &b }

func newTestRepo(t *testing.T) (*Repository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.json")
	p, err := storage.NewFilePersister(path)
	if err != nil {
		t.Fatal(err)
	}
	s, err := storage.Open(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s), path
}

func mustUser(t *testing.T, r *Repository, name string) core.User {
	t.Helper()
	u, err := r.CreateUser(context.Background(), name, "hash-"+name)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return u
}

func mustLine(t *testing.T, r *Repository, userID string, in core.LineInput) core.Line {
	t.Helper()
	l, err := r.CreateLine(context.Background(), userID, in)
	if err != nil {
		t.Fatalf("CreateLine(%s): %v", in.Label, err)
	}
	return l
}

func expense(label, category, amount string) core.LineInput {
	return core.LineInput{Label: label, Type: core.Expense, Category: category, BaseAmount: dec(amount)}
}

func TestCreateUser(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	u := mustUser(t, r, "anna")
	if u.ID == "" || u.CreatedAt == 0 {
		t.Fatalf("expected id and timestamp, got %+v", u)
	}

	if _, err := r.CreateUser(ctx, "anna", "other"); !errors.Is(err, core.ErrUsernameTaken) {
		t.Errorf("duplicate username: got %v", err)
	}
	if _, err := r.CreateUser(ctx, "  ", "h"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty username: got %v", err)
	}
	if _, err := r.CreateUser(ctx, "ben", ""); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty hash: got %v", err)
	}

	got, err := r.FindUserByUsername(ctx, "anna")
	if err != nil || got.ID != u.ID {
		t.Errorf("FindUserByUsername = %+v, %v", got, err)
	}
	if _, err := r.GetUser(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUser(missing) = %v", err)
	}
}

func TestCreateLineValidation(t *testing.T) {
	r, path := newTestRepo(t)
	u := mustUser(t, r, "anna")
	before, _ := os.ReadFile(path)

	tests := []struct {
		name  string
		in    core.LineInput
		field string
	}{
		{"empty label", core.LineInput{Label: " ", Type: core.Expense, Category: "c"}, "label"},
		{"bad type", core.LineInput{Label: "x", Type: "gift", Category: "c"}, "type"},
		{"empty category", core.LineInput{Label: "x", Type: core.Income, Category: ""}, "category"},
		{"negative amount", core.LineInput{Label: "x", Type: core.Income, Category: "c", BaseAmount: dec("-1")}, "base_amount"},
		{"empty subitem label", core.LineInput{Label: "x", Type: core.Income, Category: "c",
			Subitems: []core.SubitemInput{{Label: "", Amount: dec("1")}}}, "subitems[0].label"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.CreateLine(context.Background(), u.ID, tt.in)
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("rejected input modified the document")
	}
}

func TestCreateLineForUnknownUser(t *testing.T) {
	r, _ := newTestRepo(t)
	_, err := r.CreateLine(context.Background(), "ghost", expense("Miete", "Wohnen", "800"))
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateLineWithSubitems(t *testing.T) {
	r, _ := newTestRepo(t)
	u := mustUser(t, r, "anna")
	in := expense("Einkauf", "Essen", "0")
	in.Subitems = []core.SubitemInput{
		{Label: "Markt", Amount: dec("12.345")},
		{Label: "Pfand", Amount: dec("-0.25")},
	}
	l := mustLine(t, r, u.ID, in)

	if len(l.Subitems) != 2 || l.Subitems[0].ID == "" || l.Subitems[0].ID == l.Subitems[1].ID {
		t.Fatalf("subitems not assigned distinct ids: %+v", l.Subitems)
	}
	if !l.EffectiveTotal().Equal(dec("12.10")) {
		t.Errorf("EffectiveTotal = %s, want 12.10", l.EffectiveTotal())
	}
}

func TestUpdateLine(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	in := expense("Strom", "Wohnen", "60")
	in.IsVariable = boolPtr(true)
	l := mustLine(t, r, u.ID, in)

	label := "Strom & Gas"
	amount := dec("75.5")
	updated, err := r.UpdateLine(ctx, u.ID, l.ID, core.LinePatch{
		Label:           &label,
		BaseAmount:      &amount,
		ClearIsVariable: true,
		Subitems:        &[]core.SubitemInput{{Label: "Abschlag", Amount: dec("70")}},
	})
	if err != nil {
		t.Fatalf("UpdateLine: %v", err)
	}
	if updated.Label != label || !updated.BaseAmount.Equal(amount) || updated.IsVariable != nil {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.UserID != u.ID || updated.ID != l.ID {
		t.Errorf("identity changed: %+v", updated)
	}
	if len(updated.Subitems) != 1 || updated.Subitems[0].ID == "" {
		t.Errorf("subitems not replaced: %+v", updated.Subitems)
	}

	stored, _ := r.GetLine(ctx, u.ID, l.ID)
	if stored.Label != label {
		t.Errorf("stored label = %q", stored.Label)
	}

	empty := ""
	if _, err := r.UpdateLine(ctx, u.ID, l.ID, core.LinePatch{Category: &empty}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty category patch: got %v", err)
	}
	stored, _ = r.GetLine(ctx, u.ID, l.ID)
	if stored.Category != "Wohnen" {
		t.Errorf("failed patch leaked: category = %q", stored.Category)
	}
}

func TestSubitems(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	l := mustLine(t, r, u.ID, expense("Urlaub", "Reisen", "500"))

	a, err := r.AddSubitem(ctx, u.ID, l.ID, "Hotel", dec("320"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddSubitem(ctx, u.ID, l.ID, "Zug", dec("80")); err != nil {
		t.Fatal(err)
	}
	got, _ := r.GetLine(ctx, u.ID, l.ID)
	if !got.EffectiveTotal().Equal(dec("400")) {
		t.Errorf("EffectiveTotal with subitems = %s, want 400", got.EffectiveTotal())
	}

	if err := r.RemoveSubitem(ctx, u.ID, l.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveSubitem(ctx, u.ID, l.ID, a.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("removing twice: got %v", err)
	}
	if _, err := r.AddSubitem(ctx, u.ID, "missing", "x", dec("1")); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("subitem on missing line: got %v", err)
	}
	_, err = r.AddSubitem(ctx, u.ID, l.ID, "", dec("1"))
	var ve *core.ValidationError
	if !errors.As(err, &ve) || ve.Field != "label" {
		t.Errorf("empty subitem label: got %v, want validation error on label", err)
	}
}

func TestOwnershipIsolation(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	anna := mustUser(t, r, "anna")
	ben := mustUser(t, r, "ben")
	l := mustLine(t, r, anna.ID, expense("Miete", "Wohnen", "800"))
	mustLine(t, r, ben.ID, expense("Kino", "Freizeit", "12"))

	label := "hijacked"
	checks := map[string]error{
		"get":            func() error { _, err := r.GetLine(ctx, ben.ID, l.ID); return err }(),
		"update":         func() error { _, err := r.UpdateLine(ctx, ben.ID, l.ID, core.LinePatch{Label: &label}); return err }(),
		"delete":         r.DeleteLine(ctx, ben.ID, l.ID),
		"add subitem":    func() error { _, err := r.AddSubitem(ctx, ben.ID, l.ID, "x", dec("1")); return err }(),
		"remove subitem": r.RemoveSubitem(ctx, ben.ID, l.ID, "any"),
		"update with invalid subitems": func() error {
			subs := []core.SubitemInput{{Label: "", Amount: dec("1")}}
			_, err := r.UpdateLine(ctx, ben.ID, l.ID, core.LinePatch{Subitems: &subs})
			return err
		}(),
		"update with blank subitem label": func() error {
			subs := []core.SubitemInput{{Label: "  ", Amount: dec("1")}}
			_, err := r.UpdateLine(ctx, ben.ID, l.ID, core.LinePatch{Subitems: &subs})
			return err
		}(),
		"add blank subitem": func() error { _, err := r.AddSubitem(ctx, ben.ID, l.ID, "  ", dec("1")); return err }(),
		"add empty subitem": func() error { _, err := r.AddSubitem(ctx, ben.ID, l.ID, "", dec("1")); return err }(),
	}
	for name, err := range checks {
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("%s on foreign line: got %v, want ErrNotFound", name, err)
		}
	}

	lines, _ := r.ListLines(ctx, ben.ID, OrderCreated)
	if len(lines) != 1 || lines[0].Label != "Kino" {
		t.Errorf("ben sees %+v", lines)
	}
	got, _ := r.GetLine(ctx, anna.ID, l.ID)
	if got.Label != "Miete" {
		t.Errorf("foreign update leaked: %q", got.Label)
	}

	n, _ := r.RenameCategory(ctx, ben.ID, "Wohnen", "Haus")
	if n != 0 {
		t.Errorf("rename touched %d foreign lines", n)
	}
	cats, _ := r.ListCategories(ctx, anna.ID)
	if len(cats) != 1 || cats[0] != "Wohnen" {
		t.Errorf("anna categories = %v", cats)
	}
}

func TestListLinesOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	mustLine(t, r, u.ID, expense("miete", "Wohnen", "800"))
	mustLine(t, r, u.ID, core.LineInput{Label: "Gehalt", Type: core.Income, Category: "Arbeit", BaseAmount: dec("2000")})
	mustLine(t, r, u.ID, expense("Brot", "essen", "3"))
	mustLine(t, r, u.ID, expense("Apfel", "Essen", "1"))

	tests := []struct {
		order Order
		want  []string
	}{
		{OrderCreated, []string{"miete", "Gehalt", "Brot", "Apfel"}},
		{OrderCategory, []string{"Apfel", "Brot", "miete", "Gehalt"}},
		{OrderLabel, []string{"Apfel", "Brot", "Gehalt", "miete"}},
	}
	for _, tt := range tests {
		lines, err := r.ListLines(ctx, u.ID, tt.order)
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, l := range lines {
			got = append(got, l.Label)
		}
		if strings.Join(got, ",") != strings.Join(tt.want, ",") {
			t.Errorf("order %q: got %v, want %v", tt.order, got, tt.want)
		}
	}

	if _, err := ParseOrder("newest"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("ParseOrder(newest) = %v", err)
	}
}

func TestRenameCategory(t *testing.T) {
	r, path := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	mustLine(t, r, u.ID, expense("a", "Essen", "1"))
	mustLine(t, r, u.ID, expense("b", "Essen", "2"))
	mustLine(t, r, u.ID, expense("c", "essen", "3"))
	mustLine(t, r, u.ID, expense("d", "Wohnen", "4"))

	n, err := r.RenameCategory(ctx, u.ID, "Essen", "Lebensmittel")
	if err != nil || n != 2 {
		t.Fatalf("RenameCategory = %d, %v; want 2", n, err)
	}
	cats, _ := r.ListCategories(ctx, u.ID)
	if strings.Join(cats, ",") != "Lebensmittel,Wohnen,essen" {
		t.Errorf("categories after rename = %v", cats)
	}

	before, _ := os.ReadFile(path)
	if n, err := r.RenameCategory(ctx, u.ID, "Wohnen", "Wohnen"); n != 0 || err != nil {
		t.Errorf("self rename = %d, %v", n, err)
	}
	if n, err := r.RenameCategory(ctx, u.ID, "Unbekannt", "X"); n != 0 || err != nil {
		t.Errorf("unused rename = %d, %v", n, err)
	}
	if _, err := r.RenameCategory(ctx, u.ID, "Wohnen", "  "); !errors.Is(err, core.ErrValidation) {
		t.Errorf("empty new name: got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("no-op renames rewrote the document")
	}
}

func TestDeleteCategory(t *testing.T) {
	r, path := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	mustLine(t, r, u.ID, expense("a", "Essen", "1"))
	mustLine(t, r, u.ID, expense("b", "Essen", "2"))
	before, _ := os.ReadFile(path)

	_, err := r.DeleteCategory(ctx, u.ID, "Essen", "")
	var inUse *core.CategoryInUseError
	if !errors.As(err, &inUse) || inUse.Lines != 2 {
		t.Fatalf("expected CategoryInUseError for 2 lines, got %v", err)
	}
	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Fatal("rejected delete modified the document")
	}

	for _, tc := range []struct{ name, target string }{
		{"Essen", "Essen"},
		{"Unbenutzt", ""},
		{"Unbenutzt", "Unbenutzt"},
		{"Unbenutzt", "Essen"},
	} {
		if n, err := r.DeleteCategory(ctx, u.ID, tc.name, tc.target); n != 0 || err != nil {
			t.Errorf("DeleteCategory(%q, %q) = %d, %v, want a no-op", tc.name, tc.target, n, err)
		}
	}
	if after, _ := os.ReadFile(path); string(before) != string(after) {
		t.Fatal("no-op deletes modified the document")
	}

	n, err := r.DeleteCategory(ctx, u.ID, "Essen", "Sonstiges")
	if err != nil || n != 2 {
		t.Fatalf("DeleteCategory = %d, %v", n, err)
	}
	cats, _ := r.ListCategories(ctx, u.ID)
	if len(cats) != 1 || cats[0] != "Sonstiges" {
		t.Errorf("categories = %v", cats)
	}
}

func TestConcurrentDeleteSerializes(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")
	l := mustLine(t, r, u.ID, expense("Miete", "Wohnen", "800"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.DeleteLine(ctx, u.ID, l.ID)
		}(i)
	}
	wg.Wait()

	ok, notFound := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, core.ErrNotFound):
			notFound++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notFound != 1 {
		t.Fatalf("got %d successes and %d not-found, want 1 and 1", ok, notFound)
	}
}

func TestConcurrentCreatesAllPersist(t *testing.T) {
	r, path := newTestRepo(t)
	ctx := context.Background()
	u := mustUser(t, r, "anna")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.CreateLine(ctx, u.ID, expense("x", "c", "1")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	lines, _ := r.ListLines(ctx, u.ID, OrderCreated)
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	data, _ := os.ReadFile(path)
	if c := strings.Count(string(data), `"label": "x"`); c != 20 {
		t.Errorf("document holds %d lines, want 20", c)
	}
}
