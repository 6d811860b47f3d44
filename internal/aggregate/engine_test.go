package aggregate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"haushalt/internal/core"
	"haushalt/internal/ledger"
	"haushalt/internal/storage"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func boolPtr(b bool) *bool { return &b }

type fixture struct {
	repo   *ledger.Repository
	engine *Engine
	userID string
}

func newFixture(t *testing.T, cacheSize int) fixture {
	t.Helper()
	p, err := storage.NewFilePersister(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := storage.Open(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	repo := ledger.New(s)
	u, err := repo.CreateUser(context.Background(), "anna", "h")
	if err != nil {
		t.Fatal(err)
	}
	return fixture{repo: repo, engine: New(s, cacheSize, 0), userID: u.ID}
}

func (f fixture) add(t *testing.T, in core.LineInput) core.Line {
	t.Helper()
	l, err := f.repo.CreateLine(context.Background(), f.userID, in)
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// household: salary 1000, rent 150 (fixed), groceries 200 + 100 (variable).
func (f fixture) household(t *testing.T) {
	f.add(t, core.LineInput{Label: "Gehalt", Type: core.Income, Category: "Arbeit", BaseAmount: dec("1000")})
	f.add(t, core.LineInput{Label: "Miete", Type: core.Expense, Category: "Wohnen", BaseAmount: dec("150")})
	f.add(t, core.LineInput{Label: "Einkauf", Type: core.Expense, Category: "Essen", BaseAmount: dec("999"),
		Subitems: []core.SubitemInput{{Label: "Markt", Amount: dec("200")}, {Label: "Laden", Amount: dec("100")}}})
}

func TestSummary(t *testing.T) {
	f := newFixture(t, 16)
	f.household(t)

	s, err := f.engine.Summary(context.Background(), f.userID)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"income", s.Income, "1000"},
		{"expense", s.Expense, "450"},
		{"net", s.Net, "550"},
		{"by_category[Arbeit]", s.ByCategory["Arbeit"], "1000"},
		{"by_category[Wohnen]", s.ByCategory["Wohnen"], "-150"},
		{"by_category[Essen]", s.ByCategory["Essen"], "-300"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}

	fv, _ := f.engine.FixedVariable(context.Background(), f.userID)
	if !fv.Fixed.Equal(dec("150")) || !fv.Variable.Equal(dec("300")) {
		t.Errorf("FixedVariable = %s / %s, want 150 / 300", fv.Fixed, fv.Variable)
	}
}

func TestTotalsAreConsistent(t *testing.T) {
	f := newFixture(t, 0)
	f.household(t)
	f.add(t, core.LineInput{Label: "Erstattung", Type: core.Expense, Category: "Essen", BaseAmount: dec("0"),
		Subitems: []core.SubitemInput{{Label: "Retoure", Amount: dec("-20.5")}}})
	f.add(t, core.LineInput{Label: "Bonus", Type: core.Income, Category: "Arbeit", BaseAmount: dec("0.01")})

	d, err := f.engine.Dashboard(context.Background(), f.userID)
	if err != nil {
		t.Fatal(err)
	}

	sum := decimal.Zero
	for _, v := range d.Summary.ByCategory {
		sum = sum.Add(v)
	}
	if !sum.Equal(d.Summary.Net) {
		t.Errorf("sum of categories %s != net %s", sum, d.Summary.Net)
	}

	groupSum := decimal.Zero
	count := 0
	for _, tg := range d.Groups {
		typeSum := decimal.Zero
		for _, cg := range tg.Categories {
			lineSum := decimal.Zero
			for _, l := range cg.Lines {
				lineSum = lineSum.Add(signed(l, l.EffectiveTotal()))
				count++
			}
			if !lineSum.Equal(cg.Total) {
				t.Errorf("%s/%s total %s != lines %s", tg.Type, cg.Category, cg.Total, lineSum)
			}
			if !cg.Total.Equal(d.Summary.ByCategory[cg.Category]) && tg.Type == core.Income {
				t.Errorf("income group %s disagrees with summary", cg.Category)
			}
			typeSum = typeSum.Add(cg.Total)
		}
		if !typeSum.Equal(tg.Total) {
			t.Errorf("%s total %s != categories %s", tg.Type, tg.Total, typeSum)
		}
		groupSum = groupSum.Add(tg.Total)
	}
	if count != 5 {
		t.Errorf("groups hold %d lines, want every line exactly once (5)", count)
	}
	if !groupSum.Equal(d.Summary.Net) {
		t.Errorf("groups sum %s != net %s", groupSum, d.Summary.Net)
	}
	if !d.FixedVariable.Fixed.Add(d.FixedVariable.Variable).Equal(d.Summary.Expense) {
		t.Errorf("fixed+variable != expense")
	}
}

func TestGroupOrdering(t *testing.T) {
	lines := []core.Line{
		{ID: "1", Type: core.Expense, Category: "b", BaseAmount: dec("1")},
		{ID: "2", Type: core.Income, Category: "z", BaseAmount: dec("2")},
		{ID: "3", Type: core.Expense, Category: "a", BaseAmount: dec("3")},
		{ID: "4", Type: core.Expense, Category: "b", BaseAmount: dec("4")},
	}
	groups := Group(lines)
	if len(groups) != 2 || groups[0].Type != core.Income || groups[1].Type != core.Expense {
		t.Fatalf("unexpected type order: %+v", groups)
	}
	exp := groups[1].Categories
	if len(exp) != 2 || exp[0].Category != "a" || exp[1].Category != "b" {
		t.Fatalf("unexpected category order: %+v", exp)
	}
	if exp[1].Lines[0].ID != "1" || exp[1].Lines[1].ID != "4" {
		t.Errorf("lines not in creation order: %+v", exp[1].Lines)
	}
	if !exp[1].Total.Equal(dec("-5")) || !groups[1].Total.Equal(dec("-8")) {
		t.Errorf("expense totals = %s / %s", exp[1].Total, groups[1].Total)
	}

	if got := Group(nil); len(got) != 0 {
		t.Errorf("Group(nil) = %+v", got)
	}
}

func TestSplitFixedVariable(t *testing.T) {
	withSubs := []core.Subitem{{ID: "s", Amount: dec("10")}}
	tests := []struct {
		name     string
		line     core.Line
		variable bool
	}{
		{"explicit variable", core.Line{Type: core.Expense, BaseAmount: dec("10"), IsVariable: boolPtr(true)}, true},
		{"explicit fixed with subitems", core.Line{Type: core.Expense, Subitems: withSubs, IsVariable: boolPtr(false)}, false},
		{"unset with subitems", core.Line{Type: core.Expense, Subitems: withSubs}, true},
		{"unset without subitems", core.Line{Type: core.Expense, BaseAmount: dec("10")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if IsVariable(tt.line) != tt.variable {
				t.Fatalf("IsVariable = %v, want %v", !tt.variable, tt.variable)
			}
			fv := SplitFixedVariable([]core.Line{tt.line})
			want := fv.Fixed
			if tt.variable {
				want = fv.Variable
			}
			if !want.Equal(dec("10")) {
				t.Errorf("split = %+v", fv)
			}
		})
	}

	income := core.Line{Type: core.Income, BaseAmount: dec("99"), IsVariable: boolPtr(true)}
	if fv := SplitFixedVariable([]core.Line{income}); !fv.Variable.IsZero() || !fv.Fixed.IsZero() {
		t.Errorf("income counted in split: %+v", fv)
	}
}

func TestCachedViewsFollowCommits(t *testing.T) {
	f := newFixture(t, 16)
	ctx := context.Background()
	f.household(t)

	first, _ := f.engine.Summary(ctx, f.userID)
	again, _ := f.engine.Summary(ctx, f.userID)
	if !first.Net.Equal(again.Net) {
		t.Fatal("repeated reads disagree")
	}
	if st := f.engine.Cache().Stats(); st.Hits == 0 {
		t.Errorf("expected a cache hit, got %+v", st)
	}

	f.add(t, core.LineInput{Label: "Kino", Type: core.Expense, Category: "Freizeit", BaseAmount: dec("50")})
	after, _ := f.engine.Summary(ctx, f.userID)
	if !after.Net.Equal(dec("500")) {
		t.Errorf("net after commit = %s, want 500", after.Net)
	}
	if st := f.engine.Cache().Stats(); st.Size != 1 {
		t.Errorf("stale revisions kept: size %d", st.Size)
	}
}

func TestEmptyUser(t *testing.T) {
	f := newFixture(t, 0)
	d, err := f.engine.Dashboard(context.Background(), f.userID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Summary.Net.IsZero() || len(d.Summary.ByCategory) != 0 || len(d.Groups) != 0 {
		t.Errorf("unexpected dashboard for empty user: %+v", d)
	}
}
