package cache

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRU[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should be cached", k)
		}
	}
}

func TestLRUExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewLRU[string, int](10, time.Minute)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	j := NewJanitor(slog.New(slog.NewTextHandler(io.Discard, nil)), c)
	if n := j.Sweep(); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if s := c.Stats(); s.Size != 0 || s.Misses != 1 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestLRUDeleteFunc(t *testing.T) {
	type key struct {
		user string
		n    int
	}
	c := NewLRU[key, string](10, 0)
	c.Set(key{"u1", 1}, "x")
	c.Set(key{"u1", 2}, "y")
	c.Set(key{"u2", 1}, "z")

	if n := c.DeleteFunc(func(k key) bool { return k.user == "u1" }); n != 2 {
		t.Fatalf("DeleteFunc removed %d, want 2", n)
	}
	if _, ok := c.Get(key{"u2", 1}); !ok {
		t.Error("u2 entry should survive")
	}
}
