package cache

import (
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c, err := New[[]string](100, time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set("best-sellers", []string{"p1", "p2"})
	got, ok := c.Get("best-sellers")
	if !ok || len(got) != 2 || got[0] != "p1" {
		t.Fatalf("expected cached slice, got %v (ok=%v)", got, ok)
	}
	if _, ok := c.Get("new-arrivals"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestCache_Expires(t *testing.T) {
	c, err := New[int](10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set("k", 7)
	time.Sleep(60 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestCache_NilIsDisabled(t *testing.T) {
	var c *Cache[string]
	c.Set("k", "v")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("nil cache must always miss")
	}
	c.Close()
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	if _, err := New[string](0, time.Minute); err == nil {
		t.Fatalf("expected error for zero size")
	}
}
