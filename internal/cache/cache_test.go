package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/newnotes/insight/internal/log"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open("", log.NewNop())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return c
}

func TestSetAndGet(t *testing.T) {
	c := openTestCache(t)

	if err := c.SetWithTTL("k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("SetWithTTL() error: %v", err)
	}

	got, err := c.Get("k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("Get() = %q, want %q", got, "v1")
	}
}

func TestGetMiss(t *testing.T) {
	c := openTestCache(t)

	_, err := c.Get("absent")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("Get(absent) error = %v, want ErrMiss", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := openTestCache(t)

	if err := c.SetWithTTL("short", []byte("v"), 50*time.Millisecond); err != nil {
		t.Fatalf("SetWithTTL() error: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	_, err := c.Get("short")
	if !errors.Is(err, ErrMiss) {
		t.Errorf("Get(expired) error = %v, want ErrMiss", err)
	}
}

func TestDeleteByPattern(t *testing.T) {
	c := openTestCache(t)

	keys := []string{"rec:a:1", "rec:a:2", "rec:b:1"}
	for _, k := range keys {
		if err := c.SetWithTTL(k, []byte("v"), time.Minute); err != nil {
			t.Fatalf("SetWithTTL(%q) error: %v", k, err)
		}
	}

	n, err := c.DeleteByPattern("rec:a:")
	if err != nil {
		t.Fatalf("DeleteByPattern() error: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteByPattern() deleted = %d, want 2", n)
	}

	if _, err := c.Get("rec:a:1"); !errors.Is(err, ErrMiss) {
		t.Errorf("deleted key still present, err = %v", err)
	}
	if _, err := c.Get("rec:b:1"); err != nil {
		t.Errorf("unrelated key removed, err = %v", err)
	}
}

func TestDeleteByPatternEmpty(t *testing.T) {
	c := openTestCache(t)

	n, err := c.DeleteByPattern("nothing:")
	if err != nil {
		t.Fatalf("DeleteByPattern() error: %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteByPattern() deleted = %d, want 0", n)
	}
}
