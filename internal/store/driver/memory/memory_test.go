package memory

import (
	"context"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	c := New(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Expected v, got %q", got)
	}

	exists, err := c.Exists(ctx, "k")
	if err != nil || !exists {
		t.Errorf("Expected key to exist, got exists=%v err=%v", exists, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, err = c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after delete failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil after delete, got %q", got)
	}
}

func TestGetMissingReturnsNilNil(t *testing.T) {
	c := New(0)
	defer c.Close()

	got, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Expected no error on miss, got %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil value on miss, got %q", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, _ := c.Get(ctx, "k")
	if got == nil {
		t.Fatal("Expected value before expiry")
	}

	time.Sleep(40 * time.Millisecond)

	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after expiry failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil after TTL expiry, got %q", got)
	}
}

func TestExpireUpdatesTTL(t *testing.T) {
	c := New(0)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Expire(ctx, "k", 20*time.Millisecond); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	got, _ := c.Get(ctx, "k")
	if got != nil {
		t.Errorf("Expected nil after Expire TTL elapsed, got %q", got)
	}
}

func TestDeleteMultiple(t *testing.T) {
	c := New(0)
	defer c.Close()
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)

	if err := c.Delete(ctx, "a", "b", "ghost"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if got, _ := c.Get(ctx, k); got != nil {
			t.Errorf("Expected %s deleted, got %q", k, got)
		}
	}
}
