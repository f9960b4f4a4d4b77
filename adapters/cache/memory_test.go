package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Skryldev/image-compositor/core"
)

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	if _, ok, err := m.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	want := &core.Fetched{Data: []byte{1, 2, 3}, ContentType: "image/png", CrossOriginAllowed: true}
	if err := m.Set(ctx, "k", want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", &core.Fetched{Data: []byte("x")})

	now = now.Add(59 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Fatal("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Fatal("entry should have expired")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry not evicted, len=%d", m.Len())
	}
}

func TestMemory_SetSweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	m := NewMemorySize(time.Hour, 0)
	m.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		_ = m.Set(ctx, fmt.Sprintf("k%d", i), &core.Fetched{Data: []byte("x")})
		now = now.Add(time.Hour)
	}
	if m.Len() != 1 {
		t.Fatalf("len = %d, want only the live entry", m.Len())
	}
	if _, ok, _ := m.Get(ctx, "k998"); ok {
		t.Error("expired entry still served")
	}
}

func TestMemory_BoundedEvictsOldest(t *testing.T) {
	ctx := context.Background()
	m := NewMemorySize(0, 3)

	for i := 0; i < 5; i++ {
		_ = m.Set(ctx, fmt.Sprintf("k%d", i), &core.Fetched{Data: []byte{byte(i)}})
	}
	if m.Len() != 3 {
		t.Fatalf("len = %d, want 3", m.Len())
	}
	for i, want := range []bool{false, false, true, true, true} {
		if _, ok, _ := m.Get(ctx, fmt.Sprintf("k%d", i)); ok != want {
			t.Errorf("k%d present = %v, want %v", i, ok, want)
		}
	}

	// Overwriting a key refreshes its position.
	_ = m.Set(ctx, "k2", &core.Fetched{})
	_ = m.Set(ctx, "k5", &core.Fetched{})
	if _, ok, _ := m.Get(ctx, "k2"); !ok {
		t.Error("refreshed key evicted")
	}
	if _, ok, _ := m.Get(ctx, "k3"); ok {
		t.Error("oldest key survived")
	}
}
