package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/signalsfoundry/coverage-simulator/kb"
	"github.com/signalsfoundry/coverage-simulator/model"
)

func TestCoverageCacheGetPut(t *testing.T) {
	c := NewCoverageCache(0)
	if c.TTL() != defaultCoverageCacheTTL {
		t.Fatalf("TTL() = %v, want default", c.TTL())
	}
	mask := emptyCoverageMask()
	if _, ok := c.Get("T1", 1); ok {
		t.Fatalf("empty cache should miss")
	}
	c.Put("T1", 1, mask)
	got, ok := c.Get("T1", 1)
	if !ok || got != mask {
		t.Fatalf("expected hit with the stored mask")
	}
	if _, ok := c.Get("T1", 2); ok {
		t.Fatalf("fingerprint mismatch should miss")
	}
	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 2 {
		t.Fatalf("Stats() hits=%d misses=%d, want 1/2", hits, misses)
	}
	if r := c.HitRatio(); r < 0.33 || r > 0.34 {
		t.Fatalf("HitRatio() = %v", r)
	}
}

func TestCoverageCacheTTLExpiry(t *testing.T) {
	c := NewCoverageCache(time.Millisecond)
	c.Put("T1", 1, emptyCoverageMask())
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("T1", 1); ok {
		t.Fatalf("expired entry should miss")
	}
}

func TestCoverageCacheSweepsExpiredEntries(t *testing.T) {
	c := NewCoverageCache(time.Millisecond)
	for i := 0; i < 200; i++ {
		c.Put(fmt.Sprintf("T%d", i), 1, emptyCoverageMask())
	}
	time.Sleep(5 * time.Millisecond)

	c.Put("fresh", 1, emptyCoverageMask())
	if c.Len() != 1 {
		t.Fatalf("Len() = %d after sweep, want 1", c.Len())
	}
	if _, ok := c.Get("T0", 1); ok {
		t.Fatalf("swept entry should miss")
	}
}

func TestCoverageCacheExpiredLookupDropsEntry(t *testing.T) {
	c := NewCoverageCache(time.Millisecond)
	c.Put("T1", 1, emptyCoverageMask())
	time.Sleep(5 * time.Millisecond)
	c.Get("T1", 1)
	if c.Len() != 0 {
		t.Fatalf("Len() = %d, expired entry should be removed on lookup", c.Len())
	}
}

func TestCoverageCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCoverageCache(time.Minute, WithMaxEntries(2))
	c.Put("T1", 1, emptyCoverageMask())
	c.Put("T2", 1, emptyCoverageMask())
	if _, ok := c.Get("T1", 1); !ok {
		t.Fatalf("T1 should be cached")
	}
	c.Put("T3", 1, emptyCoverageMask())

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("T2", 1); ok {
		t.Fatalf("T2 was least recently used and should be evicted")
	}
	for _, id := range []string{"T1", "T3"} {
		if _, ok := c.Get(id, 1); !ok {
			t.Fatalf("%s should still be cached", id)
		}
	}
}

func TestCoverageCacheInvalidate(t *testing.T) {
	c := NewCoverageCache(time.Minute)
	c.Put("T1", 1, emptyCoverageMask())
	c.Put("T2", 1, emptyCoverageMask())
	c.Invalidate("T1")
	c.Invalidate("missing")
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Fatalf("Len() = %d after InvalidateAll", c.Len())
	}
	_, _, invalids := c.Stats()
	if invalids != 2 {
		t.Fatalf("invalids = %d, want 2", invalids)
	}
}

func TestCoverageCacheNilSafe(t *testing.T) {
	var c *CoverageCache
	c.Put("T1", 1, emptyCoverageMask())
	c.Invalidate("T1")
	c.InvalidateAll()
	if _, ok := c.Get("T1", 1); ok || c.Len() != 0 || c.HitRatio() != 0 {
		t.Fatalf("nil cache should behave as empty")
	}
}

func TestCoverageCacheWatch(t *testing.T) {
	store := kb.NewKnowledgeBase()
	c := NewCoverageCache(time.Minute)
	stop := c.Watch(store)

	tx := &model.Transmitter{ID: "T1", PowerDBm: 20, HeightM: 1.5}
	if err := store.AddTransmitter(tx); err != nil {
		t.Fatalf("AddTransmitter error: %v", err)
	}
	c.Put("T1", 1, emptyCoverageMask())
	tx.PowerDBm = 25
	if err := store.UpdateTransmitter(tx); err != nil {
		t.Fatalf("UpdateTransmitter error: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("update event should invalidate the entry")
	}

	c.Put("T1", 1, emptyCoverageMask())
	store.Clear()
	if c.Len() != 0 {
		t.Fatalf("clear event should drop every entry")
	}

	stop()
	c.Put("T2", 1, emptyCoverageMask())
	store.Clear()
	if c.Len() != 1 {
		t.Fatalf("events after stop should be ignored")
	}
}

func TestFingerprint(t *testing.T) {
	cfg := DefaultPropagationConfig()
	tx := &model.Transmitter{ID: "T1", Position: model.Position{X: 1, Y: 2}, PowerDBm: 20, HeightM: 10, OrientationDeg: 90}
	base := Fingerprint(tx, nil, cfg)

	moved := tx.Clone()
	moved.Position = model.Position{X: 99, Y: -4}
	moved.Name = "renamed"
	if Fingerprint(moved, nil, cfg) != base {
		t.Fatalf("position and name should not change the fingerprint")
	}
	if Fingerprint(tx, DefaultPattern(), cfg) != base {
		t.Fatalf("nil pattern should hash as the default pattern")
	}

	changes := map[string]func(*model.Transmitter, *PropagationConfig){
		"power":       func(t *model.Transmitter, _ *PropagationConfig) { t.PowerDBm++ },
		"height":      func(t *model.Transmitter, _ *PropagationConfig) { t.HeightM++ },
		"orientation": func(t *model.Transmitter, _ *PropagationConfig) { t.OrientationDeg++ },
		"frequency":   func(_ *model.Transmitter, c *PropagationConfig) { c.FrequencyMHz++ },
		"extent":      func(_ *model.Transmitter, c *PropagationConfig) { c.HalfExtent++ },
	}
	for name, change := range changes {
		tx2, cfg2 := tx.Clone(), cfg
		change(tx2, &cfg2)
		if Fingerprint(tx2, nil, cfg2) == base {
			t.Fatalf("%s change should alter the fingerprint", name)
		}
	}

	flat, _ := NewRadiationPattern("flat", make([]float64, PatternSize), make([]float64, PatternSize))
	if Fingerprint(tx, flat, cfg) == base {
		t.Fatalf("pattern change should alter the fingerprint")
	}
}
