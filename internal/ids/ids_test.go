package ids

import (
	"regexp"
	"sync"
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if a > b {
		t.Fatalf("expected monotonic ids: %s > %s", a, b)
	}
}

func TestReadableGeneratorFormat(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	gen := NewReadableGenerator("reg", WithClock(func() time.Time { return fixed }), WithSuffixLen(10))

	id, err := gen.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	pattern := regexp.MustCompile(`^REG-[0-9A-Z]+-[0-9A-Z]{10}$`)
	if !pattern.MatchString(id) {
		t.Fatalf("unexpected id format: %s", id)
	}
}

func TestReadableGeneratorIgnoresShortSuffix(t *testing.T) {
	gen := NewReadableGenerator("REG", WithSuffixLen(2))
	if gen.suffixLen != 8 {
		t.Fatalf("expected default suffix length, got %d", gen.suffixLen)
	}
}

func TestReadableGeneratorConcurrentUniqueness(t *testing.T) {
	gen := NewReadableGenerator("REG")
	const n = 10000

	var (
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := gen.Next()
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}
