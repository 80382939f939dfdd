package score

import (
	"sync"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestNewBoard(t *testing.T) {
	b := NewBoard()
	snap := b.Snapshot()

	if snap.AI1 != 0 || snap.AI2 != 0 {
		t.Errorf("Expected 0-0 start, got %d-%d", snap.AI1, snap.AI2)
	}
	if snap.Match != 1 {
		t.Errorf("Expected match 1, got %d", snap.Match)
	}
}

func TestApplyPartial(t *testing.T) {
	b := NewBoard()

	snap := b.Apply(Update{AI1: intPtr(3)})
	if snap.AI1 != 3 || snap.AI2 != 0 || snap.Match != 1 {
		t.Errorf("Partial update touched other fields: %+v", snap)
	}

	snap = b.Apply(Update{AI2: intPtr(2), Match: intPtr(4)})
	if snap.AI1 != 3 || snap.AI2 != 2 || snap.Match != 4 {
		t.Errorf("Unexpected state after second update: %+v", snap)
	}

	// Empty update is a no-op.
	snap = b.Apply(Update{})
	if snap.AI1 != 3 || snap.AI2 != 2 || snap.Match != 4 {
		t.Errorf("Empty update changed state: %+v", snap)
	}
}

func TestConcurrentApply(t *testing.T) {
	b := NewBoard()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			b.Apply(Update{AI1: intPtr(v), AI2: intPtr(v)})
		}(i)
	}
	wg.Wait()

	snap := b.Snapshot()
	if snap.AI1 != snap.AI2 {
		t.Errorf("Torn update: ai1=%d ai2=%d", snap.AI1, snap.AI2)
	}
}
