package command

import (
	"sync"
	"testing"
)

func TestSequenceWraps(t *testing.T) {
	var seq Sequence
	for want := 1; want <= MaxMessageID; want++ {
		if got := seq.Next(); int(got) != want {
			t.Fatalf("call %d returned %d", want, got)
		}
	}
	if got := seq.Next(); got != 1 {
		t.Fatalf("call 65536 returned %d, want 1", got)
	}
	if got := seq.Next(); got != 2 {
		t.Fatalf("call 65537 returned %d, want 2", got)
	}
}

func TestSequenceConcurrentUnique(t *testing.T) {
	var seq Sequence
	const workers, perWorker = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint16]bool, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := seq.Next()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("got %d ids, want %d", len(seen), workers*perWorker)
	}
	if seen[0] {
		t.Error("id 0 must never be issued")
	}
}
