package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
)

func TestAggregatorUngroupedPassthrough(t *testing.T) {
	a := NewAggregator(50*time.Millisecond, zap.NewNop())

	item := MediaItem{FileID: "f1", Kind: models.MediaPhoto, Seq: 10}
	items, final := a.Observe(context.Background(), "", item)
	if !final {
		t.Fatalf("ungrouped item must finalize immediately")
	}
	if len(items) != 1 || items[0].FileID != "f1" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestAggregatorSingleFinalizer(t *testing.T) {
	a := NewAggregator(50*time.Millisecond, zap.NewNop())

	const n = 5
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		finalizers int
		collected  []MediaItem
	)

	// Deliver items out of order; Seq carries the intended order.
	order := []int{3, 1, 5, 2, 4}
	for _, seq := range order {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			items, final := a.Observe(context.Background(), "group-1", MediaItem{
				FileID: fmt.Sprintf("f%d", seq),
				Kind:   models.MediaPhoto,
				Seq:    seq,
			})
			if final {
				mu.Lock()
				finalizers++
				collected = items
				mu.Unlock()
			}
		}(seq)
	}
	wg.Wait()

	if finalizers != 1 {
		t.Fatalf("expected exactly 1 finalizer, got %d", finalizers)
	}
	if len(collected) != n {
		t.Fatalf("expected %d items, got %d", n, len(collected))
	}
	for i, item := range collected {
		if item.Seq != i+1 {
			t.Fatalf("items not sorted by seq: %+v", collected)
		}
	}
}

func TestAggregatorIndependentGroups(t *testing.T) {
	a := NewAggregator(30*time.Millisecond, zap.NewNop())

	var wg sync.WaitGroup
	results := make([][]MediaItem, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			groupID := fmt.Sprintf("g%d", i)
			items, final := a.Observe(context.Background(), groupID, MediaItem{
				FileID: fmt.Sprintf("only-%d", i),
				Seq:    1,
			})
			if final {
				results[i] = items
			}
		}(i)
	}
	wg.Wait()

	for i, items := range results {
		if len(items) != 1 {
			t.Fatalf("group %d: expected 1 item, got %+v", i, items)
		}
		if items[0].FileID != fmt.Sprintf("only-%d", i) {
			t.Fatalf("group %d got another group's item: %+v", i, items)
		}
	}
}

func TestAggregatorContextCancel(t *testing.T) {
	a := NewAggregator(time.Second, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, final := a.Observe(ctx, "group-c", MediaItem{FileID: "f", Seq: 1})
	if final || items != nil {
		t.Fatalf("cancelled observe must not finalize, got %+v", items)
	}
}
