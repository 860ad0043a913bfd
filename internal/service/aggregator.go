package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/egorkrivoshey335-create/bot-posts/internal/models"
)

// MediaItem is one inbound attachment observed by the aggregator.
type MediaItem struct {
	FileID       string
	FileUniqueID string
	Kind         models.MediaKind
	Caption      string
	Entities     []models.TextEntity

	// Seq orders items within an album by arrival sequence number (the
	// transport's message id), not wall-clock receipt order.
	Seq int
}

// Aggregator collapses a burst of attachments sharing a group id into one
// ordered media list. Ungrouped attachments pass through immediately.
type Aggregator struct {
	window time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	groups map[string][]MediaItem
}

func NewAggregator(window time.Duration, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		window: window,
		logger: logger,
		groups: make(map[string][]MediaItem),
	}
}

// Observe records one attachment event. For a grouped item it waits out the
// debounce window and then either finalizes the whole group (returning the
// sorted list and true) or reports that another call already did (nil,
// false). Exactly one caller per group id finalizes.
func (a *Aggregator) Observe(ctx context.Context, groupID string, item MediaItem) ([]MediaItem, bool) {
	if groupID == "" {
		return []MediaItem{item}, true
	}

	a.mu.Lock()
	a.groups[groupID] = append(a.groups[groupID], item)
	a.mu.Unlock()

	select {
	case <-time.After(a.window):
	case <-ctx.Done():
		return nil, false
	}

	// Whoever still finds the accumulator after the wait owns finalization;
	// everyone else lost it to an earlier caller.
	a.mu.Lock()
	items, ok := a.groups[groupID]
	if ok {
		delete(a.groups, groupID)
	}
	a.mu.Unlock()

	if !ok {
		return nil, false
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })

	a.logger.Debug("Media group finalized",
		zap.String("group_id", groupID),
		zap.Int("items", len(items)))
	return items, true
}
