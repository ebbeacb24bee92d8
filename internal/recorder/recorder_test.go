package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rkendall/bracketbot/internal/domain"
	"github.com/rkendall/bracketbot/internal/store/memory"
)

type captureBus struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (b *captureBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads = append(b.payloads, payload)
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func TestRecordPersistsMirrorsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewActivityStore()
	bus := &captureBus{}
	rec := New(store, bus, slog.New(slog.DiscardHandler))

	rec.Record(ctx, domain.ActivityRecord{
		Timestamp: time.Now().UTC(),
		Slug:      "btc-up-1500",
		Action:    domain.ActionOpen,
		Side:      domain.SideUp,
		SizeUSDC:  30,
	})

	stored, err := store.Query(ctx, domain.ActivityFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	recent := rec.Recent(10)
	require.Len(t, recent, 1)
	assert.Equal(t, "btc-up-1500", recent[0].Slug)

	require.Len(t, bus.payloads, 1)
	var published domain.ActivityRecord
	require.NoError(t, json.Unmarshal(bus.payloads[0], &published))
	assert.Equal(t, domain.ActionOpen, published.Action)
}

func TestRecentIsBoundedAndNewestFirst(t *testing.T) {
	ctx := context.Background()
	rec := New(memory.NewActivityStore(), nil, slog.New(slog.DiscardHandler))
	rec.size = 5

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		rec.Record(ctx, domain.ActivityRecord{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Slug:      fmt.Sprintf("slug-%d", i),
			Action:    domain.ActionOpen,
		})
	}

	recent := rec.Recent(0)
	require.Len(t, recent, 5, "mirror drops the oldest entries")
	assert.Equal(t, "slug-7", recent[0].Slug)
	assert.Equal(t, "slug-3", recent[4].Slug)

	two := rec.Recent(2)
	require.Len(t, two, 2)
	assert.Equal(t, "slug-7", two[0].Slug)
}
