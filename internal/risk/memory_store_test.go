package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Muneeb-Masood/EC-ML/internal/pagination"
)

func TestMemoryStore_GetReturnsLatest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetByTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Record(ctx, &AuditRecord{ID: "v1", TransactionID: "tx-1", EvaluatedAt: base}))
	require.NoError(t, store.Record(ctx, &AuditRecord{ID: "v2", TransactionID: "tx-1", EvaluatedAt: base.Add(time.Second)}))

	got, err := store.GetByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	score := 0.4
	require.NoError(t, store.Record(ctx, &AuditRecord{ID: "v1", TransactionID: "tx-1", MLScore: &score}))

	got, err := store.GetByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	*got.MLScore = 0.99

	again, err := store.GetByTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 0.4, *again.MLScore)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)

	for _, rec := range []*AuditRecord{
		{ID: "a", TransactionID: "tx-1", UserID: "u1", EvaluatedAt: base},
		{ID: "b", TransactionID: "tx-2", UserID: "u1", EvaluatedAt: base.Add(time.Minute)},
		{ID: "c", TransactionID: "tx-3", UserID: "u1", EvaluatedAt: base.Add(time.Minute)},
		{ID: "d", TransactionID: "tx-4", UserID: "u2", EvaluatedAt: base.Add(time.Hour)},
	} {
		require.NoError(t, store.Record(ctx, rec))
	}

	ids := func(recs []*AuditRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	all, err := store.ListByUser(ctx, "u1", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	page, err := store.ListByUser(ctx, "u1", &pagination.Cursor{At: base.Add(time.Minute), ID: "c"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(page))

	limited, err := store.ListByUser(ctx, "u1", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(limited))

	none, err := store.ListByUser(ctx, "u3", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
