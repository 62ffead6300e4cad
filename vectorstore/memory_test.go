package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeEntry(t *testing.T, store *MemoryStore, tenantID, planSig string, vec []float32, response string) int64 {
	t.Helper()
	id, err := store.Store(context.Background(), Entry{
		TenantID:     tenantID,
		PlanSig:      planSig,
		RequestHash:  "hash",
		PromptText:   "prompt",
		Embedding:    vec,
		ResponseJSON: []byte(response),
		Ttl:          30 * time.Minute,
	})
	require.NoError(t, err)
	return id
}

func TestMemoryStoreLookupNearest(t *testing.T) {
	store := NewMemoryStore()

	farID := storeEntry(t, store, "default", "sig", []float32{0, 1, 0}, `{"answer":"far"}`)
	nearID := storeEntry(t, store, "default", "sig", []float32{1, 0, 0}, `{"answer":"near"}`)
	require.NotEqual(t, farID, nearID)

	match, err := store.Lookup(context.Background(), "default", "sig", []float32{0.9, 0.1, 0})
	require.NoError(t, err)
	require.NotNil(t, match)

	assert.Equal(t, nearID, match.ID)
	assert.JSONEq(t, `{"answer":"near"}`, string(match.ResponseJSON))
	assert.Greater(t, match.Similarity, 0.9)
}

func TestMemoryStoreExactVectorScoresOne(t *testing.T) {
	store := NewMemoryStore()
	vec := []float32{0.3, 0.4, 0.5}
	storeEntry(t, store, "default", "sig", vec, `{}`)

	match, err := store.Lookup(context.Background(), "default", "sig", vec)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.InDelta(t, 1.0, match.Similarity, 1e-9)
}

func TestMemoryStorePartitionIsolation(t *testing.T) {
	store := NewMemoryStore()
	vec := []float32{1, 0}
	storeEntry(t, store, "acme", "sig-a", vec, `{}`)

	t.Run("different tenant", func(t *testing.T) {
		match, err := store.Lookup(context.Background(), "globex", "sig-a", vec)
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("different plan signature", func(t *testing.T) {
		match, err := store.Lookup(context.Background(), "acme", "sig-b", vec)
		require.NoError(t, err)
		assert.Nil(t, match)
	})

	t.Run("same partition", func(t *testing.T) {
		match, err := store.Lookup(context.Background(), "acme", "sig-a", vec)
		require.NoError(t, err)
		assert.NotNil(t, match)
	})
}

func TestMemoryStoreHonorsExpiry(t *testing.T) {
	mockClock := clock.NewMock()
	store := newMemoryStoreWithClock(mockClock)

	vec := []float32{1, 0}
	_, err := store.Store(context.Background(), Entry{
		TenantID:     "default",
		PlanSig:      "sig",
		Embedding:    vec,
		ResponseJSON: []byte(`{}`),
		Ttl:          time.Minute,
	})
	require.NoError(t, err)

	match, err := store.Lookup(context.Background(), "default", "sig", vec)
	require.NoError(t, err)
	assert.NotNil(t, match)

	mockClock.Add(61 * time.Second)

	match, err = store.Lookup(context.Background(), "default", "sig", vec)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMemoryStoreEmptyPartition(t *testing.T) {
	store := NewMemoryStore()
	match, err := store.Lookup(context.Background(), "default", "sig", []float32{1})
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestMemoryStoreAssignsSequentialIDs(t *testing.T) {
	store := NewMemoryStore()

	first := storeEntry(t, store, "default", "sig", []float32{1, 0}, `{}`)
	second := storeEntry(t, store, "default", "sig", []float32{0, 1}, `{}`)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestMemoryStorePrunesExpiredOnStore(t *testing.T) {
	mockClock := clock.NewMock()
	store := newMemoryStoreWithClock(mockClock)

	_, err := store.Store(context.Background(), Entry{
		TenantID: "default", PlanSig: "sig",
		Embedding: []float32{1, 0}, ResponseJSON: []byte(`{}`),
		Ttl: time.Minute,
	})
	require.NoError(t, err)

	mockClock.Add(2 * time.Minute)

	_, err = store.Store(context.Background(), Entry{
		TenantID: "default", PlanSig: "sig",
		Embedding: []float32{0, 1}, ResponseJSON: []byte(`{}`),
		Ttl: time.Minute,
	})
	require.NoError(t, err)

	assert.Len(t, store.entries, 1)
}
