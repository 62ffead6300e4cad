package trace

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/utils"
)

func makeTrace(requestID, tenantID string, statusCode int) *RequestTrace {
	return &RequestTrace{
		RequestID:        requestID,
		TenantID:         tenantID,
		Endpoint:         "/v1/chat/completions",
		Model:            "llama3",
		StatusCode:       statusCode,
		RequestHash:      "hash-" + requestID,
		LatencyMs:        120,
		BackendLatencyMs: utils.ToPtr(int64(80)),
		QueueWaitMs:      utils.ToPtr(int64(5)),
		PromptTokens:     utils.ToPtr(int32(10)),
		CompletionTokens: utils.ToPtr(int32(20)),
		TotalTokens:      utils.ToPtr(int32(30)),
		RequestJSON:      []byte(`{"model":"llama3"}`),
		ResponseJSON:     []byte(`{"id":"` + requestID + `"}`),
		ErrorJSON:        []byte(`null`),
		PolicyVersion:    "v1",
		PlanJSON:         []byte(`{"plan_name":"short"}`),
		DecisionJSON:     []byte(`{"bucket":"short"}`),
		CacheJSON:        []byte(`{"exact":{"enabled":true}}`),
	}
}

func TestMemoryStoreInsertAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, makeTrace("req-1", "acme", 200)))

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, 200, got.StatusCode)
	assert.Equal(t, int64(80), *got.BackendLatencyMs)
	assert.Equal(t, int32(30), *got.TotalTokens)
	assert.JSONEq(t, `{"exact":{"enabled":true}}`, string(got.CacheJSON))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.Get(context.Background(), "no-such-request")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	mockClock := clock.NewMock()
	store := newMemoryStoreWithClock(mockClock)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Insert(ctx, makeTrace(fmt.Sprintf("req-%d", i), "acme", 200)))
		mockClock.Add(time.Second)
	}

	rows, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "req-3", rows[0].RequestID)
	assert.Equal(t, "req-2", rows[1].RequestID)
	assert.Equal(t, "req-1", rows[2].RequestID)
	assert.True(t, rows[0].CreatedAt.After(rows[2].CreatedAt))
}

func TestMemoryStoreListTenantFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, makeTrace("req-1", "acme", 200)))
	require.NoError(t, store.Insert(ctx, makeTrace("req-2", "globex", 200)))
	require.NoError(t, store.Insert(ctx, makeTrace("req-3", "acme", 429)))

	rows, err := store.List(ctx, Filter{Tenant: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "req-3", rows[0].RequestID)
	assert.Equal(t, "req-1", rows[1].RequestID)
}

func TestMemoryStoreListLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Insert(ctx, makeTrace(fmt.Sprintf("req-%d", i), "acme", 200)))
	}

	rows, err := store.List(ctx, Filter{Limit: 4})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, "req-9", rows[0].RequestID)
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < memoryCapacity+5; i++ {
		require.NoError(t, store.Insert(ctx, makeTrace(fmt.Sprintf("req-%d", i), "acme", 200)))
	}

	assert.Len(t, store.traces, memoryCapacity)

	got, err := store.Get(ctx, "req-0")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Get(ctx, fmt.Sprintf("req-%d", memoryCapacity+4))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStoreInsertCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	original := makeTrace("req-1", "acme", 200)
	require.NoError(t, store.Insert(ctx, original))
	original.StatusCode = 500

	got, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 200, got.StatusCode)
}

func TestFilterNormalize(t *testing.T) {
	assert.Equal(t, DefaultListLimit, Filter{}.Normalize().Limit)
	assert.Equal(t, MaxListLimit, Filter{Limit: 10000}.Normalize().Limit)
	assert.Equal(t, 25, Filter{Limit: 25}.Normalize().Limit)
	assert.Equal(t, "acme", Filter{Tenant: "acme"}.Normalize().Tenant)
}
