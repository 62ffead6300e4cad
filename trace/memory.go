package trace

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// memoryCapacity bounds the in-memory trace history. Old traces fall off the
// front once the window is full.
const memoryCapacity = 1024

// MemoryStore keeps the most recent traces in memory. It backs local
// development and tests where no Postgres is configured.
type MemoryStore struct {
	mutex sync.RWMutex
	// Must use this to avoid flakiness in tests
	clock  clock.Clock
	traces []*RequestTrace
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStoreWithClock(clock.New())
}

func newMemoryStoreWithClock(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk}
}

func (s *MemoryStore) Insert(_ context.Context, trace *RequestTrace) error {
	stored := *trace
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.clock.Now().UTC()
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.traces = append(s.traces, &stored)
	if len(s.traces) > memoryCapacity {
		s.traces = s.traces[len(s.traces)-memoryCapacity:]
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*Summary, error) {
	filter = filter.Normalize()

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	summaries := make([]*Summary, 0, filter.Limit)
	for i := len(s.traces) - 1; i >= 0 && len(summaries) < filter.Limit; i-- {
		stored := s.traces[i]
		if filter.Tenant != "" && stored.TenantID != filter.Tenant {
			continue
		}
		summaries = append(summaries, &Summary{
			RequestID:        stored.RequestID,
			TenantID:         stored.TenantID,
			CreatedAt:        stored.CreatedAt,
			StatusCode:       stored.StatusCode,
			Model:            stored.Model,
			LatencyMs:        stored.LatencyMs,
			BackendLatencyMs: stored.BackendLatencyMs,
			QueueWaitMs:      stored.QueueWaitMs,
			RequestHash:      stored.RequestHash,
			PolicyVersion:    stored.PolicyVersion,
			CacheJSON:        stored.CacheJSON,
			PlanJSON:         stored.PlanJSON,
		})
	}
	return summaries, nil
}

func (s *MemoryStore) Get(_ context.Context, requestID string) (*RequestTrace, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for i := len(s.traces) - 1; i >= 0; i-- {
		if s.traces[i].RequestID == requestID {
			stored := *s.traces[i]
			return &stored, nil
		}
	}
	return nil, nil
}
