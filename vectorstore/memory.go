package vectorstore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/embedding"
)

type memoryEntry struct {
	id           int64
	tenantID     string
	planSig      string
	embedding    []float32
	responseJSON []byte
	expiresAt    time.Time
}

// MemoryStore is the in-process vector store used in mock/dev mode and in
// tests. Lookups scan the partition linearly; at dev-mode entry counts that
// beats maintaining any index.
type MemoryStore struct {
	mutex   sync.Mutex
	clock   clock.Clock
	nextID  int64
	entries []*memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return newMemoryStoreWithClock(clock.New())
}

func newMemoryStoreWithClock(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk}
}

func (s *MemoryStore) Lookup(ctx context.Context, tenantID, planSig string, queryVec []float32) (*Match, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	var best *memoryEntry
	bestSimilarity := 0.0

	for _, entry := range s.entries {
		if entry.tenantID != tenantID || entry.planSig != planSig {
			continue
		}
		if !entry.expiresAt.After(now) {
			continue
		}
		similarity := embedding.Cosine(queryVec, entry.embedding)
		if best == nil || similarity > bestSimilarity {
			best = entry
			bestSimilarity = similarity
		}
	}

	if best == nil {
		return nil, nil
	}
	return &Match{ID: best.id, ResponseJSON: best.responseJSON, Similarity: bestSimilarity}, nil
}

func (s *MemoryStore) Store(ctx context.Context, entry Entry) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.clock.Now()
	s.pruneExpiredLocked(now)

	s.nextID++
	stored := &memoryEntry{
		id:           s.nextID,
		tenantID:     entry.TenantID,
		planSig:      entry.PlanSig,
		embedding:    entry.Embedding,
		responseJSON: entry.ResponseJSON,
		expiresAt:    now.Add(entry.Ttl),
	}
	s.entries = append(s.entries, stored)

	return stored.id, nil
}

func (s *MemoryStore) pruneExpiredLocked(now time.Time) {
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.expiresAt.After(now) {
			kept = append(kept, entry)
		}
	}
	s.entries = kept
}
