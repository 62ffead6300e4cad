// Package vectorstore persists semantic cache entries and answers
// nearest-neighbor lookups over them. Entries live in (tenant, plan
// signature) partitions; a lookup never crosses partitions.
package vectorstore

import (
	"context"
	"time"
)

// Match is the nearest unexpired entry found by a lookup. Similarity is
// 1 minus the cosine distance to the query vector; thresholding is the
// caller's business.
type Match struct {
	ID           int64
	ResponseJSON []byte
	Similarity   float64
}

// Entry is one semantic cache record to persist.
type Entry struct {
	TenantID     string
	PlanSig      string
	RequestHash  string
	PromptText   string
	Embedding    []float32
	ResponseJSON []byte
	Ttl          time.Duration
}

// Store is the capability the semantic cache is built on. Lookup returns
// nil when the partition holds no unexpired entries.
type Store interface {
	Lookup(ctx context.Context, tenantID, planSig string, queryVec []float32) (*Match, error)
	Store(ctx context.Context, entry Entry) (int64, error)
}
