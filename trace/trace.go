// Package trace persists one audit record per relay request. Every outcome
// writes exactly one trace, and the stored status code always matches the
// HTTP status the caller saw.
package trace

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
)

// RequestTrace is the full audit record for a single request. Millisecond and
// token fields are pointers because most outcomes only know a subset: an
// exact cache hit has no backend latency, a rejected request has no tokens.
type RequestTrace struct {
	RequestID        string          `db:"request_id" json:"request_id"`
	TenantID         string          `db:"tenant_id" json:"tenant_id"`
	Endpoint         string          `db:"endpoint" json:"endpoint"`
	Model            string          `db:"model" json:"model"`
	StatusCode       int             `db:"status_code" json:"status_code"`
	RequestHash      string          `db:"request_hash" json:"request_hash"`
	LatencyMs        int64           `db:"latency_ms" json:"latency_ms"`
	BackendLatencyMs *int64          `db:"backend_latency_ms" json:"backend_latency_ms"`
	QueueWaitMs      *int64          `db:"queue_wait_ms" json:"queue_wait_ms"`
	BackendTtftMs    *int64          `db:"backend_ttft_ms" json:"backend_ttft_ms"`
	PromptTokens     *int32          `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens *int32          `db:"completion_tokens" json:"completion_tokens"`
	TotalTokens      *int32          `db:"total_tokens" json:"total_tokens"`
	RequestJSON      json.RawMessage `db:"request_json" json:"request_json"`
	ResponseJSON     json.RawMessage `db:"response_json" json:"response_json"`
	ErrorJSON        json.RawMessage `db:"error_json" json:"error_json"`
	PolicyVersion    string          `db:"policy_version" json:"policy_version"`
	PlanJSON         json.RawMessage `db:"plan_json" json:"plan_json"`
	DecisionJSON     json.RawMessage `db:"decision_trace_json" json:"decision_trace_json"`
	CacheJSON        json.RawMessage `db:"cache_json" json:"cache_json"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Summary is the trimmed row shown on the admin list page. It carries the
// columns an operator scans first plus the plan and cache provenance blobs.
type Summary struct {
	RequestID        string          `db:"request_id" json:"request_id"`
	TenantID         string          `db:"tenant_id" json:"tenant_id"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	StatusCode       int             `db:"status_code" json:"status_code"`
	Model            string          `db:"model" json:"model"`
	LatencyMs        int64           `db:"latency_ms" json:"latency_ms"`
	BackendLatencyMs *int64          `db:"backend_latency_ms" json:"backend_latency_ms"`
	QueueWaitMs      *int64          `db:"queue_wait_ms" json:"queue_wait_ms"`
	RequestHash      string          `db:"request_hash" json:"request_hash"`
	PolicyVersion    string          `db:"policy_version" json:"policy_version"`
	CacheJSON        json.RawMessage `db:"cache_json" json:"cache_json"`
	PlanJSON         json.RawMessage `db:"plan_json" json:"plan_json"`
}

// Filter narrows List results. A zero Limit falls back to DefaultListLimit,
// and an empty Tenant matches every tenant.
type Filter struct {
	Tenant string
	Limit  int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps the filter into the range the admin endpoints accept.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	return f
}

// Store persists and reads back request traces. Get returns nil without an
// error when no trace exists for the request id.
type Store interface {
	Insert(ctx context.Context, trace *RequestTrace) error
	List(ctx context.Context, filter Filter) ([]*Summary, error)
	Get(ctx context.Context, requestID string) (*RequestTrace, error)
}
