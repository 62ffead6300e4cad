package trace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const requestTracesSchema = `
CREATE TABLE IF NOT EXISTS request_traces (
	request_id          TEXT PRIMARY KEY,
	tenant_id           TEXT NOT NULL,
	endpoint            TEXT NOT NULL,
	model               TEXT NOT NULL,
	status_code         INT NOT NULL,
	request_hash        TEXT NOT NULL,
	latency_ms          BIGINT NOT NULL,
	backend_latency_ms  BIGINT,
	queue_wait_ms       BIGINT,
	backend_ttft_ms     BIGINT,
	prompt_tokens       INT,
	completion_tokens   INT,
	total_tokens        INT,
	request_json        JSONB NOT NULL,
	response_json       JSONB NOT NULL,
	error_json          JSONB NOT NULL,
	policy_version      TEXT NOT NULL,
	plan_json           JSONB NOT NULL,
	decision_trace_json JSONB NOT NULL,
	cache_json          JSONB NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS request_traces_created_idx
	ON request_traces (created_at DESC);

CREATE INDEX IF NOT EXISTS request_traces_tenant_created_idx
	ON request_traces (tenant_id, created_at DESC);
`

const insertTraceQuery = `
INSERT INTO request_traces (
  request_id, tenant_id, endpoint, model, status_code,
  request_hash, latency_ms, backend_latency_ms, queue_wait_ms, backend_ttft_ms,
  prompt_tokens, completion_tokens, total_tokens,
  request_json, response_json, error_json,
  policy_version, plan_json, decision_trace_json, cache_json
)
VALUES (
  $1, $2, $3, $4, $5,
  $6, $7, $8, $9, $10,
  $11, $12, $13,
  CAST($14 AS JSONB), CAST($15 AS JSONB), CAST($16 AS JSONB),
  $17, CAST($18 AS JSONB), CAST($19 AS JSONB), CAST($20 AS JSONB)
)`

const listTracesQuery = `
SELECT request_id, tenant_id, created_at, status_code, model,
       latency_ms, backend_latency_ms, queue_wait_ms,
       request_hash, policy_version, cache_json, plan_json
FROM request_traces
ORDER BY created_at DESC
LIMIT $1`

const listTracesByTenantQuery = `
SELECT request_id, tenant_id, created_at, status_code, model,
       latency_ms, backend_latency_ms, queue_wait_ms,
       request_hash, policy_version, cache_json, plan_json
FROM request_traces
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`

const getTraceQuery = `
SELECT request_id, tenant_id, endpoint, model, status_code,
       request_hash, latency_ms, backend_latency_ms, queue_wait_ms, backend_ttft_ms,
       prompt_tokens, completion_tokens, total_tokens,
       request_json, response_json, error_json,
       policy_version, plan_json, decision_trace_json, cache_json,
       created_at
FROM request_traces
WHERE request_id = $1
LIMIT 1`

// PostgresStore writes request traces to Postgres. JSON payloads are bound
// as text and cast server-side so the driver never sends them as bytea.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the trace table and its browse indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, requestTracesSchema); err != nil {
		return fmt.Errorf("failed to ensure request trace schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, trace *RequestTrace) error {
	_, err := s.db.ExecContext(ctx, insertTraceQuery,
		trace.RequestID,
		trace.TenantID,
		trace.Endpoint,
		trace.Model,
		trace.StatusCode,
		trace.RequestHash,
		trace.LatencyMs,
		trace.BackendLatencyMs,
		trace.QueueWaitMs,
		trace.BackendTtftMs,
		trace.PromptTokens,
		trace.CompletionTokens,
		trace.TotalTokens,
		jsonText(trace.RequestJSON),
		jsonText(trace.ResponseJSON),
		jsonText(trace.ErrorJSON),
		trace.PolicyVersion,
		jsonText(trace.PlanJSON),
		jsonText(trace.DecisionJSON),
		jsonText(trace.CacheJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trace %s: %w", trace.RequestID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*Summary, error) {
	filter = filter.Normalize()

	var (
		rows []*Summary
		err  error
	)
	if filter.Tenant == "" {
		err = s.db.SelectContext(ctx, &rows, listTracesQuery, filter.Limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, listTracesByTenantQuery, filter.Tenant, filter.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}
	return rows, nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID string) (*RequestTrace, error) {
	var row RequestTrace
	err := s.db.GetContext(ctx, &row, getTraceQuery, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trace %s: %w", requestID, err)
	}
	return &row, nil
}

// jsonText renders a raw JSON payload for a text bind parameter. Absent
// payloads become the JSON null literal so NOT NULL columns stay satisfied.
func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "null"
	}
	return string(raw)
}
