package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// The embedding column is declared without a fixed dimension so the store
// works with whichever embedder the process was started with. Entries within
// one (tenant_id, plan_sig) partition always share a dimension.
const semanticCacheSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS semantic_cache_entries (
	id            BIGSERIAL PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	plan_sig      TEXT NOT NULL,
	request_hash  TEXT NOT NULL,
	prompt_text   TEXT NOT NULL,
	embedding     VECTOR NOT NULL,
	response_json JSONB NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS semantic_cache_entries_partition_idx
	ON semantic_cache_entries (tenant_id, plan_sig, expires_at);
`

const semanticLookupQuery = `
SELECT id,
       response_json,
       1 - (embedding <=> $3::vector) AS similarity
FROM semantic_cache_entries
WHERE tenant_id = $1
  AND plan_sig = $2
  AND expires_at > now()
ORDER BY embedding <=> $3::vector
LIMIT 1`

const semanticStoreQuery = `
INSERT INTO semantic_cache_entries
  (tenant_id, plan_sig, request_hash, prompt_text, embedding, response_json, expires_at)
VALUES ($1, $2, $3, $4, $5::vector, $6::jsonb, $7)
RETURNING id`

// PostgresStore keeps semantic cache entries in Postgres with the pgvector
// extension, ordering lookups by cosine distance.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the extension, table, and partition index if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, semanticCacheSchema); err != nil {
		return fmt.Errorf("failed to ensure semantic cache schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, tenantID, planSig string, queryVec []float32) (*Match, error) {
	var row struct {
		ID           int64   `db:"id"`
		ResponseJSON []byte  `db:"response_json"`
		Similarity   float64 `db:"similarity"`
	}

	err := s.db.GetContext(ctx, &row, semanticLookupQuery, tenantID, planSig, vectorLiteral(queryVec))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic lookup failed: %w", err)
	}

	return &Match{ID: row.ID, ResponseJSON: row.ResponseJSON, Similarity: row.Similarity}, nil
}

func (s *PostgresStore) Store(ctx context.Context, entry Entry) (int64, error) {
	expiresAt := time.Now().UTC().Add(entry.Ttl)

	var id int64
	err := s.db.GetContext(ctx, &id, semanticStoreQuery,
		entry.TenantID,
		entry.PlanSig,
		entry.RequestHash,
		entry.PromptText,
		vectorLiteral(entry.Embedding),
		string(entry.ResponseJSON),
		expiresAt,
	)
	if err != nil {
		return 0, fmt.Errorf("semantic store failed: %w", err)
	}
	return id, nil
}

// vectorLiteral renders a pgvector input literal, e.g. "[0.100000,0.200000]".
func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, value := range vector {
		parts[i] = fmt.Sprintf("%.6f", value)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
