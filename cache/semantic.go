package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/embedding"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/openai"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/vectorstore"
)

// SemanticCache serves stored responses for prompts that are near duplicates
// of earlier ones. Lookups stay inside the (tenant, plan signature)
// partition, and a candidate only counts as a hit when its cosine similarity
// clears the tenant's threshold.
type SemanticCache struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	logger   *zap.SugaredLogger
}

func NewSemanticCache(store vectorstore.Store, embedder embedding.Embedder, logger *zap.SugaredLogger) *SemanticCache {
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		logger:   logger,
	}
}

// Probe embeds the canonical prompt and fetches the nearest stored response
// in the partition. On a below-threshold miss the best candidate is still
// recorded in the provenance, so operators can tune thresholds against near
// misses. Embedding and lookup failures degrade to a miss.
func (c *SemanticCache) Probe(ctx context.Context, tenantID, planSig, promptText string, policy relay.SemanticCachePolicy, provenance *relay.SemanticProvenance) *openai.ChatCompletionResponse {
	provenance.PlanSig = planSig
	provenance.Threshold = policy.Threshold
	provenance.Verifier = policy.Verifier

	queryVec, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		c.logger.Warnw("Semantic cache embedding failed, treating as miss", "error", err, "tenant_id", tenantID)
		provenance.Error = err.Error()
		return nil
	}

	match, err := c.store.Lookup(ctx, tenantID, planSig, queryVec)
	if err != nil {
		c.logger.Warnw("Semantic cache lookup failed, treating as miss", "error", err, "tenant_id", tenantID)
		provenance.Error = err.Error()
		return nil
	}
	if match == nil {
		return nil
	}

	if match.Similarity < policy.Threshold {
		provenance.BestSimilarity = &match.Similarity
		provenance.BestEntryId = &match.ID
		return nil
	}

	var response openai.ChatCompletionResponse
	if err := json.Unmarshal(match.ResponseJSON, &response); err != nil {
		c.logger.Warnw("Dropping undecodable semantic cache entry", "error", err, "entry_id", match.ID)
		provenance.Error = err.Error()
		return nil
	}

	provenance.Hit = true
	provenance.Similarity = &match.Similarity
	provenance.EntryId = &match.ID
	return &response
}

// Store embeds the canonical prompt and persists the fresh response in the
// partition. Failures are logged and recorded in the provenance only.
func (c *SemanticCache) Store(ctx context.Context, tenantID, planSig, requestHash, promptText string, policy relay.SemanticCachePolicy, response *openai.ChatCompletionResponse, provenance *relay.SemanticProvenance) {
	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Warnw("Failed to encode response for semantic cache", "error", err, "tenant_id", tenantID)
		provenance.Error = err.Error()
		return
	}

	vector, err := c.embedder.Embed(ctx, promptText)
	if err != nil {
		c.logger.Warnw("Semantic cache embedding failed, skipping store", "error", err, "tenant_id", tenantID)
		provenance.Error = err.Error()
		return
	}

	entryID, err := c.store.Store(ctx, vectorstore.Entry{
		TenantID:     tenantID,
		PlanSig:      planSig,
		RequestHash:  requestHash,
		PromptText:   promptText,
		Embedding:    vector,
		ResponseJSON: data,
		Ttl:          time.Duration(policy.TtlSeconds) * time.Second,
	})
	if err != nil {
		c.logger.Warnw("Failed to store semantic cache entry", "error", err, "tenant_id", tenantID)
		provenance.Error = err.Error()
		return
	}

	provenance.Stored = true
	provenance.EntryId = &entryID
	provenance.TtlSeconds = policy.TtlSeconds
}
