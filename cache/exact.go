// Package cache implements the two response cache tiers in front of the
// generation backend: an exact tier for byte-identical request repeats and
// a semantic tier for near-duplicate prompts. Both tiers are advisory; any
// failure inside them degrades to a miss and the request proceeds.
package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/openai"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/state"
)

// ExactCache serves previously stored response envelopes for byte-identical
// requests. Keys bind tenant, plan signature, and request hash together, so
// a hit can never cross tenants or plans.
type ExactCache struct {
	stateManager state.Manager
	ttl          time.Duration
	logger       *zap.SugaredLogger
}

func NewExactCache(stateManager state.Manager, ttlSeconds int, logger *zap.SugaredLogger) *ExactCache {
	return &ExactCache{
		stateManager: stateManager,
		ttl:          time.Duration(ttlSeconds) * time.Second,
		logger:       logger,
	}
}

// Probe returns the cached response for the (tenant, plan, request) triple,
// or nil on a miss. Every probe bumps exactly one of the tenant's hit/miss
// counters. A key-value store failure is treated as a miss; the error lands
// in the provenance, never on the caller.
func (c *ExactCache) Probe(ctx context.Context, tenantID, planSig, requestHash string, provenance *relay.ExactProvenance) *openai.ChatCompletionResponse {
	key := ExactKey(tenantID, planSig, requestHash)
	provenance.Key = key
	provenance.PlanSig = planSig

	data, err := c.stateManager.LoadCache(ctx, key)
	if err != nil {
		c.logger.Warnw("Exact cache unavailable, treating as miss", "error", err, "key", key)
		provenance.Error = err.Error()
		c.bumpCounter(ctx, ExactMissCounterKey(tenantID))
		return nil
	}
	if data == nil {
		c.bumpCounter(ctx, ExactMissCounterKey(tenantID))
		return nil
	}

	var response openai.ChatCompletionResponse
	if err := json.Unmarshal(data, &response); err != nil {
		c.logger.Warnw("Dropping undecodable exact cache entry", "error", err, "key", key)
		provenance.Error = err.Error()
		c.bumpCounter(ctx, ExactMissCounterKey(tenantID))
		return nil
	}

	provenance.Hit = true
	c.bumpCounter(ctx, ExactHitCounterKey(tenantID))
	return &response
}

// Store writes a fresh response envelope back under the triple's key. By the
// time Store runs the response is already committed to the client, so
// failures are logged and recorded in the provenance only.
func (c *ExactCache) Store(ctx context.Context, tenantID, planSig, requestHash string, response *openai.ChatCompletionResponse, provenance *relay.ExactProvenance) {
	key := ExactKey(tenantID, planSig, requestHash)
	provenance.Key = key
	provenance.PlanSig = planSig

	data, err := json.Marshal(response)
	if err != nil {
		c.logger.Warnw("Failed to encode response for exact cache", "error", err, "key", key)
		provenance.Error = err.Error()
		return
	}

	if err := c.stateManager.SaveCache(ctx, key, data, c.ttl); err != nil {
		c.logger.Warnw("Failed to store exact cache entry", "error", err, "key", key)
		provenance.Error = err.Error()
		return
	}

	provenance.Stored = true
	provenance.TtlSeconds = int(c.ttl / time.Second)
}

// bumpCounter fires an increment and drops any error; counters are best
// effort and must not affect the request.
func (c *ExactCache) bumpCounter(ctx context.Context, key string) {
	if _, err := c.stateManager.Increment(ctx, key); err != nil {
		c.logger.Warnw("Failed to bump cache counter", "error", err, "key", key)
	}
}
