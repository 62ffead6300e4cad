package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/utils"
)

// PlanSignature computes the 16-hex-character digest that partitions both
// cache tiers by plan. The plan is serialized with lexicographically sorted
// keys, so logically equal plans always produce the same signature no
// matter how they were assembled.
func PlanSignature(plan relay.ExecutionPlan) string {
	payload := map[string]any{
		"plan_name":        plan.PlanName,
		"tier":             plan.Tier,
		"decoding_profile": plan.DecodingProfile,
		"max_tokens":       plan.MaxTokens,
		"temperature":      plan.Temperature,
		"cache": map[string]any{
			"exact_enabled": plan.Cache.ExactEnabled,
			"semantic": map[string]any{
				"enabled":     plan.Cache.Semantic.Enabled,
				"threshold":   plan.Cache.Semantic.Threshold,
				"ttl_seconds": plan.Cache.Semantic.TtlSeconds,
				"verifier":    plan.Cache.Semantic.Verifier,
			},
		},
	}

	// Map keys marshal in sorted order, which is the canonical form.
	hasher := sha256.New()
	hasher.Write(utils.Must(json.Marshal(payload)))
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// ExactKey builds the exact-cache key for one (tenant, plan, request) triple.
func ExactKey(tenantID string, planSig string, requestHash string) string {
	return fmt.Sprintf("exact:%s:%s:%s", tenantID, planSig, requestHash)
}

// ExactHitCounterKey is the per-tenant counter bumped on every exact-cache hit.
func ExactHitCounterKey(tenantID string) string {
	return "metrics:cache_exact_hit:" + tenantID
}

// ExactMissCounterKey is the per-tenant counter bumped on every exact-cache miss.
func ExactMissCounterKey(tenantID string) string {
	return "metrics:cache_exact_miss:" + tenantID
}
