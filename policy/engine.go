// Package policy derives per-request execution plans from the tenant policy
// document. Plan building is pure: for a fixed policy, the same tenant,
// prompt size, and overrides always produce the same plan and trace.
package policy

import (
	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"
)

// bucketOrder fixes the evaluation order of length buckets regardless of
// how the policy YAML happens to order its map keys.
var bucketOrder = [...]string{"short", "medium", "long"}

// Engine selects a plan bucket for each request and materializes the
// decoding parameters the backend should run with.
type Engine struct {
	policy *config.PolicyConfig
}

func NewEngine(policy *config.PolicyConfig) *Engine {
	return &Engine{policy: policy}
}

// BuildPlan resolves the tenant policy, picks a length bucket for the prompt,
// and returns the execution plan plus a trace explaining the choice. Explicit
// request parameters override the bucket's defaults without clamping.
func (e *Engine) BuildPlan(tenantID string, promptChars int, overrideTemperature *float64, overrideMaxTokens *int) (relay.ExecutionPlan, relay.DecisionTrace) {
	tenant := e.policy.Tenant(tenantID)
	bucket := e.pickLengthBucket(promptChars)

	planConfig, ok := e.policy.Plans[bucket]
	if !ok {
		planConfig, ok = e.policy.Plans["short"]
	}
	if !ok {
		planConfig = config.DefaultPlanConfig()
	}

	temperature := planConfig.Temperature
	if overrideTemperature != nil {
		temperature = *overrideTemperature
	}
	maxTokens := planConfig.MaxTokens
	if overrideMaxTokens != nil {
		maxTokens = *overrideMaxTokens
	}

	plan := relay.ExecutionPlan{
		PlanName:        bucket,
		Tier:            planConfig.Tier,
		DecodingProfile: planConfig.DecodingProfile,
		MaxTokens:       maxTokens,
		Temperature:     temperature,
		Cache:           tenant.Caching,
	}

	trace := relay.DecisionTrace{
		Bucket:        bucket,
		TenantID:      tenantID,
		PolicyVersion: e.policy.PolicyVersion,
	}
	trace.AddReason("bucket=%s (prompt_chars=%d)", bucket, promptChars)
	trace.AddReason("tenant=%s", tenantID)
	trace.AddReason("plan selected from policy.plans[bucket]")

	return plan, trace
}

// pickLengthBucket returns the first configured bucket whose max_chars bound
// admits the prompt, consulting buckets in short, medium, long order. Prompts
// exceeding every bound land in "long".
func (e *Engine) pickLengthBucket(promptChars int) string {
	for _, name := range bucketOrder {
		bucket, ok := e.policy.Routing.LengthBuckets[name]
		if !ok {
			continue
		}
		if promptChars <= bucket.MaxChars {
			return name
		}
	}
	return "long"
}
