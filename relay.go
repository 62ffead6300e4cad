package relay

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SemanticCachePolicy controls the nearest-neighbor response cache for a tenant.
type SemanticCachePolicy struct {
	// Whether semantic lookups and stores run at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Minimum cosine similarity for a candidate to count as a hit.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// Lifetime of stored entries in seconds.
	TtlSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`

	// Verifier mode recorded in the trace. E.g., "off"
	Verifier string `yaml:"verifier" json:"verifier"`
}

func (p *SemanticCachePolicy) UnmarshalYAML(value *yaml.Node) error {
	type plain SemanticCachePolicy
	out := plain(DefaultSemanticCachePolicy())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*p = SemanticCachePolicy(out)
	return nil
}

func DefaultSemanticCachePolicy() SemanticCachePolicy {
	return SemanticCachePolicy{
		Enabled:    false,
		Threshold:  0.90,
		TtlSeconds: 1800,
		Verifier:   "off",
	}
}

// CacheDirectives is the per-tenant caching block carried inside every
// execution plan. It participates in the plan signature, so flipping any
// of these fields isolates the tenant from previously stored responses.
type CacheDirectives struct {
	ExactEnabled bool                `yaml:"exact_enabled" json:"exact_enabled"`
	Semantic     SemanticCachePolicy `yaml:"semantic" json:"semantic"`
}

func (c *CacheDirectives) UnmarshalYAML(value *yaml.Node) error {
	type plain CacheDirectives
	out := plain(DefaultCacheDirectives())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = CacheDirectives(out)
	return nil
}

func DefaultCacheDirectives() CacheDirectives {
	return CacheDirectives{
		ExactEnabled: true,
		Semantic:     DefaultSemanticCachePolicy(),
	}
}

// ExecutionPlan is what the policy engine derives for a single request:
// which plan bucket was chosen and the decoding parameters the backend
// should run with. Plans are value types; the request flow copies and
// mutates them freely (e.g., admission-driven degradation).
type ExecutionPlan struct {
	// Name of the length bucket the plan was selected from. E.g., "short"
	PlanName string `json:"plan_name"`

	// Service tier of the plan. E.g., "standard"
	Tier string `json:"tier"`

	// Decoding profile of the plan. E.g., "deterministic"
	DecodingProfile string `json:"decoding_profile"`

	// Maximum number of tokens the backend may generate.
	MaxTokens int `json:"max_tokens"`

	// Sampling temperature for the backend.
	Temperature float64 `json:"temperature"`

	// Tenant caching directives active for this plan.
	Cache CacheDirectives `json:"cache"`
}

// GenerationResult is what a backend adapter returns for one completion.
// Token counts of zero mean the backend did not report them.
type GenerationResult struct {
	Text             string
	PromptTokens     int32
	CompletionTokens int32
	TotalTokens      int32
	BackendLatencyMs int64

	// Time to first token, when the backend reports it. Nil otherwise.
	BackendTtftMs *int64

	// Which adapter produced the result. E.g., "ollama", "mock"
	Backend string

	// Adapter-specific counters passed through untouched, e.g. Ollama's
	// reported durations. Logged for diagnostics, never interpreted.
	Metadata map[string]any
}

// DecisionTrace records why the policy engine produced a given plan.
// Reasons are append-only; later pipeline stages (admission control)
// add their own entries.
type DecisionTrace struct {
	Reasons       []string `json:"reasons"`
	Bucket        string   `json:"bucket"`
	TenantID      string   `json:"tenant_id"`
	PolicyVersion string   `json:"policy_version"`
}

// AddReason appends a human-readable explanation to the trace.
func (t *DecisionTrace) AddReason(format string, args ...any) {
	t.Reasons = append(t.Reasons, fmt.Sprintf(format, args...))
}

// CacheProvenance records what each cache tier and the scheduler actually did
// for one request. It is serialized into the request trace, so operators can
// answer "why was this served from cache" or "why was this degraded" after
// the fact.
type CacheProvenance struct {
	Exact     ExactProvenance      `json:"exact"`
	Semantic  SemanticProvenance   `json:"semantic"`
	Scheduler *SchedulerProvenance `json:"scheduler,omitempty"`
}

// ExactProvenance describes the byte-identical cache tier's probe and store.
type ExactProvenance struct {
	Enabled bool   `json:"enabled"`
	Hit     bool   `json:"hit"`
	Key     string `json:"key,omitempty"`
	PlanSig string `json:"plan_sig,omitempty"`

	// Whether a fresh response was written back after generation.
	Stored     bool `json:"stored"`
	TtlSeconds int  `json:"ttl_seconds,omitempty"`

	// Probe or store failure, recorded verbatim. Never fatal for the request.
	Error string `json:"error,omitempty"`
}

// SemanticProvenance describes the nearest-neighbor tier's probe and store.
// When the best candidate falls below the tenant threshold, it is still
// recorded so operators can tune thresholds against near misses.
type SemanticProvenance struct {
	Enabled   bool    `json:"enabled"`
	Hit       bool    `json:"hit"`
	PlanSig   string  `json:"plan_sig,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Verifier  string  `json:"verifier,omitempty"`

	// Similarity and entry of the winning candidate on a hit.
	Similarity *float64 `json:"similarity,omitempty"`
	EntryId    *int64   `json:"entry_id,omitempty"`

	// Best candidate seen on a miss, when one existed.
	BestSimilarity *float64 `json:"best_similarity,omitempty"`
	BestEntryId    *int64   `json:"best_entry_id,omitempty"`

	Stored     bool   `json:"stored"`
	TtlSeconds int    `json:"ttl_seconds,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SchedulerProvenance describes how admission control and the fair scheduler
// handled the request once both cache tiers missed.
type SchedulerProvenance struct {
	Lane            string `json:"lane"`
	Admission       string `json:"admission"`
	PredictedWaitMs int64  `json:"predicted_wait_ms"`
	QueueWaitMs     *int64 `json:"queue_wait_ms,omitempty"`
	Degraded        bool   `json:"degraded"`
	Rejected        bool   `json:"rejected"`
}
