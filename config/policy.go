package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
)

// TenantPolicy is the per-tenant contract: the latency objective admission
// control defends, and which cache tiers the tenant participates in.
type TenantPolicy struct {
	LatencySloMs int                   `yaml:"latency_slo_ms"`
	Caching      relay.CacheDirectives `yaml:"caching"`
}

func (p *TenantPolicy) UnmarshalYAML(value *yaml.Node) error {
	type plain TenantPolicy
	out := plain{
		LatencySloMs: 8000,
		Caching:      relay.DefaultCacheDirectives(),
	}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*p = TenantPolicy(out)
	return nil
}

// LengthBucket bounds the prompt size (in runes of canonical text) that
// still falls into the bucket.
type LengthBucket struct {
	MaxChars int `yaml:"max_chars"`
}

type RoutingConfig struct {
	// Keyed by bucket name. Buckets are consulted in the fixed order
	// short, medium, long regardless of map order.
	LengthBuckets map[string]LengthBucket `yaml:"length_buckets"`
}

// PlanConfig holds the decoding parameters of one plan bucket.
type PlanConfig struct {
	Tier            string  `yaml:"tier"`
	DecodingProfile string  `yaml:"decoding_profile"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

func (p *PlanConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain PlanConfig
	out := plain(DefaultPlanConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*p = PlanConfig(out)
	return nil
}

func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Tier:            "standard",
		DecodingProfile: "standard",
		MaxTokens:       256,
		Temperature:     0.7,
	}
}

// ComputeEstimates are the fixed per-lane backend compute estimates, in
// milliseconds, that admission control predicts waits from.
type ComputeEstimates struct {
	Short int `yaml:"short"`
	Long  int `yaml:"long"`
}

func (c *ComputeEstimates) UnmarshalYAML(value *yaml.Node) error {
	type plain ComputeEstimates
	out := plain{Short: 1200, Long: 3500}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = ComputeEstimates(out)
	return nil
}

type DegradeConfig struct {
	Enabled        bool    `yaml:"enabled"`
	MaxTokensFloor int     `yaml:"max_tokens_floor"`
	MaxTokensScale float64 `yaml:"max_tokens_scale"`
}

func (c *DegradeConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain DegradeConfig
	out := plain{Enabled: true, MaxTokensFloor: 128, MaxTokensScale: 0.5}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = DegradeConfig(out)
	return nil
}

type RejectConfig struct {
	Enabled           bool `yaml:"enabled"`
	RetryAfterSeconds int  `yaml:"retry_after_seconds"`
}

func (c *RejectConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain RejectConfig
	out := plain{Enabled: true, RetryAfterSeconds: 2}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = RejectConfig(out)
	return nil
}

type AdmissionConfig struct {
	Enabled          bool             `yaml:"enabled"`
	DefaultComputeMs ComputeEstimates `yaml:"default_compute_ms"`
	Degrade          DegradeConfig    `yaml:"degrade"`
	Reject           RejectConfig     `yaml:"reject"`
}

func (c *AdmissionConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain AdmissionConfig
	out := plain(DefaultAdmissionConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = AdmissionConfig(out)
	return nil
}

func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		Enabled:          true,
		DefaultComputeMs: ComputeEstimates{Short: 1200, Long: 3500},
		Degrade:          DegradeConfig{Enabled: true, MaxTokensFloor: 128, MaxTokensScale: 0.5},
		Reject:           RejectConfig{Enabled: true, RetryAfterSeconds: 2},
	}
}

type SchedulerConfig struct {
	// Prompts at most this many chars go to the short lane.
	ShortMaxPromptChars int `yaml:"short_max_prompt_chars"`

	// Number of workers draining the lanes.
	Workers int `yaml:"workers"`

	// Total queued jobs allowed per lane across all tenants.
	MaxQueueDepthPerLane int `yaml:"max_queue_depth_per_lane"`

	Admission AdmissionConfig `yaml:"admission"`
}

func (c *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain SchedulerConfig
	out := plain(DefaultSchedulerConfig())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = SchedulerConfig(out)
	return nil
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ShortMaxPromptChars:  1200,
		Workers:              2,
		MaxQueueDepthPerLane: 200,
		Admission:            DefaultAdmissionConfig(),
	}
}

// PolicyConfig is the process-wide tenant policy document. It is loaded
// once at startup and treated as immutable; changing policy means
// restarting the relay.
type PolicyConfig struct {
	// Opaque version string propagated verbatim into every trace.
	PolicyVersion string `yaml:"policy_version"`

	// Per-tenant policies. Must contain an entry named "default".
	Tenants map[string]TenantPolicy `yaml:"tenants"`

	Routing RoutingConfig `yaml:"routing"`

	// Plan parameters keyed by length-bucket name.
	Plans map[string]PlanConfig `yaml:"plans"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Tenant returns the policy for the given tenant, falling back to the
// "default" tenant for unknown identifiers.
func (p *PolicyConfig) Tenant(tenantID string) TenantPolicy {
	if tenant, ok := p.Tenants[tenantID]; ok {
		return tenant
	}
	return p.Tenants["default"]
}

// LoadPolicy reads and validates the policy document at the given path.
func LoadPolicy(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %v", err)
	}

	policy := PolicyConfig{
		Scheduler: DefaultSchedulerConfig(),
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %v", err)
	}

	if policy.PolicyVersion == "" {
		return nil, fmt.Errorf("policy_version is required")
	}
	if _, ok := policy.Tenants["default"]; !ok {
		return nil, fmt.Errorf(`tenants must contain a "default" entry`)
	}
	for name, tenant := range policy.Tenants {
		threshold := tenant.Caching.Semantic.Threshold
		if threshold < 0 || threshold > 1 {
			return nil, fmt.Errorf("tenants[%s]: semantic threshold must be within [0, 1], got %v", name, threshold)
		}
	}
	for name, plan := range policy.Plans {
		if plan.MaxTokens < 1 {
			return nil, fmt.Errorf("plans[%s]: max_tokens must be at least 1, got %d", name, plan.MaxTokens)
		}
		if plan.Temperature < 0 || plan.Temperature > 2 {
			return nil, fmt.Errorf("plans[%s]: temperature must be within [0, 2], got %v", name, plan.Temperature)
		}
	}
	if policy.Scheduler.Workers < 1 {
		return nil, fmt.Errorf("scheduler.workers must be positive, got %d", policy.Scheduler.Workers)
	}

	return &policy, nil
}
