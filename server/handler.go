package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/backend"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/cache"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/monitoring"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/normalize"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/openai"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/scheduler"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/trace"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/utils"
)

type (
	// BadRequestError rejects malformed or unsupported requests at ingress.
	BadRequestError struct{ error }

	// RateLimitError is the admission controller's reject verdict.
	RateLimitError struct {
		error
		RetryAfterSeconds int
	}

	// QueueFullError is returned when the target lane is at capacity.
	QueueFullError struct{ error }

	// BackendError wraps a generation failure reported by the adapter.
	BackendError struct{ error }
)

// HandleChatCompletions serves POST /v1/chat/completions. Each request walks
// the pipeline: normalize, plan, exact probe, semantic probe, admission,
// schedule, generate, store, trace. Every terminal outcome writes exactly one
// trace before the response is committed.
func (rt *Runtime) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	tenantID := r.Header.Get("X-Tenant-Id")
	if tenantID == "" {
		tenantID = "default"
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		rt.Logger.Warnw("Failed to read request body", "error", err)
		handleError(w, BadRequestError{errors.New("invalid request body")})
		return
	}

	var request openai.ChatCompletionRequest
	if err := json.Unmarshal(bodyBytes, &request); err != nil {
		rt.Logger.Warnw("Invalid request body", "error", err)
		handleError(w, BadRequestError{errors.New("invalid request body")})
		return
	}

	response, err := rt.completeChat(r.Context(), &request, tenantID)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		rt.Logger.Errorw("Failed to encode response", "error", err)
	}
}

// chatPipeline carries one request through the relay stages. Provenance and
// decision state accumulate on it so the final trace can explain every hop.
type chatPipeline struct {
	runtime    *Runtime
	request    *openai.ChatCompletionRequest
	tenantID   string
	requestID  string
	started    time.Time
	tenant     config.TenantPolicy
	normalized normalize.NormalizedRequest
	plan       relay.ExecutionPlan
	planSig    string
	decision   relay.DecisionTrace
	provenance relay.CacheProvenance
}

func (rt *Runtime) completeChat(ctx context.Context, request *openai.ChatCompletionRequest, tenantID string) (*openai.ChatCompletionResponse, error) {
	if request.Stream != nil && *request.Stream {
		return nil, BadRequestError{errors.New("stream=true is not supported yet")}
	}

	p := &chatPipeline{
		runtime:   rt,
		request:   request,
		tenantID:  tenantID,
		requestID: openai.NewRequestId(),
		started:   time.Now(),
		tenant:    rt.Policy.Tenant(tenantID),
	}

	p.normalized = normalize.Messages(request.Messages)
	promptChars := p.normalized.PromptChars()

	p.plan, p.decision = rt.Engine.BuildPlan(tenantID, promptChars, request.Temperature, request.MaxTokens)
	p.planSig = cache.PlanSignature(p.plan)
	p.provenance.Exact.Enabled = p.plan.Cache.ExactEnabled
	p.provenance.Semantic.Enabled = p.plan.Cache.Semantic.Enabled

	// Tier 1: byte-identical repeat of an earlier request.
	if p.plan.Cache.ExactEnabled {
		cached := rt.Exact.Probe(ctx, tenantID, p.planSig, p.normalized.RequestHash, &p.provenance.Exact)
		rt.Monitor.RecordCacheProbe("exact", p.provenance.Exact.Hit)
		if cached != nil {
			rt.Logger.Infow("Exact cache hit",
				"request_id", p.requestID,
				"tenant_id", tenantID,
				"request_hash", p.normalized.RequestHash)
			p.writeTrace(http.StatusOK, cached, nil, nil, nil)
			rt.Monitor.RecordRequest(tenantID, http.StatusOK, monitoring.OutcomeExactHit, time.Since(p.started))
			return cached, nil
		}
	}

	// Tier 2: near-duplicate prompt under the same plan signature.
	if p.plan.Cache.Semantic.Enabled {
		cached := rt.Semantic.Probe(ctx, tenantID, p.planSig, p.normalized.CanonicalText, p.plan.Cache.Semantic, &p.provenance.Semantic)
		rt.Monitor.RecordCacheProbe("semantic", p.provenance.Semantic.Hit)
		if cached != nil {
			rt.Logger.Infow("Semantic cache hit",
				"request_id", p.requestID,
				"tenant_id", tenantID,
				"similarity", *p.provenance.Semantic.Similarity)
			p.writeTrace(http.StatusOK, cached, nil, nil, nil)
			rt.Monitor.RecordRequest(tenantID, http.StatusOK, monitoring.OutcomeSemanticHit, time.Since(p.started))
			return cached, nil
		}
	}

	// Both tiers missed; ask admission control whether the backend run
	// would still meet the tenant's latency objective.
	lane := rt.Scheduler.LaneForPromptChars(promptChars)
	admission, predictedWaitMs := rt.Scheduler.AdmissionCheck(lane, p.tenant.LatencySloMs)
	rt.Monitor.RecordAdmission(admission.Reason)

	degraded := false
	if admission.Degraded {
		degraded = true
		p.plan.MaxTokens = scheduler.DegradeMaxTokens(p.plan.MaxTokens, rt.Policy.Scheduler.Admission.Degrade)
		p.decision.AddReason("degraded max_tokens to %d due to admission control", p.plan.MaxTokens)
		// The executed plan no longer matches the probed one, so the
		// stores below must key on the executed plan's signature.
		p.planSig = cache.PlanSignature(p.plan)
	}

	if admission.Rejected {
		retryAfter := admission.RetryAfterSeconds
		if retryAfter < 1 {
			retryAfter = 1
		}
		predictedWait := int64(predictedWaitMs)
		p.provenance.Scheduler = &relay.SchedulerProvenance{
			Lane:            string(lane),
			Admission:       admission.Reason,
			PredictedWaitMs: predictedWait,
			Degraded:        degraded,
			Rejected:        true,
		}
		rt.Logger.Infow("Rejected by admission control",
			"request_id", p.requestID,
			"tenant_id", tenantID,
			"lane", lane,
			"predicted_wait_ms", predictedWaitMs)
		p.writeTrace(http.StatusTooManyRequests, nil, map[string]any{
			"type":                "rate_limited",
			"detail":              "Predicted SLO miss; retry later",
			"retry_after_seconds": retryAfter,
		}, nil, &predictedWait)
		rt.Monitor.RecordRequest(tenantID, http.StatusTooManyRequests, monitoring.OutcomeRejected, time.Since(p.started))
		return nil, RateLimitError{error: errors.New("predicted SLO miss"), RetryAfterSeconds: retryAfter}
	}

	job := scheduler.NewJob(ctx, p.requestID, tenantID, lane, p.tenant.LatencySloMs, p.plan, p.runBackend())
	if err := rt.Scheduler.Submit(job); err != nil {
		predictedWait := int64(predictedWaitMs)
		p.provenance.Scheduler = &relay.SchedulerProvenance{
			Lane:            string(lane),
			Admission:       "queue_full",
			PredictedWaitMs: predictedWait,
			Degraded:        degraded,
			Rejected:        true,
		}
		rt.Logger.Warnw("Queue full",
			"request_id", p.requestID,
			"tenant_id", tenantID,
			"lane", lane)
		p.writeTrace(http.StatusServiceUnavailable, nil, map[string]any{
			"type":   "queue_full",
			"detail": "Queue full, try later",
		}, nil, &predictedWait)
		rt.Monitor.RecordRequest(tenantID, http.StatusServiceUnavailable, monitoring.OutcomeQueueFull, time.Since(p.started))
		return nil, QueueFullError{err}
	}
	rt.Monitor.SetQueueDepth(string(lane), rt.Scheduler.LaneDepth(lane))

	result, err := job.Wait(ctx)
	if err != nil {
		queueWait := time.Since(job.QueueEnteredAt).Milliseconds()
		p.provenance.Scheduler = &relay.SchedulerProvenance{
			Lane:            string(lane),
			Admission:       admission.Reason,
			PredictedWaitMs: int64(predictedWaitMs),
			QueueWaitMs:     &queueWait,
			Degraded:        degraded,
			Rejected:        false,
		}
		rt.Logger.Errorw("Backend generation failed",
			"error", err,
			"request_id", p.requestID,
			"tenant_id", tenantID)
		p.writeTrace(http.StatusBadGateway, nil, map[string]any{
			"type":   "backend_error",
			"detail": err.Error(),
		}, nil, &queueWait)
		rt.Monitor.RecordRequest(tenantID, http.StatusBadGateway, monitoring.OutcomeBackendError, time.Since(p.started))
		return nil, BackendError{err}
	}

	// Queue wait excludes the backend's own latency, floored at zero in
	// case the two clocks disagree.
	queueWait := time.Since(job.QueueEnteredAt).Milliseconds() - result.BackendLatencyMs
	if queueWait < 0 {
		queueWait = 0
	}
	p.provenance.Scheduler = &relay.SchedulerProvenance{
		Lane:            string(lane),
		Admission:       admission.Reason,
		PredictedWaitMs: int64(predictedWaitMs),
		QueueWaitMs:     &queueWait,
		Degraded:        degraded,
		Rejected:        false,
	}
	rt.Monitor.RecordBackendLatency(result.Backend, result.BackendLatencyMs)
	rt.Logger.Debugw("Backend generation finished",
		"request_id", p.requestID,
		"backend", result.Backend,
		"backend_latency_ms", result.BackendLatencyMs,
		"metadata", result.Metadata)

	text := result.Text
	if text == "" {
		text = "(empty response)"
	}
	response := openai.FinalizeResponse(p.requestID, request.Model, text, openai.Usage{
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		TotalTokens:      result.TotalTokens,
	})

	// Stores run on a fresh context: a fresh response is worth caching
	// even when the client has already gone away.
	storeCtx := context.Background()
	if p.plan.Cache.Semantic.Enabled {
		rt.Semantic.Store(storeCtx, tenantID, p.planSig, p.normalized.RequestHash, p.normalized.CanonicalText, p.plan.Cache.Semantic, response, &p.provenance.Semantic)
	}
	if p.plan.Cache.ExactEnabled {
		rt.Exact.Store(storeCtx, tenantID, p.planSig, p.normalized.RequestHash, response, &p.provenance.Exact)
	}

	p.writeTrace(http.StatusOK, response, nil, result, &queueWait)
	rt.Monitor.RecordRequest(tenantID, http.StatusOK, monitoring.OutcomeCompleted, time.Since(p.started))
	rt.Logger.Infow("Request complete",
		"request_id", p.requestID,
		"tenant_id", tenantID,
		"latency_ms", time.Since(p.started).Milliseconds(),
		"request_hash", p.normalized.RequestHash,
		"policy_version", rt.Policy.PolicyVersion)

	return response, nil
}

// runBackend binds the backend invocation a worker will execute later. The
// model sent to the backend comes from configuration; the client's model
// name is only echoed back in the envelope.
func (p *chatPipeline) runBackend() scheduler.RunFunc {
	generation := backend.GenerationRequest{
		Model:       p.runtime.Config.OllamaModel,
		Prompt:      p.normalized.CanonicalText,
		Temperature: p.plan.Temperature,
		MaxTokens:   p.plan.MaxTokens,
	}
	return func(ctx context.Context) (*relay.GenerationResult, error) {
		return p.runtime.Backend.Generate(ctx, generation)
	}
}

// writeTrace persists the single audit record for this request's outcome.
// It runs on a fresh context so a disconnected client cannot lose the trace,
// and failures are logged but never surfaced.
func (p *chatPipeline) writeTrace(status int, response *openai.ChatCompletionResponse, errorPayload any, result *relay.GenerationResult, queueWaitMs *int64) {
	row := &trace.RequestTrace{
		RequestID:     p.requestID,
		TenantID:      p.tenantID,
		Endpoint:      "/v1/chat/completions",
		Model:         p.request.Model,
		StatusCode:    status,
		RequestHash:   p.normalized.RequestHash,
		LatencyMs:     time.Since(p.started).Milliseconds(),
		QueueWaitMs:   queueWaitMs,
		RequestJSON:   p.jsonBlob(p.request),
		PolicyVersion: p.runtime.Policy.PolicyVersion,
		PlanJSON:      p.jsonBlob(p.plan),
		DecisionJSON:  p.jsonBlob(p.decision),
		CacheJSON:     p.jsonBlob(p.provenance),
	}
	if response != nil {
		row.ResponseJSON = p.jsonBlob(response)
		row.PromptTokens = utils.ToPtr(response.Usage.PromptTokens)
		row.CompletionTokens = utils.ToPtr(response.Usage.CompletionTokens)
		row.TotalTokens = utils.ToPtr(response.Usage.TotalTokens)
	}
	if errorPayload != nil {
		row.ErrorJSON = p.jsonBlob(errorPayload)
	}
	if result != nil {
		row.BackendLatencyMs = utils.ToPtr(result.BackendLatencyMs)
		row.BackendTtftMs = result.BackendTtftMs
	}

	if err := p.runtime.Traces.Insert(context.Background(), row); err != nil {
		p.runtime.Logger.Errorw("Failed to write trace",
			"error", err,
			"request_id", p.requestID,
			"status_code", status)
	}
}

// jsonBlob marshals a trace payload. A marshal failure is logged and stored
// as JSON null rather than failing the request.
func (p *chatPipeline) jsonBlob(payload any) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		p.runtime.Logger.Errorw("Failed to encode trace payload", "error", err, "request_id", p.requestID)
		return nil
	}
	return data
}

// handleError maps pipeline errors onto the HTTP error taxonomy. Bodies
// follow the {"detail": ...} shape throughout.
func handleError(w http.ResponseWriter, err error) {
	switch typed := err.(type) {
	case BadRequestError:
		writeDetail(w, http.StatusBadRequest, typed.Error())
	case RateLimitError:
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"detail": map[string]int{"retry_after_seconds": typed.RetryAfterSeconds},
		})
	case QueueFullError:
		writeDetail(w, http.StatusServiceUnavailable, "Queue full, try later")
	case BackendError:
		writeDetail(w, http.StatusBadGateway, "generation backend failed")
	default:
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
