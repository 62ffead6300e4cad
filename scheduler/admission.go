package scheduler

import "github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"

// Admission reasons recorded in the scheduler provenance of every trace.
const (
	ReasonAdmissionDisabled   = "admission_disabled"
	ReasonWithinSlo           = "within_slo"
	ReasonDegradeToMeetSlo    = "degrade_to_meet_slo"
	ReasonRejectPredictedMiss = "reject_predicted_slo_miss"
	ReasonAcceptSloMiss       = "accept_even_if_slo_miss"
)

// AdmissionResult is the verdict rendered before a job is queued. Exactly one
// of Accepted and Rejected is true; Degraded implies Accepted and tells the
// caller to shrink the plan's token budget first.
type AdmissionResult struct {
	Accepted          bool
	Degraded          bool
	Rejected          bool
	Reason            string
	RetryAfterSeconds int
}

// AdmissionCheck predicts whether a job entering the lane now would finish
// within the tenant's latency objective. It is non-blocking and does no I/O;
// the only shared state it reads is the lane depth, taken under the scheduler
// lock. Returns the verdict and the predicted queue wait in milliseconds.
//
// The prediction is deliberately coarse: every job in the lane is assumed to
// cost the lane's configured average compute, spread evenly over the workers.
func (s *Scheduler) AdmissionCheck(lane Lane, tenantSloMs int) (AdmissionResult, int) {
	admission := s.policy.Scheduler.Admission
	if !admission.Enabled {
		return AdmissionResult{Accepted: true, Reason: ReasonAdmissionDisabled}, 0
	}

	workers := s.policy.Scheduler.Workers
	if workers < 1 {
		workers = 1
	}
	avgComputeMs := admission.DefaultComputeMs.Short
	if lane == LaneLong {
		avgComputeMs = admission.DefaultComputeMs.Long
	}

	s.mutex.Lock()
	depth := s.laneDepthLocked(lane)
	s.mutex.Unlock()

	predictedWaitMs := depth * avgComputeMs / workers
	predictedTotalMs := predictedWaitMs + avgComputeMs

	if predictedTotalMs <= tenantSloMs {
		return AdmissionResult{Accepted: true, Reason: ReasonWithinSlo}, predictedWaitMs
	}
	if admission.Degrade.Enabled {
		return AdmissionResult{Accepted: true, Degraded: true, Reason: ReasonDegradeToMeetSlo}, predictedWaitMs
	}
	if admission.Reject.Enabled {
		return AdmissionResult{
			Rejected:          true,
			Reason:            ReasonRejectPredictedMiss,
			RetryAfterSeconds: admission.Reject.RetryAfterSeconds,
		}, predictedWaitMs
	}
	return AdmissionResult{Accepted: true, Reason: ReasonAcceptSloMiss}, predictedWaitMs
}

// DegradeMaxTokens scales a token budget down, bounded below by the
// configured floor. Callers apply it when admission returns Degraded.
func DegradeMaxTokens(maxTokens int, degrade config.DegradeConfig) int {
	scaled := int(float64(maxTokens) * degrade.MaxTokensScale)
	if scaled < degrade.MaxTokensFloor {
		return degrade.MaxTokensFloor
	}
	return scaled
}
