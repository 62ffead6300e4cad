// Package scheduler queues accepted requests into two lanes and drains them
// with a fixed pool of workers. Within a lane, tenants are served round-robin
// so a chatty tenant cannot starve the others; across lanes, short prompts
// have strict priority to keep tail latency down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	relay "github.com/abhishekdhakaab/Relay-LLM-inference-Manager"
	"github.com/abhishekdhakaab/Relay-LLM-inference-Manager/config"
)

// Lane is the queue family a job is routed to based on prompt length.
type Lane string

const (
	LaneShort Lane = "short"
	LaneLong  Lane = "long"
)

// ErrQueueFull is returned by Submit when the target lane is at capacity.
// The boundary surfaces it as HTTP 503.
var ErrQueueFull = errors.New("queue full")

// idleSleep is how long a worker naps when every queue is empty.
const idleSleep = 5 * time.Millisecond

// RunFunc invokes the backend for one job. Workers call it without holding
// the scheduler lock.
type RunFunc func(ctx context.Context) (*relay.GenerationResult, error)

type settledResult struct {
	result *relay.GenerationResult
	err    error
}

// ScheduledJob is one queued request awaiting a worker. Its completion is
// observed solely through Wait; a job is settled at most once.
type ScheduledJob struct {
	RequestID      string
	TenantID       string
	Lane           Lane
	CreatedAt      time.Time
	SloMs          int
	Plan           relay.ExecutionPlan
	Run            RunFunc
	QueueEnteredAt time.Time

	ctx  context.Context
	done chan settledResult
}

// NewJob binds a request to its backend invocation. The context is the
// upstream request context; when it is cancelled before dispatch the job is
// dropped, and when it is cancelled mid-run the result is discarded.
func NewJob(ctx context.Context, requestID, tenantID string, lane Lane, sloMs int, plan relay.ExecutionPlan, run RunFunc) *ScheduledJob {
	return &ScheduledJob{
		RequestID: requestID,
		TenantID:  tenantID,
		Lane:      lane,
		CreatedAt: time.Now(),
		SloMs:     sloMs,
		Plan:      plan,
		Run:       run,
		ctx:       ctx,
		done:      make(chan settledResult, 1),
	}
}

// Wait blocks until a worker settles the job or the context ends.
func (job *ScheduledJob) Wait(ctx context.Context) (*relay.GenerationResult, error) {
	select {
	case settled := <-job.done:
		return settled.result, settled.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle delivers the outcome without blocking. The buffered channel keeps
// the worker from hanging when the waiter has already given up.
func (job *ScheduledJob) settle(result *relay.GenerationResult, err error) {
	select {
	case job.done <- settledResult{result: result, err: err}:
	default:
	}
}

// Scheduler is the two-lane fair scheduler. A single mutex guards the queues,
// the round-robin bookkeeping, and depth reads; it is never held across
// backend calls, cache I/O, or trace writes.
type Scheduler struct {
	policy *config.PolicyConfig
	logger *zap.SugaredLogger

	mutex   sync.Mutex
	queues  map[Lane]map[string][]*ScheduledJob
	rrOrder map[Lane][]string
	rrIndex map[Lane]int

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(policy *config.PolicyConfig, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		policy: policy,
		logger: logger,
		queues: map[Lane]map[string][]*ScheduledJob{
			LaneShort: {},
			LaneLong:  {},
		},
		rrOrder: map[Lane][]string{LaneShort: {}, LaneLong: {}},
		rrIndex: map[Lane]int{LaneShort: 0, LaneLong: 0},
		stop:    make(chan struct{}),
	}
}

// LaneForPromptChars routes prompts at most short_max_prompt_chars runes long
// to the short lane and everything else to the long lane.
func (s *Scheduler) LaneForPromptChars(promptChars int) Lane {
	if promptChars <= s.policy.Scheduler.ShortMaxPromptChars {
		return LaneShort
	}
	return LaneLong
}

// Submit enqueues the job into its lane, creating the tenant queue on first
// use. The lane-wide depth cap counts jobs across all tenants.
func (s *Scheduler) Submit(job *ScheduledJob) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	laneQueues := s.queues[job.Lane]
	if _, ok := laneQueues[job.TenantID]; !ok {
		laneQueues[job.TenantID] = nil
		s.rrOrder[job.Lane] = append(s.rrOrder[job.Lane], job.TenantID)
	}

	if s.laneDepthLocked(job.Lane) >= s.policy.Scheduler.MaxQueueDepthPerLane {
		return fmt.Errorf("%s lane: %w", job.Lane, ErrQueueFull)
	}

	job.QueueEnteredAt = time.Now()
	laneQueues[job.TenantID] = append(laneQueues[job.TenantID], job)
	return nil
}

// LaneDepth reports the number of queued jobs in the lane across all tenants.
func (s *Scheduler) LaneDepth(lane Lane) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.laneDepthLocked(lane)
}

func (s *Scheduler) laneDepthLocked(lane Lane) int {
	depth := 0
	for _, queue := range s.queues[lane] {
		depth += len(queue)
	}
	return depth
}

// Start spawns the worker pool. Safe to call once per scheduler.
func (s *Scheduler) Start() {
	workers := s.policy.Scheduler.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Infow("Scheduler started", "workers", workers)
}

// Stop signals the workers and waits for them to drain, bounded by the
// context. Jobs still queued at shutdown are never settled; waiters are
// expected to time out on their own contexts.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stop)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		job := s.dequeue()
		if job == nil {
			select {
			case <-s.stop:
				return
			case <-time.After(idleSleep):
			}
			continue
		}

		if job.ctx.Err() != nil {
			s.logger.Debugw("Dropping cancelled job", "worker", id, "request_id", job.RequestID)
			continue
		}

		result, err := job.Run(job.ctx)
		job.settle(result, err)
	}
}

// dequeue pops the next job, preferring the short lane.
func (s *Scheduler) dequeue() *ScheduledJob {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if job := s.dequeueLaneLocked(LaneShort); job != nil {
		return job
	}
	return s.dequeueLaneLocked(LaneLong)
}

// dequeueLaneLocked scans the lane's tenants round-robin from the cursor and
// pops the first non-empty queue's head, advancing the cursor past it.
func (s *Scheduler) dequeueLaneLocked(lane Lane) *ScheduledJob {
	tenants := s.rrOrder[lane]
	if len(tenants) == 0 {
		return nil
	}
	laneQueues := s.queues[lane]

	n := len(tenants)
	start := s.rrIndex[lane] % n
	for offset := 0; offset < n; offset++ {
		idx := (start + offset) % n
		queue := laneQueues[tenants[idx]]
		if len(queue) == 0 {
			continue
		}
		job := queue[0]
		laneQueues[tenants[idx]] = queue[1:]
		s.rrIndex[lane] = idx + 1
		return job
	}
	return nil
}
