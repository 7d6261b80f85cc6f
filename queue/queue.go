// Package queue routes step jobs onto named lanes and runs them with
// retries. Job ids are derived from (project, step) so a duplicate
// submission of a queued or running job is absorbed.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"script-studio/types"
)

// Lanes
const (
	LanePipeline = "pipeline"
	LaneLLM      = "llm"
	LaneAssets   = "assets"
	LaneMedia    = "media"
)

// Lanes lists every lane a worker consumes.
var Lanes = []string{LanePipeline, LaneLLM, LaneAssets, LaneMedia}

// State is the lifecycle of a job
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of queued work
type Job struct {
	ID          string          `json:"id"`
	Lane        string          `json:"lane"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	State       State           `json:"state"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	RunAt       time.Time       `json:"run_at"`
	Progress    int             `json:"progress"`
	ProgressMsg string          `json:"progress_msg,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// retryDelay is the wait before the next attempt: backoff doubled for every
// attempt already made.
func (j *Job) retryDelay() time.Duration {
	if j.Attempts <= 1 {
		return j.Backoff
	}
	return j.Backoff << (j.Attempts - 1)
}

// Payload is the body of every step job
type Payload struct {
	ProjectID string         `json:"project_id"`
	Step      types.StepName `json:"step"`
}

// DecodePayload parses and checks a job payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return Payload{}, errors.New("payload: missing project_id")
	}
	step, err := types.ParseStep(string(p.Step))
	if err != nil {
		return Payload{}, fmt.Errorf("payload: %w", err)
	}
	p.Step = step
	return p, nil
}

// Handle identifies a submitted job. Created is false when the submission
// was absorbed by a job already queued or running.
type Handle struct {
	ID      string `json:"id"`
	Lane    string `json:"lane"`
	Created bool   `json:"created"`
}

// ProgressFunc reports a percentage and a short message for a running job.
type ProgressFunc func(percent int, msg string)

// HandlerFunc executes one job.
type HandlerFunc func(ctx context.Context, job *Job, progress ProgressFunc) error

// Hooks observe job lifecycle. They must not block.
type Hooks struct {
	OnActive    func(job *Job)
	OnCompleted func(job *Job)
	OnFailed    func(job *Job, err error, final bool)
}

// LogHooks logs lifecycle events.
func LogHooks(logger *log.Logger) Hooks {
	if logger == nil {
		logger = log.Default()
	}
	return Hooks{
		OnActive: func(job *Job) {
			logger.Printf("[queue:%s] active %s (attempt %d/%d)", job.Lane, job.ID, job.Attempts, job.MaxAttempts)
		},
		OnCompleted: func(job *Job) {
			logger.Printf("[queue:%s] ✅ completed %s", job.Lane, job.ID)
		},
		OnFailed: func(job *Job, err error, final bool) {
			if final {
				logger.Printf("[queue:%s] ❌ failed %s: %v", job.Lane, job.ID, err)
				return
			}
			logger.Printf("[queue:%s] ⚠️  %s attempt %d failed, retrying in %s: %v", job.Lane, job.ID, job.Attempts, job.retryDelay(), err)
		},
	}
}

func (h Hooks) active(job *Job) {
	if h.OnActive != nil {
		h.OnActive(job)
	}
}

func (h Hooks) completed(job *Job) {
	if h.OnCompleted != nil {
		h.OnCompleted(job)
	}
}

func (h Hooks) failed(job *Job, err error, final bool) {
	if h.OnFailed != nil {
		h.OnFailed(job, err, final)
	}
}

// Backend stores jobs and hands them to consumers.
type Backend interface {
	// Enqueue inserts job as pending. A pending or active job with the same
	// id absorbs the call; a completed or failed one is re-armed.
	Enqueue(ctx context.Context, job *Job) (created bool, err error)
	// Consume runs handler on jobs of lane with the given concurrency until
	// ctx is cancelled, then waits for in-flight jobs to return.
	Consume(ctx context.Context, lane string, concurrency int, handler HandlerFunc) error
	Get(ctx context.Context, id string) (*Job, error)
}
