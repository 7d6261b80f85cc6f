package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"script-studio/config"
)

// defaultLanes routes steps by the resource they mostly wait on.
var defaultLanes = map[string]string{
	"metadata_generate":        LaneLLM,
	"script_qa":                LaneLLM,
	"script_refine":            LaneLLM,
	"script_segments_generate": LaneLLM,
	"thumbnail_generate":       LaneLLM,
	"topic_research":           LaneAssets,
	"asset_fetch":              LaneAssets,
	"tts_render":               LaneMedia,
	"video_render":             LaneMedia,
	"shorts_render":            LaneMedia,
}

// Router picks the lane of a step and submits its job
type Router struct {
	backend     Backend
	overrides   map[string]string
	maxAttempts int
	backoff     time.Duration
}

// NewRouter fails when a lane override names a lane outside Lanes, since no
// worker would ever consume its jobs.
func NewRouter(backend Backend, cfg config.QueueConfig) (*Router, error) {
	for step, lane := range cfg.Lanes {
		if lane != "" && !slices.Contains(Lanes, lane) {
			return nil, fmt.Errorf("queue.lanes: step %s routed to unknown lane %q (want one of %v)", step, lane, Lanes)
		}
	}
	r := &Router{
		backend:     backend,
		overrides:   cfg.Lanes,
		maxAttempts: cfg.Attempts,
		backoff:     cfg.Backoff,
	}
	if r.maxAttempts < 1 {
		r.maxAttempts = 1
	}
	return r, nil
}

// LaneFor returns the lane a step runs on. Unknown steps go to the
// pipeline lane.
func (r *Router) LaneFor(step string) string {
	if lane, ok := r.overrides[step]; ok && lane != "" {
		return lane
	}
	if lane, ok := defaultLanes[step]; ok {
		return lane
	}
	return LanePipeline
}

// JobID derives the job id of (projectID, step). Characters outside
// [A-Za-z0-9_-] become underscores.
func JobID(projectID, step string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, projectID+"__"+step)
}

// Submit enqueues the job for p and returns without waiting for it to run.
func (r *Router) Submit(ctx context.Context, p Payload) (Handle, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return Handle{}, fmt.Errorf("encode payload: %w", err)
	}
	step := string(p.Step)
	job := &Job{
		ID:          JobID(p.ProjectID, step),
		Lane:        r.LaneFor(step),
		Name:        step,
		Payload:     body,
		MaxAttempts: r.maxAttempts,
		Backoff:     r.backoff,
	}
	created, err := r.backend.Enqueue(ctx, job)
	if err != nil {
		return Handle{}, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	return Handle{ID: job.ID, Lane: job.Lane, Created: created}, nil
}

// Status returns the current state of a job.
func (r *Router) Status(ctx context.Context, id string) (*Job, error) {
	return r.backend.Get(ctx, id)
}
