// Package worker executes step jobs: each handler reads the latest
// artifacts, calls the model, validates the output, writes new artifacts and
// advances the project status last.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"script-studio/artifacts"
	"script-studio/config"
	"script-studio/llm"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/series"
	"script-studio/store"
	"script-studio/types"
	"script-studio/validate"
)

var (
	// ErrQARejected fails script_qa after the report is saved.
	ErrQARejected = errors.New("script_qa: NOT APPROVED")
	// ErrUnparsable means the model did not return valid JSON.
	ErrUnparsable = errors.New("model did not return valid JSON")
)

// MissingArtifactError is returned when a step runs before its inputs exist.
type MissingArtifactError struct {
	Step    types.StepName
	Missing []types.ArtifactType
}

func (e *MissingArtifactError) Error() string {
	names := make([]string, len(e.Missing))
	for i, t := range e.Missing {
		names[i] = string(t)
	}
	return fmt.Sprintf("%s: missing prerequisite artifact %s", e.Step, strings.Join(names, ", "))
}

// Researcher gathers reference material for a topic
type Researcher interface {
	Gather(ctx context.Context, p *types.Project) (*types.Research, error)
}

// Submitter enqueues follow-up steps
type Submitter interface {
	Submit(ctx context.Context, p queue.Payload) (queue.Handle, error)
}

// Deps are the collaborators shared by every handler
type Deps struct {
	Store     store.Store
	Artifacts *artifacts.Registry
	Prompts   *prompts.Builder
	LLM       llm.Completer
	Series    *series.Service
	Queue     Submitter
	Research  Researcher
	Limits    validate.Limits
	Script    config.ScriptConfig
	Segments  config.SegmentsConfig
	Logger    *log.Logger
}

// StepFunc runs one step for a loaded project.
type StepFunc func(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error

// Dispatcher routes jobs to step handlers and marks the project failed when
// a handler returns an error.
type Dispatcher struct {
	deps     Deps
	handlers map[types.StepName]StepFunc
}

func New(deps Deps) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	d := &Dispatcher{deps: deps}
	d.handlers = map[types.StepName]StepFunc{
		types.StepTopicResearch:    d.topicResearch,
		types.StepMetadataGenerate: d.metadataGenerate,
		types.StepScriptQA:         d.scriptQA,
		types.StepScriptRefine:     d.scriptRefine,
		types.StepScriptSegments:   d.scriptSegments,
		types.StepThumbnail:        d.thumbnail,
	}
	return d
}

// Handles reports whether a handler is registered for step.
func (d *Dispatcher) Handles(step types.StepName) bool {
	_, ok := d.handlers[step]
	return ok
}

// Handle is the queue.HandlerFunc for every lane.
func (d *Dispatcher) Handle(ctx context.Context, job *queue.Job, progress queue.ProgressFunc) error {
	payload, err := queue.DecodePayload(job.Payload)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	report := func(percent int, msg string) {
		progress(min(100, max(0, percent)), msg)
	}
	report(1, "starting")

	run, ok := d.handlers[payload.Step]
	if !ok {
		return fmt.Errorf("job %s: no handler for step %s", job.ID, payload.Step)
	}

	p, err := d.deps.Store.GetProject(ctx, payload.ProjectID)
	if err != nil {
		return fmt.Errorf("project %s: %w", payload.ProjectID, err)
	}

	d.deps.Logger.Printf("[worker] %s → %s", payload.Step, p.ID)
	if err := run(ctx, p, report); err != nil {
		d.markFailed(ctx, p.ID, payload.Step, err)
		return err
	}
	d.deps.Logger.Printf("[worker] ✅ %s done for %s", payload.Step, p.ID)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, projectID string, step types.StepName, cause error) {
	d.deps.Logger.Printf("[worker] ❌ %s failed for %s: %v", step, projectID, cause)
	failed := types.StatusFailed
	if _, err := d.deps.Store.UpdateProject(ctx, projectID, types.ProjectUpdate{Status: &failed}); err != nil {
		d.deps.Logger.Printf("[worker] ⚠️  could not mark %s failed: %v", projectID, err)
	}
}

func (d *Dispatcher) setStatus(ctx context.Context, projectID string, status types.ProjectStatus) error {
	if _, err := d.deps.Store.UpdateProject(ctx, projectID, types.ProjectUpdate{Status: &status}); err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// Run consumes every lane with the given per-lane concurrency until ctx is
// cancelled, then waits for in-flight jobs.
func Run(ctx context.Context, backend queue.Backend, d *Dispatcher, lanes []string, concurrency int) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(lanes))
	for _, lane := range lanes {
		wg.Add(1)
		go func(lane string) {
			defer wg.Done()
			d.deps.Logger.Printf("[worker] consuming lane %s (concurrency %d)", lane, concurrency)
			if err := backend.Consume(ctx, lane, concurrency, d.Handle); err != nil {
				errs <- fmt.Errorf("lane %s: %w", lane, err)
			}
		}(lane)
	}
	wg.Wait()
	close(errs)
	return errors.Join(collect(errs)...)
}

func collect(errs <-chan error) []error {
	var out []error
	for err := range errs {
		out = append(out, err)
	}
	return out
}
