package pipeline

import (
	"context"
	"fmt"
	"log"

	"script-studio/config"
	"script-studio/queue"
	"script-studio/types"
)

// Submitter hands a step job to the queue
type Submitter interface {
	Submit(ctx context.Context, p queue.Payload) (queue.Handle, error)
}

// ProjectReader looks up projects
type ProjectReader interface {
	GetProject(ctx context.Context, id string) (*types.Project, error)
}

// GraphLoader returns the declared step graph.
type GraphLoader func() ([]config.Step, error)

// FileGraph loads the graph from path on every call, so edits apply to the
// next run without a restart.
func FileGraph(path string) GraphLoader {
	return func() ([]config.Step, error) { return config.LoadPipeline(path) }
}

// StaticGraph always returns steps.
func StaticGraph(steps []config.Step) GraphLoader {
	return func() ([]config.Step, error) { return steps, nil }
}

// RunResult lists what a run submitted, in submission order
type RunResult struct {
	ProjectID string         `json:"project_id"`
	Steps     []string       `json:"steps"`
	Jobs      []queue.Handle `json:"jobs"`
}

// Orchestrator is the run/refine entry point
type Orchestrator struct {
	projects ProjectReader
	queue    Submitter
	graph    GraphLoader
	logger   *log.Logger
}

func NewOrchestrator(projects ProjectReader, q Submitter, graph GraphLoader, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{projects: projects, queue: q, graph: graph, logger: logger}
}

// Plan loads and orders the graph. Steps no worker can execute are
// rejected here so a run never submits a job that cannot be handled.
func (o *Orchestrator) Plan() ([]types.StepName, error) {
	steps, err := o.graph()
	if err != nil {
		return nil, err
	}
	order, err := Order(steps)
	if err != nil {
		return nil, err
	}
	out := make([]types.StepName, 0, len(order))
	for _, name := range order {
		step, err := types.ParseStep(name)
		if err != nil {
			return nil, &ConfigError{Step: name, Reason: "no handler for step"}
		}
		out = append(out, step)
	}
	return out, nil
}

// Run submits every step of the graph for projectID in dependency order and
// returns without waiting for any of them.
func (o *Orchestrator) Run(ctx context.Context, projectID string) (*RunResult, error) {
	if _, err := o.projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	steps, err := o.Plan()
	if err != nil {
		return nil, err
	}

	res := &RunResult{ProjectID: projectID}
	for _, step := range steps {
		h, err := o.queue.Submit(ctx, queue.Payload{ProjectID: projectID, Step: step})
		if err != nil {
			return res, fmt.Errorf("submit %s: %w", step, err)
		}
		res.Steps = append(res.Steps, string(step))
		res.Jobs = append(res.Jobs, h)
	}
	o.logger.Printf("[pipeline] run %s: submitted %v", projectID, res.Steps)
	return res, nil
}

// Refine submits script_refine followed by script_qa. QA fails fast if the
// refined script is not written yet and is retried.
func (o *Orchestrator) Refine(ctx context.Context, projectID string) (*RunResult, error) {
	if _, err := o.projects.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("project %s: %w", projectID, err)
	}
	res := &RunResult{ProjectID: projectID}
	for _, step := range []types.StepName{types.StepScriptRefine, types.StepScriptQA} {
		h, err := o.queue.Submit(ctx, queue.Payload{ProjectID: projectID, Step: step})
		if err != nil {
			return res, fmt.Errorf("submit %s: %w", step, err)
		}
		res.Steps = append(res.Steps, string(step))
		res.Jobs = append(res.Jobs, h)
	}
	o.logger.Printf("[pipeline] refine %s: submitted %v", projectID, res.Steps)
	return res, nil
}
