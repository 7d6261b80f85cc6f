package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"script-studio/artifacts"
	"script-studio/llm"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/types"
	"script-studio/validate"
)

// ─────────────────────────────────────────────
// Shared helpers
// ─────────────────────────────────────────────

// prompt renders the step prompt or reports its missing inputs.
func (d *Dispatcher) prompt(ctx context.Context, p *types.Project, step types.StepName) (*prompts.Prompt, error) {
	pr, err := d.deps.Prompts.Build(ctx, p, step)
	if err != nil {
		return nil, fmt.Errorf("%s: build prompt: %w", step, err)
	}
	if !pr.Ready() {
		return nil, &MissingArtifactError{Step: step, Missing: pr.Missing}
	}
	return pr, nil
}

// completeJSON calls the model and returns the fence-stripped JSON body.
func (d *Dispatcher) completeJSON(ctx context.Context, step types.StepName, pr *prompts.Prompt) ([]byte, error) {
	text, err := d.deps.LLM.Complete(ctx, llm.Request{System: pr.System, Prompt: pr.User})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	body := llm.CleanJSON(text)
	if !json.Valid([]byte(body)) {
		return nil, fmt.Errorf("%s: %w: %s", step, ErrUnparsable, llm.Snippet(body, 200))
	}
	return []byte(body), nil
}

// enqueue submits the follow-up step. A job already pending for it absorbs
// the submission; a finished one is re-armed.
func (d *Dispatcher) enqueue(ctx context.Context, from types.StepName, projectID string, next types.StepName) error {
	if d.deps.Queue == nil {
		return nil
	}
	h, err := d.deps.Queue.Submit(ctx, queue.Payload{ProjectID: projectID, Step: next})
	if err != nil {
		return fmt.Errorf("%s: queue %s: %w", from, next, err)
	}
	if !h.Created {
		d.deps.Logger.Printf("[%s] %s already queued for %s", from, next, projectID)
	}
	return nil
}

func (d *Dispatcher) warn(step types.StepName, projectID string, warnings []string) {
	for _, w := range warnings {
		d.deps.Logger.Printf("[%s] ⚠️  %s: %s", step, projectID, w)
	}
}

func continuityOf(p *types.Project) types.ContinuityMode {
	if p.ContinuityMode == "" {
		return types.ContinuityLight
	}
	return p.ContinuityMode
}

// ─────────────────────────────────────────────
// topic_research
// ─────────────────────────────────────────────

func (d *Dispatcher) topicResearch(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	progress(10, "gathering sources")

	res := &types.Research{Topic: p.Topic, Items: []types.ResearchItem{}}
	if d.deps.Research != nil {
		gathered, err := d.deps.Research.Gather(ctx, p)
		if err != nil {
			return fmt.Errorf("topic_research: %w", err)
		}
		res = gathered
	}
	if res.CreatedAt == "" {
		res.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	d.warn(types.StepTopicResearch, p.ID, res.Warnings)

	progress(75, "saving research.json")
	_, err := d.deps.Artifacts.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: p.ID,
		Type:      types.ArtifactResearch,
		Filename:  "research.json",
		Meta:      map[string]any{"step": string(types.StepTopicResearch), "items": len(res.Items)},
	}, res)
	if err != nil {
		return fmt.Errorf("topic_research: save: %w", err)
	}

	if err := d.setStatus(ctx, p.ID, types.StatusResearchReady); err != nil {
		return err
	}
	progress(100, "done")
	return nil
}

// ─────────────────────────────────────────────
// metadata_generate
// ─────────────────────────────────────────────

func (d *Dispatcher) metadataGenerate(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	step := types.StepMetadataGenerate
	progress(10, "loading prompt + configs")
	pr, err := d.prompt(ctx, p, step)
	if err != nil {
		return err
	}

	progress(40, "calling llm")
	body, err := d.completeJSON(ctx, step, pr)
	if err != nil {
		return err
	}

	progress(55, "validating content constraints")
	res, err := validate.ContentPack(body, continuityOf(p), d.deps.Limits)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	d.warn(step, p.ID, res.Warnings)
	pack := res.Pack

	progress(75, "saving artifacts")
	if err := SaveContentPack(ctx, d.deps.Artifacts, p.ID, pack, string(step), d.deps.Script.Channel, d.deps.Script.Format); err != nil {
		return err
	}

	if err := d.setStatus(ctx, p.ID, types.StatusMetadataReady); err != nil {
		return err
	}

	progress(90, "queueing script_qa")
	if err := d.enqueue(ctx, step, p.ID, types.StepScriptQA); err != nil {
		return err
	}
	progress(100, "done")
	return nil
}

// ─────────────────────────────────────────────
// script_qa
// ─────────────────────────────────────────────

func (d *Dispatcher) scriptQA(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	step := types.StepScriptQA
	progress(10, "loading latest script")
	pr, err := d.prompt(ctx, p, step)
	if err != nil {
		return err
	}

	progress(55, "calling llm for qa")
	body, err := d.completeJSON(ctx, step, pr)
	if err != nil {
		return err
	}
	report, err := validate.QAReport(body)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	// The reply is kept whole so refine sees every reviewer field.
	progress(75, "saving qa report")
	meta := map[string]any{
		"step":                      string(step),
		"approved":                  report.Approved,
		"issues":                    report.Issues,
		"source_script_artifact_id": pr.Sources[types.ArtifactScriptFinal],
	}
	if _, err := d.deps.Artifacts.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: p.ID, Type: types.ArtifactQAReport, Filename: "qa_report.json", Meta: meta,
	}, json.RawMessage(body)); err != nil {
		return fmt.Errorf("%s: save report: %w", step, err)
	}

	if !report.IsApproved() {
		return fmt.Errorf("%w (see qa_report.json for details)", ErrQARejected)
	}

	if err := d.setStatus(ctx, p.ID, types.StatusScriptQAPassed); err != nil {
		return err
	}
	// segments submitted by run have usually spent their retries by now
	progress(90, "queueing script_segments_generate")
	if err := d.enqueue(ctx, step, p.ID, types.StepScriptSegments); err != nil {
		return err
	}
	progress(100, "approved")
	return nil
}

// ─────────────────────────────────────────────
// script_refine
// ─────────────────────────────────────────────

func (d *Dispatcher) scriptRefine(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	step := types.StepScriptRefine
	progress(10, "loading latest script + qa report")
	pr, err := d.prompt(ctx, p, step)
	if err != nil {
		return err
	}

	progress(55, "calling llm to refine")
	body, err := d.completeJSON(ctx, step, pr)
	if err != nil {
		return err
	}

	progress(70, "validating refined content")
	res, err := validate.ScriptPack(body, d.deps.Limits)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	d.warn(step, p.ID, res.Warnings)

	progress(85, "saving refined script")
	if err := d.saveScriptAndMeta(ctx, p.ID, res.Pack, step); err != nil {
		return err
	}
	if err := d.deps.Series.RecordEpisode(ctx, p); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}

	if err := d.setStatus(ctx, p.ID, types.StatusScriptRefined); err != nil {
		return err
	}
	progress(100, "refined")
	return nil
}

// ─────────────────────────────────────────────
// script_segments_generate
// ─────────────────────────────────────────────

func (d *Dispatcher) scriptSegments(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	step := types.StepScriptSegments
	progress(10, "loading latest script + character")
	pr, err := d.prompt(ctx, p, step)
	if err != nil {
		return err
	}

	progress(45, "calling llm")
	body, err := d.completeJSON(ctx, step, pr)
	if err != nil {
		return err
	}
	plan, err := validate.Segments(body)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	lockFace(plan, d.deps.Segments.FaceLockPhrase, d.deps.Segments.NegativePrompt)

	progress(80, "saving script_segments.json")
	meta := map[string]any{
		"step":                      string(step),
		"segments":                  len(plan.Segments),
		"source_script_artifact_id": pr.Sources[types.ArtifactScriptFinal],
	}
	if _, err := d.deps.Artifacts.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: p.ID, Type: types.ArtifactScriptSegments, Filename: "script_segments.json", Meta: meta,
	}, plan); err != nil {
		return fmt.Errorf("%s: save: %w", step, err)
	}

	if err := d.setStatus(ctx, p.ID, types.StatusScriptSegmentsReady); err != nil {
		return err
	}
	progress(100, "done")
	return nil
}

// lockFace makes every visual prompt carry the face-lock phrase so the
// character renders consistently, and fills empty negative prompts.
func lockFace(plan *types.SegmentPlan, phrase, negative string) {
	plan.FaceLockPhrase = phrase
	for i := range plan.Segments {
		seg := &plan.Segments[i]
		if phrase != "" && !strings.Contains(strings.ToLower(seg.VisualPrompt), strings.ToLower(phrase)) {
			if seg.VisualPrompt == "" {
				seg.VisualPrompt = phrase
			} else {
				seg.VisualPrompt = seg.VisualPrompt + ", " + phrase
			}
		}
		if seg.NegativePrompt == "" {
			seg.NegativePrompt = negative
		}
	}
}

// ─────────────────────────────────────────────
// thumbnail_generate
// ─────────────────────────────────────────────

// thumbnail is a placeholder until image generation is wired.
func (d *Dispatcher) thumbnail(ctx context.Context, p *types.Project, progress queue.ProgressFunc) error {
	progress(100, "skipped (not implemented)")
	return nil
}
