package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/prompts"
	"script-studio/types"
	"script-studio/worker"
)

// PromptSteps are the steps whose prompts operators can inspect.
var PromptSteps = []types.StepName{
	types.StepMetadataGenerate,
	types.StepScriptQA,
	types.StepScriptRefine,
	types.StepScriptSegments,
	types.StepThumbnail,
}

// PromptStatus tells an operator whether a step prompt can be produced yet
type PromptStatus struct {
	Step    types.StepName `json:"step"`
	Exists  bool           `json:"exists"`
	Enabled bool           `json:"enabled"`
	Reason  *string        `json:"reason"`
}

// PromptText is a prompt in chat layout
type PromptText struct {
	Step    types.StepName `json:"step"`
	Content string         `json:"content"`
	Saved   bool           `json:"saved"`
}

// EnsureResult reports what EnsurePrompt did
type EnsureResult struct {
	Step    types.StepName `json:"step"`
	Enabled bool           `json:"enabled"`
	Created bool           `json:"created"`
	Reason  *string        `json:"reason,omitempty"`
}

// Preview is a freshly rendered prompt that is not saved
type Preview struct {
	Step    types.StepName                `json:"step"`
	System  string                        `json:"system"`
	User    string                        `json:"user"`
	Sources map[types.ArtifactType]string `json:"sources"`
}

func promptFile(step types.StepName) string { return string(step) + ".txt" }

func promptPath(step types.StepName) string { return "prompts/" + promptFile(step) }

// parsePromptStep defaults to metadata_generate when name is empty.
func parsePromptStep(name string) (types.StepName, error) {
	if strings.TrimSpace(name) == "" {
		return types.StepMetadataGenerate, nil
	}
	step, err := types.ParseStep(name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	for _, s := range PromptSteps {
		if s == step {
			return step, nil
		}
	}
	return "", fmt.Errorf("%w: step %s has no prompt", ErrInvalid, step)
}

// project checks the id before it is used in a blob path.
func (s *Service) project(ctx context.Context, id string) (*types.Project, error) {
	if err := blob.SafeProjectID(id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s.deps.Store.GetProject(ctx, id)
}

func (s *Service) missing(ctx context.Context, projectID string, step types.StepName) ([]types.ArtifactType, error) {
	var out []types.ArtifactType
	for _, t := range prompts.Prerequisites(step) {
		a, err := s.deps.Artifacts.Latest(ctx, projectID, t)
		if err != nil {
			return nil, err
		}
		if a == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func missingReason(missing []types.ArtifactType) *string {
	names := make([]string, len(missing))
	for i, t := range missing {
		names[i] = string(t)
	}
	r := "Missing prerequisites: " + strings.Join(names, ", ")
	return &r
}

// PromptStatus reports, per prompt step, whether a saved prompt exists and
// whether one can be built now.
func (s *Service) PromptStatus(ctx context.Context, projectID string) ([]PromptStatus, error) {
	if _, err := s.project(ctx, projectID); err != nil {
		return nil, err
	}
	out := make([]PromptStatus, 0, len(PromptSteps))
	for _, step := range PromptSteps {
		exists, err := s.deps.Blobs.Exists(ctx, projectID, promptPath(step))
		if err != nil {
			return nil, fmt.Errorf("prompt status %s: %w", step, err)
		}
		missing, err := s.missing(ctx, projectID, step)
		if err != nil {
			return nil, err
		}
		st := PromptStatus{Step: step, Exists: exists, Enabled: exists || len(missing) == 0}
		if !st.Enabled {
			st.Reason = missingReason(missing)
		}
		out = append(out, st)
	}
	return out, nil
}

// savedPrompt returns the newest saved prompt for step, or nil.
func (s *Service) savedPrompt(ctx context.Context, projectID string, step types.StepName) (*types.Artifact, error) {
	list, err := s.deps.Artifacts.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.Type == types.ArtifactPromptText && a.Filename == promptFile(step) {
			return a, nil
		}
	}
	return nil, nil
}

// PromptContent returns the saved prompt for step, or renders it when none
// was saved.
func (s *Service) PromptContent(ctx context.Context, projectID, stepName string) (*PromptText, error) {
	step, err := parsePromptStep(stepName)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	a, err := s.savedPrompt(ctx, projectID, step)
	if err != nil {
		return nil, err
	}
	if a != nil {
		text, err := s.deps.Artifacts.ReadText(ctx, a)
		if err != nil {
			return nil, err
		}
		return &PromptText{Step: step, Content: text, Saved: true}, nil
	}

	pr, err := s.build(ctx, p, step)
	if err != nil {
		return nil, err
	}
	return &PromptText{Step: step, Content: pr.Chat()}, nil
}

// EnsurePrompt saves the step prompt once. An existing prompt is kept as is;
// missing prerequisites are reported, not treated as an error.
func (s *Service) EnsurePrompt(ctx context.Context, projectID, stepName string) (*EnsureResult, error) {
	step, err := parsePromptStep(stepName)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	exists, err := s.deps.Blobs.Exists(ctx, projectID, promptPath(step))
	if err != nil {
		return nil, fmt.Errorf("ensure prompt %s: %w", step, err)
	}
	if exists {
		return &EnsureResult{Step: step, Enabled: true}, nil
	}

	pr, err := s.deps.Prompts.Build(ctx, p, step)
	if err != nil {
		return nil, err
	}
	if !pr.Ready() {
		return &EnsureResult{Step: step, Reason: missingReason(pr.Missing)}, nil
	}
	_, err = s.deps.Artifacts.Save(ctx, artifacts.SaveParams{
		ProjectID: projectID,
		Type:      types.ArtifactPromptText,
		Filename:  promptFile(step),
		Content:   []byte(pr.Chat()),
		Meta:      map[string]any{"step": string(step), "sources": pr.Sources},
		BlobPath:  promptPath(step),
		Exclusive: true,
	})
	if errors.Is(err, blob.ErrExists) {
		// another caller saved it since the check above
		return &EnsureResult{Step: step, Enabled: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ensure prompt %s: %w", step, err)
	}
	s.deps.Logger.Printf("[projects] saved %s prompt for %s", step, projectID)
	return &EnsureResult{Step: step, Enabled: true, Created: true}, nil
}

// PreviewPrompt renders the step prompt without saving it.
func (s *Service) PreviewPrompt(ctx context.Context, projectID, stepName string) (*Preview, error) {
	step, err := parsePromptStep(stepName)
	if err != nil {
		return nil, err
	}
	p, err := s.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pr, err := s.build(ctx, p, step)
	if err != nil {
		return nil, err
	}
	return &Preview{Step: step, System: pr.System, User: pr.User, Sources: pr.Sources}, nil
}

// build renders a prompt and turns missing prerequisites into an error.
func (s *Service) build(ctx context.Context, p *types.Project, step types.StepName) (*prompts.Prompt, error) {
	pr, err := s.deps.Prompts.Build(ctx, p, step)
	if errors.Is(err, prompts.ErrNoPrompt) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err != nil {
		return nil, err
	}
	if !pr.Ready() {
		return nil, &worker.MissingArtifactError{Step: step, Missing: pr.Missing}
	}
	return pr, nil
}
