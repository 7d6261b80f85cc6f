// Package prompts loads prompt templates and renders the prompt of each
// LLM-backed step from the project, its series and its latest artifacts.
package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"script-studio/artifacts"
	"script-studio/config"
	"script-studio/series"
	"script-studio/types"
)

const (
	generatorSystem = "You are a reliable content generator. Follow instructions strictly. Return exactly what the prompt requests."
	reviewerSystem  = "You are a strict QA reviewer for YouTube scripts. Follow the rubric. Return exactly what the prompt requests."
)

// ErrNoPrompt is returned for steps that do not call the model.
var ErrNoPrompt = errors.New("step has no prompt")

var templateNames = map[types.StepName]string{
	types.StepMetadataGenerate: "content_pack_generate",
	types.StepScriptQA:         "script_qa",
	types.StepScriptRefine:     "script_refine",
	types.StepScriptSegments:   "script_segments_generate",
	types.StepThumbnail:        "thumbnail_generate",
}

var configTexts = []string{"persona.yaml", "style_rules.yaml", "character.yaml"}

// prerequisites are the artifact types a step cannot run without
var prerequisites = map[types.StepName][]types.ArtifactType{
	types.StepScriptQA:       {types.ArtifactScriptFinal},
	types.StepScriptRefine:   {types.ArtifactScriptFinal, types.ArtifactQAReport},
	types.StepScriptSegments: {types.ArtifactScriptFinal},
	types.StepThumbnail:      {types.ArtifactMetadata},
}

// Prerequisites returns the artifact types step requires.
func Prerequisites(step types.StepName) []types.ArtifactType {
	return prerequisites[step]
}

// HasPrompt reports whether step renders a model prompt.
func HasPrompt(step types.StepName) bool {
	_, ok := templateNames[step]
	return ok
}

// Prompt is a rendered step prompt. When Missing is non-empty nothing was
// rendered.
type Prompt struct {
	Step    types.StepName
	System  string
	User    string
	Missing []types.ArtifactType
	// Sources maps a prerequisite type to the artifact id that was read.
	Sources map[types.ArtifactType]string
}

func (p *Prompt) Ready() bool { return len(p.Missing) == 0 }

// Chat returns the prompt in system/user chat layout.
func (p *Prompt) Chat() string { return ToChatFormat(p.System, p.User) }

// Builder renders step prompts
type Builder struct {
	loader    *Loader
	series    *series.Service
	artifacts *artifacts.Registry
	script    config.ScriptConfig
	segments  config.SegmentsConfig
}

func NewBuilder(loader *Loader, ss *series.Service, reg *artifacts.Registry, script config.ScriptConfig, segments config.SegmentsConfig) *Builder {
	return &Builder{loader: loader, series: ss, artifacts: reg, script: script, segments: segments}
}

// Build renders the prompt for step. Missing prerequisites are reported on
// the returned Prompt, not as an error.
func (b *Builder) Build(ctx context.Context, p *types.Project, step types.StepName) (*Prompt, error) {
	name, ok := templateNames[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPrompt, step)
	}
	out := &Prompt{Step: step, Sources: map[types.ArtifactType]string{}}

	texts := map[types.ArtifactType]string{}
	for _, t := range prerequisites[step] {
		a, err := b.artifacts.Latest(ctx, p.ID, t)
		if err != nil {
			return nil, err
		}
		if a == nil {
			out.Missing = append(out.Missing, t)
			continue
		}
		text, err := b.artifacts.ReadText(ctx, a)
		if err != nil {
			return nil, err
		}
		texts[t] = text
		out.Sources[t] = a.ID
	}
	if !out.Ready() {
		return out, nil
	}

	tmpl, err := b.loader.Template(name)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"topic":            orDefault(p.Topic, "Untitled topic"),
		"angle":            orDefault(p.Pillar, b.script.DefaultAngle),
		"main_tone":        p.Tone,
		"language":         p.Language,
		"duration_minutes": p.DurationMinutes,
		"format":           p.Format,
		"face_lock_phrase": b.segments.FaceLockPhrase,
		"negative_prompt":  b.segments.NegativePrompt,
		"script_text":      texts[types.ArtifactScriptFinal],
		"qa_report_json":   texts[types.ArtifactQAReport],
		"metadata_json":    texts[types.ArtifactMetadata],
	}

	switch step {
	case types.StepMetadataGenerate, types.StepScriptRefine:
		if err := b.addContinuity(ctx, p, vars); err != nil {
			return nil, err
		}
		if err := b.addConfigTexts(vars, "persona.yaml", "style_rules.yaml"); err != nil {
			return nil, err
		}
		if step == types.StepMetadataGenerate {
			vars["research_json"] = b.optionalText(ctx, p.ID, types.ArtifactResearch, "{}")
		}
	case types.StepScriptQA:
		vars["metadata_json"] = b.optionalText(ctx, p.ID, types.ArtifactMetadata, "{}")
		vars["next_ideas_json"] = b.optionalText(ctx, p.ID, types.ArtifactNextIdeas, "[]")
	case types.StepScriptSegments, types.StepThumbnail:
		if err := b.addConfigTexts(vars, "character.yaml"); err != nil {
			return nil, err
		}
	}

	out.System = generatorSystem
	if step == types.StepScriptQA {
		out.System = reviewerSystem
	}
	out.User = Render(tmpl, vars)
	return out, nil
}

func (b *Builder) addContinuity(ctx context.Context, p *types.Project, vars map[string]any) error {
	sc, err := b.series.Context(ctx, p)
	if err != nil {
		return err
	}
	bible, err := json.MarshalIndent(sc.Bible, "", "  ")
	if err != nil {
		return fmt.Errorf("encode series bible: %w", err)
	}
	memory, err := json.MarshalIndent(sc.Memory, "", "  ")
	if err != nil {
		return fmt.Errorf("encode series memory: %w", err)
	}
	vars["series_bible_json"] = string(bible)
	vars["series_memory_json"] = string(memory)
	vars["continuity_mode"] = string(sc.ContinuityMode)
	return nil
}

func (b *Builder) addConfigTexts(vars map[string]any, names ...string) error {
	for _, name := range names {
		text, err := b.loader.ConfigText(name)
		if err != nil {
			return err
		}
		vars[strings.TrimSuffix(name, ".yaml")+"_yaml"] = text
	}
	return nil
}

// optionalText reads the latest artifact of type t, or returns fallback.
func (b *Builder) optionalText(ctx context.Context, projectID string, t types.ArtifactType, fallback string) string {
	a, err := b.artifacts.Latest(ctx, projectID, t)
	if err != nil || a == nil {
		return fallback
	}
	text, err := b.artifacts.ReadText(ctx, a)
	if err != nil {
		return fallback
	}
	return text
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
