package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"script-studio/artifacts"
	"script-studio/types"
)

type partStat struct {
	Part      int    `json:"part"`
	RealCount int    `json:"real_count"`
	WordCount int    `json:"word_count"`
	Role      string `json:"role,omitempty"`
	Corrected bool   `json:"word_count_corrected,omitempty"`
}

type packMetadata struct {
	Title          string          `json:"title,omitempty"`
	Channel        string          `json:"channel"`
	Format         string          `json:"format"`
	TotalWordCount int             `json:"total_word_count"`
	Parts          []partStat      `json:"parts"`
	Compliance     map[string]bool `json:"compliance"`
}

// ScriptText joins the part contents into the final script.
func ScriptText(pack *types.ScriptPack) string {
	texts := make([]string, len(pack.Parts))
	for i, part := range pack.Parts {
		texts[i] = strings.TrimSpace(part.Content)
	}
	return strings.Join(texts, "\n\n")
}

func partStats(pack *types.ScriptPack) []partStat {
	stats := make([]partStat, len(pack.Parts))
	for i, part := range pack.Parts {
		stats[i] = partStat{
			Part:      part.Part,
			RealCount: part.RealCount,
			WordCount: part.WordCount,
			Role:      part.Role,
			Corrected: part.WordCountCorrected,
		}
	}
	return stats
}

// saveScriptAndMeta writes script_final.md and metadata.json for a
// validated pack.
func (d *Dispatcher) saveScriptAndMeta(ctx context.Context, projectID string, pack *types.ScriptPack, step types.StepName) error {
	return SaveScriptPack(ctx, d.deps.Artifacts, projectID, pack, string(step), d.deps.Script.Channel, d.deps.Script.Format)
}

// SaveScriptPack persists the script text and its metadata. channel and
// format fill in values the pack leaves empty.
func SaveScriptPack(ctx context.Context, reg *artifacts.Registry, projectID string, pack *types.ScriptPack, step, channel, format string) error {
	stats := partStats(pack)

	_, err := reg.Save(ctx, artifacts.SaveParams{
		ProjectID: projectID,
		Type:      types.ArtifactScriptFinal,
		Filename:  "script_final.md",
		Content:   []byte(ScriptText(pack)),
		Meta: map[string]any{
			"step":             step,
			"total_word_count": pack.TotalWordCount,
			"parts":            stats,
		},
	})
	if err != nil {
		return fmt.Errorf("%s: save script: %w", step, err)
	}

	md := packMetadata{
		Title:          pack.Title,
		Channel:        orDefault(pack.Channel, channel),
		Format:         orDefault(pack.Format, format),
		TotalWordCount: pack.TotalWordCount,
		Parts:          stats,
		Compliance:     pack.Compliance,
	}
	if md.Compliance == nil {
		md.Compliance = map[string]bool{}
	}
	_, err = reg.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: projectID,
		Type:      types.ArtifactMetadata,
		Filename:  "metadata.json",
		Meta:      map[string]any{"step": step},
	}, md)
	if err != nil {
		return fmt.Errorf("%s: save metadata: %w", step, err)
	}
	return nil
}

// SaveContentPack is SaveScriptPack plus the scene plan and next ideas a
// metadata pack carries.
func SaveContentPack(ctx context.Context, reg *artifacts.Registry, projectID string, pack *types.ScriptPack, step, channel, format string) error {
	if err := SaveScriptPack(ctx, reg, projectID, pack, step, channel, format); err != nil {
		return err
	}
	scenes := pack.Scenes
	if scenes == nil {
		scenes = []json.RawMessage{}
	}
	meta := map[string]any{"step": step}
	if _, err := reg.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: projectID, Type: types.ArtifactScenePlan, Filename: "scene_plan.json", Meta: meta,
	}, scenes); err != nil {
		return fmt.Errorf("%s: save scene plan: %w", step, err)
	}
	ideas := pack.NextIdeas
	if ideas == nil {
		ideas = []types.NextIdea{}
	}
	if _, err := reg.SaveJSON(ctx, artifacts.SaveParams{
		ProjectID: projectID, Type: types.ArtifactNextIdeas, Filename: "next_ideas.json", Meta: meta,
	}, ideas); err != nil {
		return fmt.Errorf("%s: save next ideas: %w", step, err)
	}
	return nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
