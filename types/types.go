package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores and services when a record does not exist.
var ErrNotFound = errors.New("not found")

// ContinuityMode is how strongly an episode must carry over series state
type ContinuityMode string

const (
	ContinuityNone               ContinuityMode = "none"
	ContinuityLight              ContinuityMode = "light"
	ContinuityOccasionallyStrong ContinuityMode = "occasionally_strong"
)

// Valid reports whether m is one of the known continuity modes.
func (m ContinuityMode) Valid() bool {
	switch m {
	case ContinuityNone, ContinuityLight, ContinuityOccasionallyStrong:
		return true
	}
	return false
}

// ProjectStatus is the lifecycle pointer of a project. Step handlers set it
// last, after their artifacts are persisted.
type ProjectStatus string

const (
	StatusIdeaSelected        ProjectStatus = "idea_selected"
	StatusResearchReady       ProjectStatus = "research_ready"
	StatusMetadataReady       ProjectStatus = "metadata_ready"
	StatusScriptQAPassed      ProjectStatus = "script_qa_passed"
	StatusScriptRefined       ProjectStatus = "script_refined"
	StatusScriptSegmentsReady ProjectStatus = "script_segments_ready"
	StatusThumbnailReady      ProjectStatus = "thumbnail_ready"
	StatusScenesPlanned       ProjectStatus = "scenes_planned"
	StatusVideoRendered       ProjectStatus = "video_rendered"
	StatusPublished           ProjectStatus = "published"
	StatusFailed              ProjectStatus = "failed"
)

// ManualStatuses are the only values an operator may set directly.
var ManualStatuses = []ProjectStatus{
	StatusIdeaSelected,
	StatusScenesPlanned,
	StatusVideoRendered,
	StatusPublished,
}

// Project is one video being produced
type Project struct {
	ID              string         `json:"id"`
	Topic           string         `json:"topic"`
	Language        string         `json:"language"`
	DurationMinutes int            `json:"duration_minutes"`
	Format          string         `json:"format"`
	Tone            string         `json:"tone"`
	Pillar          string         `json:"pillar"`
	SeriesID        *string        `json:"series_id,omitempty"`
	ContinuityMode  ContinuityMode `json:"continuity_mode"`
	Status          ProjectStatus  `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// ProjectUpdate carries the mutable fields of a project. Nil fields are left untouched.
type ProjectUpdate struct {
	Status *ProjectStatus
}

// ArtifactType is the closed set of artifact tags
type ArtifactType string

const (
	ArtifactScriptFinal    ArtifactType = "script_final_text"
	ArtifactMetadata       ArtifactType = "metadata_json"
	ArtifactQAReport       ArtifactType = "qa_report_json"
	ArtifactScriptSegments ArtifactType = "script_segments_json"
	ArtifactScenePlan      ArtifactType = "scene_plan_json"
	ArtifactNextIdeas      ArtifactType = "next_ideas_json"
	ArtifactPromptText     ArtifactType = "llm_prompt_text"
	ArtifactResearch       ArtifactType = "research_json"
	ArtifactThumbnailImage ArtifactType = "thumbnail_image"
)

// IsText reports whether content of this type is served as decoded text
// rather than base64.
func (t ArtifactType) IsText() bool {
	switch t {
	case ArtifactScriptFinal, ArtifactMetadata, ArtifactQAReport, ArtifactScriptSegments,
		ArtifactScenePlan, ArtifactNextIdeas, ArtifactPromptText, ArtifactResearch:
		return true
	}
	return false
}

// Artifact is an immutable output of a step
type Artifact struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Type      ArtifactType   `json:"type"`
	Filename  string         `json:"filename"`
	URI       string         `json:"uri"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// Series is a continuity profile shared by several projects
type Series struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Bible     map[string]any `json:"bible"`
	Disabled  bool           `json:"disabled"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SeriesUpdate carries the mutable fields of a series.
type SeriesUpdate struct {
	Name     *string
	Bible    map[string]any
	Disabled *bool
}

// SeriesMemory is the cross-episode state written by refine handlers.
// Revision is bumped on every write and checked by the store.
type SeriesMemory struct {
	SeriesID  string         `json:"series_id"`
	Memory    map[string]any `json:"memory"`
	Revision  int            `json:"revision"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StepName is the closed set of steps a worker knows how to execute
type StepName string

const (
	StepTopicResearch    StepName = "topic_research"
	StepMetadataGenerate StepName = "metadata_generate"
	StepScriptQA         StepName = "script_qa"
	StepScriptRefine     StepName = "script_refine"
	StepScriptSegments   StepName = "script_segments_generate"
	StepThumbnail        StepName = "thumbnail_generate"
)

// Steps lists every handled step in pipeline order.
var Steps = []StepName{
	StepTopicResearch,
	StepMetadataGenerate,
	StepScriptQA,
	StepScriptRefine,
	StepScriptSegments,
	StepThumbnail,
}

// ParseStep converts a raw step name into a StepName.
func ParseStep(name string) (StepName, error) {
	for _, s := range Steps {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown step %q", name)
}

// QAReport is the part of a QA reply the pipeline acts on. The reply itself
// is stored untouched. Approved is nil until a reviewer has said yes or no.
type QAReport struct {
	Approved *bool
	Summary  string
	Issues   int
}

// IsApproved reports an explicit approval.
func (r QAReport) IsApproved() bool {
	return r.Approved != nil && *r.Approved
}

// Part is one section of a script pack
type Part struct {
	Part               int    `json:"part"`
	Role               string `json:"role,omitempty"`
	WordCount          int    `json:"word_count"`
	RealCount          int    `json:"real_count"`
	WordCountCorrected bool   `json:"word_count_corrected,omitempty"`
	Content            string `json:"content"`
}

// IdeaSeries points a next idea at an existing or a new series
type IdeaSeries struct {
	Mode string `json:"mode"`
	Name string `json:"name"`
}

// NextIdea is one follow-up episode suggestion
type NextIdea struct {
	Topic           string         `json:"topic"`
	Pillar          string         `json:"pillar"`
	Tone            string         `json:"tone"`
	Series          IdeaSeries     `json:"series"`
	Continuity      ContinuityMode `json:"continuity"`
	DurationMinutes float64        `json:"duration_minutes"`
}

// ScriptPack is a validated content package produced by the model
type ScriptPack struct {
	Title          string            `json:"title,omitempty"`
	Channel        string            `json:"channel,omitempty"`
	Format         string            `json:"format,omitempty"`
	Parts          []Part            `json:"parts"`
	Compliance     map[string]bool   `json:"compliance,omitempty"`
	Scenes         []json.RawMessage `json:"scenes,omitempty"`
	NextIdeas      []NextIdea        `json:"next_ideas,omitempty"`
	TotalWordCount int               `json:"total_word_count"`
}

// Segment is one narrated scene with its image prompts
type Segment struct {
	Index          int     `json:"index"`
	Narration      string  `json:"narration"`
	VisualPrompt   string  `json:"visual_prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	DurationSec    float64 `json:"duration_sec,omitempty"`
}

// SegmentPlan is the output of script_segments_generate
type SegmentPlan struct {
	FaceLockPhrase string    `json:"face_lock_phrase"`
	Segments       []Segment `json:"segments"`
}

// ResearchItem is one external reference gathered by topic_research
type ResearchItem struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Excerpt   string `json:"excerpt,omitempty"`
	Score     int    `json:"score,omitempty"`
	Published string `json:"published,omitempty"`
}

// Research is the artifact written by topic_research
type Research struct {
	Topic     string         `json:"topic"`
	Items     []ResearchItem `json:"items"`
	Warnings  []string       `json:"warnings,omitempty"`
	CreatedAt string         `json:"created_at"`
}
