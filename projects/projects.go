// Package projects holds the operator-facing operations: project lifecycle,
// run and refine, artifact access, prompt inspection, script pack import,
// series management and job lookup. The api package serves it over HTTP.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/google/uuid"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/config"
	"script-studio/llm"
	"script-studio/pipeline"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/series"
	"script-studio/store"
	"script-studio/types"
	"script-studio/validate"
	"script-studio/worker"
)

// ErrInvalid is returned for malformed operator input.
var ErrInvalid = errors.New("invalid request")

const (
	defaultLanguage = "en"
	defaultDuration = 6
	defaultFormat   = "youtube_long"
	importStep      = "script_import"
)

// Runner starts pipeline runs
type Runner interface {
	Run(ctx context.Context, projectID string) (*pipeline.RunResult, error)
	Refine(ctx context.Context, projectID string) (*pipeline.RunResult, error)
}

// JobReader looks up queued jobs
type JobReader interface {
	Status(ctx context.Context, id string) (*queue.Job, error)
}

type Deps struct {
	Store     store.Store
	Blobs     blob.Store
	Artifacts *artifacts.Registry
	Series    *series.Service
	Prompts   *prompts.Builder
	Runner    Runner
	Jobs      JobReader
	Limits    validate.Limits
	Script    config.ScriptConfig
	Logger    *log.Logger
}

type Service struct {
	deps  Deps
	newID func() string
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	return &Service{deps: deps, newID: uuid.NewString}
}

// ─────────────────────────────────────────────
// Projects
// ─────────────────────────────────────────────

// CreateInput is the operator's request for a new project
type CreateInput struct {
	Topic           string               `json:"topic"`
	Language        string               `json:"language"`
	DurationMinutes int                  `json:"duration_minutes"`
	Format          string               `json:"format"`
	Tone            string               `json:"tone"`
	Pillar          string               `json:"pillar"`
	SeriesID        string               `json:"series_id"`
	ContinuityMode  types.ContinuityMode `json:"continuity_mode"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*types.Project, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalid)
	}
	if in.DurationMinutes < 0 {
		return nil, fmt.Errorf("%w: duration_minutes must be positive", ErrInvalid)
	}
	mode := in.ContinuityMode
	if mode == "" {
		mode = types.ContinuityLight
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: continuity_mode %q", ErrInvalid, mode)
	}

	p := &types.Project{
		ID:              s.newID(),
		Topic:           topic,
		Language:        orDefault(in.Language, defaultLanguage),
		DurationMinutes: in.DurationMinutes,
		Format:          orDefault(in.Format, defaultFormat),
		Tone:            strings.TrimSpace(in.Tone),
		Pillar:          strings.TrimSpace(in.Pillar),
		ContinuityMode:  mode,
		Status:          types.StatusIdeaSelected,
	}
	if p.DurationMinutes == 0 {
		p.DurationMinutes = defaultDuration
	}
	if id := strings.TrimSpace(in.SeriesID); id != "" {
		if _, err := s.deps.Series.CheckAttachable(ctx, id); err != nil {
			return nil, err
		}
		p.SeriesID = &id
	}

	if err := s.deps.Store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.deps.Logger.Printf("[projects] ✅ created %s (%q)", p.ID, p.Topic)
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]*types.Project, error) {
	return s.deps.Store.ListProjects(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*types.Project, error) {
	return s.deps.Store.GetProject(ctx, id)
}

// UpdateStatus sets one of the manually assignable statuses.
func (s *Service) UpdateStatus(ctx context.Context, id string, status types.ProjectStatus) (*types.Project, error) {
	if !slices.Contains(types.ManualStatuses, status) {
		return nil, fmt.Errorf("%w: status %q cannot be set manually", ErrInvalid, status)
	}
	p, err := s.deps.Store.UpdateProject(ctx, id, types.ProjectUpdate{Status: &status})
	if err != nil {
		return nil, err
	}
	s.deps.Logger.Printf("[projects] %s status -> %s", id, status)
	return p, nil
}

func (s *Service) Run(ctx context.Context, id string) (*pipeline.RunResult, error) {
	return s.deps.Runner.Run(ctx, id)
}

func (s *Service) Refine(ctx context.Context, id string) (*pipeline.RunResult, error) {
	return s.deps.Runner.Refine(ctx, id)
}

// ─────────────────────────────────────────────
// Artifacts
// ─────────────────────────────────────────────

func (s *Service) Artifacts(ctx context.Context, projectID string) ([]*types.Artifact, error) {
	if _, err := s.deps.Store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.deps.Artifacts.List(ctx, projectID)
}

func (s *Service) ArtifactContent(ctx context.Context, artifactID string) (*artifacts.Content, error) {
	return s.deps.Artifacts.Content(ctx, artifactID)
}

// ImportResult summarizes an accepted script pack
type ImportResult struct {
	ProjectID      string   `json:"project_id"`
	TotalWordCount int      `json:"total_word_count"`
	Parts          int      `json:"parts"`
	Warnings       []string `json:"warnings,omitempty"`
}

// ImportScriptPack accepts an operator-edited content pack. It goes through
// the same checks as metadata_generate output and, once saved, moves the
// project to metadata_ready.
func (s *Service) ImportScriptPack(ctx context.Context, projectID string, data []byte) (*ImportResult, error) {
	p, err := s.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	mode := p.ContinuityMode
	if mode == "" {
		mode = types.ContinuityLight
	}
	res, err := validate.ContentPack([]byte(llm.CleanJSON(string(data))), mode, s.deps.Limits)
	if err != nil {
		return nil, err
	}
	if err := worker.SaveContentPack(ctx, s.deps.Artifacts, p.ID, res.Pack, importStep, s.deps.Script.Channel, s.deps.Script.Format); err != nil {
		return nil, err
	}
	status := types.StatusMetadataReady
	if _, err := s.deps.Store.UpdateProject(ctx, p.ID, types.ProjectUpdate{Status: &status}); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	s.deps.Logger.Printf("[projects] ✅ imported script pack for %s (%d words)", p.ID, res.Pack.TotalWordCount)
	return &ImportResult{
		ProjectID:      p.ID,
		TotalWordCount: res.Pack.TotalWordCount,
		Parts:          len(res.Pack.Parts),
		Warnings:       res.Warnings,
	}, nil
}

// ─────────────────────────────────────────────
// Series and jobs
// ─────────────────────────────────────────────

func (s *Service) ListSeries(ctx context.Context) ([]*types.Series, error) {
	return s.deps.Series.List(ctx)
}

func (s *Service) GetSeries(ctx context.Context, id string) (*series.Detail, error) {
	return s.deps.Series.Get(ctx, id)
}

func (s *Service) CreateSeries(ctx context.Context, name string, bible map[string]any) (*types.Series, error) {
	return s.deps.Series.Create(ctx, name, bible)
}

func (s *Service) UpdateSeries(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error) {
	return s.deps.Series.Update(ctx, id, upd)
}

func (s *Service) JobStatus(ctx context.Context, id string) (*queue.Job, error) {
	return s.deps.Jobs.Status(ctx, id)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}
