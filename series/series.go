// Package series manages continuity profiles shared across projects and the
// memory that carries facts from one episode to the next.
package series

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"script-studio/store"
	"script-studio/types"
)

var (
	// ErrDisabled rejects attaching a frozen series to a new project.
	ErrDisabled = errors.New("series is disabled; cannot be used for new projects")
	// ErrInvalid is returned for malformed series input.
	ErrInvalid = errors.New("invalid series")
)

const maxMemoryRetries = 5

// Service owns series records and series memory.
type Service struct {
	store  store.Store
	logger *log.Logger
	now    func() time.Time
}

func New(st store.Store, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: st, logger: logger, now: time.Now}
}

// Detail is a series together with its current memory
type Detail struct {
	*types.Series
	Memory *types.SeriesMemory `json:"memory"`
}

func (s *Service) Create(ctx context.Context, name string, bible map[string]any) (*types.Series, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if bible == nil {
		bible = map[string]any{}
	}
	sr := &types.Series{ID: uuid.NewString(), Name: name, Bible: bible}
	if err := s.store.CreateSeries(ctx, sr); err != nil {
		return nil, err
	}
	s.logger.Printf("[series] created %q (%s)", sr.Name, sr.ID)
	return sr, nil
}

func (s *Service) List(ctx context.Context) ([]*types.Series, error) {
	return s.store.ListSeries(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	sr, err := s.store.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	mem, err := s.store.GetSeriesMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Series: sr, Memory: mem}, nil
}

func (s *Service) Update(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalid)
		}
		upd.Name = &name
	}
	sr, err := s.store.UpdateSeries(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if upd.Disabled != nil {
		s.logger.Printf("[series] %s disabled=%v", id, sr.Disabled)
	}
	return sr, nil
}

// CheckAttachable is called before a new project references seriesID.
// Existing projects never go through it, so freezing a series does not
// break them.
func (s *Service) CheckAttachable(ctx context.Context, seriesID string) (*types.Series, error) {
	sr, err := s.store.GetSeries(ctx, seriesID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, fmt.Errorf("seriesId not found: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if sr.Disabled {
		return nil, ErrDisabled
	}
	return sr, nil
}

// Context is the continuity state a generation step feeds into its prompt
type Context struct {
	SeriesID       string
	ContinuityMode types.ContinuityMode
	Bible          map[string]any
	Memory         map[string]any
}

// Context loads the bible and memory of the project's series. Projects
// without a series get empty maps. Disabled series are read normally.
func (s *Service) Context(ctx context.Context, p *types.Project) (*Context, error) {
	c := &Context{
		ContinuityMode: p.ContinuityMode,
		Bible:          map[string]any{},
		Memory:         map[string]any{},
	}
	if c.ContinuityMode == "" {
		c.ContinuityMode = types.ContinuityLight
	}
	if p.SeriesID == nil || *p.SeriesID == "" {
		return c, nil
	}
	c.SeriesID = *p.SeriesID

	sr, err := s.store.GetSeries(ctx, c.SeriesID)
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Printf("[series] ⚠️  project %s references missing series %s", p.ID, c.SeriesID)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	if sr.Bible != nil {
		c.Bible = sr.Bible
	}

	mem, err := s.store.GetSeriesMemory(ctx, c.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series memory: %w", err)
	}
	if mem.Memory != nil {
		c.Memory = mem.Memory
	}
	return c, nil
}

// RecordEpisode writes the project's facts into its series memory. Writes
// are revision-checked; a conflicting writer causes a reload and retry.
func (s *Service) RecordEpisode(ctx context.Context, p *types.Project) error {
	if p.SeriesID == nil || *p.SeriesID == "" {
		return nil
	}
	seriesID := *p.SeriesID

	for attempt := 1; attempt <= maxMemoryRetries; attempt++ {
		mem, err := s.store.GetSeriesMemory(ctx, seriesID)
		if err != nil {
			return fmt.Errorf("load series memory: %w", err)
		}
		if mem.Memory == nil {
			mem.Memory = map[string]any{}
		}
		mem.Memory["last_project_id"] = p.ID
		mem.Memory["last_topic"] = p.Topic
		mem.Memory["updated_at"] = s.now().UTC().Format(time.RFC3339)
		mem.Memory["episode_count"] = episodeCount(mem.Memory["episode_count"]) + 1

		err = s.store.PutSeriesMemory(ctx, mem)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrRevisionConflict) {
			return fmt.Errorf("write series memory: %w", err)
		}
		s.logger.Printf("[series] memory conflict on %s (attempt %d/%d), retrying", seriesID, attempt, maxMemoryRetries)
	}
	return fmt.Errorf("write series memory %s: %w after %d attempts", seriesID, store.ErrRevisionConflict, maxMemoryRetries)
}

func episodeCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
