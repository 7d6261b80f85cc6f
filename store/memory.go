package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"script-studio/types"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu        sync.RWMutex
	projects  map[string]*types.Project
	artifacts []*types.Artifact
	series    map[string]*types.Series
	memory    map[string]*types.SeriesMemory
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*types.Project),
		series:   make(map[string]*types.Series),
		memory:   make(map[string]*types.SeriesMemory),
		now:      time.Now,
	}
}

// deep copies keep callers from mutating stored records
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

func cloneProject(p *types.Project) *types.Project {
	c := *p
	if p.SeriesID != nil {
		id := *p.SeriesID
		c.SeriesID = &id
	}
	return &c
}

func cloneArtifact(a *types.Artifact) *types.Artifact {
	c := *a
	c.Meta = cloneMap(a.Meta)
	return &c
}

func cloneSeries(s *types.Series) *types.Series {
	c := *s
	c.Bible = cloneMap(s.Bible)
	return &c
}

func (m *Memory) CreateProject(ctx context.Context, p *types.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; ok {
		return fmt.Errorf("project %s already exists", p.ID)
	}
	now := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.projects[p.ID] = cloneProject(p)
	return nil
}

func (m *Memory) GetProject(ctx context.Context, id string) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneProject(p), nil
}

func (m *Memory) ListProjects(ctx context.Context) ([]*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) UpdateProject(ctx context.Context, id string, upd types.ProjectUpdate) (*types.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if upd.Status != nil {
		p.Status = *upd.Status
	}
	p.UpdatedAt = m.now().UTC()
	return cloneProject(p), nil
}

func (m *Memory) CreateArtifact(ctx context.Context, a *types.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	m.artifacts = append(m.artifacts, cloneArtifact(a))
	return nil
}

func (m *Memory) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.artifacts {
		if a.ID == id {
			return cloneArtifact(a), nil
		}
	}
	return nil, types.ErrNotFound
}

// ListArtifacts orders by creation time, newest first; equal timestamps keep
// the later insert first.
func (m *Memory) ListArtifacts(ctx context.Context, projectID string) ([]*types.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Artifact
	for i := len(m.artifacts) - 1; i >= 0; i-- {
		if m.artifacts[i].ProjectID == projectID {
			out = append(out, cloneArtifact(m.artifacts[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) CreateSeries(ctx context.Context, s *types.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[s.ID]; ok {
		return fmt.Errorf("series %s already exists", s.ID)
	}
	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.series[s.ID] = cloneSeries(s)
	return nil
}

func (m *Memory) GetSeries(ctx context.Context, id string) (*types.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return cloneSeries(s), nil
}

func (m *Memory) ListSeries(ctx context.Context) ([]*types.Series, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.Series, 0, len(m.series))
	for _, s := range m.series {
		out = append(out, cloneSeries(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateSeries(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	if upd.Name != nil {
		s.Name = *upd.Name
	}
	if upd.Bible != nil {
		s.Bible = cloneMap(upd.Bible)
	}
	if upd.Disabled != nil {
		s.Disabled = *upd.Disabled
	}
	s.UpdatedAt = m.now().UTC()
	return cloneSeries(s), nil
}

func (m *Memory) GetSeriesMemory(ctx context.Context, seriesID string) (*types.SeriesMemory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.series[seriesID]; !ok {
		return nil, types.ErrNotFound
	}
	mem, ok := m.memory[seriesID]
	if !ok {
		return &types.SeriesMemory{SeriesID: seriesID, Memory: map[string]any{}}, nil
	}
	c := *mem
	c.Memory = cloneMap(mem.Memory)
	return &c, nil
}

func (m *Memory) PutSeriesMemory(ctx context.Context, mem *types.SeriesMemory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.series[mem.SeriesID]; !ok {
		return types.ErrNotFound
	}
	current := 0
	if cur, ok := m.memory[mem.SeriesID]; ok {
		current = cur.Revision
	}
	if current != mem.Revision {
		return ErrRevisionConflict
	}
	mem.Revision++
	mem.UpdatedAt = m.now().UTC()
	stored := *mem
	stored.Memory = cloneMap(mem.Memory)
	m.memory[mem.SeriesID] = &stored
	return nil
}
