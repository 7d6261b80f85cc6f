// Package store persists projects, artifact records, series and series memory.
package store

import (
	"context"
	"errors"

	"script-studio/types"
)

// ErrRevisionConflict is returned when a series memory write was based on a
// stale revision.
var ErrRevisionConflict = errors.New("series memory revision conflict")

// Store is the project store. Lookups of missing records return types.ErrNotFound.
type Store interface {
	CreateProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, id string) (*types.Project, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)
	UpdateProject(ctx context.Context, id string, upd types.ProjectUpdate) (*types.Project, error)

	// CreateArtifact appends an artifact record. Records are never updated.
	CreateArtifact(ctx context.Context, a *types.Artifact) error
	GetArtifact(ctx context.Context, id string) (*types.Artifact, error)
	// ListArtifacts returns a project's artifacts, newest first.
	ListArtifacts(ctx context.Context, projectID string) ([]*types.Artifact, error)

	CreateSeries(ctx context.Context, s *types.Series) error
	GetSeries(ctx context.Context, id string) (*types.Series, error)
	ListSeries(ctx context.Context) ([]*types.Series, error)
	UpdateSeries(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error)

	// GetSeriesMemory returns the memory blob, or a zero-revision memory when
	// none was written yet.
	GetSeriesMemory(ctx context.Context, seriesID string) (*types.SeriesMemory, error)
	// PutSeriesMemory writes m if the stored revision still equals
	// m.Revision, then bumps m.Revision.
	PutSeriesMemory(ctx context.Context, m *types.SeriesMemory) error
}
