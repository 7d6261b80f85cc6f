package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"script-studio/types"
)

//go:embed schema.sql
var schema string

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPool parses the DSN and connects, failing early if the database is unreachable.
func OpenPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		conf.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func unmarshalJSON(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ErrNotFound
	}
	return err
}

// ─────────────────────────────────────────────
// Projects
// ─────────────────────────────────────────────

const projectColumns = `id, topic, language, duration_minutes, format, tone, pillar, series_id, continuity_mode, status, created_at, updated_at`

func scanProject(row pgx.Row) (*types.Project, error) {
	var p types.Project
	err := row.Scan(&p.ID, &p.Topic, &p.Language, &p.DurationMinutes, &p.Format, &p.Tone, &p.Pillar,
		&p.SeriesID, &p.ContinuityMode, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) CreateProject(ctx context.Context, p *types.Project) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (id, topic, language, duration_minutes, format, tone, pillar, series_id, continuity_mode, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.Topic, p.Language, p.DurationMinutes, p.Format, p.Tone, p.Pillar, p.SeriesID, p.ContinuityMode, p.Status)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *Postgres) GetProject(ctx context.Context, id string) (*types.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *Postgres) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateProject(ctx context.Context, id string, upd types.ProjectUpdate) (*types.Project, error) {
	var status *string
	if upd.Status != nil {
		v := string(*upd.Status)
		status = &v
	}
	p, err := scanProject(s.pool.QueryRow(ctx, `
		UPDATE projects
		SET status = COALESCE($2, status), updated_at = now()
		WHERE id = $1
		RETURNING `+projectColumns, id, status))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// ─────────────────────────────────────────────
// Artifacts
// ─────────────────────────────────────────────

const artifactColumns = `id, project_id, type, filename, uri, meta, created_at`

func scanArtifact(row pgx.Row) (*types.Artifact, error) {
	var (
		a    types.Artifact
		meta []byte
	)
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Type, &a.Filename, &a.URI, &meta, &a.CreatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("artifact %s meta: %w", a.ID, err)
	}
	a.Meta = m
	return &a, nil
}

func (s *Postgres) CreateArtifact(ctx context.Context, a *types.Artifact) error {
	meta, err := marshalJSON(a.Meta)
	if err != nil {
		return fmt.Errorf("artifact meta: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO artifacts (id, project_id, type, filename, uri, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.ProjectID, a.Type, a.Filename, a.URI, meta, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *Postgres) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	a, err := scanArtifact(s.pool.QueryRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *Postgres) ListArtifacts(ctx context.Context, projectID string) ([]*types.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE project_id = $1
		ORDER BY created_at DESC, seq DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─────────────────────────────────────────────
// Series
// ─────────────────────────────────────────────

const seriesColumns = `id, name, bible, disabled, created_at, updated_at`

func scanSeries(row pgx.Row) (*types.Series, error) {
	var (
		sr    types.Series
		bible []byte
	)
	if err := row.Scan(&sr.ID, &sr.Name, &bible, &sr.Disabled, &sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := unmarshalJSON(bible)
	if err != nil {
		return nil, fmt.Errorf("series %s bible: %w", sr.ID, err)
	}
	sr.Bible = m
	return &sr, nil
}

func (s *Postgres) CreateSeries(ctx context.Context, sr *types.Series) error {
	bible, err := marshalJSON(sr.Bible)
	if err != nil {
		return fmt.Errorf("series bible: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO series (id, name, bible, disabled)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`, sr.ID, sr.Name, bible, sr.Disabled)
	if err := row.Scan(&sr.CreatedAt, &sr.UpdatedAt); err != nil {
		return fmt.Errorf("insert series: %w", err)
	}
	return nil
}

func (s *Postgres) GetSeries(ctx context.Context, id string) (*types.Series, error) {
	sr, err := scanSeries(s.pool.QueryRow(ctx, `SELECT `+seriesColumns+` FROM series WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return sr, nil
}

func (s *Postgres) ListSeries(ctx context.Context) ([]*types.Series, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+seriesColumns+` FROM series ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*types.Series
	for rows.Next() {
		sr, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateSeries(ctx context.Context, id string, upd types.SeriesUpdate) (*types.Series, error) {
	var bible []byte
	if upd.Bible != nil {
		b, err := json.Marshal(upd.Bible)
		if err != nil {
			return nil, fmt.Errorf("series bible: %w", err)
		}
		bible = b
	}
	sr, err := scanSeries(s.pool.QueryRow(ctx, `
		UPDATE series
		SET name = COALESCE($2, name),
		    bible = COALESCE($3::jsonb, bible),
		    disabled = COALESCE($4, disabled),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+seriesColumns, id, upd.Name, bible, upd.Disabled))
	if err != nil {
		return nil, notFound(err)
	}
	return sr, nil
}

func (s *Postgres) GetSeriesMemory(ctx context.Context, seriesID string) (*types.SeriesMemory, error) {
	if _, err := s.GetSeries(ctx, seriesID); err != nil {
		return nil, err
	}
	var (
		mem types.SeriesMemory
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT series_id, memory, revision, updated_at FROM series_memory WHERE series_id = $1`, seriesID).
		Scan(&mem.SeriesID, &raw, &mem.Revision, &mem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.SeriesMemory{SeriesID: seriesID, Memory: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if mem.Memory, err = unmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("series %s memory: %w", seriesID, err)
	}
	return &mem, nil
}

// PutSeriesMemory inserts the first revision or updates only when the stored
// revision matches. Zero affected rows means another writer got there first.
func (s *Postgres) PutSeriesMemory(ctx context.Context, mem *types.SeriesMemory) error {
	raw, err := marshalJSON(mem.Memory)
	if err != nil {
		return fmt.Errorf("series memory: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO series_memory (series_id, memory, revision, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (series_id) DO UPDATE
		SET memory = EXCLUDED.memory,
		    revision = series_memory.revision + 1,
		    updated_at = now()
		WHERE series_memory.revision = $3
		RETURNING revision, updated_at`, mem.SeriesID, raw, mem.Revision)
	var rev int
	err = row.Scan(&rev, &mem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRevisionConflict
	}
	if err != nil {
		return fmt.Errorf("upsert series memory: %w", err)
	}
	mem.Revision = rev
	return nil
}
