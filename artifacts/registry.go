// Package artifacts records step outputs and resolves the latest artifact of
// each type for a project.
package artifacts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"script-studio/blob"
	"script-studio/store"
	"script-studio/types"
)

// Encodings returned by Content
const (
	EncodingText   = "utf8"
	EncodingBase64 = "base64"
)

// Registry writes payloads to the blob store and appends artifact records.
type Registry struct {
	store store.Store
	blobs blob.Store

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func New(st store.Store, blobs blob.Store) *Registry {
	return &Registry{store: st, blobs: blobs, now: time.Now}
}

// SetClock replaces the time source. Tests use it to pin creation times.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// stamp returns a creation time strictly after the previous one, at the
// microsecond precision Postgres keeps.
func (r *Registry) stamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.now().UTC().Truncate(time.Microsecond)
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

// SaveParams describes one artifact to persist
type SaveParams struct {
	ProjectID string
	Type      types.ArtifactType
	Filename  string
	Content   []byte
	Meta      map[string]any
	// BlobPath pins the blob location relative to the project directory.
	// When empty each artifact gets its own directory so earlier payloads
	// are never overwritten.
	BlobPath string
	// Exclusive makes Save fail with blob.ErrExists instead of replacing a
	// payload already stored at BlobPath.
	Exclusive bool
}

// Save stores the payload and appends the artifact record.
func (r *Registry) Save(ctx context.Context, p SaveParams) (*types.Artifact, error) {
	id := uuid.NewString()
	path := p.BlobPath
	if path == "" {
		path = "artifacts/" + id + "/" + p.Filename
	}
	write := r.blobs.Put
	if p.Exclusive {
		write = r.blobs.Create
	}
	put, err := write(ctx, p.ProjectID, path, p.Content)
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", p.Filename, err)
	}

	meta := make(map[string]any, len(p.Meta)+3)
	for k, v := range p.Meta {
		meta[k] = v
	}
	meta["bytes"] = put.Size
	meta["filename"] = p.Filename
	meta["sha256"] = put.SHA256

	a := &types.Artifact{
		ID:        id,
		ProjectID: p.ProjectID,
		Type:      p.Type,
		Filename:  p.Filename,
		URI:       put.Locator,
		Meta:      meta,
		CreatedAt: r.stamp(),
	}
	if err := r.store.CreateArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("record %s: %w", p.Filename, err)
	}
	return a, nil
}

// SaveJSON indents v and saves it.
func (r *Registry) SaveJSON(ctx context.Context, p SaveParams, v any) (*types.Artifact, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.Filename, err)
	}
	p.Content = data
	return r.Save(ctx, p)
}

// Latest returns the newest artifact of type t, or nil when none exists.
func (r *Registry) Latest(ctx context.Context, projectID string, t types.ArtifactType) (*types.Artifact, error) {
	list, err := r.store.ListArtifacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		if a.Type == t {
			return a, nil
		}
	}
	return nil, nil
}

// List returns all artifacts of a project, newest first.
func (r *Registry) List(ctx context.Context, projectID string) ([]*types.Artifact, error) {
	return r.store.ListArtifacts(ctx, projectID)
}

func (r *Registry) Get(ctx context.Context, id string) (*types.Artifact, error) {
	return r.store.GetArtifact(ctx, id)
}

// Read returns the raw payload of a.
func (r *Registry) Read(ctx context.Context, a *types.Artifact) ([]byte, error) {
	data, err := r.blobs.Read(ctx, a.URI)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", a.ID, err)
	}
	return data, nil
}

// ReadText returns the payload of a as a string.
func (r *Registry) ReadText(ctx context.Context, a *types.Artifact) (string, error) {
	data, err := r.Read(ctx, a)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Content is an artifact payload prepared for operators
type Content struct {
	Artifact *types.Artifact `json:"artifact"`
	Encoding string          `json:"encoding"`
	Content  string          `json:"content"`
}

// Content loads an artifact by id. Text types come back decoded, anything
// else as base64.
func (r *Registry) Content(ctx context.Context, id string) (*Content, error) {
	a, err := r.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := r.Read(ctx, a)
	if err != nil {
		return nil, err
	}
	if a.Type.IsText() {
		return &Content{Artifact: a, Encoding: EncodingText, Content: string(data)}, nil
	}
	return &Content{Artifact: a, Encoding: EncodingBase64, Content: base64.StdEncoding.EncodeToString(data)}, nil
}
