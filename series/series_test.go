package series

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"script-studio/store"
	"script-studio/types"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func TestCheckAttachable(t *testing.T) {
	ctx := context.Background()
	svc := New(store.NewMemory(), quiet())

	sr, err := svc.Create(ctx, "  Mind Notes ", map[string]any{"tone": "calm"})
	if err != nil {
		t.Fatal(err)
	}
	if sr.Name != "Mind Notes" {
		t.Errorf("name = %q", sr.Name)
	}
	if _, err := svc.CheckAttachable(ctx, sr.ID); err != nil {
		t.Fatalf("enabled series rejected: %v", err)
	}

	disabled := true
	if _, err := svc.Update(ctx, sr.ID, types.SeriesUpdate{Disabled: &disabled}); err != nil {
		t.Fatal(err)
	}
	_, err = svc.CheckAttachable(ctx, sr.ID)
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled series err = %v", err)
	}
	if err.Error() != "series is disabled; cannot be used for new projects" {
		t.Errorf("message = %q", err.Error())
	}

	if _, err := svc.CheckAttachable(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing series err = %v", err)
	}
}

func TestCreateRequiresName(t *testing.T) {
	svc := New(store.NewMemory(), quiet())
	if _, err := svc.Create(context.Background(), " ", nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v", err)
	}
}

func TestContextReadsDisabledSeries(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := New(st, quiet())

	sr, _ := svc.Create(ctx, "Mind Notes", map[string]any{"tone": "calm"})
	p := &types.Project{ID: "p1", Topic: "sleep", SeriesID: &sr.ID, ContinuityMode: types.ContinuityOccasionallyStrong}
	if err := svc.RecordEpisode(ctx, p); err != nil {
		t.Fatal(err)
	}

	disabled := true
	svc.Update(ctx, sr.ID, types.SeriesUpdate{Disabled: &disabled})

	c, err := svc.Context(ctx, p)
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if c.Bible["tone"] != "calm" {
		t.Errorf("bible = %v", c.Bible)
	}
	if c.Memory["last_topic"] != "sleep" {
		t.Errorf("memory = %v", c.Memory)
	}
	if c.ContinuityMode != types.ContinuityOccasionallyStrong {
		t.Errorf("mode = %s", c.ContinuityMode)
	}
}

func TestContextWithoutSeries(t *testing.T) {
	svc := New(store.NewMemory(), quiet())
	c, err := svc.Context(context.Background(), &types.Project{ID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if c.SeriesID != "" || len(c.Bible) != 0 || len(c.Memory) != 0 {
		t.Errorf("context = %+v", c)
	}
	if c.ContinuityMode != types.ContinuityLight {
		t.Errorf("default mode = %s", c.ContinuityMode)
	}
}

// racingStore lets another writer win the first few memory writes.
type racingStore struct {
	*store.Memory
	conflicts int
}

func (r *racingStore) PutSeriesMemory(ctx context.Context, m *types.SeriesMemory) error {
	if r.conflicts > 0 {
		r.conflicts--
		cur, err := r.Memory.GetSeriesMemory(ctx, m.SeriesID)
		if err != nil {
			return err
		}
		cur.Memory["other_writer"] = true
		if err := r.Memory.PutSeriesMemory(ctx, cur); err != nil {
			return err
		}
	}
	return r.Memory.PutSeriesMemory(ctx, m)
}

func TestRecordEpisodeRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Memory: store.NewMemory(), conflicts: 2}
	svc := New(st, quiet())
	sr, _ := svc.Create(ctx, "Mind Notes", nil)

	p := &types.Project{ID: "p1", Topic: "sleep", SeriesID: &sr.ID}
	if err := svc.RecordEpisode(ctx, p); err != nil {
		t.Fatalf("RecordEpisode: %v", err)
	}

	mem, _ := st.Memory.GetSeriesMemory(ctx, sr.ID)
	if mem.Memory["other_writer"] != true {
		t.Error("concurrent writer's fact was lost")
	}
	if mem.Memory["last_project_id"] != "p1" {
		t.Errorf("memory = %v", mem.Memory)
	}
	if mem.Revision != 3 {
		t.Errorf("revision = %d", mem.Revision)
	}
}

func TestRecordEpisodeGivesUp(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Memory: store.NewMemory(), conflicts: maxMemoryRetries}
	svc := New(st, quiet())
	sr, _ := svc.Create(ctx, "Mind Notes", nil)

	err := svc.RecordEpisode(ctx, &types.Project{ID: "p1", SeriesID: &sr.ID})
	if !errors.Is(err, store.ErrRevisionConflict) {
		t.Errorf("err = %v", err)
	}
}

func TestRecordEpisodeCountsEpisodes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := New(st, quiet())
	sr, _ := svc.Create(ctx, "Mind Notes", nil)

	for _, id := range []string{"p1", "p2"} {
		if err := svc.RecordEpisode(ctx, &types.Project{ID: id, SeriesID: &sr.ID}); err != nil {
			t.Fatal(err)
		}
	}
	mem, _ := st.GetSeriesMemory(ctx, sr.ID)
	if episodeCount(mem.Memory["episode_count"]) != 2 || mem.Memory["last_project_id"] != "p2" {
		t.Errorf("memory = %v", mem.Memory)
	}
}
