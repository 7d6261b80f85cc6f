package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/config"
	"script-studio/pipeline"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/series"
	"script-studio/store"
	"script-studio/types"
	"script-studio/validate"
	"script-studio/worker"
)

type testEnv struct {
	svc      *Service
	store    *store.Memory
	registry *artifacts.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemory()
	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := artifacts.New(st, blobs)
	logger := log.New(io.Discard, "", 0)
	ss := series.New(st, logger)
	cfg := config.Default()
	router, err := queue.NewRouter(queue.NewMemory(cfg.Queue, queue.Hooks{}), cfg.Queue)
	if err != nil {
		t.Fatal(err)
	}

	n := 0
	svc := New(Deps{
		Store:     st,
		Blobs:     blobs,
		Artifacts: reg,
		Series:    ss,
		Prompts:   prompts.NewBuilder(prompts.NewLoader(""), ss, reg, cfg.Script, cfg.Segments),
		Runner:    pipeline.NewOrchestrator(st, router, pipeline.StaticGraph(config.DefaultPipeline()), logger),
		Jobs:      router,
		Limits:    validate.LimitsFrom(cfg.Validation),
		Script:    cfg.Script,
		Logger:    logger,
	})
	svc.newID = func() string {
		n++
		return fmt.Sprintf("proj-%d", n)
	}
	return &testEnv{svc: svc, store: st, registry: reg}
}

func (e *testEnv) create(t *testing.T) *types.Project {
	t.Helper()
	p, err := e.svc.Create(context.Background(), CreateInput{Topic: "Why we procrastinate"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return p
}

func contentPack(ideas int) string {
	parts := []map[string]any{}
	for n := 1; n <= 3; n++ {
		var sb strings.Builder
		for i := 0; i < 120; i++ {
			fmt.Fprintf(&sb, "Section %d brings thought number %d into calm focus today. ", n, i)
		}
		content := strings.TrimSpace(sb.String())
		parts = append(parts, map[string]any{
			"part":       n,
			"word_count": validate.CountWords(content),
			"content":    content,
		})
	}
	compliance := map[string]any{}
	for _, f := range validate.ComplianceFlags {
		compliance[f] = true
	}
	next := []map[string]any{}
	for i := 0; i < ideas; i++ {
		next = append(next, map[string]any{
			"topic":            fmt.Sprintf("Follow-up %d", i),
			"pillar":           "psychology",
			"tone":             "calm",
			"series":           map[string]any{"mode": "new", "name": "Mind Notes"},
			"continuity":       "light",
			"duration_minutes": 6,
		})
	}
	b, _ := json.Marshal(map[string]any{
		"title":      "The quiet cost of waiting",
		"parts":      parts,
		"compliance": compliance,
		"next_ideas": next,
	})
	return string(b)
}

func TestCreateDefaults(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	if p.Language != "en" || p.DurationMinutes != 6 || p.Format != "youtube_long" {
		t.Errorf("defaults not applied: %+v", p)
	}
	if p.ContinuityMode != types.ContinuityLight || p.Status != types.StatusIdeaSelected {
		t.Errorf("mode/status = %s/%s", p.ContinuityMode, p.Status)
	}
	got, err := e.svc.Get(context.Background(), p.ID)
	if err != nil || got.Topic != "Why we procrastinate" {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

func TestCreateRejects(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	disabled, _ := e.svc.CreateSeries(ctx, "Old", nil)
	yes := true
	if _, err := e.svc.UpdateSeries(ctx, disabled.ID, types.SeriesUpdate{Disabled: &yes}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   CreateInput
		want error
	}{
		{"empty topic", CreateInput{Topic: "  "}, ErrInvalid},
		{"negative duration", CreateInput{Topic: "x", DurationMinutes: -1}, ErrInvalid},
		{"bad continuity", CreateInput{Topic: "x", ContinuityMode: "always"}, ErrInvalid},
		{"unknown series", CreateInput{Topic: "x", SeriesID: "nope"}, types.ErrNotFound},
		{"disabled series", CreateInput{Topic: "x", SeriesID: disabled.ID}, series.ErrDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.Create(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCreateWithSeries(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	sr, err := e.svc.CreateSeries(ctx, "Mind Notes", map[string]any{"host": "Mira"})
	if err != nil {
		t.Fatal(err)
	}
	p, err := e.svc.Create(ctx, CreateInput{Topic: "x", SeriesID: sr.ID, ContinuityMode: types.ContinuityOccasionallyStrong})
	if err != nil {
		t.Fatal(err)
	}
	if p.SeriesID == nil || *p.SeriesID != sr.ID {
		t.Errorf("series id = %v", p.SeriesID)
	}
}

func TestUpdateStatus(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	got, err := e.svc.UpdateStatus(ctx, p.ID, types.StatusPublished)
	if err != nil || got.Status != types.StatusPublished {
		t.Fatalf("UpdateStatus = %+v, %v", got, err)
	}
	if _, err := e.svc.UpdateStatus(ctx, p.ID, types.StatusMetadataReady); !errors.Is(err, ErrInvalid) {
		t.Errorf("pipeline status accepted: %v", err)
	}
	if _, err := e.svc.UpdateStatus(ctx, "missing", types.StatusPublished); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing project: %v", err)
	}
}

func TestRunAndJobStatus(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	res, err := e.svc.Run(ctx, p.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Steps) != len(config.DefaultPipeline()) || res.Steps[0] != "topic_research" {
		t.Errorf("steps = %v", res.Steps)
	}
	job, err := e.svc.JobStatus(ctx, queue.JobID(p.ID, "topic_research"))
	if err != nil {
		t.Fatal(err)
	}
	if job.State != queue.StatePending || job.Lane != queue.LaneAssets {
		t.Errorf("job = %+v", job)
	}
	if _, err := e.svc.JobStatus(ctx, "nope"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing job: %v", err)
	}
}

func TestArtifactsUnknownProject(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.svc.Artifacts(context.Background(), "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestPromptStatusFreshProject(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)

	statuses, err := e.svc.PromptStatus(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	byStep := map[types.StepName]PromptStatus{}
	for _, s := range statuses {
		byStep[s.Step] = s
	}
	if len(byStep) != len(PromptSteps) {
		t.Fatalf("statuses = %+v", statuses)
	}
	if st := byStep[types.StepMetadataGenerate]; !st.Enabled || st.Exists || st.Reason != nil {
		t.Errorf("metadata_generate = %+v", st)
	}
	qa := byStep[types.StepScriptQA]
	if qa.Enabled || qa.Reason == nil || *qa.Reason != "Missing prerequisites: script_final_text" {
		t.Errorf("script_qa = %+v", qa)
	}
	refine := byStep[types.StepScriptRefine]
	if refine.Reason == nil || *refine.Reason != "Missing prerequisites: script_final_text, qa_report_json" {
		t.Errorf("script_refine = %+v", refine)
	}
}

func TestEnsurePromptOnce(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	first, err := e.svc.EnsurePrompt(ctx, p.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if first.Step != types.StepMetadataGenerate || !first.Created || !first.Enabled {
		t.Errorf("first = %+v", first)
	}
	second, err := e.svc.EnsurePrompt(ctx, p.ID, "metadata_generate")
	if err != nil {
		t.Fatal(err)
	}
	if second.Created || !second.Enabled {
		t.Errorf("second = %+v", second)
	}

	text, err := e.svc.PromptContent(ctx, p.ID, "metadata_generate")
	if err != nil {
		t.Fatal(err)
	}
	if !text.Saved || !strings.Contains(text.Content, "Why we procrastinate") {
		t.Errorf("content = %+v", text)
	}

	list, _ := e.svc.Artifacts(ctx, p.ID)
	if len(list) != 1 || list[0].Type != types.ArtifactPromptText {
		t.Errorf("artifacts = %+v", list)
	}
	statuses, _ := e.svc.PromptStatus(ctx, p.ID)
	if !statuses[0].Exists {
		t.Errorf("status after ensure = %+v", statuses[0])
	}
}

func TestEnsurePromptConcurrent(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	const callers = 8
	results := make(chan *EnsureResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.svc.EnsurePrompt(ctx, p.ID, "metadata_generate")
			if err != nil {
				t.Error(err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for res := range results {
		if !res.Enabled {
			t.Errorf("res = %+v", res)
		}
		if res.Created {
			created++
		}
	}
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	list, _ := e.svc.Artifacts(ctx, p.ID)
	if len(list) != 1 {
		t.Errorf("artifacts = %d, want 1", len(list))
	}
}

func TestEnsurePromptMissingPrerequisites(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)

	res, err := e.svc.EnsurePrompt(context.Background(), p.ID, "script_qa")
	if err != nil {
		t.Fatal(err)
	}
	if res.Enabled || res.Created || res.Reason == nil {
		t.Errorf("res = %+v", res)
	}
}

func TestPreviewPrompt(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	pv, err := e.svc.PreviewPrompt(ctx, p.ID, "metadata_generate")
	if err != nil {
		t.Fatal(err)
	}
	if pv.System == "" || !strings.Contains(pv.User, "Why we procrastinate") {
		t.Errorf("preview = %+v", pv)
	}

	_, err = e.svc.PreviewPrompt(ctx, p.ID, "script_qa")
	var missing *worker.MissingArtifactError
	if !errors.As(err, &missing) || missing.Missing[0] != types.ArtifactScriptFinal {
		t.Errorf("err = %v", err)
	}
	if list, _ := e.svc.Artifacts(ctx, p.ID); len(list) != 0 {
		t.Errorf("preview saved artifacts: %+v", list)
	}
}

func TestPromptInputChecks(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	for _, step := range []string{"topic_research", "bogus"} {
		if _, err := e.svc.PreviewPrompt(ctx, p.ID, step); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v", step, err)
		}
	}
	if _, err := e.svc.PromptStatus(ctx, "../etc"); !errors.Is(err, ErrInvalid) {
		t.Errorf("unsafe id: %v", err)
	}
	if _, err := e.svc.PromptStatus(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing project: %v", err)
	}
}

func TestImportScriptPack(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	res, err := e.svc.ImportScriptPack(ctx, p.ID, []byte("```json\n"+contentPack(3)+"\n```"))
	if err != nil {
		t.Fatalf("ImportScriptPack: %v", err)
	}
	if res.Parts != 3 || res.TotalWordCount != 3600 {
		t.Errorf("res = %+v", res)
	}

	got, _ := e.svc.Get(ctx, p.ID)
	if got.Status != types.StatusMetadataReady {
		t.Errorf("status = %s", got.Status)
	}
	for _, typ := range []types.ArtifactType{types.ArtifactScriptFinal, types.ArtifactMetadata, types.ArtifactNextIdeas} {
		if a, _ := e.registry.Latest(ctx, p.ID, typ); a == nil {
			t.Errorf("missing %s", typ)
		}
	}
	statuses, _ := e.svc.PromptStatus(ctx, p.ID)
	for _, s := range statuses {
		if s.Step == types.StepScriptQA && !s.Enabled {
			t.Errorf("script_qa still disabled: %+v", s)
		}
	}
}

func TestImportScriptPackRejected(t *testing.T) {
	e := newTestEnv(t)
	p := e.create(t)
	ctx := context.Background()

	_, err := e.svc.ImportScriptPack(ctx, p.ID, []byte(contentPack(2)))
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v", err)
	}
	if list, _ := e.svc.Artifacts(ctx, p.ID); len(list) != 0 {
		t.Errorf("rejected pack saved artifacts: %+v", list)
	}
	got, _ := e.svc.Get(ctx, p.ID)
	if got.Status != types.StatusIdeaSelected {
		t.Errorf("status = %s", got.Status)
	}
}
