package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"script-studio/artifacts"
	"script-studio/blob"
	"script-studio/config"
	"script-studio/pipeline"
	"script-studio/projects"
	"script-studio/prompts"
	"script-studio/queue"
	"script-studio/series"
	"script-studio/store"
	"script-studio/validate"
)

func newTestHandler(t *testing.T) http.Handler {
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

	svc := projects.New(projects.Deps{
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
	return NewHandler(svc, HandlerConfig{Logger: logger})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, r)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", resp.Body.String(), err)
	}
}

func createProject(t *testing.T, h http.Handler) string {
	t.Helper()
	resp := do(t, h, http.MethodPost, "/projects", `{"topic":"Why we procrastinate"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}
	var p struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &p)
	return p.ID
}

func TestHealth(t *testing.T) {
	resp := do(t, newTestHandler(t), http.MethodGet, "/health", "")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("health = %d %q", resp.Code, resp.Body.String())
	}
}

func TestProjectLifecycle(t *testing.T) {
	h := newTestHandler(t)
	id := createProject(t, h)

	resp := do(t, h, http.MethodGet, "/projects/"+id, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp = do(t, h, http.MethodGet, "/projects", "")
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("list = %v", list)
	}

	resp = do(t, h, http.MethodPatch, "/projects/"+id+"/status", `{"status":"published"}`)
	if resp.Code != http.StatusOK {
		t.Errorf("manual status: %d %s", resp.Code, resp.Body.String())
	}
	resp = do(t, h, http.MethodPatch, "/projects/"+id+"/status", `{"status":"script_qa_passed"}`)
	if resp.Code != http.StatusBadRequest {
		t.Errorf("pipeline status: %d", resp.Code)
	}
}

func TestRunThenJobStatus(t *testing.T) {
	h := newTestHandler(t)
	id := createProject(t, h)

	resp := do(t, h, http.MethodPost, "/projects/"+id+"/run", "")
	if resp.Code != http.StatusAccepted {
		t.Fatalf("run: %d %s", resp.Code, resp.Body.String())
	}
	var res struct {
		Steps []string `json:"steps"`
	}
	decodeBody(t, resp, &res)
	if len(res.Steps) == 0 {
		t.Fatal("no steps submitted")
	}

	resp = do(t, h, http.MethodGet, "/jobs/"+queue.JobID(id, res.Steps[0]), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("job: %d %s", resp.Code, resp.Body.String())
	}
	var job queue.Job
	decodeBody(t, resp, &job)
	if job.State != queue.StatePending {
		t.Errorf("job state = %q", job.State)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestHandler(t)
	id := createProject(t, h)

	tests := []struct {
		name         string
		method, path string
		body         string
		want         int
	}{
		{"missing project", http.MethodGet, "/projects/missing", "", http.StatusNotFound},
		{"missing job", http.MethodGet, "/jobs/missing", "", http.StatusNotFound},
		{"run missing project", http.MethodPost, "/projects/missing/run", "", http.StatusNotFound},
		{"empty topic", http.MethodPost, "/projects", `{"topic":""}`, http.StatusBadRequest},
		{"bad json", http.MethodPost, "/projects", `{"topic":`, http.StatusBadRequest},
		{"prompt for non-llm step", http.MethodGet, "/projects/" + id + "/prompts/preview?step=topic_research", "", http.StatusBadRequest},
		{"prompt missing inputs", http.MethodGet, "/projects/" + id + "/prompts/preview?step=script_qa", "", http.StatusConflict},
		{"rejected pack", http.MethodPost, "/projects/" + id + "/script-pack", `{"parts":[]}`, http.StatusBadRequest},
		{"series without name", http.MethodPost, "/series", `{"name":" "}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, h, tt.method, tt.path, tt.body)
			if resp.Code != tt.want {
				t.Fatalf("code = %d, want %d (%s)", resp.Code, tt.want, resp.Body.String())
			}
			var body map[string]string
			decodeBody(t, resp, &body)
			if body["error"] == "" {
				t.Errorf("no error message")
			}
		})
	}
}

func TestDisabledSeriesConflict(t *testing.T) {
	h := newTestHandler(t)
	resp := do(t, h, http.MethodPost, "/series", `{"name":"Mind Notes","bible":{"host":"Mira"}}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create series: %d %s", resp.Code, resp.Body.String())
	}
	var s struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &s)

	resp = do(t, h, http.MethodPatch, "/series/"+s.ID, `{"disabled":true}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("disable: %d %s", resp.Code, resp.Body.String())
	}
	resp = do(t, h, http.MethodGet, "/series/"+s.ID, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("get series: %d", resp.Code)
	}

	resp = do(t, h, http.MethodPost, "/projects", `{"topic":"x","series_id":"`+s.ID+`"}`)
	if resp.Code != http.StatusConflict {
		t.Errorf("attach disabled series: %d %s", resp.Code, resp.Body.String())
	}
}

func TestEnsurePromptThenStatus(t *testing.T) {
	h := newTestHandler(t)
	id := createProject(t, h)

	resp := do(t, h, http.MethodPost, "/projects/"+id+"/prompts/ensure?step=metadata_generate", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("ensure: %d %s", resp.Code, resp.Body.String())
	}
	var ensured projects.EnsureResult
	decodeBody(t, resp, &ensured)
	if !ensured.Created {
		t.Errorf("ensure = %+v", ensured)
	}

	resp = do(t, h, http.MethodGet, "/projects/"+id+"/prompts/status", "")
	var st struct {
		Status []projects.PromptStatus `json:"status"`
	}
	decodeBody(t, resp, &st)
	if len(st.Status) == 0 || !st.Status[0].Exists {
		t.Errorf("status = %+v", st)
	}

	resp = do(t, h, http.MethodGet, "/projects/"+id+"/artifacts", "")
	var list []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("artifacts = %v", list)
	}
	resp = do(t, h, http.MethodGet, "/artifacts/"+list[0].ID+"/content", "")
	var content artifacts.Content
	decodeBody(t, resp, &content)
	if content.Encoding != artifacts.EncodingText || content.Content == "" {
		t.Errorf("content = %+v", content)
	}
}
