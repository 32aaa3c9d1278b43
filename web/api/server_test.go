package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipforge/orchestrator/internal/batch"
	"github.com/clipforge/orchestrator/internal/checkpoint"
	"github.com/clipforge/orchestrator/internal/domain"
	"github.com/clipforge/orchestrator/internal/executor"
	"github.com/clipforge/orchestrator/internal/progress"
	"github.com/clipforge/orchestrator/internal/quota"
)

func fastDefs() []executor.StageDef {
	pairs := []struct {
		working, done domain.Stage
		artifact      domain.ArtifactKind
	}{
		{domain.StageScriptGenerating, domain.StageScriptGenerated, domain.ArtifactScript},
		{domain.StageAssetsGenerating, domain.StageAssetsGenerated, domain.ArtifactImages},
		{domain.StageRendering, domain.StageRendered, domain.ArtifactVideo},
		{domain.StageThumbnailGenerating, domain.StageThumbnailGenerated, domain.ArtifactThumbnail},
		{domain.StageUploading, domain.StageCompleted, domain.ArtifactUpload},
	}
	out := make([]executor.StageDef, 0, len(pairs))
	for _, pair := range pairs {
		artifact := pair.artifact
		out = append(out, executor.StageDef{
			Working:     pair.working,
			Done:        pair.done,
			MaxAttempts: 1,
			Run: func(ctx context.Context, p *domain.Project) (map[domain.ArtifactKind]string, error) {
				return map[domain.ArtifactKind]string{artifact: "ref/" + string(artifact)}, nil
			},
		})
	}
	return out
}

type testServer struct {
	srv   *httptest.Server
	coord *batch.Coordinator
	store checkpoint.Store
	hub   *progress.Hub
}

func newTestServer(t *testing.T, ledger *quota.Ledger) *testServer {
	t.Helper()

	store := checkpoint.NewMemory()
	hub := progress.NewHub(time.Minute)
	go hub.Run()
	t.Cleanup(hub.Stop)

	exec := executor.New(store, hub, ledger)
	coord := batch.NewCoordinator(store, hub, exec, fastDefs(), 2)
	t.Cleanup(coord.Stop)

	s := NewServer(coord, store, ledger, hub, "127.0.0.1:0")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, coord: coord, store: store, hub: hub}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestCreateAndGetBatch(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, "/api/batches", CreateBatchRequest{
		Name: "launch",
		Projects: []domain.ProjectSpec{
			{Name: "one", Content: "aaaa"},
			{Name: "two", Content: "bbbb"},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created CreateBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.BatchID == "" || created.Total != 2 {
		t.Fatalf("created = %+v", created)
	}

	ts.coord.Wait()

	var detail BatchResponse
	if code := ts.get(t, "/api/batches/"+created.BatchID, &detail); code != http.StatusOK {
		t.Fatalf("detail status = %d", code)
	}
	if detail.Status != string(domain.BatchCompleted) {
		t.Errorf("Status = %s, want completed", detail.Status)
	}
	if detail.CompletedCount != 2 || len(detail.Projects) != 2 {
		t.Errorf("detail = %+v", detail)
	}
	for _, p := range detail.Projects {
		if p.Progress != 100 || p.VideoURL == "" {
			t.Errorf("member = %+v", p)
		}
	}
}

func TestCreateBatch_WithSettings(t *testing.T) {
	ts := newTestServer(t, nil)

	settings := domain.Settings{Voice: "en-GB-News-K", Visibility: "public"}
	resp := ts.post(t, "/api/batches", CreateBatchRequest{
		Name:     "styled",
		Projects: []domain.ProjectSpec{{Name: "one", Content: "aaaa"}},
		Settings: settings,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created CreateBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	ts.coord.Wait()

	cps, err := ts.store.ListByBatch(created.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) != 1 || cps[0].Settings != settings {
		t.Errorf("member settings = %+v, want %+v", cps, settings)
	}
}

func TestCreateBatch_BadRequest(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, "/api/batches", CreateBatchRequest{Name: "empty"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	r2, err := http.Post(ts.srv.URL+"/api/batches", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Body.Close()
	if r2.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", r2.StatusCode)
	}
}

func TestPauseResumeEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, "/api/batches", CreateBatchRequest{
		Name:     "p",
		Projects: []domain.ProjectSpec{{Name: "one", Content: "aaaa"}},
	})
	var created CreateBatchResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	ts.coord.Wait()

	for _, action := range []string{"pause", "resume"} {
		r := ts.post(t, "/api/batches/"+created.BatchID+"/"+action, nil)
		if r.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d, want 200", action, r.StatusCode)
		}
		r.Body.Close()
	}

	r := ts.post(t, "/api/batches/nope/pause", nil)
	defer r.Body.Close()
	if r.StatusCode != http.StatusNotFound {
		t.Errorf("unknown batch pause status = %d, want 404", r.StatusCode)
	}
}

func TestProjectEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	cp := &checkpoint.Checkpoint{
		ProjectID: "p1",
		Name:      "teaser",
		Content:   "x",
		Stage:     domain.StageCompleted,
		Artifacts: map[domain.ArtifactKind]string{domain.ArtifactUpload: "https://youtu.be/x"},
		UpdatedAt: time.Now(),
	}
	if err := ts.store.Put(cp); err != nil {
		t.Fatal(err)
	}

	var got ProjectResponse
	if code := ts.get(t, "/api/projects/p1", &got); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if got.Status != "completed" || got.VideoURL != "https://youtu.be/x" || got.Progress != 100 {
		t.Errorf("project = %+v", got)
	}

	if code := ts.get(t, "/api/projects/absent", nil); code != http.StatusNotFound {
		t.Errorf("missing project status = %d, want 404", code)
	}
}

func TestQuotaEndpoints(t *testing.T) {
	ledger, err := quota.NewLedger(":memory:", map[string]quota.Budget{
		"llm": {Units: 100, Unit: "requests", Period: quota.Daily},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	if err := ledger.Record("llm", 30); err != nil {
		t.Fatal(err)
	}

	ts := newTestServer(t, ledger)

	var usage quota.Usage
	if code := ts.get(t, "/api/quota/llm", &usage); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if usage.Used != 30 || usage.Remaining != 70 {
		t.Errorf("usage = %+v", usage)
	}

	var all []quota.Usage
	if code := ts.get(t, "/api/quota", &all); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(all) != 1 {
		t.Errorf("services = %d, want 1", len(all))
	}

	if code := ts.get(t, "/api/quota/unknown", nil); code != http.StatusNotFound {
		t.Errorf("unknown service status = %d, want 404", code)
	}
}

func TestProgressWebSocket(t *testing.T) {
	ts := newTestServer(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/projects/p1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	readFrame := func() map[string]interface{} {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var frame map[string]interface{}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatal(err)
		}
		return frame
	}

	if frame := readFrame(); frame["event"] != "connected" {
		t.Fatalf("first frame = %v, want connected", frame)
	}

	ts.hub.Publish(domain.NewEvent("p1", domain.EventProgress, map[string]interface{}{
		"status":        "running",
		"progress":      10,
		"current_stage": "script_generating",
	}))

	frame := readFrame()
	if frame["event"] != "progress_update" {
		t.Fatalf("frame = %v, want progress_update", frame)
	}
	data := frame["data"].(map[string]interface{})
	if data["current_stage"] != "script_generating" {
		t.Errorf("data = %v", data)
	}
	if _, ok := data["timestamp"]; !ok {
		t.Error("frame data missing timestamp")
	}

	// error events use the error envelope
	ts.hub.Publish(domain.NewEvent("p1", domain.EventError, map[string]interface{}{
		"code":    "render_failed",
		"message": "boom",
	}))
	frame = readFrame()
	if frame["type"] != "error" {
		t.Fatalf("frame = %v, want error envelope", frame)
	}
	if frame["error"].(map[string]interface{})["code"] != "render_failed" {
		t.Errorf("error payload = %v", frame["error"])
	}

	// a pong must not break the stream
	if err := conn.WriteJSON(map[string]string{"event": "pong"}); err != nil {
		t.Fatal(err)
	}
	ts.hub.Publish(domain.NewEvent("p1", domain.EventComplete, map[string]interface{}{"video_url": "u"}))
	if frame := readFrame(); frame["event"] != "complete" {
		t.Fatalf("frame = %v, want complete", frame)
	}
}
