package renderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"character_animator/animator/engine"
	"character_animator/animator/jobs"
	"character_animator/animator/models"
	"character_animator/animator/pipeline"
	"character_animator/animator/timeline"

	"github.com/gorilla/websocket"
)

type fakeEngine struct {
	mu      sync.Mutex
	clips   int
	outputs []string
}

func (f *fakeEngine) RenderClip(ctx context.Context, req engine.ClipRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clips++
	return nil
}

func (f *fakeEngine) Compose(ctx context.Context, plan timeline.Plan, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, outputPath)
	return nil
}

func (f *fakeEngine) MediaDuration(ctx context.Context) func(string) (float64, bool) {
	return func(string) (float64, bool) { return 0, false }
}

type fixture struct {
	server  *Server
	manager *jobs.Manager
	store   *timeline.Store
	engine  *fakeEngine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := models.DefaultConfig()
	cfg.WorkDir = t.TempDir()
	cfg.Settings.Seed = 7

	store, err := timeline.NewStore(cfg.JSONDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	catalog, err := models.LoadCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	eng := &fakeEngine{}
	a, err := pipeline.NewAnimator(cfg, store, nil, catalog, nil, eng, nil)
	if err != nil {
		t.Fatal(err)
	}
	m := jobs.NewManager(nil, 1, nil)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return fixture{server: NewServer(a, m, nil), manager: m, store: store, engine: eng}
}

func (fx fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) JobResponse {
	t.Helper()
	var resp JobResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return resp
}

func (fx fixture) wait(t *testing.T, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := fx.manager.Wait(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return job
}

func TestSilenceJobCreatesClip(t *testing.T) {
	fx := newFixture(t)
	w := fx.post(t, "/api/silences", `{"character":"ずんだもん","duration":2,"start_time":1}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}
	resp := decodeJob(t, w)
	if resp.JobID == "" || resp.Kind != KindAnimation {
		t.Fatalf("response = %+v", resp)
	}

	job := fx.wait(t, resp.JobID)
	if job.Status != jobs.StatusCompleted || job.Result != "output_1" {
		t.Fatalf("job = %+v", job)
	}
	rec, err := fx.store.Get("output_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Clip.Volume != 0 || rec.Clip.StartTime != 1 || rec.Clip.Duration != 2 {
		t.Errorf("clip = %+v", rec.Clip)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID, nil)
	sw := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(sw, req)
	if status := decodeJob(t, sw); status.Status != jobs.StatusCompleted || status.Progress != 100 {
		t.Errorf("status = %+v", status)
	}
}

func TestAnimationRequestValidation(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed", "/api/animations", `{"character":`},
		{"no character", "/api/animations", `{"text":"hi"}`},
		{"no text", "/api/animations", `{"character":"ずんだもん"}`},
		{"negative silence", "/api/silences", `{"character":"ずんだもん","duration":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := fx.post(t, tt.path, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", w.Code, w.Body)
			}
		})
	}
}

func TestUnknownCharacterFailsJob(t *testing.T) {
	fx := newFixture(t)
	w := fx.post(t, "/api/silences", `{"character":"nobody","duration":1}`)
	resp := decodeJob(t, w)
	job := fx.wait(t, resp.JobID)
	if job.Status != jobs.StatusFailed || job.Error == "" {
		t.Errorf("job = %+v", job)
	}
}

func TestCombineJob(t *testing.T) {
	fx := newFixture(t)
	fx.store.CreateClip(&models.Clip{MovFile: "video/output_1.mov", Character: "ずんだもん", Layer: 1, Duration: 2, Volume: 1})

	resp := decodeJob(t, fx.post(t, "/api/combine", ""))
	job := fx.wait(t, resp.JobID)
	if job.Status != jobs.StatusCompleted {
		t.Fatalf("job = %+v", job)
	}
	if len(fx.engine.outputs) != 1 {
		t.Fatalf("compose calls = %v", fx.engine.outputs)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID, nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	if got := decodeJob(t, w); got.VideoURL != "/videos/combined_video.mp4" {
		t.Errorf("video url = %q", got.VideoURL)
	}
}

func TestUploadBackground(t *testing.T) {
	fx := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "sky.png")
	part.Write([]byte("\x89PNG fake"))
	mw.WriteField("start_time", "2.5")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/backgrounds", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d %s", w.Code, w.Body)
	}

	rec, err := fx.store.Get("background_1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Background.File != "sky.png" || rec.Background.StartTime != 2.5 {
		t.Errorf("background = %+v", rec.Background)
	}
}

func TestUploadRejectsOtherFiles(t *testing.T) {
	fx := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("file", "notes.txt")
	part.Write([]byte("hello"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/backgrounds", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d %s", w.Code, w.Body)
	}
}

func TestUnknownJobIs404(t *testing.T) {
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status/missing", nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestJobSocketEndsWithFinalState(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	job, err := fx.manager.Submit(KindCombine, func(ctx context.Context, progress func(int, string)) (string, error) {
		<-release
		progress(50, "half")
		return "done", nil
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(fx.server.Handler())
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/jobs/"+job.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var first JobResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	close(release)

	last := first
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg JobResponse
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		last = msg
	}
	if last.Status != jobs.StatusCompleted || last.Result != "done" {
		t.Errorf("last message = %+v", last)
	}
}
