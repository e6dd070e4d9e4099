package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/vidfrompdf/config"
	"github.com/drummonds/vidfrompdf/database"
	"github.com/drummonds/vidfrompdf/internal/samplepdf"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

type testServer struct {
	*httptest.Server
	eng *Engine
}

func newTestServer(t *testing.T, opts testEngineOptions) *testServer {
	t.Helper()
	eng := newTestEngine(t, opts)
	e := echo.New()
	handler := &ServerHandler{
		Engine:       eng,
		Echo:         e,
		ServerConfig: config.ServerConfig{MaxUploadMB: 5},
	}
	handler.RegisterRoutes()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, eng: eng}
}

// client returns an HTTP client with its own cookie jar, i.e. its own session
func (s *testServer) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar, Timeout: 30 * time.Second}
}

func do(t *testing.T, client *http.Client, method, url, contentType string, body []byte) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, data
}

func decodeView(t *testing.T, data []byte) ProjectView {
	t.Helper()
	var view ProjectView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("Invalid project JSON %s: %v", data, err)
	}
	return view
}

func decodeError(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("Invalid error JSON %s: %v", data, err)
	}
	return body.Kind
}

func TestUploadAndFetchProject(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A", "B", "C"))
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, data)
	}
	created := decodeView(t, data)
	if len(created.Pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(created.Pages))
	}
	if !strings.Contains(string(data), `"audio_url":null`) {
		t.Errorf("Pages without audio should carry a null audio_url: %s", data)
	}
	for _, page := range created.Pages {
		if !strings.HasPrefix(page.ImgURL, "/project/asset/"+created.Identifier+"/pages/") {
			t.Errorf("Unexpected image URL %q", page.ImgURL)
		}
	}

	status, data = do(t, client, http.MethodGet, srv.URL+"/project/get", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, data)
	}
	if got := decodeView(t, data); got.Identifier != created.Identifier {
		t.Errorf("Expected project %s, got %s", created.Identifier, got.Identifier)
	}

	status, data = do(t, client, http.MethodGet, srv.URL+created.Pages[0].ImgURL, "", nil)
	if status != http.StatusOK || !bytes.HasPrefix(data, []byte("\x89PNG")) {
		t.Errorf("Expected the page image, got %d (%d bytes)", status, len(data))
	}

	// another session sees nothing until it opens the project explicitly
	other := srv.client(t)
	if status, _ := do(t, other, http.MethodGet, srv.URL+"/project/get", "", nil); status != http.StatusNotFound {
		t.Errorf("Expected 404 for a fresh session, got %d", status)
	}
	status, data = do(t, other, http.MethodGet, srv.URL+"/project/edit/"+created.Identifier, "", nil)
	if status != http.StatusOK || decodeView(t, data).Identifier != created.Identifier {
		t.Errorf("Expected edit to open the project, got %d: %s", status, data)
	}
	if status, _ := do(t, other, http.MethodGet, srv.URL+"/project/get", "", nil); status != http.StatusOK {
		t.Errorf("Expected the opened project to become current, got %d", status)
	}
}

func TestUploadRejectsOtherMediaTypes(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "text/plain", []byte("hello"))
	if status != http.StatusUnsupportedMediaType {
		t.Fatalf("Expected 415, got %d: %s", status, data)
	}
	status, data = do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", []byte("not really a pdf"))
	if status != http.StatusBadRequest || decodeError(t, data) != KindUpload {
		t.Fatalf("Expected 400 UploadError, got %d: %s", status, data)
	}
}

func TestAttachAudioRoute(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	if status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A", "B")); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, data)
	}

	status, data := do(t, client, http.MethodPut, srv.URL+"/project/page/1", "audio/wav", []byte("RIFF....WAVE"))
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", status, data)
	}
	view := decodeView(t, data)
	if view.Pages[0].AudioURL != nil {
		t.Error("Page 0 should still have no audio")
	}
	if view.Pages[1].AudioURL == nil || !strings.HasSuffix(*view.Pages[1].AudioURL, ".wav") {
		t.Fatalf("Expected a wav URL for page 1, got %v", view.Pages[1].AudioURL)
	}

	status, body := do(t, client, http.MethodGet, srv.URL+*view.Pages[1].AudioURL, "", nil)
	if status != http.StatusOK || string(body) != "RIFF....WAVE" {
		t.Errorf("Expected the stored clip, got %d %q", status, body)
	}

	if status, data := do(t, client, http.MethodPut, srv.URL+"/project/page/9", "audio/wav", []byte("RIFF")); status != http.StatusNotFound {
		t.Errorf("Expected 404 for a missing page, got %d: %s", status, data)
	}
	if status, data := do(t, client, http.MethodPut, srv.URL+"/project/page/abc", "audio/wav", []byte("RIFF")); status != http.StatusNotFound {
		t.Errorf("Expected 404 for a bad index, got %d: %s", status, data)
	}
}

func TestRenderWithoutPagesRoute(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{renderer: &fakeRenderer{err: io.ErrUnexpectedEOF}})
	client := srv.client(t)

	status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A"))
	if status < http.StatusBadRequest {
		t.Fatalf("Expected extraction to fail, got %d: %s", status, data)
	}

	status, data = do(t, client, http.MethodGet, srv.URL+"/project/get", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected the failed project to be current, got %d: %s", status, data)
	}
	if view := decodeView(t, data); len(view.Pages) != 0 {
		t.Errorf("Expected no pages, got %d", len(view.Pages))
	}

	status, data = do(t, client, http.MethodPost, srv.URL+"/project/render", "", nil)
	if status != http.StatusConflict || decodeError(t, data) != KindInvalidState {
		t.Fatalf("Expected 409 InvalidState, got %d: %s", status, data)
	}
}

func TestConcurrentRenderRoute(t *testing.T) {
	runner := &fakeRunner{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	srv := newTestServer(t, testEngineOptions{runner: runner})
	client := srv.client(t)

	if status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A", "B")); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, data)
	}

	var (
		wg          sync.WaitGroup
		firstStatus int
		firstBody   []byte
		firstErr    error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := client.Post(srv.URL+"/project/render", "", nil)
		if err != nil {
			firstErr = err
			return
		}
		defer resp.Body.Close()
		firstStatus = resp.StatusCode
		firstBody, firstErr = io.ReadAll(resp.Body)
	}()

	select {
	case <-runner.started:
	case <-time.After(10 * time.Second):
		t.Fatal("First render never reached the encoder")
	}

	status, data := do(t, client, http.MethodPost, srv.URL+"/project/render", "", nil)
	if status != http.StatusConflict || decodeError(t, data) != KindAlreadyRendering {
		t.Errorf("Expected 409 AlreadyRendering, got %d: %s", status, data)
	}

	close(runner.gate)
	wg.Wait()
	if firstErr != nil {
		t.Fatalf("First render request failed: %v", firstErr)
	}
	if firstStatus != http.StatusOK {
		t.Fatalf("Expected the first render to succeed, got %d: %s", firstStatus, firstBody)
	}
	view := decodeView(t, firstBody)
	if view.Output == nil || !strings.HasSuffix(*view.Output, ".mp4") {
		t.Fatalf("Expected an output URL, got %v", view.Output)
	}

	status, _ = do(t, client, http.MethodGet, srv.URL+*view.Output, "", nil)
	if status != http.StatusOK {
		t.Errorf("Expected the video to be served, got %d", status)
	}
}

func TestCancelRenderRoute(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	if status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A")); status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, data)
	}
	status, data := do(t, client, http.MethodDelete, srv.URL+"/project/render", "", nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 with nothing rendering, got %d: %s", status, data)
	}
}

func TestServeAssetRejectsUnknown(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	status, data := do(t, client, http.MethodPut, srv.URL+"/project/new", "application/pdf", samplepdf.Build("A"))
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", status, data)
	}
	id := decodeView(t, data).Identifier

	for _, path := range []string{
		"/project/asset/" + id + "/pages/page-0099.png",
		"/project/asset/" + id + "/pages",
		"/project/asset/" + ulid.Make().String() + "/source.pdf",
		"/project/asset/not-an-id/source.pdf",
	} {
		if status, _ := do(t, client, http.MethodGet, srv.URL+path, "", nil); status != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, status)
		}
	}
}

func TestCleanAssetPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"pages/page-0001.png", "pages/page-0001.png", true},
		{"audio/../pages/page-0001.png", "pages/page-0001.png", true},
		{"../../etc/passwd", "etc/passwd", true},
		{"", "", false},
		{"/", "", false},
		{`..\secret`, "", false},
	}
	for _, tt := range tests {
		got, ok := cleanAssetPath(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("cleanAssetPath(%q) = %q, %v; want %q, %v", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSystemRoutes(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	status, data := do(t, client, http.MethodGet, srv.URL+"/api/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	var health map[string]interface{}
	json.Unmarshal(data, &health)
	if health["rasterBackend"] != "fake" || health["persistence"] != false {
		t.Errorf("Unexpected health: %v", health)
	}

	status, data = do(t, client, http.MethodGet, srv.URL+"/api/codecs", "", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	var codecs struct {
		Profiles []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"profiles"`
	}
	json.Unmarshal(data, &codecs)
	if len(codecs.Profiles) != 3 || codecs.Profiles[2].Name != "software" || !codecs.Profiles[2].Available {
		t.Errorf("Unexpected profiles: %s", data)
	}

	status, _ = do(t, client, http.MethodPost, srv.URL+"/api/codecs/renegotiate", "", nil)
	if status != http.StatusOK {
		t.Errorf("Expected 200 from renegotiate, got %d", status)
	}
}

func TestJobRoutesWithoutDatabase(t *testing.T) {
	srv := newTestServer(t, testEngineOptions{})
	client := srv.client(t)

	status, data := do(t, client, http.MethodGet, srv.URL+"/api/jobs", "", nil)
	if status != http.StatusOK || strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("Expected an empty list, got %d: %s", status, data)
	}
	status, _ = do(t, client, http.MethodGet, srv.URL+"/api/jobs/"+ulid.Make().String(), "", nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
	status, _ = do(t, client, http.MethodGet, srv.URL+"/api/jobs/not-a-ulid", "", nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", status)
	}
	status, data = do(t, client, http.MethodGet, srv.URL+"/api/jobs?project=nope", "", nil)
	if status != http.StatusBadRequest || decodeError(t, data) != KindUpload {
		t.Errorf("Expected 400 UploadError for a bad project id, got %d: %s", status, data)
	}
}

func TestJobRoutesWithDatabase(t *testing.T) {
	repo, err := database.NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	defer repo.Close()

	projectID := ulid.Make()
	job, err := repo.CreateJob(database.JobTypeRender, projectID, "Rendering")
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}

	e := echo.New()
	handler := &ServerHandler{DB: repo, Echo: e}
	e.GET("/api/jobs", handler.GetRecentJobs)
	e.GET("/api/jobs/:id", handler.GetJob)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs?project="+projectID.String(), nil))
	var jobs []database.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &jobs); err != nil {
		t.Fatalf("Job list is not JSON: %v (%s)", err, rec.Body.String())
	}
	if len(jobs) != 1 || jobs[0].ID != job.ID || jobs[0].Type != database.JobTypeRender {
		t.Errorf("Expected the render job only, got %+v", jobs)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+job.ID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for a known job, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/"+ulid.Make().String(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown job, got %d", rec.Code)
	}
}

func TestSessionMiddlewareIssuesCookie(t *testing.T) {
	e := echo.New()
	var seen []string
	e.GET("/", func(c echo.Context) error {
		seen = append(seen, SessionFrom(c))
		return c.NoContent(http.StatusOK)
	}, SessionMiddleware())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || !cookies[0].HttpOnly {
		t.Fatalf("Expected one HttpOnly session cookie, got %v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 0 {
		t.Error("A valid session should not be reissued")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "forged"})
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if len(rec.Result().Cookies()) != 1 {
		t.Error("A malformed session should be replaced")
	}

	if len(seen) != 3 || seen[0] != seen[1] || seen[2] == "forged" {
		t.Errorf("Unexpected sessions: %v", seen)
	}
}
