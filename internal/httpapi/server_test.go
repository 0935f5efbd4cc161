package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/MimeLyc/contextual-book-translator/internal/book"
	"github.com/MimeLyc/contextual-book-translator/internal/config"
	"github.com/MimeLyc/contextual-book-translator/internal/persistence"
	"github.com/MimeLyc/contextual-book-translator/internal/service"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
)

var dictionary = strings.NewReplacer("Hello", "Hallo", "world", "Welt")

type dictTranslator struct{}

func (dictTranslator) Translate(_ context.Context, req translator.Request) (*translator.Result, error) {
	out := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		out[i] = dictionary.Replace(t)
	}
	return &translator.Result{Translations: out, Validated: true, Attempts: 1}, nil
}

func (dictTranslator) Classify(context.Context, string, string, string) (translator.Verdict, error) {
	return translator.VerdictTranslated, nil
}

type fakeSettingsStore struct {
	current   config.RuntimeSettings
	updateErr error
}

func (f *fakeSettingsStore) GetRuntimeSettings() (config.RuntimeSettings, error) {
	return f.current, nil
}

func (f *fakeSettingsStore) UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error) {
	if f.updateErr != nil {
		return config.RuntimeSettings{}, f.updateErr
	}
	f.current = next
	return f.current, nil
}

func (f *fakeSettingsStore) Endpoints() translator.Endpoints {
	return f.current.Endpoints()
}

func configuredSettings() config.RuntimeSettings {
	return config.RuntimeSettings{
		Translate: config.EndpointConfig{
			URLs:   []string{"https://model.example/v1"},
			APIKey: "ak-test",
			Model:  "model-test",
		},
		TargetLanguage: "de",
	}
}

func newTestService(t *testing.T, endpoints service.EndpointSource) *service.Service {
	t.Helper()
	dataDir := t.TempDir()
	cfg, err := config.NewFromEnv(func(c *config.Config) {
		c.System.DataDir = dataDir
		c.Batch.Size = 4
		c.Batch.Workers = 1
		c.Batch.Snooze = 20 * time.Millisecond
		c.Translate.SourceLanguage = language.English
		c.Translate.TargetLanguage = language.German
	})
	require.NoError(t, err)

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.New(cfg, store, endpoints, service.WithTranslatorFactory(
		func(translator.Endpoints) (translator.Translator, error) {
			return dictTranslator{}, nil
		},
	))
	t.Cleanup(svc.Stop)
	return svc
}

func writeBook(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, "text", "ch1.xhtml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("<html><body><p>Hello world</p></body></html>"), 0o644))
	return root
}

func do(t *testing.T, srv *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func importBook(t *testing.T, srv *Server) string {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/projects", map[string]string{"name": "demo", "path": writeBook(t)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res service.ImportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotNil(t, res.Project)
	require.Equal(t, 1, res.Groups)
	return res.Project.ID
}

func TestServer_ImportAndListProjects(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))
	id := importBook(t, srv)

	rec := do(t, srv, http.MethodGet, "/api/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var projects []book.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, id, projects[0].ID)
	assert.Equal(t, "demo", projects[0].Name)
}

func TestServer_Import_Validation(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))

	rec := do(t, srv, http.MethodPost, "/api/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/projects", map[string]string{"path": filepath.Join(t.TempDir(), "missing")})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestServer_UnknownProject(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))

	rec := do(t, srv, http.MethodGet, "/api/projects/nope/status", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NotFound", body["type"])

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/projects/nope/frobnicate", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/api/projects/nope/run", nil).Code)
}

func TestServer_RunWaitAndExport(t *testing.T) {
	svc := newTestService(t, &fakeSettingsStore{current: configuredSettings()})
	require.NoError(t, svc.Start())
	srv := NewServer(svc)
	id := importBook(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/projects/"+id+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	run, err := svc.Wait(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, book.RunCompleted, run.Status)

	rec = do(t, srv, http.MethodGet, "/api/projects/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.InDelta(t, 100, status.Percent, 0.001)

	output := filepath.Join(t.TempDir(), "out")
	rec = do(t, srv, http.MethodPost, "/api/projects/"+id+"/export", map[string]string{"output": output})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res service.ExportResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Translated)

	data, err := os.ReadFile(filepath.Join(output, "text", "ch1.xhtml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hallo Welt")
}

func TestServer_RunConflictAndPause(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))
	id := importBook(t, srv)

	require.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/projects/"+id+"/run", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/api/projects/"+id+"/run", nil).Code)

	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/projects/"+id+"/pause", nil).Code)
	rec := do(t, srv, http.MethodPost, "/api/projects/"+id+"/resume", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run book.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, book.RunRunning, run.Status)

	rec = do(t, srv, http.MethodGet, "/api/jobs?run="+run.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	jobID, _ := listed[0]["id"].(string)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/jobs/"+jobID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/jobs/unknown", nil).Code)
}

func TestServer_RunWithoutEndpoint_ThenConfigure(t *testing.T) {
	settings := &fakeSettingsStore{current: config.RuntimeSettings{TargetLanguage: "de"}}
	svc := newTestService(t, settings)
	srv := NewServer(svc,
		WithRuntimeSettingsStore(settings),
		WithRuntimeSettingsApplier(func(config.RuntimeSettings) error { return svc.Reconfigure() }),
	)
	id := importBook(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/projects/"+id+"/run", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "MissingEndpointConfig")

	rec = do(t, srv, http.MethodPut, "/api/settings", configuredSettings())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusAccepted, do(t, srv, http.MethodPost, "/api/projects/"+id+"/run", nil).Code)
}

func TestServer_GetSettings_RedactsKeys(t *testing.T) {
	store := &fakeSettingsStore{current: configuredSettings()}
	srv := NewServer(newTestService(t, store), WithRuntimeSettingsStore(store))

	rec := do(t, srv, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.RuntimeSettings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "***", got.Translate.APIKey)
	assert.Equal(t, store.current.Translate.URLs, got.Translate.URLs)
	assert.Equal(t, "ak-test", store.current.Translate.APIKey)
}

func TestServer_UpdateSettings_KeepsRedactedKey(t *testing.T) {
	store := &fakeSettingsStore{current: configuredSettings()}
	srv := NewServer(newTestService(t, store), WithRuntimeSettingsStore(store))

	next := configuredSettings()
	next.Translate.APIKey = "***"
	next.Translate.Model = "model-new"
	rec := do(t, srv, http.MethodPut, "/api/settings", next)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "ak-test", store.current.Translate.APIKey)
	assert.Equal(t, "model-new", store.current.Translate.Model)
}

func TestServer_UpdateSettings_Errors(t *testing.T) {
	store := &fakeSettingsStore{current: configuredSettings()}
	srv := NewServer(newTestService(t, store), WithRuntimeSettingsStore(store))

	invalid := configuredSettings()
	invalid.Translate.URLs = nil
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPut, "/api/settings", invalid).Code)

	store.updateErr = errors.New("save failed")
	assert.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodPut, "/api/settings", configuredSettings()).Code)
}

func TestServer_SettingsNotConfigured(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))
	assert.Equal(t, http.StatusNotImplemented, do(t, srv, http.MethodGet, "/api/settings", nil).Code)
}

func TestServer_RequeueUnit_BadID(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/api/units/abc/requeue", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/units/42/requeue", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/api/units/42/other", nil).Code)
}

func TestServer_Endpoints(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}))

	rec := do(t, srv, http.MethodGet, "/api/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestServer_JobStream(t *testing.T) {
	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}),
		WithStreamInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/jobs/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "data: []\n", line)
}

func TestServer_ServesSPAFromStaticDir(t *testing.T) {
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>spa</html>"), 0o644))

	srv := NewServer(newTestService(t, &fakeSettingsStore{current: configuredSettings()}), WithUI(staticDir, true))

	for _, target := range []string{"/", "/projects/abc"} {
		rec := do(t, srv, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "spa")
	}
}
