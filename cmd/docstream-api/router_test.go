package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/docstream/internal/artifacts"
	"github.com/spherical-ai/docstream/internal/config"
	"github.com/spherical-ai/docstream/internal/events"
	"github.com/spherical-ai/docstream/internal/objectstore"
	"github.com/spherical-ai/docstream/internal/observability"
	"github.com/spherical-ai/docstream/internal/queue"
	"github.com/spherical-ai/docstream/internal/storage"
	"github.com/spherical-ai/docstream/internal/tasks"
)

const testAPIKey = "test-key"

type stubPublisher struct{}

func (stubPublisher) Publish(ctx context.Context, msg queue.ProcessingMessage) error { return nil }

type testServer struct {
	*httptest.Server
	objects *objectstore.FSStore
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = testAPIKey
	if mutate != nil {
		mutate(cfg)
	}

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db))
	repo := storage.NewTaskRepository(db)

	objects, err := objectstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	logger := observability.Nop()
	bus := events.NewBus(logger, events.Config{SubscriberBuffer: cfg.Events.SubscriberBuffer})
	orch := tasks.New(repo, objects, stubPublisher{}, bus, logger)

	srv := httptest.NewServer(NewRouter(logger, cfg, orch, bus))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, objects: objects}
}

func (s *testServer) request(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func uploadPDF(t *testing.T, s *testServer, filename string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 test document"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := s.request(t, http.MethodPost, "/api/v1/tasks/", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	require.Equal(t, true, env["success"])
	taskID, _ := env["task_id"].(string)
	require.NotEmpty(t, taskID)
	return taskID
}

// completeTask uploads both artifacts and posts the terminal status report.
func completeTask(t *testing.T, s *testServer, taskID, filename string) {
	t.Helper()
	ctx := context.Background()

	odds, err := artifacts.EncodeOddsPath([]artifacts.OddsPathRow{
		{Market: "home_win", Selection: "team_a", Odds: 2.5, Step: 1, Timestamp: "2026-08-30T10:00:00Z"},
	})
	require.NoError(t, err)
	require.NoError(t, s.objects.Put(ctx, taskID,
		objectstore.ParquetKey(artifacts.DataTypeOddsPath, filename), odds, "application/octet-stream"))

	expl, err := artifacts.EncodeExplanations([]artifacts.ExplanationRow{
		{Field: "home_win", Explanation: "probability of a home victory", Page: 2},
	})
	require.NoError(t, err)
	require.NoError(t, s.objects.Put(ctx, taskID,
		objectstore.ParquetKey(artifacts.DataTypeExplanations, filename), expl, "application/octet-stream"))

	resp := s.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/status",
		strings.NewReader(`{"status":"processing"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/status",
		strings.NewReader(`{"status":"completed"}`), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := s.Client().Get(s.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "healthy")
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	resp, err := s.Client().Get(s.URL + "/api/v1/tasks/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, s.URL+"/api/v1/tasks/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-key")
	resp, err = s.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadAndRetrieveLifecycle(t *testing.T) {
	s := newTestServer(t, nil)
	taskID := uploadPDF(t, s, "report.pdf")

	// Pending task: record visible, data gated.
	resp := s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	data := env["data"].(map[string]interface{})
	assert.Equal(t, "pending", data["status"])

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/data", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	completeTask(t, s, taskID, "report.pdf")

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/data?type=odds_path", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	rows := env["data"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "home_win", rows[0].(map[string]interface{})["market"])

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/data/all", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	all := env["data"].(map[string]interface{})
	assert.Contains(t, all, "odds_path")
	assert.Contains(t, all, "explanations")

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/download?type=explanations", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	decoded, err := artifacts.DecodeExplanations(raw)
	require.NoError(t, err)
	require.Len(t, decoded, 1)

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/structure", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env = decodeEnvelope(t, resp)
	structure := env["data"].(map[string]interface{})
	assert.Equal(t, float64(3), structure["total_files"])
}

func TestUploadRejectsNonPDF(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp := s.request(t, http.MethodPost, "/api/v1/tasks/", &buf, mw.FormDataContentType())
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskIDValidation(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.request(t, http.MethodGet, "/api/v1/tasks/"+uuid.NewString()+"/", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = s.request(t, http.MethodGet, "/api/v1/tasks/not-a-uuid/", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProgressValidation(t *testing.T) {
	s := newTestServer(t, nil)
	taskID := uploadPDF(t, s, "report.pdf")

	resp := s.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/progress",
		strings.NewReader(`{"stage":"extract","progress":150}`), "application/json")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/progress",
		strings.NewReader(`{"stage":"extract","progress":40,"message":"page 4"}`), "application/json")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInvalidTransitionConflicts(t *testing.T) {
	s := newTestServer(t, nil)
	taskID := uploadPDF(t, s, "report.pdf")

	// pending -> completed skips processing.
	resp := s.request(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/status",
		strings.NewReader(`{"status":"completed"}`), "application/json")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEventHistory(t *testing.T) {
	s := newTestServer(t, nil)
	taskID := uploadPDF(t, s, "report.pdf")
	completeTask(t, s, taskID, "report.pdf")

	resp := s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/events/history", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	history := env["data"].([]interface{})
	require.Len(t, history, 3)
	last := history[2].(map[string]interface{})
	assert.Equal(t, "completion", last["kind"])
}

// A stream opened after the terminal event replays the full history and
// closes, so the body read completes.
func TestEventStream_ReplayOfFinishedTask(t *testing.T) {
	s := newTestServer(t, nil)
	taskID := uploadPDF(t, s, "report.pdf")
	completeTask(t, s, taskID, "report.pdf")

	resp := s.request(t, http.MethodGet, "/api/v1/tasks/"+taskID+"/events", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	frames := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	require.Len(t, frames, 3)
	assert.Contains(t, frames[0], "event: status")
	assert.Contains(t, frames[0], "id: 1")
	assert.Contains(t, frames[2], "event: completion")
}

func TestEventStream_UnknownTask(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.request(t, http.MethodGet, "/api/v1/tasks/"+uuid.NewString()+"/events", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxRequests = 2
	})

	for i := 0; i < 2; i++ {
		resp := s.request(t, http.MethodGet, "/api/v1/tasks/", nil, "")
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := s.request(t, http.MethodGet, "/api/v1/tasks/", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
