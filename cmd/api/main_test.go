package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/doc-forge/internal/config"
	"github.com/yourusername/doc-forge/internal/jobs"
)

var testPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                      "0",
		GinMode:                   gin.TestMode,
		CORSAllowedOrigins:        "http://localhost:5173",
		MaxFileSize:               1 << 20,
		UploadDir:                 t.TempDir(),
		JobRetentionMinutes:       60,
		WorkerIdleTimeoutSeconds:  1,
		HeartbeatIntervalSeconds:  30,
		SyncConvertTimeoutMinutes: 1,
		JobStore:                  config.JobStoreMemory,
		DoclingPath:               filepath.Join(t.TempDir(), "missing-docling"),
		RateLimitRPS:              1000,
		RateLimitBurst:            1000,
		LogLevel:                  "info",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*gin.Engine, *app) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, closeStore, err := newApp(cfg)
	require.NoError(t, err)
	a.manager.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.manager.Stop(ctx)
		closeStore()
	})

	router := gin.New()
	setupRoutes(router, a)
	return router, a
}

func uploadRequest(t *testing.T, path, filename string, content []byte, format string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	if format != "" {
		require.NoError(t, writer.WriteField("output_format", format))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func waitForStatus(t *testing.T, manager *jobs.Manager, jobID string, want jobs.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		record, err := manager.GetJob(context.Background(), jobID)
		return err == nil && record != nil && record.Status == want
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConvertAsyncEndToEnd(t *testing.T) {
	router, _ := newTestServer(t, testConfig(t))

	rec := serve(router, uploadRequest(t, "/convert-async", "annual-report.pdf", testPDF, "html"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted struct {
		JobID   string `json:"job_id"`
		Message string `json:"message"`
	}
	decode(t, rec, &accepted)
	require.NotEmpty(t, accepted.JobID)

	var status jobs.StatusView
	require.Eventually(t, func() bool {
		rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+accepted.JobID, nil))
		if rec.Code != http.StatusOK {
			return false
		}
		status = jobs.StatusView{}
		_ = json.Unmarshal(rec.Body.Bytes(), &status)
		return status.Status == jobs.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, "annual-report.pdf", status.Filename)
	assert.Equal(t, "html", status.OutputFormat)
	assert.NotNil(t, status.StartedAt)
	assert.NotNil(t, status.CompletedAt)
	assert.Nil(t, status.Error)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+accepted.JobID+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result jobs.ResultView
	decode(t, rec, &result)
	assert.True(t, result.Success)
	require.NotNil(t, result.OutputContent)
	assert.NotEmpty(t, *result.OutputContent)
	require.NotNil(t, result.PageCount)
	assert.GreaterOrEqual(t, *result.PageCount, 1)
}

func TestConvertAsyncRejectsUnsupportedFile(t *testing.T) {
	router, a := newTestServer(t, testConfig(t))

	rec := serve(router, uploadRequest(t, "/convert-async", "report.txt", []byte("plain text"), ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	all, err := a.manager.ListJobs(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJobResultTooEarly(t *testing.T) {
	router, a := newTestServer(t, testConfig(t))
	ctx := context.Background()

	queuedID, err := a.manager.CreateJob(ctx, "a.pdf", "html")
	require.NoError(t, err)
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+queuedID+"/result", nil))
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	release := make(chan struct{})
	processingID, err := a.manager.CreateJob(ctx, "b.pdf", "html")
	require.NoError(t, err)
	require.NoError(t, a.manager.EnqueueJob(processingID, func(ctx context.Context, jobID string, report jobs.ProgressReporter) (*jobs.Result, error) {
		<-release
		return &jobs.Result{Content: "done", PageCount: 1}, nil
	}))
	waitForStatus(t, a.manager, processingID, jobs.StatusProcessing)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+processingID+"/result", nil))
	assert.Equal(t, http.StatusTooEarly, rec.Code)

	close(release)
	waitForStatus(t, a.manager, processingID, jobs.StatusCompleted)
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+processingID+"/result", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelJobEndpoint(t *testing.T) {
	router, a := newTestServer(t, testConfig(t))
	jobID, err := a.manager.CreateJob(context.Background(), "a.pdf", "html")
	require.NoError(t, err)

	rec := serve(router, httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(router, httptest.NewRequest(http.MethodDelete, "/jobs/"+jobID, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs/"+jobID+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var result jobs.ResultView
	decode(t, rec, &result)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.NotEmpty(t, *result.Error)
	assert.Nil(t, result.OutputContent)
}

func TestUnknownJob(t *testing.T) {
	router, _ := newTestServer(t, testConfig(t))

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/jobs/unknown", nil),
		httptest.NewRequest(http.MethodGet, "/jobs/unknown/result", nil),
		httptest.NewRequest(http.MethodDelete, "/jobs/unknown", nil),
	} {
		rec := serve(router, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", req.Method, req.URL.Path)
		var body map[string]string
		decode(t, rec, &body)
		assert.Equal(t, "JOB_NOT_FOUND", body["code"])
	}
}

func TestListJobs(t *testing.T) {
	router, a := newTestServer(t, testConfig(t))
	ctx := context.Background()
	first, err := a.manager.CreateJob(ctx, "a.pdf", "html")
	require.NoError(t, err)
	_, err = a.manager.CreateJob(ctx, "b.pdf", "html")
	require.NoError(t, err)
	_, err = a.manager.CancelJob(ctx, first)
	require.NoError(t, err)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Jobs []jobs.StatusView `json:"jobs"`
	}
	decode(t, rec, &all)
	assert.Len(t, all.Jobs, 2)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs?status=cancelled", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled struct {
		Jobs []jobs.StatusView `json:"jobs"`
	}
	decode(t, rec, &cancelled)
	require.Len(t, cancelled.Jobs, 1)
	assert.Equal(t, first, cancelled.Jobs[0].JobID)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/jobs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicEndpoints(t *testing.T) {
	router, _ := newTestServer(t, testConfig(t))

	for _, path := range []string{"/", "/health", "/formats"} {
		rec := serve(router, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]string
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
}

func TestAuthProtectsJobEndpoints(t *testing.T) {
	cfg := testConfig(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cfg.AppUsername = "admin"
	cfg.AppPasswordHash = string(hash)
	router, _ := newTestServer(t, cfg)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = serve(router, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJobStreamWebSocket(t *testing.T) {
	router, a := newTestServer(t, testConfig(t))
	srv := httptest.NewServer(router)
	defer srv.Close()

	jobID, err := a.manager.CreateJob(context.Background(), "a.pdf", "html")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + jobID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first jobs.StatusView
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, jobs.StatusQueued, first.Status)

	ok, err := a.manager.CancelJob(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)

	var update jobs.StatusView
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, jobs.StatusCancelled, update.Status)
}

func TestSetupJobsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreRedis
	cfg.JobStoreRedisURL = "redis://" + mr.Addr() + "/0"

	manager, closeStore, err := setupJobs(cfg)
	require.NoError(t, err)
	defer closeStore()

	jobID, err := manager.CreateJob(context.Background(), "a.pdf", "markdown")
	require.NoError(t, err)
	assert.True(t, mr.Exists("job:"+jobID))

	record, err := manager.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, jobs.StatusQueued, record.Status)
}

func TestSetupJobsRedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobStore = config.JobStoreRedis
	cfg.JobStoreRedisURL = "redis://127.0.0.1:1/0"

	_, _, err := setupJobs(cfg)

	assert.Error(t, err)
}
