package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"cvsearch-backend/internal/bootstrap"
	"cvsearch-backend/internal/documents"
	"cvsearch-backend/internal/extract/pdffixture"
	"cvsearch-backend/internal/ingest"
	"cvsearch-backend/internal/queue"
	"cvsearch-backend/internal/shared/config"
	"cvsearch-backend/internal/uploads"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Env:                  "test",
		LocalStoreDir:        t.TempDir(),
		UploadMaxKB:          64,
		WorkerConcurrency:    2,
		ShutdownTimeout:      5 * time.Second,
		IngestRetryBase:      time.Millisecond,
		DefaultDocumentTitle: documents.DefaultTitle,
		OpsToken:             "ops-secret",
	}
}

func buildApp(t *testing.T, cfg config.Config) *bootstrap.App {
	t.Helper()
	app, err := bootstrap.Build(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func uploadRequest(t *testing.T, owner, title, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("write title: %v", err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="resume.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	return req
}

func search(t *testing.T, app *bootstrap.App, owner, q string) []documents.DocumentResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents/search?q="+q, nil)
	req.Header.Set("X-Owner-Id", owner)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("search expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var out []documents.DocumentResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode search: %v", err)
	}
	return out
}

func TestBuildDefaultsToMemoryBackends(t *testing.T) {
	app := buildApp(t, testConfig(t))

	if _, ok := app.Documents.(*documents.MemoryRepo); !ok {
		t.Fatalf("expected memory repo, got %T", app.Documents)
	}
	if _, ok := app.Failures.(*ingest.MemoryFailureStore); !ok {
		t.Fatalf("expected memory failure store, got %T", app.Failures)
	}
	if _, ok := app.Queue.(*queue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", app.Queue)
	}
	if !app.InProcessWorkers() {
		t.Fatalf("expected in-process workers for memory queue")
	}
	if app.Router == nil {
		t.Fatalf("expected router")
	}
}

func TestBuildSQLiteBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocumentStore = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "documents.db")

	app := buildApp(t, cfg)
	if _, ok := app.Documents.(*documents.SQLiteRepo); !ok {
		t.Fatalf("expected sqlite repo, got %T", app.Documents)
	}
	if app.DB == nil {
		t.Fatalf("expected sqlite handle")
	}
}

func TestBuildRejectsIncompleteS3Config(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStoreType = "s3"

	if _, err := bootstrap.Build(cfg); err == nil {
		t.Fatalf("expected error without S3 bucket")
	}
}

func TestBuildRejectsMemoryDocumentsOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = "production"

	if _, err := bootstrap.Build(cfg); err == nil || !strings.Contains(err.Error(), "in-memory document store") {
		t.Fatalf("expected in-memory document store to be rejected, got %v", err)
	}
}

func TestBuildRejectsMemoryDocumentsWithSharedQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.QueueBackend = "redis"
	cfg.RedisAddr = mr.Addr()

	if _, err := bootstrap.Build(cfg); err == nil || !strings.Contains(err.Error(), "QUEUE_BACKEND=memory") {
		t.Fatalf("expected memory store with redis queue to be rejected, got %v", err)
	}

	cfg.DocumentStore = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "documents.db")
	app := buildApp(t, cfg)
	if _, ok := app.Queue.(*queue.RedisQueue); !ok {
		t.Fatalf("expected redis queue, got %T", app.Queue)
	}
	if app.InProcessWorkers() {
		t.Fatalf("redis queue must be consumed by the worker binary")
	}
}

func TestUploadIngestSearchEndToEnd(t *testing.T) {
	app := buildApp(t, testConfig(t))

	pdf := pdffixture.Build("Senior Go engineer", "Kubernetes and Postgres")
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, uploadRequest(t, "owner-1", "Resume", "application/pdf", pdf))
	if resp.Code != http.StatusAccepted {
		t.Fatalf("upload expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var accepted uploads.Accepted
	if err := json.Unmarshal(resp.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	if accepted.TaskID == "" || accepted.BlobLocator == "" {
		t.Fatalf("expected task id and blob locator, got %+v", accepted)
	}

	if got := search(t, app, "owner-1", "kubernetes"); len(got) != 0 {
		t.Fatalf("expected no results before ingestion, got %d", len(got))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.NewPool("test").Run(ctx) }()

	var results []documents.DocumentResponse
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		results = search(t, app, "owner-1", "kubernetes")
		if len(results) > 0 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("pool run: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Resume" || results[0].OwnerID != "owner-1" {
		t.Fatalf("unexpected document %+v", results[0])
	}
	if got := search(t, app, "owner-2", "kubernetes"); len(got) != 0 {
		t.Fatalf("expected owner isolation, got %d results", len(got))
	}
}

func TestUploadRejections(t *testing.T) {
	app := buildApp(t, testConfig(t))
	pdf := pdffixture.Build("hello")

	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing owner", uploadRequest(t, "", "", "application/pdf", pdf), http.StatusUnauthorized},
		{"wrong type", uploadRequest(t, "owner-1", "", "text/plain", []byte("plain text")), http.StatusBadRequest},
		{"not a pdf", uploadRequest(t, "owner-1", "", "application/pdf", []byte("plain text")), http.StatusBadRequest},
		{"too large", uploadRequest(t, "owner-1", "", "application/pdf", append(pdf, bytes.Repeat([]byte("x"), 65*1024)...)), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			app.Router.ServeHTTP(resp, tc.req)
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.Code, resp.Body.String())
			}
		})
	}

	if n := app.Queue.(*queue.MemoryQueue).Len(); n != 0 {
		t.Fatalf("expected no tasks enqueued, got %d", n)
	}
}

func TestListRequiresIdentity(t *testing.T) {
	app := buildApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
	req.Header.Set("X-Owner-Id", "owner-1")
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if got := resp.Body.String(); got != "[]" {
		t.Fatalf("expected empty list, got %s", got)
	}
}

func TestOpsFailuresRequireToken(t *testing.T) {
	app := buildApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/ingestion-failures", nil)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/ops/ingestion-failures", nil)
	req.Header.Set("X-Ops-Token", "ops-secret")
	resp = httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := buildApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestReadyWithSQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocumentStore = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "documents.db")
	app := buildApp(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil)
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
}
