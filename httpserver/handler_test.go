package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/storage"
	"github.com/ruteri/storage-gateway/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockScanner struct {
	mock.Mock
}

func (m *MockScanner) Scan(ctx context.Context, data []byte) (bool, error) {
	args := m.Called(ctx, data)
	return args.Bool(0), args.Error(1)
}

type testServer struct {
	handler http.Handler
	root    string
}

type serverOption func(cfg *HTTPServerConfig, storageCfg *interfaces.StaticConfig)

func withJWTSecret(secret string) serverOption {
	return func(cfg *HTTPServerConfig, _ *interfaces.StaticConfig) { cfg.JWTSecret = secret }
}

func withStorageType(t string) serverOption {
	return func(_ *HTTPServerConfig, storageCfg *interfaces.StaticConfig) { storageCfg.Type = t }
}

func withHealth(h HealthConfig) serverOption {
	return func(cfg *HTTPServerConfig, _ *interfaces.StaticConfig) { cfg.Health = h }
}

func newTestServer(t *testing.T, scanner interfaces.MalwareScanner, opts ...serverOption) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	root := t.TempDir()
	storageCfg := interfaces.StaticConfig{
		Type:                storage.TypeFile,
		FileLocation:        root,
		FileExternalURLBase: "https://files.example.com/v1.0/storage",
	}
	cfg := &HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
		Health:                   HealthConfig{AppName: "storage-api", Commit: "abc123", MaxCascade: 2},
	}
	for _, opt := range opts {
		opt(cfg, &storageCfg)
	}

	factory := storage.NewStorageBackendFactory(logger, storageCfg, storage.S3Options{})
	handler := NewHandler(factory, upload.NewOrchestrator(scanner, logger), logger)

	srv, err := New(cfg, handler)
	require.NoError(t, err)

	return &testServer{handler: srv.srv.Handler, root: root}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

type testFile struct {
	field   string
	name    string
	mime    string
	content string
}

func multipartRequest(t *testing.T, target string, files ...testFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		h.Set("Content-Type", f.mime)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("comment", "not a file"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func saveFiles(t *testing.T, ts *testServer, target string, files ...testFile) upload.Results {
	t.Helper()
	rr := ts.do(multipartRequest(t, target, files...))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var results upload.Results
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&results))
	return results
}

func TestHandleSave_ThenGet(t *testing.T) {
	ts := newTestServer(t, nil)

	results := saveFiles(t, ts, "/v1.0/storage/inbox?subdirectories=2024,q1",
		testFile{field: "report", name: "q1.csv", mime: "text/csv", content: "a,b\n1,2\n"},
		testFile{field: "summary", name: "summary.pdf", mime: "application/pdf", content: "%PDF-1.4"},
	)

	require.Len(t, results["report"], 1)
	require.Len(t, results["summary"], 1)
	report := results["report"][0]
	assert.Equal(t, "inbox", report.Bucket)
	assert.Equal(t, "2024,q1", report.Subdirectory)
	assert.Equal(t, "inbox/"+report.FileID+"?subdirectories=2024,q1", report.Reference)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/"+report.FileID+"?subdirectories=2024,q1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/csv", rr.Header().Get("Content-Type"))
	assert.Empty(t, rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "a,b\n1,2\n", rr.Body.String())
}

func TestHandleSave_NoFiles(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodPost, "/v1.0/storage/inbox", bytes.NewReader([]byte("{}"))))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, interfaces.CodeNoFile, decodeError(t, rr).Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("comment", "no files here"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1.0/storage/inbox", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, interfaces.CodeNoFile, decodeError(t, rr).Code)
}

func TestHandleSave_ThreatFound(t *testing.T) {
	scanner := new(MockScanner)
	scanner.On("Scan", mock.Anything, []byte("clean")).Return(false, nil)
	scanner.On("Scan", mock.Anything, []byte("infected")).Return(true, nil)
	ts := newTestServer(t, scanner)

	rr := ts.do(multipartRequest(t, "/v1.0/storage/inbox?scan=True",
		testFile{field: "a", name: "a.txt", mime: "text/plain", content: "clean"},
		testFile{field: "b", name: "b.txt", mime: "text/plain", content: "infected"},
	))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	resp := decodeError(t, rr)
	assert.Equal(t, interfaces.CodeThreatFound, resp.Code)
	assert.Equal(t, "Virus scan failed on uploaded document", resp.Message)

	entries, err := os.ReadDir(filepath.Join(ts.root, "inbox"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleSave_ScanNotRequested(t *testing.T) {
	scanner := new(MockScanner)
	ts := newTestServer(t, scanner)

	saveFiles(t, ts, "/v1.0/storage/inbox?scan=false",
		testFile{field: "a", name: "a.txt", mime: "text/plain", content: "anything"},
	)
	scanner.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
}

func TestHandleGetFile_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, ErrorResponse{Code: interfaces.CodeNotFound, Message: "File not found"}, decodeError(t, rr))
}

func TestHandleGetFile_Directory(t *testing.T) {
	ts := newTestServer(t, nil)

	dir := filepath.Join(ts.root, "inbox", "batch")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/batch", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/zip", rr.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=archive.zip", rr.Header().Get("Content-Disposition"))
	assert.Equal(t, "PK", rr.Body.String()[:2])

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/batch?archive_name=batch.zip", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "attachment; filename=batch.zip", rr.Header().Get("Content-Disposition"))
}

func TestHandleGetFile_InvalidAddress(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/abc?subdirectories=a,..", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, interfaces.CodeInvalidAddress, decodeError(t, rr).Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/../abc", nil))
	assert.NotEqual(t, http.StatusOK, rr.Code)
}

func TestHandleGetFile_UnknownStorageType(t *testing.T) {
	ts := newTestServer(t, nil, withStorageType("gcs"))

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/abc", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, interfaces.CodeUnimplemented, decodeError(t, rr).Code)
}

func TestHandleExternalURL(t *testing.T) {
	ts := newTestServer(t, nil)

	results := saveFiles(t, ts, "/v1.0/storage/inbox",
		testFile{field: "doc", name: "doc.txt", mime: "text/plain", content: "hello"},
	)
	doc := results["doc"][0]

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/"+doc.FileID+"/external-url", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var url interfaces.ExternalURL
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&url))
	assert.Equal(t, "https://files.example.com/v1.0/storage/inbox/"+doc.FileID, url.ExternalReference)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/missing/external-url", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleDelete(t *testing.T) {
	ts := newTestServer(t, nil)

	results := saveFiles(t, ts, "/v1.0/storage/inbox?subdirectories=2024",
		testFile{field: "doc", name: "doc.txt", mime: "text/plain", content: "hello"},
	)
	doc := results["doc"][0]

	// Without the subdirectory the file is not addressed.
	rr := ts.do(httptest.NewRequest(http.MethodDelete, "/v1.0/storage/inbox/"+doc.FileID, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodDelete, "/v1.0/storage/inbox/"+doc.FileID+"?subdirectories=2024", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodDelete, "/v1.0/storage/inbox/"+doc.FileID+"?subdirectories=2024", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, interfaces.CodeNotFound, decodeError(t, rr).Code)
}

func signToken(t *testing.T, secret string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "tester",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRequireAuth(t *testing.T) {
	ts := newTestServer(t, nil, withJWTSecret("s3cret"))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", time.Hour), status: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, "s3cret", -time.Hour), status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + signToken(t, "s3cret", time.Hour), status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1.0/storage/inbox/missing", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := ts.do(req)
			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, interfaces.CodeUnauthorized, decodeError(t, rr).Code)
			}
		})
	}

	// Health endpoints stay public.
	rr := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTraceIDHeader(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rr := ts.do(req)
	assert.Equal(t, "trace-123", rr.Header().Get(TraceIDHeader))

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.NotEmpty(t, rr.Header().Get(TraceIDHeader))
}

func TestReadinessAndDrain(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.JSONEq(t, `{"status":"already draining"}`, rr.Body.String())

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())

	rr = ts.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
