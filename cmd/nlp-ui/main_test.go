package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/ingest"
	"github.com/satyawork/nlp-ui/engine/rag"
	"github.com/satyawork/nlp-ui/engine/semantic"
	"github.com/satyawork/nlp-ui/pkg/config"
	"github.com/satyawork/nlp-ui/pkg/ollama"
)

// --- fakes ---

// letterEmbedder maps text to a normalized 26-dim letter histogram.
type letterEmbedder struct{}

func (letterEmbedder) vector(text string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / math.Sqrt(norm))
	}
	return v
}

func (e letterEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e letterEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

type fakeChat struct {
	mu    sync.Mutex
	calls int
	last  ollama.ChatRequest
	resp  json.RawMessage
	err   error
}

func (f *fakeChat) Chat(_ context.Context, req ollama.ChatRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

// --- helpers ---

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.VectorStore.Backend = "chromem"
	cfg.VectorStore.ChromemPath = ""
	cfg.VectorStore.Dimension = 26
	cfg.Server.UploadDir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config, chat rag.Backend) *app {
	t.Helper()
	store, err := semantic.NewChromem("")
	if err != nil {
		t.Fatalf("chromem: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := newApp(cfg, backends{Store: store, Embedder: letterEmbedder{}, Chat: chat}, logger)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	return a
}

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(w, " ")
}

func uploadRequest(t *testing.T, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func askRequest(question, collection string) *http.Request {
	form := url.Values{"question": {question}, "collection": {collection}}
	req := httptest.NewRequest("POST", "/ask", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return body
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var got string
	json.Unmarshal(errorBody(t, rec)["error"], &got)
	if got != msg {
		t.Fatalf("expected error %q, got %q", msg, got)
	}
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestUpload_NotesTxt(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &fakeChat{})
	h := a.routes()

	rec := serve(h, uploadRequest(t, "notes.txt", []byte(words(250))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res domain.UploadResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Message != domain.UploadMessage || res.Collection != "notes" || res.Chunks != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := os.Stat(filepath.Join(cfg.Server.UploadDir, "notes.txt")); err != nil {
		t.Fatalf("expected saved upload: %v", err)
	}

	rec = serve(h, httptest.NewRequest("GET", "/collections", nil))
	var names []string
	json.NewDecoder(rec.Body).Decode(&names)
	if len(names) != 1 || names[0] != "notes" {
		t.Fatalf("expected [notes], got %v", names)
	}
}

func TestCollections_EmptyIsArray(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	rec := serve(a.routes(), httptest.NewRequest("GET", "/collections", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected 200 [], got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpload_Rejections(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		msg  string
	}{
		{"image.png", []byte("x"), "Unsupported file format. Upload PDF, DOCX, TXT, CSV, XLSX, or MD."},
		{"blank.txt", []byte("   \n "), "No extractable text found in file."},
		{"latin1.txt", []byte{0xff, 0xfe, 0x41}, "File encoding not supported. Use UTF-8 text files."},
	}
	a := newTestApp(t, testConfig(t), &fakeChat{})
	h := a.routes()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectError(t, serve(h, uploadRequest(t, tc.name, tc.data)), http.StatusBadRequest, tc.msg)
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	req := httptest.NewRequest("POST", "/upload", strings.NewReader(""))
	expectError(t, serve(a.routes(), req), http.StatusBadRequest, "A file is required.")
}

func TestUpload_TooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.MaxUpload = 512
	a := newTestApp(t, cfg, &fakeChat{})
	rec := serve(a.routes(), uploadRequest(t, "big.txt", []byte(words(200))))
	expectError(t, rec, http.StatusRequestEntityTooLarge, "File too large.")
}

func TestAsk_Success(t *testing.T) {
	chat := &fakeChat{resp: json.RawMessage(`{"message":{"role":"assistant","content":"forty two"}}`)}
	a := newTestApp(t, testConfig(t), chat)
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(250))))

	rec := serve(h, askRequest("what is word7?", "notes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"message":{"role":"assistant","content":"forty two"}}` {
		t.Fatalf("expected backend body verbatim, got %s", rec.Body.String())
	}
	if chat.calls != 1 {
		t.Fatalf("expected 1 backend call, got %d", chat.calls)
	}
	user := chat.last.Messages[len(chat.last.Messages)-1].Content
	if !strings.HasPrefix(user, "Context:\n") || !strings.HasSuffix(user, "Question: what is word7?") {
		t.Fatalf("unexpected prompt: %q", user)
	}
}

func TestAsk_FromCollectionPhrase(t *testing.T) {
	chat := &fakeChat{resp: json.RawMessage(`{}`)}
	a := newTestApp(t, testConfig(t), chat)
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(50))))

	rec := serve(h, askRequest("what is word1 from collection notes", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAsk_EmptyCollection(t *testing.T) {
	chat := &fakeChat{resp: json.RawMessage(`{}`)}
	a := newTestApp(t, testConfig(t), chat)
	if err := a.collections.Ensure(context.Background(), "empty"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	expectError(t, serve(a.routes(), askRequest("anything?", "empty")), http.StatusNotFound, "No relevant documents found.")
	if chat.calls != 0 {
		t.Fatalf("expected backend untouched, got %d calls", chat.calls)
	}
}

func TestAsk_UnknownCollection(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	expectError(t, serve(a.routes(), askRequest("anything?", "ghost")), http.StatusNotFound, "Collection not found.")
}

func TestAsk_MissingFields(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	h := a.routes()
	expectError(t, serve(h, askRequest("", "notes")), http.StatusBadRequest, "Missing or invalid question.")
	expectError(t, serve(h, askRequest("why?", "")), http.StatusBadRequest, "Missing or invalid collection.")
}

func TestAsk_Backend500NonJSON(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal error"))
	}))
	defer backend.Close()

	a := newTestApp(t, testConfig(t), ollama.NewChatClient(backend.URL, 5*time.Second))
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(250))))

	rec := serve(h, askRequest("what is word3?", "notes"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	body := errorBody(t, rec)
	if string(body["error"]) != `"vLLM request failed"` || string(body["detail"]) != `"Internal error"` {
		t.Fatalf("unexpected body: error=%s detail=%s", body["error"], body["detail"])
	}
}

func TestAsk_BackendJSONErrorPassedThrough(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer backend.Close()

	a := newTestApp(t, testConfig(t), ollama.NewChatClient(backend.URL, 5*time.Second))
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(50))))

	rec := serve(h, askRequest("what is word3?", "notes"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := string(errorBody(t, rec)["detail"]); got != `{"error":"model not found"}` {
		t.Fatalf("expected JSON detail verbatim, got %s", got)
	}
}

func TestAsk_BackendUnavailable(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{err: errors.New("connection refused")})
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(50))))
	expectError(t, serve(h, askRequest("hello?", "notes")), http.StatusServiceUnavailable, "Completion backend unavailable.")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.RateLimit = 0.001
	cfg.Server.RateBurst = 1
	a := newTestApp(t, cfg, &fakeChat{})
	h := a.routes()

	if rec := serve(h, askRequest("", "")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}
	rec := serve(h, askRequest("", ""))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := serve(h, httptest.NewRequest("GET", "/collections", nil)); rec.Code != http.StatusOK {
		t.Fatalf("collections should not be limited, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	h := a.routes()
	serve(h, uploadRequest(t, "notes.txt", []byte(words(250))))
	serve(h, uploadRequest(t, "image.png", []byte("x")))

	rec := serve(h, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`nlpui_uploads_total{outcome="ok"} 1`,
		`nlpui_uploads_total{outcome="unsupported_format"} 1`,
		"nlpui_chunks_per_document_count 1",
		`nlpui_http_requests_total{path="/upload",status="200"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics:\n%s", want, body)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Telemetry.Metrics = false
	a := newTestApp(t, cfg, &fakeChat{})
	if rec := serve(a.routes(), httptest.NewRequest("GET", "/metrics", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	rec := serve(a.routes(), httptest.NewRequest("OPTIONS", "/ask", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected *, got %s", got)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{fmt.Errorf("rag: x: %w", domain.ErrNoHits), 404, "no_hits"},
		{domain.ErrCollectionNotFound, 404, "collection_not_found"},
		{domain.NewValidationError("file", "a.png", domain.ErrUnsupportedFormat), 400, "unsupported_format"},
		{domain.NewValidationError("question", "", domain.ErrInvalidRequest), 400, "invalid_request"},
		{domain.NewBackendError(502, []byte("bad gateway")), 502, "backend_status"},
		{fmt.Errorf("x: %w", domain.ErrBackendUnavailable), 503, "backend_unavailable"},
		{domain.ErrDimensionMismatch, 500, "dimension_mismatch"},
		{errors.New("boom"), 500, "internal"},
	}
	for _, tc := range cases {
		got := classify(tc.err)
		if got.status != tc.status || got.kind != tc.kind {
			t.Errorf("%v: expected %d/%s, got %d/%s", tc.err, tc.status, tc.kind, got.status, got.kind)
		}
	}
}

// cancelWriter cancels the watch once the first event is written.
type cancelWriter struct {
	bytes.Buffer
	cancel context.CancelFunc
}

func (w *cancelWriter) Write(p []byte) (int, error) {
	defer w.cancel()
	return w.Buffer.Write(p)
}

func TestWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &cancelWriter{cancel: cancel}

	unsubscribed := false
	err := watch(ctx, w, func(h func(context.Context, ingest.DocumentIndexed)) (func() error, error) {
		h(ctx, ingest.DocumentIndexed{Filename: "notes.txt", Collection: "notes", Chunks: 4})
		return func() error { unsubscribed = true; return nil }, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !unsubscribed {
		t.Fatal("expected unsubscribe on exit")
	}
	var ev ingest.DocumentIndexed
	if err := json.Unmarshal(w.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Collection != "notes" || ev.Chunks != 4 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestWatch_SubscribeError(t *testing.T) {
	err := watch(context.Background(), io.Discard, func(func(context.Context, ingest.DocumentIndexed)) (func() error, error) {
		return nil, errors.New("no responders")
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestIndexFiles(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &fakeChat{})
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte(words(250)), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := indexFiles(context.Background(), a, &out, []string{path}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res domain.UploadResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Collection != "notes" || res.Chunks != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestIndexFiles_WriteError(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte(words(10)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := indexFiles(context.Background(), a, failWriter{}, []string{path}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestIndexFiles_MissingFile(t *testing.T) {
	a := newTestApp(t, testConfig(t), &fakeChat{})
	err := indexFiles(context.Background(), a, io.Discard, []string{filepath.Join(t.TempDir(), "absent.txt")})
	if err == nil {
		t.Fatal("expected read error")
	}
}
