package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/pkg/mid"
)

// routes builds the HTTP surface with its middleware chain.
func (a *app) routes() http.Handler {
	limit := mid.RateLimit(a.limiter)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("POST /upload", limit(handleUpload(a)))
	mux.Handle("GET /collections", handleCollections(a))
	mux.Handle("POST /ask", limit(handleAsk(a)))
	if a.cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	mw := []mid.Middleware{
		mid.Recover(a.logger),
		mid.Logger(a.logger),
		mid.CORS(a.cfg.Server.CORSOrigin),
		mid.Metrics(a.metrics),
	}
	if a.cfg.Telemetry.OTel {
		mw = append(mw, mid.OTel("nlp-ui"))
	}
	return mid.Chain(mux, mw...)
}

// serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func (a *app) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      a.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.cfg.Completion.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("nlp-ui server starting", "port", a.cfg.Server.Port,
			"vector_backend", a.cfg.VectorStore.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleUpload(a *app) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.Server.MaxUpload)
		file, header, err := r.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				mid.ErrorJSON(w, http.StatusRequestEntityTooLarge, "File too large.")
				return
			}
			mid.ErrorJSON(w, http.StatusBadRequest, "A file is required.")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			mid.ErrorJSON(w, http.StatusBadRequest, "Could not read uploaded file.")
			return
		}

		res, err := a.Upload(r.Context(), domain.Upload{Filename: header.Filename, Data: data})
		if err != nil {
			writeError(w, a.logger, "upload", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func handleCollections(a *app) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		names, err := a.Collections(r.Context())
		if err != nil {
			writeError(w, a.logger, "collections", err)
			return
		}
		writeJSON(w, http.StatusOK, names)
	})
}

func handleAsk(a *app) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := domain.Question{
			Text:       r.FormValue("question"),
			Collection: r.FormValue("collection"),
		}
		raw, err := a.Ask(r.Context(), q)
		if err != nil {
			writeError(w, a.logger, "ask", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(raw)
	})
}

// --- Error mapping ---

// apiError is the HTTP rendering of a pipeline error.
type apiError struct {
	status int
	kind   string
	msg    string
	detail json.RawMessage
}

// classify maps domain errors to status codes and client messages.
func classify(err error) apiError {
	var be *domain.BackendError
	if errors.As(err, &be) {
		return apiError{status: be.Status, kind: "backend_status", msg: "vLLM request failed", detail: be.Detail}
	}
	switch {
	case errors.Is(err, domain.ErrBackendUnavailable):
		return apiError{status: http.StatusServiceUnavailable, kind: "backend_unavailable", msg: "Completion backend unavailable."}
	case errors.Is(err, domain.ErrNoHits):
		return apiError{status: http.StatusNotFound, kind: "no_hits", msg: "No relevant documents found."}
	case errors.Is(err, domain.ErrCollectionNotFound):
		return apiError{status: http.StatusNotFound, kind: "collection_not_found", msg: "Collection not found."}
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return apiError{status: http.StatusBadRequest, kind: "unsupported_format", msg: "Unsupported file format. Upload PDF, DOCX, TXT, CSV, XLSX, or MD."}
	case errors.Is(err, domain.ErrEmptyText):
		return apiError{status: http.StatusBadRequest, kind: "empty_text", msg: "No extractable text found in file."}
	case errors.Is(err, domain.ErrDecoding):
		return apiError{status: http.StatusBadRequest, kind: "decoding", msg: "File encoding not supported. Use UTF-8 text files."}
	case errors.Is(err, domain.ErrDimensionMismatch):
		return apiError{status: http.StatusInternalServerError, kind: "dimension_mismatch", msg: "Embedding dimension does not match the collection."}
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return apiError{status: http.StatusBadRequest, kind: "invalid_request", msg: "Missing or invalid " + ve.Field + "."}
	}
	return apiError{status: http.StatusInternalServerError, kind: "internal", msg: "Internal server error."}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	e := classify(err)
	if e.status >= 500 {
		logger.Error(op+" failed", "err", err, "kind", e.kind)
	} else {
		logger.Warn(op+" rejected", "err", err, "kind", e.kind)
	}
	if e.detail != nil {
		writeJSON(w, e.status, struct {
			Error  string          `json:"error"`
			Detail json.RawMessage `json:"detail"`
		}{e.msg, e.detail})
		return
	}
	mid.ErrorJSON(w, e.status, e.msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
