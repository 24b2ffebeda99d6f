// Package ingest turns uploaded files into indexed collections: it validates
// and stores the raw file, extracts and chunks its text, embeds the chunks and
// writes them to the document's collection.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/satyawork/nlp-ui/engine/chunk"
	"github.com/satyawork/nlp-ui/engine/domain"
	"github.com/satyawork/nlp-ui/engine/semantic"
	"github.com/satyawork/nlp-ui/pkg/fn"
)

// Extractor returns the plain text of a file, chosen by its extension.
type Extractor interface {
	Extract(filename string, data []byte) (string, error)
}

// Notifier announces indexed documents. Failures never fail an upload.
type Notifier interface {
	DocumentIndexed(ctx context.Context, ev DocumentIndexed) error
}

// Deps holds the collaborators of the upload pipeline.
type Deps struct {
	Extractor Extractor
	Indexer   *Indexer
	Chunker   chunk.Chunker
	Naming    semantic.NamingPolicy
	// UploadDir receives raw uploads. Empty skips saving.
	UploadDir string
	// Notifier is optional.
	Notifier Notifier
	Logger   *slog.Logger
}

// --- Pipeline Stages ---

// Validate rejects uploads without a name or with an unsupported extension.
var Validate fn.Stage[domain.Upload, domain.Upload] = func(_ context.Context, u domain.Upload) fn.Result[domain.Upload] {
	if err := domain.ValidateUpload(u); err != nil {
		return fn.Err[domain.Upload](err)
	}
	return fn.Ok(u)
}

// NewSave writes the raw upload under dir, keyed by its base name. An
// existing file with the same name is replaced.
func NewSave(dir string) fn.Stage[domain.Upload, StoredUpload] {
	return func(_ context.Context, u domain.Upload) fn.Result[StoredUpload] {
		if dir == "" {
			return fn.Ok(StoredUpload{Upload: u})
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fn.Err[StoredUpload](fmt.Errorf("ingest: create upload dir: %w", err))
		}
		path := filepath.Join(dir, filepath.Base(filepath.Clean("/"+u.Filename)))
		if err := os.WriteFile(path, u.Data, 0o644); err != nil {
			return fn.Err[StoredUpload](fmt.Errorf("ingest: save upload: %w", err))
		}
		return fn.Ok(StoredUpload{Upload: u, Path: path})
	}
}

// NewExtract pulls text out of the upload and names its collection.
func NewExtract(ex Extractor, naming semantic.NamingPolicy) fn.Stage[StoredUpload, domain.Document] {
	return func(_ context.Context, u StoredUpload) fn.Result[domain.Document] {
		text, err := ex.Extract(u.Filename, u.Data)
		if err != nil {
			return fn.Err[domain.Document](fmt.Errorf("ingest: extract %s: %w", u.Filename, err))
		}
		if chunk.WordCount(text) == 0 {
			return fn.Err[domain.Document](fmt.Errorf("ingest: %s: %w", u.Filename, domain.ErrEmptyText))
		}
		return fn.Ok(domain.Document{
			Filename:   u.Filename,
			Collection: semantic.CollectionName(u.Filename, naming),
			Text:       text,
		})
	}
}

// NewChunk splits the document text with c.
func NewChunk(c chunk.Chunker) fn.Stage[domain.Document, ChunkedDoc] {
	return func(_ context.Context, doc domain.Document) fn.Result[ChunkedDoc] {
		chunks, err := c.Split(doc.Text)
		if err != nil {
			return fn.Err[ChunkedDoc](err)
		}
		return fn.Ok(ChunkedDoc{Document: doc, Chunks: chunks})
	}
}

// NewIndex embeds and stores the chunks.
func NewIndex(ix *Indexer) fn.Stage[ChunkedDoc, IndexedDoc] {
	return func(ctx context.Context, doc ChunkedDoc) fn.Result[IndexedDoc] {
		n, err := ix.Index(ctx, doc.Collection, doc.Chunks)
		if err != nil {
			return fn.Err[IndexedDoc](err)
		}
		return fn.Ok(IndexedDoc{Document: doc.Document, Chunks: n})
	}
}

// NewNotify publishes a DocumentIndexed event. Publish errors are logged.
func NewNotify(n Notifier, log *slog.Logger) fn.Stage[IndexedDoc, IndexedDoc] {
	return fn.TapStage(func(ctx context.Context, doc IndexedDoc) {
		if n == nil {
			return
		}
		ev := DocumentIndexed{
			Filename:   doc.Filename,
			Collection: doc.Collection,
			Chunks:     doc.Chunks,
			IndexedAt:  time.Now().UTC(),
		}
		if err := n.DocumentIndexed(ctx, ev); err != nil {
			log.Warn("ingest: notify failed", "err", err, "collection", doc.Collection)
		}
	})
}

// LoggedTap returns a stage that logs entry/exit with duration.
func LoggedTap[T any](name string, log *slog.Logger) fn.Stage[T, T] {
	return func(ctx context.Context, t T) fn.Result[T] {
		log.Info("stage.enter", "stage", name)
		start := time.Now()
		defer func() {
			log.Info("stage.exit", "stage", name, "duration", time.Since(start))
		}()
		return fn.Ok(t)
	}
}

// NewPipeline constructs the upload pipeline with all stages wired.
func NewPipeline(deps Deps) fn.Stage[domain.Upload, domain.UploadResult] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	chunker := deps.Chunker
	if chunker.Size == 0 {
		chunker = chunk.Default()
	}

	// Validate → Save → Extract → Chunk → Index → Notify
	validated := fn.Then(LoggedTap[domain.Upload]("validate", log), Validate)
	saved := fn.Then(validated, fn.Then(LoggedTap[domain.Upload]("save", log), NewSave(deps.UploadDir)))
	extracted := fn.Then(saved, fn.Then(LoggedTap[StoredUpload]("extract", log), NewExtract(deps.Extractor, deps.Naming)))
	chunked := fn.Then(extracted, fn.Then(LoggedTap[domain.Document]("chunk", log), NewChunk(chunker)))
	indexed := fn.Then(chunked, fn.Then(LoggedTap[ChunkedDoc]("index", log), NewIndex(deps.Indexer)))
	notified := fn.Then(indexed, NewNotify(deps.Notifier, log))

	return fn.Then(notified, fn.MapStage(func(doc IndexedDoc) domain.UploadResult {
		return domain.UploadResult{
			Message:    domain.UploadMessage,
			Collection: doc.Collection,
			Chunks:     doc.Chunks,
		}
	}))
}
