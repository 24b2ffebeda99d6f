package ingest

import (
	"time"

	"github.com/satyawork/nlp-ui/engine/domain"
)

// StoredUpload is an upload whose raw bytes have been written to disk.
type StoredUpload struct {
	domain.Upload
	Path string
}

// ChunkedDoc is an extracted document split into embeddable chunks.
type ChunkedDoc struct {
	domain.Document
	Chunks []string
}

// IndexedDoc is a document whose chunks are stored in its collection.
type IndexedDoc struct {
	domain.Document
	Chunks int
}

// DocumentIndexed is published after a successful upload.
type DocumentIndexed struct {
	Filename   string    `json:"filename"`
	Collection string    `json:"collection"`
	Chunks     int       `json:"chunks"`
	IndexedAt  time.Time `json:"indexed_at"`
}
