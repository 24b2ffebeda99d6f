// Package domain defines the core types and error taxonomy shared by the
// upload and ask pipelines. It acts as the validation gate at pipeline entry points.
package domain

// Upload is a file received for indexing.
type Upload struct {
	Filename string
	Data     []byte
}

// Document is the text extracted from an upload, bound to its collection.
type Document struct {
	Filename   string
	Collection string
	Text       string
}

// UploadResult is reported back after a document has been indexed.
type UploadResult struct {
	Message    string `json:"message"`
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
}

// Question is a user question addressed to one collection.
type Question struct {
	Text       string `json:"question"`
	Collection string `json:"collection"`
}

// UploadMessage is the fixed confirmation text for a successful upload.
const UploadMessage = "Document uploaded and indexed"
