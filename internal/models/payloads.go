package models

// These structs define the JSON payloads for HTTP requests and responses
// between the Cloud Workflow and the worker Cloud Functions.

// SplitRequest asks the pdf-splitter function to split a source object.
type SplitRequest struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// SplitResponse is the output of the pdf-splitter HTTP entry point.
type SplitResponse struct {
	Status     string `json:"status"`
	DocumentID string `json:"documentId,omitempty"`
	PageCount  int    `json:"pageCount,omitempty"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// PageOCRRequest is the input for the page-ocr function.
type PageOCRRequest struct {
	DocumentID  string `json:"documentId"`
	PageNumber  int    `json:"pageNumber"`
	GCSUri      string `json:"gcsUri"`
	ExecutionID string `json:"executionId"`
}

// PageOCRResponse is the output of the page-ocr function.
type PageOCRResponse struct {
	Status      string              `json:"status"`
	PageKey     string              `json:"pageKey"`
	Source      string              `json:"source"`
	Suggestions map[string][]string `json:"suggestions,omitempty"`
}
