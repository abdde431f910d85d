package model

import "time"

// IngestJob is the queued form of an upload request.
type IngestJob struct {
	ID          string    `json:"id"`
	DocumentKey string    `json:"document_key"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}
