package models

import "time"

// Job is the persisted record of one remote encode or upload task.
type Job struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	MovieID     string            `json:"movie_id"`
	MovieTitle  string            `json:"movie_title"`
	State       string            `json:"state"`
	Progress    int               `json:"progress"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Job kinds. Kinds and states are plain strings so they round-trip through
// the store and the API without mapping layers.
const (
	JobKindUpload = "upload"
	JobKindEncode = "encode"
)

// Job states. A job moves pending -> encoding -> completed|failed for the
// encode kind; uploading and processing belong to the upload kind, which
// shares the store.
const (
	JobStatePending    = "pending"
	JobStateUploading  = "uploading"
	JobStateProcessing = "processing"
	JobStateEncoding   = "encoding"
	JobStateCompleted  = "completed"
	JobStateFailed     = "failed"
)

// ErrReasonCancelled is the fixed failure reason recorded by administrative
// cancellation.
const ErrReasonCancelled = "cancelled"

// IsTerminalState reports whether a state is immutable once reached.
func IsTerminalState(state string) bool {
	return state == JobStateCompleted || state == JobStateFailed
}
