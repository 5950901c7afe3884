package models

import "time"

// Movie is the subset of a catalog entry the encode pipeline reads and
// writes. Catalog CRUD owns everything else.
type Movie struct {
	ID         string `json:"id"`
	Slug       string `json:"slug"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	SourcePath string `json:"source_path,omitempty"`

	// ContentFiles lists playable renditions. Reconciliation replaces all
	// entries of one type at once; it never appends next to stale ones.
	ContentFiles []ContentFile `json:"content_files"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentFile is one playable rendition of a movie.
type ContentFile struct {
	Type     string `json:"type"`
	Quality  string `json:"quality"`
	Path     string `json:"path"`
	Filesize int64  `json:"filesize,omitempty"`
}

// Movie statuses written by reconciliation.
const (
	MovieStatusProcessing = "processing"
	MovieStatusReady      = "ready"
	MovieStatusError      = "error"
)

// ContentTypeHLS marks renditions produced by the remote encoder.
const ContentTypeHLS = "hls"
