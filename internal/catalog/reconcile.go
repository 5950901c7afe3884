package catalog

import (
	"context"
	"fmt"
	"path"

	"cinebox/internal/models"
	"cinebox/internal/storage"
)

// Qualities the remote encoder always produces, one pass each, highest
// first. Output lands under <root>/<movieID>/<quality>/index.m3u8.
var Qualities = []string{"1080p", "720p", "480p"}

// Reconciler applies encode outcomes to the movie catalog. It is the only
// writer of movie status and HLS content files inside this service.
type Reconciler struct {
	movies  *storage.MovieRepository
	hlsRoot string
}

// NewReconciler creates a Reconciler. hlsRoot is the public path prefix
// under which the worker publishes encoded output.
func NewReconciler(movies *storage.MovieRepository, hlsRoot string) *Reconciler {
	return &Reconciler{movies: movies, hlsRoot: hlsRoot}
}

// Completed records a successful encode: the fixed quality variants at their
// conventional paths, then status ready.
func (r *Reconciler) Completed(ctx context.Context, movieID string) error {
	files := make([]models.ContentFile, 0, len(Qualities))
	for _, q := range Qualities {
		files = append(files, models.ContentFile{
			Type:    models.ContentTypeHLS,
			Quality: q,
			Path:    path.Join(r.hlsRoot, movieID, q, "index.m3u8"),
		})
	}
	if err := r.movies.ReplaceContentFiles(ctx, movieID, models.ContentTypeHLS, files); err != nil {
		return fmt.Errorf("failed to update content files: %w", err)
	}
	return r.movies.UpdateStatus(ctx, movieID, models.MovieStatusReady)
}

// Failed records a failed encode. The movie must not be left in processing.
func (r *Reconciler) Failed(ctx context.Context, movieID string) error {
	return r.movies.UpdateStatus(ctx, movieID, models.MovieStatusError)
}

// CompletionReport is what the worker (or an external ingester) posts to the
// completion webhook once output files are in place.
type CompletionReport struct {
	Master     string          `json:"master,omitempty"`
	Variants   []ReportVariant `json:"variants"`
	Thumbnails []string        `json:"thumbnails,omitempty"`
	HLSFolder  string          `json:"hlsFolder,omitempty"`
}

// ReportVariant is one encoded rendition in a completion report.
type ReportVariant struct {
	Quality  string `json:"quality"`
	Path     string `json:"path"`
	Filesize int64  `json:"filesize,omitempty"`
}

// Apply performs webhook reconciliation. Prior HLS entries are replaced, not
// appended to, so reposting the same report is harmless.
func (r *Reconciler) Apply(ctx context.Context, movieID string, report CompletionReport) error {
	files := make([]models.ContentFile, 0, len(report.Variants))
	for _, v := range report.Variants {
		files = append(files, models.ContentFile{
			Type:     models.ContentTypeHLS,
			Quality:  v.Quality,
			Path:     v.Path,
			Filesize: v.Filesize,
		})
	}
	if err := r.movies.ReplaceContentFiles(ctx, movieID, models.ContentTypeHLS, files); err != nil {
		return fmt.Errorf("failed to update content files: %w", err)
	}
	return r.movies.UpdateStatus(ctx, movieID, models.MovieStatusReady)
}
