package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cinebox/internal/models"
)

// MovieRepository is the data access layer for the catalog subset the encode
// pipeline touches.
type MovieRepository struct {
	db *DB
}

// NewMovieRepository creates a new MovieRepository.
func NewMovieRepository(db *DB) *MovieRepository {
	return &MovieRepository{db: db}
}

const movieColumns = `id, slug, title, status, source_path, content_files, created_at, updated_at`

// Create inserts a new movie row.
func (r *MovieRepository) Create(ctx context.Context, movie *models.Movie) error {
	if movie.ID == "" {
		movie.ID = uuid.New().String()
	}
	if movie.Status == "" {
		movie.Status = models.MovieStatusProcessing
	}
	now := time.Now()
	movie.CreatedAt = now
	movie.UpdatedAt = now

	files, err := encodeContentFiles(movie.ContentFiles)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO movies (id, slug, title, status, source_path, content_files, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		movie.ID, movie.Slug, movie.Title, movie.Status, movie.SourcePath, files, movie.CreatedAt, movie.UpdatedAt)
	return err
}

// GetByID fetches a movie by ID. Returns (nil, nil) when not found.
func (r *MovieRepository) GetByID(ctx context.Context, id string) (*models.Movie, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE id = ?`, id)
	return scanMovie(row)
}

// GetBySlug fetches a movie by its human-readable identifier.
func (r *MovieRepository) GetBySlug(ctx context.Context, slug string) (*models.Movie, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE slug = ?`, slug)
	return scanMovie(row)
}

// UpdateStatus writes the catalog status.
func (r *MovieRepository) UpdateStatus(ctx context.Context, id string, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE movies SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	return err
}

// ReplaceContentFiles swaps out every content file of the given type for the
// supplied set, leaving other types untouched. Calling it twice with the
// same set is a no-op, which makes webhook reconciliation idempotent.
func (r *MovieRepository) ReplaceContentFiles(ctx context.Context, id string, fileType string, files []models.ContentFile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT content_files FROM movies WHERE id = ?`, id).Scan(&raw)
	if err != nil {
		return err
	}

	var existing []models.ContentFile
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("failed to decode content files: %w", err)
		}
	}

	merged := make([]models.ContentFile, 0, len(existing)+len(files))
	for _, f := range existing {
		if f.Type != fileType {
			merged = append(merged, f)
		}
	}
	merged = append(merged, files...)

	encoded, err := encodeContentFiles(merged)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE movies SET content_files = ?, updated_at = ? WHERE id = ?`,
		encoded, time.Now(), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func encodeContentFiles(files []models.ContentFile) (string, error) {
	if files == nil {
		return "[]", nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode content files: %w", err)
	}
	return string(b), nil
}

func scanMovie(row *sql.Row) (*models.Movie, error) {
	var movie models.Movie
	var files string
	err := row.Scan(&movie.ID, &movie.Slug, &movie.Title, &movie.Status,
		&movie.SourcePath, &files, &movie.CreatedAt, &movie.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if files != "" && files != "[]" {
		if err := json.Unmarshal([]byte(files), &movie.ContentFiles); err != nil {
			return nil, fmt.Errorf("failed to decode content files: %w", err)
		}
	}
	return &movie, nil
}
