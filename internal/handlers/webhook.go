package handlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"cinebox/internal/catalog"
	"cinebox/internal/models"
	"cinebox/internal/storage"
)

// SecretHeader carries the shared secret on webhook calls.
const SecretHeader = "X-Encoder-Secret"

// WebhookHandler accepts completion reports pushed by the encoding worker or
// an external ingester.
type WebhookHandler struct {
	movies     *storage.MovieRepository
	reconciler *catalog.Reconciler
	secret     string
}

// NewWebhookHandler creates a WebhookHandler. An empty secret disables the
// header check.
func NewWebhookHandler(movies *storage.MovieRepository, reconciler *catalog.Reconciler, secret string) *WebhookHandler {
	return &WebhookHandler{movies: movies, reconciler: reconciler, secret: secret}
}

// EncodeComplete applies a completion report to a movie, looked up by
// primary id first, then by slug. Replaying the same report is harmless.
func (h *WebhookHandler) EncodeComplete(c echo.Context) error {
	ctx := c.Request().Context()

	if h.secret != "" {
		got := c.Request().Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid secret"})
		}
	}

	var report catalog.CompletionReport
	if err := c.Bind(&report); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(report.Variants) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "variants must not be empty"})
	}

	key := c.Param("id")
	movie, err := h.movies.GetByID(ctx, key)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if movie == nil {
		movie, err = h.movies.GetBySlug(ctx, key)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	if movie == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "movie not found"})
	}

	if err := h.reconciler.Apply(ctx, movie.ID, report); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":   models.MovieStatusReady,
		"movie_id": movie.ID,
	})
}
