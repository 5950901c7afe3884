package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cinebox/internal/catalog"
	"cinebox/internal/models"
	"cinebox/internal/storage"
)

func newWebhookTest(t *testing.T, secret string) (*WebhookHandler, *storage.MovieRepository) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	movies := storage.NewMovieRepository(db)
	reconciler := catalog.NewReconciler(movies, "/media")
	return NewWebhookHandler(movies, reconciler, secret), movies
}

func postWebhook(h *WebhookHandler, key, secret, body string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/encode-complete/"+key, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/webhooks/encode-complete/:id")
	c.SetParamNames("id")
	c.SetParamValues(key)
	return rec, h.EncodeComplete(c)
}

const reportBody = `{"variants":[{"quality":"720p","path":"/media/M1/720p/index.m3u8","filesize":123}]}`

func TestWebhookResolvesByIDAndSlug(t *testing.T) {
	h, movies := newWebhookTest(t, "")
	movie := &models.Movie{ID: "M1", Slug: "night-train", Title: "Night Train", Status: models.MovieStatusProcessing}
	if err := movies.Create(context.Background(), movie); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, key := range []string{"M1", "night-train"} {
		rec, err := postWebhook(h, key, "", reportBody)
		if err != nil {
			t.Fatalf("handler error for %q: %v", key, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("key %q: expected 200, got %d (%s)", key, rec.Code, rec.Body)
		}
	}

	got, _ := movies.GetByID(context.Background(), "M1")
	if got.Status != models.MovieStatusReady {
		t.Errorf("expected ready, got %s", got.Status)
	}
	// Two deliveries, one entry: reconciliation replaced, not appended.
	if len(got.ContentFiles) != 1 {
		t.Errorf("expected 1 rendition after two deliveries, got %v", got.ContentFiles)
	}
}

func TestWebhookSecret(t *testing.T) {
	h, movies := newWebhookTest(t, "s3cret")
	movie := &models.Movie{ID: "M1", Slug: "night-train", Title: "Night Train"}
	if err := movies.Create(context.Background(), movie); err != nil {
		t.Fatalf("create: %v", err)
	}

	rec, err := postWebhook(h, "M1", "wrong", reportBody)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad secret, got %d", rec.Code)
	}
	got, _ := movies.GetByID(context.Background(), "M1")
	if got.Status == models.MovieStatusReady {
		t.Error("bad secret must not reconcile")
	}

	rec, err = postWebhook(h, "M1", "s3cret", reportBody)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for good secret, got %d (%s)", rec.Code, rec.Body)
	}
}

func TestWebhookUnknownMovieAndEmptyVariants(t *testing.T) {
	h, _ := newWebhookTest(t, "")

	rec, err := postWebhook(h, "ghost", "", reportBody)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown movie, got %d", rec.Code)
	}

	rec, err = postWebhook(h, "ghost", "", `{"variants":[]}`)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty variants, got %d", rec.Code)
	}
}
