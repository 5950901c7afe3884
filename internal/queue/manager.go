package queue

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"cinebox/internal/catalog"
	"cinebox/internal/encode"
	"cinebox/internal/models"
	"cinebox/internal/storage"
	"cinebox/internal/transport"
)

// Manager owns the encode queue: it promotes pending jobs, dispatches them
// to the remote worker, persists progress, and reconciles outcomes onto the
// catalog. One instance per process; the scan guard is process-local.
type Manager struct {
	jobs       *storage.JobRepository
	movies     *storage.MovieRepository
	reconciler *catalog.Reconciler
	transport  transport.Transport

	mediaRoot string

	// scanning guards ProcessQueue against re-entrant triggers. It does
	// not protect against a second process sharing the database.
	scanning atomic.Bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewManager creates a queue manager. maxConcurrent bounds simultaneous
// dispatches; the remote worker is trusted to serialize beyond that.
func NewManager(jobs *storage.JobRepository, movies *storage.MovieRepository,
	reconciler *catalog.Reconciler, tr transport.Transport,
	mediaRoot string, maxConcurrent int64) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 64
	}
	return &Manager{
		jobs:       jobs,
		movies:     movies,
		reconciler: reconciler,
		transport:  tr,
		mediaRoot:  mediaRoot,
		sem:        semaphore.NewWeighted(maxConcurrent),
	}
}

// ProcessQueue scans for pending encode jobs and dispatches each one
// concurrently. Safe to trigger from anywhere at any time: overlapping
// triggers skip, and all errors end up on the job rows, never with the
// caller.
func (m *Manager) ProcessQueue(ctx context.Context) {
	if !m.scanning.CompareAndSwap(false, true) {
		return
	}
	defer m.scanning.Store(false)

	jobs, err := m.jobs.List(ctx, storage.JobFilter{
		State: models.JobStatePending,
		Kind:  models.JobKindEncode,
	})
	if err != nil {
		log.Printf("queue scan failed: %v", err)
		return
	}

	for i := range jobs {
		job := jobs[i]

		movie, err := m.movies.GetByID(ctx, job.MovieID)
		if err != nil || movie == nil {
			// Fail fast before any remote work is attempted.
			reason := "movie not found"
			if err != nil {
				reason = "movie lookup failed: " + err.Error()
			}
			if _, ferr := m.jobs.Fail(ctx, job.ID, reason); ferr != nil {
				log.Printf("failed to fail job %s: %v", job.ID, ferr)
			}
			continue
		}

		started, err := m.jobs.Start(ctx, job.ID)
		if err != nil {
			log.Printf("failed to start job %s: %v", job.ID, err)
			continue
		}
		if !started {
			// Claimed or cancelled since the scan read it.
			continue
		}

		log.Printf("dispatching encode job %s (movie %s)", job.ID, job.MovieID)
		m.wg.Add(1)
		go m.dispatch(job, movie)
	}
}

// dispatch runs one encode end to end. It deliberately detaches from the
// trigger's context: HTTP requests come and go, the encode does not.
func (m *Manager) dispatch(job models.Job, movie *models.Movie) {
	defer m.wg.Done()

	ctx := context.Background()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.fail(ctx, job, "dispatch aborted: "+err.Error())
		return
	}
	defer m.sem.Release(1)

	req := transport.Request{
		JobID:      job.ID,
		MovieID:    job.MovieID,
		SourcePath: m.resolveSource(job, movie),
	}

	state := &encode.State{}
	err := m.transport.Run(ctx, req, func(line string) {
		pct := encode.Parse(line, state)
		if pct == nil {
			return
		}
		// The store drops non-increasing and post-terminal writes.
		if uerr := m.jobs.UpdateProgress(ctx, job.ID, *pct); uerr != nil {
			log.Printf("failed to persist progress for job %s: %v", job.ID, uerr)
		}
	})
	if err != nil {
		m.fail(ctx, job, err.Error())
		return
	}

	completed, cerr := m.jobs.Complete(ctx, job.ID)
	if cerr != nil {
		log.Printf("failed to complete job %s: %v", job.ID, cerr)
		return
	}
	if !completed {
		// Cancelled while the worker kept encoding. The terminal row
		// already won; do not resurrect the movie to ready.
		log.Printf("encode job %s finished after cancellation, ignoring", job.ID)
		return
	}
	if rerr := m.reconciler.Completed(ctx, job.MovieID); rerr != nil {
		log.Printf("failed to reconcile movie %s: %v", job.MovieID, rerr)
	}
	log.Printf("encode job %s completed (movie %s)", job.ID, job.MovieID)
}

func (m *Manager) fail(ctx context.Context, job models.Job, reason string) {
	failed, err := m.jobs.Fail(ctx, job.ID, reason)
	if err != nil {
		log.Printf("failed to fail job %s: %v", job.ID, err)
		return
	}
	if !failed {
		// The row went terminal while the encode was in flight, usually a
		// cancellation. The movie may already belong to a newer job, so its
		// status must not be touched.
		log.Printf("encode job %s failed after cancellation, ignoring: %s", job.ID, reason)
		return
	}
	log.Printf("encode job %s failed: %s", job.ID, reason)
	if err := m.reconciler.Failed(ctx, job.MovieID); err != nil {
		log.Printf("failed to mark movie %s errored: %v", job.MovieID, err)
	}
}

// resolveSource translates the stored relative media path into the absolute
// path the worker reads. Job metadata wins over the movie record so an
// operator can repoint a single job.
func (m *Manager) resolveSource(job models.Job, movie *models.Movie) string {
	src := movie.SourcePath
	if p, ok := job.Metadata["source_path"]; ok && p != "" {
		src = p
	}
	if filepath.IsAbs(src) {
		return src
	}
	return filepath.Join(m.mediaRoot, src)
}

// Cancel forces one job to failed with the fixed cancelled reason, marks its
// movie errored, then re-triggers the scan so the rest of the queue keeps
// moving. Cancellation is cooperative: an in-flight remote encode is not
// killed, and its late progress callbacks land on a terminal row as no-ops.
func (m *Manager) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := m.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if models.IsTerminalState(job.State) {
		return job, nil
	}

	if _, err := m.jobs.Fail(ctx, job.ID, models.ErrReasonCancelled); err != nil {
		return nil, err
	}
	if err := m.reconciler.Failed(ctx, job.MovieID); err != nil {
		log.Printf("failed to mark movie %s errored: %v", job.MovieID, err)
	}
	log.Printf("encode job %s cancelled", job.ID)

	go m.ProcessQueue(context.Background())

	job, err = m.jobs.GetByID(ctx, id)
	return job, err
}

// CancelAll cancels every pending and encoding job. Returns how many were
// cancelled.
func (m *Manager) CancelAll(ctx context.Context) (int, error) {
	jobs, err := m.jobs.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if _, err := m.jobs.Fail(ctx, job.ID, models.ErrReasonCancelled); err != nil {
			return 0, err
		}
		if err := m.reconciler.Failed(ctx, job.MovieID); err != nil {
			log.Printf("failed to mark movie %s errored: %v", job.MovieID, err)
		}
	}
	log.Printf("cancelled %d active jobs", len(jobs))
	return len(jobs), nil
}

// QueueStatus is the operator view of the queue.
type QueueStatus struct {
	Running []RunningJob `json:"running"`
	Pending []PendingJob `json:"pending"`
}

// RunningJob summarizes one job currently on the worker.
type RunningJob struct {
	ID         string     `json:"id"`
	MovieID    string     `json:"movie_id"`
	MovieTitle string     `json:"movie_title"`
	Progress   int        `json:"progress"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
}

// PendingJob is one queued job and its position.
type PendingJob struct {
	ID         string `json:"id"`
	MovieID    string `json:"movie_id"`
	MovieTitle string `json:"movie_title"`
	Position   int    `json:"position"`
}

// Status reports running jobs plus the ordered pending list.
func (m *Manager) Status(ctx context.Context) (*QueueStatus, error) {
	jobs, err := m.jobs.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	status := &QueueStatus{
		Running: []RunningJob{},
		Pending: []PendingJob{},
	}
	for _, job := range jobs {
		switch job.State {
		case models.JobStateEncoding:
			status.Running = append(status.Running, RunningJob{
				ID:         job.ID,
				MovieID:    job.MovieID,
				MovieTitle: job.MovieTitle,
				Progress:   job.Progress,
				StartedAt:  job.StartedAt,
			})
		case models.JobStatePending:
			status.Pending = append(status.Pending, PendingJob{
				ID:         job.ID,
				MovieID:    job.MovieID,
				MovieTitle: job.MovieTitle,
				Position:   len(status.Pending) + 1,
			})
		}
	}
	return status, nil
}

// Wait blocks until all in-flight dispatches finish. Used on shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}
