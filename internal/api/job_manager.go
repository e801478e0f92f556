// Package api provides HTTP handlers for the MapSmooth server.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/jobstore"
	"github.com/mapsmooth/server/internal/service"
)

// ErrBadJobParams marks submissions rejected before queueing: malformed
// target edges or map paths that do not exist in the store.
var ErrBadJobParams = errors.New("invalid job parameters")

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	Service       *service.SmoothService
	MaxConcurrent int    // concurrent smoothing jobs (default 1)
	SQLitePath    string // path to the SQLite job database
	RetentionDays int    // days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	QueueSize     int // pending-job capacity (default 100)
}

// JobManager validates, queues and executes batch smoothing jobs against
// the smooth service, persisting state in SQLite.
type JobManager struct {
	svc   *service.SmoothService
	store *jobstore.Store

	maxConcurrent int
	retentionDays int
	cleanupPeriod time.Duration

	queue   chan *jobstore.Job
	cancels map[string]context.CancelFunc
	mu      sync.Mutex

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewJobManager opens the job database and prepares the manager; no
// workers run until Start.
func NewJobManager(cfg JobManagerConfig) (*JobManager, error) {
	if cfg.Service == nil {
		return nil, errors.New("job manager requires a smooth service")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	store, err := jobstore.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	return &JobManager{
		svc:           cfg.Service,
		store:         store,
		maxConcurrent: cfg.MaxConcurrent,
		retentionDays: cfg.RetentionDays,
		cleanupPeriod: cfg.CleanupPeriod,
		queue:         make(chan *jobstore.Job, cfg.QueueSize),
		cancels:       make(map[string]context.CancelFunc),
		stopCh:        make(chan struct{}),
	}, nil
}

// Store returns the underlying job store for direct access.
func (jm *JobManager) Store() *jobstore.Store {
	return jm.store
}

// Start recovers state left by a previous process and launches the worker
// and cleanup goroutines. Jobs that were mid-run when the server died are
// failed; jobs that never started go back on the queue.
func (jm *JobManager) Start() {
	if err := jm.store.MarkRunningAsFailed("interrupted by server restart"); err != nil {
		log.Printf("[jobs] restart recovery: %v", err)
	}
	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[jobs] restart recovery: %v", err)
	}
	for _, job := range queued {
		if !jm.enqueue(job) {
			log.Printf("[jobs] queue full, %s stays queued in the store", job.ID)
			break
		}
		log.Printf("[jobs] re-queued job %s", job.ID)
	}

	for i := 0; i < jm.maxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}
	go jm.cleaner()
}

// Stop signals the workers, waits for in-flight jobs and closes the store.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)
		jm.wg.Wait()
		jm.store.Close()
	})
}

// Submit validates the parameters, persists a queued job and hands it to
// the workers. Rejections wrap ErrBadJobParams.
func (jm *JobManager) Submit(params jobstore.JobParams) (*jobstore.Job, error) {
	if err := jm.validateParams(params); err != nil {
		return nil, err
	}

	job := &jobstore.Job{
		ID:        generateJobID(),
		Status:    jobstore.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}
	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}
	if !jm.enqueue(job) {
		jm.store.UpdateJobStatus(job.ID, jobstore.JobStatusFailed, "job queue is full; try again later")
	}
	return job, nil
}

// validateParams rejects bad submissions before they reach the queue, so
// a job never fails minutes in on a typo. Explicit target edges must form
// a valid binning and every named map must exist in the store.
func (jm *JobManager) validateParams(params jobstore.JobParams) error {
	if len(params.TargetEBins) > 0 || len(params.TargetCZBins) > 0 {
		target := binning.Binning{
			Energy: binning.Axis(params.TargetEBins),
			CosZen: binning.Axis(params.TargetCZBins),
		}
		if err := target.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrBadJobParams, err)
		}
	}
	for _, path := range params.Maps {
		if _, _, err := jm.svc.FineMap(path); err != nil {
			return fmt.Errorf("%w: unknown map %q", ErrBadJobParams, path)
		}
	}
	return nil
}

func (jm *JobManager) enqueue(job *jobstore.Job) bool {
	select {
	case jm.queue <- job:
		return true
	default:
		return false
	}
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for {
		select {
		case <-jm.stopCh:
			return
		case job := <-jm.queue:
			jm.run(job)
		}
	}
}

// run executes one job's smoothing against the service and records the
// terminal status.
func (jm *JobManager) run(job *jobstore.Job) {
	// A job withdrawn while waiting is still on the channel; skip it.
	cur, err := jm.store.GetJob(job.ID)
	if err != nil || cur == nil || cur.Status != jobstore.JobStatusQueued {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jm.mu.Lock()
	jm.cancels[job.ID] = cancel
	jm.mu.Unlock()
	defer func() {
		jm.mu.Lock()
		delete(jm.cancels, job.ID)
		jm.mu.Unlock()
	}()

	if err := jm.store.UpdateJobStarted(job.ID); err != nil {
		log.Printf("[jobs] job %s: %v", job.ID, err)
		return
	}

	err = jm.svc.ExecuteSmoothJob(ctx, jm.store, job.ID)
	switch {
	case errors.Is(err, context.Canceled):
		jm.store.UpdateJobStatus(job.ID, jobstore.JobStatusCancelled, "cancelled by user")
	case err != nil:
		jm.store.UpdateJobStatus(job.ID, jobstore.JobStatusFailed, err.Error())
	default:
		jm.store.UpdateJobStatus(job.ID, jobstore.JobStatusCompleted, "")
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			deleted, err := jm.store.DeleteExpiredJobs(jm.retentionDays)
			if err != nil {
				log.Printf("[jobs] cleanup: %v", err)
			} else if deleted > 0 {
				log.Printf("[jobs] cleaned up %d expired jobs", deleted)
			}
		}
	}
}

// Get returns a job by ID, nil when it does not exist.
func (jm *JobManager) Get(id string) *jobstore.Job {
	job, err := jm.store.GetJob(id)
	if err != nil {
		log.Printf("[jobs] job %s: %v", id, err)
		return nil
	}
	return job
}

// List returns all jobs, newest first.
func (jm *JobManager) List() ([]*jobstore.Job, error) {
	return jm.store.ListJobs()
}

// Cancel stops a running job or withdraws a queued one. It reports whether
// anything was cancelled.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, running := jm.cancels[id]
	jm.mu.Unlock()
	if running {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil || job == nil || job.Status != jobstore.JobStatusQueued {
		return false
	}
	jm.store.UpdateJobStatus(id, jobstore.JobStatusCancelled, "cancelled before start")
	return true
}

// Delete removes a job and its results.
func (jm *JobManager) Delete(id string) error {
	return jm.store.DeleteJob(id)
}

func generateJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
