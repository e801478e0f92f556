// Package jobstore provides persistent storage for batch smoothing job state
// and results using SQLite.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// JobStatus represents the current state of a smoothing job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobParams contains the parameters for a smoothing job.
type JobParams struct {
	TargetEBins  []float64 `json:"target_ebins,omitempty"`
	TargetCZBins []float64 `json:"target_czbins,omitempty"`
	Maps         []string  `json:"maps,omitempty"` // empty = every stored map
}

// JobProgress represents the progress of a smoothing job.
type JobProgress struct {
	Phase string `json:"phase"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

// Job represents a batch smoothing job.
type Job struct {
	ID         string      `json:"job_id"`
	Status     JobStatus   `json:"status"`
	Params     JobParams   `json:"params"`
	Progress   JobProgress `json:"progress"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// MapResult contains the smoothed output for a single map.
type MapResult struct {
	MapPath    string    `json:"map_path"`
	Method     string    `json:"method"` // "rebin" or "resample"
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Cells      []float64 `json:"cells"`
	EmptyCells int       `json:"empty_cells"`
}

// Store provides persistent storage for smoothing jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based job store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS smooth_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		done INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_smooth_jobs_status ON smooth_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_smooth_jobs_finished ON smooth_jobs(finished_at);

	CREATE TABLE IF NOT EXISTS smooth_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		map_path TEXT NOT NULL,
		method TEXT NOT NULL,
		rows INTEGER NOT NULL,
		cols INTEGER NOT NULL,
		cells_json TEXT NOT NULL,
		empty_cells INTEGER NOT NULL,
		FOREIGN KEY (job_id) REFERENCES smooth_jobs(job_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_smooth_results_job ON smooth_results(job_id);
	CREATE INDEX IF NOT EXISTS idx_smooth_results_job_path ON smooth_results(job_id, map_path);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateJob creates a new job record with status=queued.
func (s *Store) CreateJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO smooth_jobs (job_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.Progress.Phase,
		job.Progress.Done,
		job.Progress.Total,
		job.Error,
		job.CreatedAt.Format(time.RFC3339),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. A missing job returns (nil, nil).
func (s *Store) GetJob(jobID string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT job_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM smooth_jobs WHERE job_id = ?
	`, jobID)

	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobStatus updates the job status and optional error message.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		t := time.Now().Format(time.RFC3339)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE smooth_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a job as running with start time.
func (s *Store) UpdateJobStarted(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE smooth_jobs SET status = ?, started_at = ?
		WHERE job_id = ?
	`, string(JobStatusRunning), now, jobID)
	return err
}

// UpdateJobProgress updates the progress fields.
func (s *Store) UpdateJobProgress(jobID string, phase string, done, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE smooth_jobs SET phase = ?, done = ?, total = ?
		WHERE job_id = ?
	`, phase, done, total, jobID)
	return err
}

// InsertResults inserts map results in a batch transaction.
func (s *Store) InsertResults(jobID string, results []*MapResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO smooth_results (job_id, map_path, method, rows, cols, cells_json, empty_cells)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		cellsJSON, err := marshalCells(r.Cells)
		if err != nil {
			return fmt.Errorf("failed to marshal cells: %w", err)
		}
		if _, err := stmt.Exec(
			jobID, r.MapPath, r.Method, r.Rows, r.Cols, string(cellsJSON), r.EmptyCells,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryResults returns the results for a job in map-path order, with
// pagination.
func (s *Store) QueryResults(jobID string, offset, limit int) ([]*MapResult, int, error) {
	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM smooth_results WHERE job_id = ?", jobID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT map_path, method, rows, cols, cells_json, empty_cells
		FROM smooth_results
		WHERE job_id = ?
		ORDER BY map_path ASC
		LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []*MapResult
	for rows.Next() {
		var r MapResult
		var cellsJSON string
		if err := rows.Scan(&r.MapPath, &r.Method, &r.Rows, &r.Cols, &cellsJSON, &r.EmptyCells); err != nil {
			return nil, 0, err
		}
		cells, err := unmarshalCells(cellsJSON)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal cells: %w", err)
		}
		r.Cells = cells
		results = append(results, &r)
	}

	return results, total, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM smooth_jobs
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*Job, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, params_json, phase, done, total, error, created_at, started_at, finished_at
		FROM smooth_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Format(time.RFC3339)
	_, err := s.db.Exec(`
		UPDATE smooth_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	return err
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays).Format(time.RFC3339)

	// Delete results first (foreign key)
	_, err := s.db.Exec(`
		DELETE FROM smooth_results WHERE job_id IN (
			SELECT job_id FROM smooth_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
		)
	`, cutoff)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(`
		DELETE FROM smooth_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteJob deletes a job and its results.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Delete results first
	if _, err := s.db.Exec("DELETE FROM smooth_results WHERE job_id = ?", jobID); err != nil {
		return err
	}

	_, err := s.db.Exec("DELETE FROM smooth_jobs WHERE job_id = ?", jobID)
	return err
}

// Empty cells are NaN, which JSON cannot encode directly; they are stored
// as null and restored to NaN on read.
func marshalCells(cells []float64) (string, error) {
	enc := make([]*float64, len(cells))
	for i := range cells {
		if !math.IsNaN(cells[i]) {
			enc[i] = &cells[i]
		}
	}
	b, err := json.Marshal(enc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalCells(data string) ([]float64, error) {
	var enc []*float64
	if err := json.Unmarshal([]byte(data), &enc); err != nil {
		return nil, err
	}
	cells := make([]float64, len(enc))
	for i, v := range enc {
		if v == nil {
			cells[i] = math.NaN()
		} else {
			cells[i] = *v
		}
	}
	return cells, nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var job Job
	var paramsJSON string
	var createdAtStr string
	var startedAtStr, finishedAtStr sql.NullString

	err := scan(
		&job.ID,
		&job.Status,
		&paramsJSON,
		&job.Progress.Phase,
		&job.Progress.Done,
		&job.Progress.Total,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}

	job.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(time.RFC3339, finishedAtStr.String)
		job.FinishedAt = &t
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
