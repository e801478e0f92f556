package jobstore

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := &Job{
		ID:     "job-abc",
		Status: JobStatusQueued,
		Params: JobParams{
			TargetEBins:  []float64{1, 10, 100},
			TargetCZBins: []float64{-1, 0, 1},
		},
		CreatedAt: time.Now(),
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob("job-abc")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil for existing job")
	}
	if got.Status != JobStatusQueued {
		t.Errorf("status = %q, want queued", got.Status)
	}
	if len(got.Params.TargetEBins) != 3 || got.Params.TargetEBins[1] != 10 {
		t.Errorf("params round trip failed: %+v", got.Params)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Error("new job should have nil started/finished times")
	}

	if err := s.UpdateJobStarted("job-abc"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}
	if err := s.UpdateJobProgress("job-abc", "smoothing", 2, 5); err != nil {
		t.Fatalf("UpdateJobProgress: %v", err)
	}

	got, _ = s.GetJob("job-abc")
	if got.Status != JobStatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("started_at not set")
	}
	if got.Progress.Phase != "smoothing" || got.Progress.Done != 2 || got.Progress.Total != 5 {
		t.Errorf("progress = %+v", got.Progress)
	}

	if err := s.UpdateJobStatus("job-abc", JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, _ = s.GetJob("job-abc")
	if got.Status != JobStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set on terminal status")
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetJob("no-such-job")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing job, got %+v", got)
	}
}

func TestResults(t *testing.T) {
	s := newTestStore(t)

	job := &Job{ID: "job-res", Status: JobStatusRunning, CreatedAt: time.Now()}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	results := []*MapResult{
		{MapPath: "nue_maps/numu", Method: "rebin", Rows: 2, Cols: 2, Cells: []float64{1, 2, 3, 4}},
		{MapPath: "nue_maps/nue", Method: "resample", Rows: 2, Cols: 2, Cells: []float64{5, math.NaN(), 7, 8}, EmptyCells: 1},
	}
	if err := s.InsertResults("job-res", results); err != nil {
		t.Fatalf("InsertResults: %v", err)
	}

	got, total, err := s.QueryResults("job-res", 0, 10)
	if err != nil {
		t.Fatalf("QueryResults: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	if len(got) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(got))
	}
	// Ordered by map path
	if got[0].MapPath != "nue_maps/nue" || got[1].MapPath != "nue_maps/numu" {
		t.Errorf("result order: %q, %q", got[0].MapPath, got[1].MapPath)
	}
	if got[0].Method != "resample" || got[0].EmptyCells != 1 {
		t.Errorf("result fields: %+v", got[0])
	}
	if !math.IsNaN(got[0].Cells[1]) {
		t.Errorf("empty cell should round trip as NaN, got %v", got[0].Cells[1])
	}
	if got[1].Cells[3] != 4 {
		t.Errorf("cells round trip: %v", got[1].Cells)
	}

	// Pagination
	page, total, err := s.QueryResults("job-res", 1, 1)
	if err != nil {
		t.Fatalf("QueryResults paginated: %v", err)
	}
	if total != 2 || len(page) != 1 || page[0].MapPath != "nue_maps/numu" {
		t.Errorf("pagination: total=%d len=%d", total, len(page))
	}
}

func TestListQueuedAndRecovery(t *testing.T) {
	s := newTestStore(t)

	for _, j := range []*Job{
		{ID: "q1", Status: JobStatusQueued, CreatedAt: time.Now().Add(-2 * time.Minute)},
		{ID: "q2", Status: JobStatusQueued, CreatedAt: time.Now().Add(-1 * time.Minute)},
		{ID: "r1", Status: JobStatusQueued, CreatedAt: time.Now()},
	} {
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s): %v", j.ID, err)
		}
	}
	if err := s.UpdateJobStarted("r1"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}

	queued, err := s.ListQueuedJobs()
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 2 || queued[0].ID != "q1" || queued[1].ID != "q2" {
		t.Errorf("queued jobs: %+v", queued)
	}

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkRunningAsFailed: %v", err)
	}
	got, _ := s.GetJob("r1")
	if got.Status != JobStatusFailed || got.Error != "server restarted" {
		t.Errorf("recovered job: status=%q error=%q", got.Status, got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("finished_at not set on recovery")
	}
}

func TestDeleteJob(t *testing.T) {
	s := newTestStore(t)

	job := &Job{ID: "gone", Status: JobStatusCompleted, CreatedAt: time.Now()}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.InsertResults("gone", []*MapResult{
		{MapPath: "a/b", Method: "rebin", Rows: 1, Cols: 1, Cells: []float64{1}},
	}); err != nil {
		t.Fatalf("InsertResults: %v", err)
	}

	if err := s.DeleteJob("gone"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	got, _ := s.GetJob("gone")
	if got != nil {
		t.Error("job still present after delete")
	}
	_, total, err := s.QueryResults("gone", 0, 10)
	if err != nil {
		t.Fatalf("QueryResults: %v", err)
	}
	if total != 0 {
		t.Errorf("results remain after delete: %d", total)
	}
}

func TestListJobsOrder(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"old", "mid", "new"} {
		j := &Job{ID: id, Status: JobStatusQueued, CreatedAt: time.Now().Add(time.Duration(i) * time.Minute)}
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("CreateJob(%s): %v", id, err)
		}
	}

	jobs, err := s.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 3 || jobs[0].ID != "new" || jobs[2].ID != "old" {
		t.Errorf("jobs order: %v", []string{jobs[0].ID, jobs[1].ID, jobs[2].ID})
	}
}
