package service

import (
	"context"
	"fmt"

	"github.com/mapsmooth/server/internal/binning"
	"github.com/mapsmooth/server/internal/jobstore"
)

// ExecuteSmoothJob runs a batch smoothing job: every selected map in the
// store is smoothed onto the job's target binning (the store target when
// the job does not override it) and the results are persisted.
func (s *SmoothService) ExecuteSmoothJob(ctx context.Context, js *jobstore.Store, jobID string) error {
	job, err := js.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	coarse, err := s.targetForJob(job.Params)
	if err != nil {
		return err
	}

	paths := job.Params.Maps
	if len(paths) == 0 {
		paths, err = s.MapPaths()
		if err != nil {
			return fmt.Errorf("failed to list maps: %w", err)
		}
	}

	if err := js.UpdateJobProgress(jobID, "smoothing", 0, len(paths)); err != nil {
		return err
	}

	results := make([]*jobstore.MapResult, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		g, fine, err := s.FineMap(path)
		if err != nil {
			return fmt.Errorf("map %s: %w", path, err)
		}

		method := "resample"
		if _, ok := s.Plan(coarse, fine); ok {
			method = "rebin"
		}

		out, err := s.Smooth(g, fine, coarse)
		if err != nil {
			return fmt.Errorf("map %s: %w", path, err)
		}

		empty := 0
		for _, isEmpty := range out.EmptyCells() {
			if isEmpty {
				empty++
			}
		}
		results = append(results, &jobstore.MapResult{
			MapPath:    path,
			Method:     method,
			Rows:       out.Rows,
			Cols:       out.Cols,
			Cells:      out.Data,
			EmptyCells: empty,
		})

		if err := js.UpdateJobProgress(jobID, "smoothing", i+1, len(paths)); err != nil {
			return err
		}
	}

	if err := js.InsertResults(jobID, results); err != nil {
		return fmt.Errorf("failed to persist results: %w", err)
	}
	return nil
}

// targetForJob resolves the coarse binning for a job: explicit edges in the
// params win, otherwise the store's target binning.
func (s *SmoothService) targetForJob(params jobstore.JobParams) (binning.Binning, error) {
	if len(params.TargetEBins) > 0 || len(params.TargetCZBins) > 0 {
		b := binning.Binning{
			Energy: binning.Axis(params.TargetEBins),
			CosZen: binning.Axis(params.TargetCZBins),
		}
		if err := b.Validate(); err != nil {
			return binning.Binning{}, err
		}
		return b, nil
	}
	return s.store.TargetBinning(), nil
}
