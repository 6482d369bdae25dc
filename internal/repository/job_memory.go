package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// MemoryJobRepository implements JobRepository in process memory.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*models.GenerationJob
}

// NewMemoryJobRepository creates an empty in-memory job store.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*models.GenerationJob)}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *models.GenerationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("failed to create generation job: duplicate id %s", job.ID)
	}
	cp := *job
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.jobs[job.ID] = &cp
	return nil
}

func (r *MemoryJobRepository) GetByID(_ context.Context, id string) (*models.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (r *MemoryJobRepository) Update(_ context.Context, id string, upd models.JobUpdate) (*models.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	if job.Status == models.JobStatusProcessing {
		now := time.Now().UTC()
		job.UpdatedAt = now
		if upd.Status != nil {
			job.Status = *upd.Status
			if upd.Status.IsTerminal() {
				job.CompletedAt = &now
			}
		}
		if upd.ResultURL != nil {
			job.ResultURL = *upd.ResultURL
		}
		if upd.ErrorMessage != nil {
			job.ErrorMessage = *upd.ErrorMessage
		}
		if upd.Watermarked != nil {
			job.Watermarked = *upd.Watermarked
		}
	}
	cp := *job
	return &cp, nil
}

func (r *MemoryJobRepository) ListByOwner(_ context.Context, owner string, limit, offset int) ([]*models.GenerationJob, error) {
	r.mu.RLock()
	var out []*models.GenerationJob
	for _, job := range r.jobs {
		if job.OwnerIdentity == owner {
			cp := *job
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func (r *MemoryJobRepository) ListProcessing(_ context.Context, limit int) ([]*models.GenerationJob, error) {
	r.mu.RLock()
	var out []*models.GenerationJob
	for _, job := range r.jobs {
		if job.Status == models.JobStatusProcessing && job.OperationHandle != "" {
			cp := *job
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return page(out, limit, 0), nil
}

func (r *MemoryJobRepository) MarkStaleProcessingFailed(_ context.Context, maxAge time.Duration, message string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-maxAge)
	var n int64
	for _, job := range r.jobs {
		if job.Status == models.JobStatusProcessing && job.CreatedAt.Before(cutoff) {
			job.Status = models.JobStatusFailed
			job.ErrorMessage = message
			job.UpdatedAt = now
			job.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

func page(jobs []*models.GenerationJob, limit, offset int) []*models.GenerationJob {
	if offset >= len(jobs) {
		return nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
