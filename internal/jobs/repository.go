package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoblog/internal/apperr"
	"autoblog/internal/storage"
)

// Repository stores job records as JSON documents.
type Repository struct {
	store storage.RecordStore
}

func NewRepository(store storage.RecordStore) *Repository {
	return &Repository{store: store}
}

func (r *Repository) SaveGeneration(ctx context.Context, job GenerationJob) error {
	return put(ctx, r.store, storage.GenerationJobs, job.ID, job.Status, job.CreatedAt, job.UpdatedAt, job)
}

func (r *Repository) GetGeneration(ctx context.Context, id string) (GenerationJob, error) {
	var job GenerationJob
	err := get(ctx, r.store, storage.GenerationJobs, id, &job)
	return job, err
}

func (r *Repository) ListGeneration(ctx context.Context, limit, offset int) ([]GenerationJob, error) {
	return list[GenerationJob](ctx, r.store, storage.GenerationJobs, limit, offset)
}

func (r *Repository) SavePublish(ctx context.Context, job PublishJob) error {
	return put(ctx, r.store, storage.PublishJobs, job.ID, job.Status, job.CreatedAt, job.UpdatedAt, job)
}

func (r *Repository) GetPublish(ctx context.Context, id string) (PublishJob, error) {
	var job PublishJob
	err := get(ctx, r.store, storage.PublishJobs, id, &job)
	return job, err
}

func (r *Repository) ListPublish(ctx context.Context, limit, offset int) ([]PublishJob, error) {
	return list[PublishJob](ctx, r.store, storage.PublishJobs, limit, offset)
}

func put(ctx context.Context, store storage.RecordStore, c storage.Collection, id string, status Status, created, updated time.Time, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", c, id, err)
	}
	return store.PutRecord(ctx, c, storage.Record{
		ID:        id,
		Status:    string(status),
		Payload:   payload,
		CreatedAt: created,
		UpdatedAt: updated,
	})
}

func get(ctx context.Context, store storage.RecordStore, c storage.Collection, id string, out any) error {
	rec, err := store.GetRecord(ctx, c, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.KindNotFound, "jobs.get", fmt.Errorf("job %s: %w", id, err))
		}
		return err
	}
	if err := json.Unmarshal(rec.Payload, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", c, id, err)
	}
	return nil
}

func list[T any](ctx context.Context, store storage.RecordStore, c storage.Collection, limit, offset int) ([]T, error) {
	recs, err := store.ListRecords(ctx, c, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Payload, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", c, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
