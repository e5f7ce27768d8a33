package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type Collection string

const (
	GenerationJobs Collection = "generation_jobs"
	PublishJobs    Collection = "publish_jobs"
	Bundles        Collection = "bundles"
)

func (c Collection) Valid() bool {
	switch c {
	case GenerationJobs, PublishJobs, Bundles:
		return true
	default:
		return false
	}
}

// Record is one persisted aggregate. Payload is the JSON text of the whole record.
type Record struct {
	ID        string
	Status    string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordStore is a durable keyed store. Writes replace the whole record.
type RecordStore interface {
	PutRecord(ctx context.Context, c Collection, r Record) error
	GetRecord(ctx context.Context, c Collection, id string) (Record, error)
	ListRecords(ctx context.Context, c Collection, limit, offset int) ([]Record, error)
	DeleteRecord(ctx context.Context, c Collection, id string) error
}

func validate(c Collection, id string) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}
	if id == "" {
		return fmt.Errorf("record id is empty")
	}
	return nil
}

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}
