package export

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	blobcore "geodraft/internal/blob/core"
	"geodraft/internal/core"
	"geodraft/pkg/domain"
)

// Status tracks an export run through its lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record describes one export run of a branch.
type Record struct {
	ID           string       `json:"id"`
	DatasetID    string       `json:"dataset_id"`
	BranchID     string       `json:"branch_id"`
	Status       Status       `json:"status"`
	Key          string       `json:"key,omitempty"`
	URL          string       `json:"url,omitempty"`
	FeatureCount int          `json:"feature_count"`
	Error        string       `json:"error,omitempty"`
	RequestedBy  domain.Actor `json:"requested_by"`
	RequestedAt  time.Time    `json:"requested_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// RunnerOption customises runner construction.
type RunnerOption func(*Runner)

// WithConcurrency bounds the number of export runs in flight.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.group.SetLimit(n)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock core.Clock) RunnerOption {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// Runner executes branch exports asynchronously with bounded concurrency and
// keeps a record per run.
type Runner struct {
	svc   *core.Service
	blobs blobcore.Store
	clock core.Clock
	group *errgroup.Group

	mu      sync.RWMutex
	records map[string]Record
}

// NewRunner wires a runner over the service and blob store.
func NewRunner(svc *core.Service, blobs blobcore.Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		svc:     svc,
		blobs:   blobs,
		clock:   core.ClockFunc(time.Now),
		group:   &errgroup.Group{},
		records: make(map[string]Record),
	}
	r.group.SetLimit(4)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue schedules an export of the branch's effective state and returns the
// queued record immediately.
func (r *Runner) Enqueue(ctx context.Context, branchID string, actor domain.Actor) (Record, error) {
	branch, ok := r.svc.GetBranch(branchID)
	if !ok {
		return Record{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: branchID}
	}
	record := Record{
		ID:          uuid.NewString(),
		DatasetID:   branch.DatasetID,
		BranchID:    branch.ID,
		Status:      StatusQueued,
		RequestedBy: actor,
		RequestedAt: r.clock.Now().UTC(),
	}
	r.mu.Lock()
	r.records[record.ID] = record
	r.mu.Unlock()

	r.group.Go(func() error {
		r.run(ctx, record.ID)
		return nil
	})
	return record, nil
}

// ExportBranch runs an export synchronously and returns the finished record.
func (r *Runner) ExportBranch(ctx context.Context, branchID string, actor domain.Actor) (Record, error) {
	branch, ok := r.svc.GetBranch(branchID)
	if !ok {
		return Record{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: branchID}
	}
	record := Record{
		ID:          uuid.NewString(),
		DatasetID:   branch.DatasetID,
		BranchID:    branch.ID,
		Status:      StatusQueued,
		RequestedBy: actor,
		RequestedAt: r.clock.Now().UTC(),
	}
	r.mu.Lock()
	r.records[record.ID] = record
	r.mu.Unlock()

	r.run(ctx, record.ID)
	final, _ := r.Record(record.ID)
	if final.Status == StatusFailed {
		return final, fmt.Errorf("export %s failed: %s", final.ID, final.Error)
	}
	return final, nil
}

// Wait blocks until every enqueued export has finished.
func (r *Runner) Wait() error {
	return r.group.Wait()
}

// Record returns a run by ID.
func (r *Runner) Record(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	return record, ok
}

// List returns the runs recorded for a branch, oldest first.
func (r *Runner) List(branchID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, record := range r.records {
		if record.BranchID == branchID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (r *Runner) run(ctx context.Context, id string) {
	started := r.clock.Now().UTC()
	r.update(id, func(record *Record) {
		record.Status = StatusRunning
		record.StartedAt = &started
	})

	key, count, url, err := r.export(ctx, id)
	finished := r.clock.Now().UTC()
	r.update(id, func(record *Record) {
		record.FinishedAt = &finished
		if err != nil {
			record.Status = StatusFailed
			record.Error = err.Error()
			return
		}
		record.Status = StatusSucceeded
		record.Key = key
		record.URL = url
		record.FeatureCount = count
	})
}

func (r *Runner) export(ctx context.Context, id string) (key string, count int, url string, err error) {
	record, ok := r.Record(id)
	if !ok {
		return "", 0, "", fmt.Errorf("export record %s not found", id)
	}
	features, err := r.svc.EffectiveFeatures(ctx, record.BranchID)
	if err != nil {
		return "", 0, "", err
	}
	payload, err := EncodeFeatureCollection(features)
	if err != nil {
		return "", 0, "", err
	}
	key = fmt.Sprintf("%s/%s/%s.geojson", record.DatasetID, record.BranchID, record.ID)
	info, err := r.blobs.Put(ctx, key, bytes.NewReader(payload), blobcore.PutOptions{
		ContentType: "application/geo+json",
		Metadata: map[string]string{
			"branch_id":    record.BranchID,
			"requested_by": string(record.RequestedBy),
		},
	})
	if err != nil {
		return "", 0, "", err
	}
	return key, len(features), info.URL, nil
}

func (r *Runner) update(id string, mutate func(*Record)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return
	}
	mutate(&record)
	r.records[id] = record
}
