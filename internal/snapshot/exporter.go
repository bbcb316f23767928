// Package snapshot periodically exports the task set as JSON so external
// storage holds a copy of the registry.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"unix-task-manager/internal/models"
	"unix-task-manager/internal/telemetry"
)

// Source lists every task in store order.
type Source interface {
	ListAll(ctx context.Context) ([]models.Task, error)
}

// Document is the serialized snapshot.
type Document struct {
	TakenAt time.Time     `json:"taken_at"`
	Count   int           `json:"count"`
	Tasks   []models.Task `json:"tasks"`
}

// Exporter writes snapshots of a Source through an Uploader.
type Exporter struct {
	source   Source
	uploader Uploader
	prefix   string
	log      *zap.Logger
	now      func() time.Time
}

func NewExporter(source Source, uploader Uploader, prefix string, log *zap.Logger) *Exporter {
	return &Exporter{
		source:   source,
		uploader: uploader,
		prefix:   prefix,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Export takes one snapshot and returns its location.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	tasks, err := e.source.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	taken := e.now()
	body, err := json.Marshal(Document{TakenAt: taken, Count: len(tasks), Tasks: tasks})
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}

	key := path.Join(e.prefix, fmt.Sprintf("tasks-%s-%s.json", taken.Format("20060102T150405Z"), uuid.NewString()))
	loc, err := e.uploader.Upload(ctx, key, body, "application/json")
	if err != nil {
		return "", err
	}
	telemetry.SnapshotsWritten.Inc()
	telemetry.SnapshotSize.Set(float64(len(tasks)))
	return loc, nil
}

// Run exports every interval until ctx is cancelled. Failed exports are
// retried with exponential backoff capped at maxBackoff.
func (e *Exporter) Run(ctx context.Context, interval, baseBackoff, maxBackoff time.Duration) error {
	failures := 0
	wait := time.Duration(0)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		loc, err := e.Export(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			telemetry.SnapshotFailures.Inc()
			wait = backoffWithJitter(baseBackoff, maxBackoff, failures)
			e.log.Warn("snapshot failed", zap.Int("attempt", failures), zap.Duration("retry_in", wait), zap.Error(err))
			continue
		}
		failures = 0
		wait = interval
		e.log.Info("snapshot written", zap.String("location", loc))
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	wait := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if wait > max || wait <= 0 {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	return wait/2 + time.Duration(rand.Int63n(int64(wait/2)))
}
