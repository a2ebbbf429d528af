// Package queue drives the completion queue: claiming handoff items,
// starting downstream workflows, and resolving each item as completed,
// requeued, or dead-lettered.
package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/startupai/intake/internal/handoff"
	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/store"
)

// Config tunes the worker. Zero values fall back to defaults.
type Config struct {
	Interval    time.Duration // polling interval for Run
	MaxAttempts int           // claims before dead-lettering
	StaleAfter  time.Duration // processing age before reaping
	BatchSize   int           // max items per cycle
}

const (
	defaultInterval    = 60 * time.Second
	defaultMaxAttempts = 10
	defaultStaleAfter  = 15 * time.Minute
	defaultBatchSize   = 25
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = defaultStaleAfter
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

// Worker claims and processes completion queue items. Workers are stateless;
// any number may run concurrently against the same store.
type Worker struct {
	store  store.Store
	client handoff.Client
	cfg    Config
	log    *slog.Logger
}

// NewWorker creates a worker over the given store and workflow client.
func NewWorker(s store.Store, client handoff.Client, cfg Config, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{store: s, client: client, cfg: cfg.withDefaults(), log: log}
}

// Run claims and processes on a fixed interval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("queue worker started", "interval", w.cfg.Interval)
	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.log.Info("queue worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one claim-and-process cycle: reap stale items, then claim
// until the queue is empty or the batch limit is hit. Failures are persisted
// as queue-item state, never propagated; the cycle just moves on. Returns the
// number of items processed.
func (w *Worker) RunOnce(ctx context.Context) int {
	if reaped, err := w.store.ReapStale(ctx, w.cfg.StaleAfter); err != nil {
		w.log.Error("reap stale items", "error", err)
	} else if reaped > 0 {
		w.log.Warn("requeued stale processing items", "count", reaped)
	}

	processed := 0
	for processed < w.cfg.BatchSize {
		if ctx.Err() != nil {
			return processed
		}

		item, err := w.store.ClaimOne(ctx)
		if err != nil {
			w.log.Error("claim queue item", "error", err)
			return processed
		}
		if item == nil {
			return processed
		}

		w.process(ctx, item)
		processed++
	}
	return processed
}

// process hands one claimed item to the workflow service and records the
// outcome.
func (w *Worker) process(ctx context.Context, item *models.QueueItem) {
	log := w.log.With("item", item.ID, "session", item.SessionID, "attempt", item.Attempts)

	projectID, err := w.client.EnsureProject(ctx, item.SessionID, item.OwnerID, item.BriefSnapshot)
	if err != nil {
		w.fail(ctx, log, item.ID, "ensure project: "+err.Error())
		return
	}

	jobID, err := w.client.StartWorkflow(ctx, handoff.WorkflowRequest{
		SessionID: item.SessionID,
		OwnerID:   item.OwnerID,
		ProjectID: projectID,
		Brief:     item.BriefSnapshot,
		History:   item.HistorySnapshot,
	})
	if err != nil {
		w.fail(ctx, log, item.ID, "start workflow: "+err.Error())
		return
	}

	if err := w.store.CompleteItem(ctx, item.ID, jobID, projectID); err != nil {
		log.Error("complete queue item", "error", err)
		return
	}
	log.Info("handoff complete", "job", jobID, "project", projectID)
}

func (w *Worker) fail(ctx context.Context, log *slog.Logger, itemID, msg string) {
	outcome, err := w.store.FailItem(ctx, itemID, msg, w.cfg.MaxAttempts)
	if err != nil {
		log.Error("fail queue item", "error", err)
		return
	}
	if outcome == store.FailOutcomeDeadLetter {
		log.Error("queue item dead-lettered", "reason", msg)
	} else {
		log.Warn("queue item requeued", "reason", msg)
	}
}
