package scheduler

import (
	"context"
	"fmt"

	"github.com/boddenberg/pj-ledger-sync-go/internal/port"

	"go.uber.org/zap"
)

// ItemSyncJob pulls the transaction change feed for one connected item.
type ItemSyncJob struct {
	userID         string
	externalItemID string
	runner         port.SyncRunner
	logger         *zap.Logger
}

// NewItemSyncJob creates a sync job for one item.
func NewItemSyncJob(userID, externalItemID string, runner port.SyncRunner, logger *zap.Logger) *ItemSyncJob {
	return &ItemSyncJob{
		userID:         userID,
		externalItemID: externalItemID,
		runner:         runner,
		logger:         logger,
	}
}

// Execute runs one sync pass for the item.
func (j *ItemSyncJob) Execute(ctx context.Context) error {
	result, err := j.runner.Run(ctx, j.userID, j.externalItemID)
	if err != nil {
		return fmt.Errorf("sync item %s: %w", j.externalItemID, err)
	}

	j.logger.Info("item sync finished",
		zap.String("external_item_id", j.externalItemID),
		zap.Int("pages", result.Pages),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("completed", result.Completed),
	)
	return nil
}

// UserID identifies the owning user, for logs.
func (j *ItemSyncJob) UserID() string { return j.userID }

// Description names the job, for logs.
func (j *ItemSyncJob) Description() string {
	return fmt.Sprintf("item sync %s", j.externalItemID)
}

// SyncQueue submits item sync jobs onto a worker pool. It satisfies
// port.SyncQueue for the connect flow and the provider webhook.
type SyncQueue struct {
	pool   *WorkerPool
	runner port.SyncRunner
	logger *zap.Logger
}

// NewSyncQueue creates a queue backed by pool.
func NewSyncQueue(pool *WorkerPool, runner port.SyncRunner, logger *zap.Logger) *SyncQueue {
	return &SyncQueue{pool: pool, runner: runner, logger: logger}
}

// EnqueueSync queues one background sync pass for the item.
func (q *SyncQueue) EnqueueSync(userID, externalItemID string) error {
	return q.pool.Submit(NewItemSyncJob(userID, externalItemID, q.runner, q.logger))
}
