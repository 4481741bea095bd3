package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bountyhub/escrow/pkg/logger"
)

const (
	webhookRetentionDays = 30
	webhookDeleteBatch   = 500
	webhookMaxBatches    = 100
)

type webhookRetentionRepo interface {
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type WebhookRetentionJobParams struct {
	Logger     *logger.Logger
	Repository webhookRetentionRepo
	Retention  int
}

// NewWebhookRetentionJob purges processed dedup markers past retention.
// Unprocessed markers are kept so their attempt history survives.
func NewWebhookRetentionJob(params WebhookRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = webhookRetentionDays
	}
	return &webhookRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: retention,
		batch:     webhookDeleteBatch,
		now:       time.Now,
	}, nil
}

type webhookRetentionJob struct {
	logg      *logger.Logger
	repo      webhookRetentionRepo
	retention int
	batch     int
	now       func() time.Time
}

func (j *webhookRetentionJob) Name() string { return "webhook-retention" }

func (j *webhookRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var total int64
	for i := 0; i < webhookMaxBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := j.repo.DeleteProcessedBefore(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("webhook retention: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "cron.webhook_retention_complete")
	return nil
}
