package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bountyhub/escrow/pkg/logger"
)

type planDowngrader interface {
	DowngradeLapsed(ctx context.Context, now time.Time) (int64, error)
}

type PlanExpiryJobParams struct {
	Logger *logger.Logger
	Plans  planDowngrader
}

// NewPlanExpiryJob returns lapsed paid plans to free. The grace window past
// expires_at belongs to the plans service.
func NewPlanExpiryJob(params PlanExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Plans == nil {
		return nil, fmt.Errorf("plans service required")
	}
	return &planExpiryJob{logg: params.Logger, plans: params.Plans, now: time.Now}, nil
}

type planExpiryJob struct {
	logg  *logger.Logger
	plans planDowngrader
	now   func() time.Time
}

func (j *planExpiryJob) Name() string { return "plan-expiry" }

func (j *planExpiryJob) Run(ctx context.Context) error {
	downgraded, err := j.plans.DowngradeLapsed(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("downgrade lapsed plans: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "plans_downgraded", downgraded), "cron.plan_expiry_complete")
	return nil
}
