package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/logger"
)

type auditPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetentionJob prunes audit entries past the retention window. The
// pipeline itself never deletes audit rows; only this job does.
type AuditRetentionJob struct {
	pruner auditPruner
	cfg    config.RecoveryConfig
	logg   *logger.Logger
	now    func() time.Time
}

func NewAuditRetentionJob(pruner auditPruner, cfg config.RecoveryConfig, logg *logger.Logger) (*AuditRetentionJob, error) {
	if pruner == nil {
		return nil, fmt.Errorf("audit retention: pruner is required")
	}
	if cfg.AuditRetentionDays <= 0 {
		return nil, fmt.Errorf("audit retention: retention days must be positive")
	}
	return &AuditRetentionJob{
		pruner: pruner,
		cfg:    cfg,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Name identifies the job in logs and metrics.
func (j *AuditRetentionJob) Name() string { return "audit_retention" }

// Run deletes entries older than the retention window.
func (j *AuditRetentionJob) Run(ctx context.Context) error {
	if !j.cfg.AuditCleanupEnabled {
		return nil
	}

	cutoff := j.now().UTC().AddDate(0, 0, -j.cfg.AuditRetentionDays)
	deleted, err := j.pruner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pruning audit entries: %w", err)
	}
	if deleted > 0 && j.logg != nil {
		j.logg.Info(ctx, fmt.Sprintf("pruned %d audit entries older than %s", deleted, cutoff.Format(time.RFC3339)))
	}
	return nil
}
