package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// WitnessSink receives regression witnesses for external notification and
// audit plumbing. Publish must not block occurrence processing.
type WitnessSink interface {
	Publish(ctx context.Context, witness models.RegressionWitness)
}

// LogWitnessSink logs witnesses. It is the default sink for deployments
// without outbound notification plumbing.
type LogWitnessSink struct {
	logger *zap.Logger
}

// NewLogWitnessSink creates a LogWitnessSink.
func NewLogWitnessSink(logger *zap.Logger) *LogWitnessSink {
	return &LogWitnessSink{logger: logger.Named("witness")}
}

var _ WitnessSink = (*LogWitnessSink)(nil)

// Publish implements WitnessSink.
func (s *LogWitnessSink) Publish(_ context.Context, witness models.RegressionWitness) {
	s.logger.Info("regression witness",
		zap.String("group_id", witness.GroupID.String()),
		zap.String("project_id", witness.ProjectID.String()),
		zap.Time("occurred_at", witness.OccurredAt),
		zap.String("release", witness.ReleaseVersion),
		zap.Bool("is_regression", witness.IsRegression))
}
