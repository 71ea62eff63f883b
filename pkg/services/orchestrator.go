package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/logging"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// Orchestrator is the single entry point for processing normalized
// occurrences: aggregation, counter updates and regression evaluation in
// order. Independent ingestion workers call it concurrently; all
// coordination happens in the store.
type Orchestrator struct {
	aggregator   GroupAggregator
	counters     *CounterUpdater
	regressions  *RegressionEngine
	contributors []TagContributor
	logger       *zap.Logger
}

// NewOrchestrator creates a new Orchestrator. contributors is the ordered
// list of tag providers to run per occurrence; it may be empty.
func NewOrchestrator(
	aggregator GroupAggregator,
	counters *CounterUpdater,
	regressions *RegressionEngine,
	contributors []TagContributor,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		aggregator:   aggregator,
		counters:     counters,
		regressions:  regressions,
		contributors: contributors,
		logger:       logger.Named("orchestrator"),
	}
}

// ProcessOccurrence handles one occurrence end to end.
//
// Exactly one of the three results is meaningful: a non-nil AttachResult on
// success, a non-nil Discard when the occurrence was intentionally dropped,
// or an error for genuine failures. Discards go to outcome accounting, not
// to the error path.
func (o *Orchestrator) ProcessOccurrence(ctx context.Context, occ *models.NormalizedOccurrence) (*models.AttachResult, *models.Discard, error) {
	if occ == nil || (len(occ.FlatHashes) == 0 && len(occ.HierarchicalHashes) == 0) {
		return nil, nil, apperrors.ErrNoHashes
	}
	if occ.OccurredAt.IsZero() {
		occ.OccurredAt = time.Now()
	}

	group, isNew, discard, err := o.aggregator.Attach(ctx, occ)
	if err != nil {
		return nil, nil, err
	}
	if discard != nil {
		o.logger.Info("occurrence discarded",
			append(logging.Occurrence(occ), zap.String("reason", string(discard.Reason)))...)
		return nil, discard, nil
	}

	result := &models.AttachResult{
		GroupID:    group.ID,
		ShortID:    group.ShortID,
		IsNewGroup: isNew,
		Tags:       collectTags(o.contributors, occ),
	}

	if isNew {
		return result, nil, nil
	}

	o.counters.Record(group.ID, occ.OccurredAt)

	if group.Status == models.GroupStatusResolved {
		// Counters must be durable before the regression decision leaves
		// the engine.
		if err := o.counters.FlushGroup(ctx, group.ID); err != nil {
			return nil, nil, err
		}

		isRegression, err := o.regressions.Evaluate(ctx, group, occ)
		if err != nil {
			return nil, nil, err
		}
		result.IsRegression = isRegression
	}

	return result, nil, nil
}
