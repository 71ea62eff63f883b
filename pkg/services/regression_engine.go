package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/logging"
	"github.com/faultline-hq/faultline-engine/pkg/models"
	"github.com/faultline-hq/faultline-engine/pkg/repositories"
)

// RegressionEngine decides whether an occurrence against a resolved group
// constitutes a regression and, if so, flips the group back to unresolved.
//
// The flip is a conditional UPDATE, never a read-modify-write: losing the
// race to a concurrent attach (or to an interleaved ignore) is a normal,
// silent outcome, so two near-simultaneous regressions produce exactly one
// witness.
type RegressionEngine struct {
	groupRepo      repositories.GroupRepository
	resolutionRepo repositories.ResolutionRepository
	sink           WitnessSink
	tolerance      time.Duration
	logger         *zap.Logger
}

// NewRegressionEngine creates a new RegressionEngine. tolerance is the
// backward window inside which a second regression of the same group is
// treated as a duplicate of the first.
func NewRegressionEngine(
	groupRepo repositories.GroupRepository,
	resolutionRepo repositories.ResolutionRepository,
	sink WitnessSink,
	tolerance time.Duration,
	logger *zap.Logger,
) *RegressionEngine {
	return &RegressionEngine{
		groupRepo:      groupRepo,
		resolutionRepo: resolutionRepo,
		sink:           sink,
		tolerance:      tolerance,
		logger:         logger.Named("regression"),
	}
}

// Evaluate runs the regression state machine for one occurrence against an
// existing group. Returns true when this call won the flip to unresolved.
// Evaluation never aborts the overall attach: a lost race is not an error.
func (e *RegressionEngine) Evaluate(ctx context.Context, group *models.Group, occ *models.NormalizedOccurrence) (bool, error) {
	if group.Status != models.GroupStatusResolved {
		return false, nil
	}

	resolutions, err := e.resolutionRepo.GetByGroup(ctx, group.ID)
	if err != nil {
		return false, err
	}

	for _, res := range resolutions {
		if res.Kind == models.ResolutionKindPendingCommit {
			// A fix commit is referenced but has not shipped in any
			// release; wait for release propagation instead of flapping.
			return false, nil
		}
		if res.CoversRelease(occ.Release) {
			// The occurrence's release is not newer than the pinned fix
			// (or carries no release info): still resolved.
			return false, nil
		}
	}

	activeAt := occ.OccurredAt
	if group.LastSeen.After(activeAt) {
		activeAt = group.LastSeen
	}
	cutoff := activeAt.Add(-e.tolerance)

	flipped, err := e.groupRepo.FlipToUnresolved(ctx, group.ID, activeAt, occ.OccurredAt, cutoff)
	if err != nil {
		return false, err
	}
	if !flipped {
		// Someone else already regressed (or ignored) the group.
		return false, nil
	}

	group.Status = models.GroupStatusUnresolved
	group.ActiveAt = activeAt

	if _, err := e.resolutionRepo.DeleteReleaseResolutions(ctx, group.ID); err != nil {
		// The flip already happened; a stale pin only suppresses future
		// regression checks until workflow tooling rewrites it.
		e.logger.Warn("failed to clear release resolutions after regression",
			append(logging.Group(group), zap.Error(err))...)
	}

	witness := models.RegressionWitness{
		GroupID:      group.ID,
		ProjectID:    group.ProjectID,
		OccurredAt:   occ.OccurredAt,
		IsRegression: true,
	}
	if occ.Release != nil {
		witness.ReleaseVersion = occ.Release.Version
	}
	e.sink.Publish(ctx, witness)

	e.logger.Info("group regressed",
		append(logging.Group(group), zap.Time("active_at", activeAt))...)

	return true, nil
}
