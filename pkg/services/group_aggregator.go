package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/config"
	"github.com/faultline-hq/faultline-engine/pkg/database"
	"github.com/faultline-hq/faultline-engine/pkg/logging"
	"github.com/faultline-hq/faultline-engine/pkg/models"
	"github.com/faultline-hq/faultline-engine/pkg/repositories"
)

// pgLockNotAvailable is raised when a NOWAIT/timeout-bounded lock request
// cannot be served.
const pgLockNotAvailable = "55P03"

// AggregatorDB is the database surface the aggregator needs: lockless
// queries for the fast path plus transaction control for the creation slow
// path. *database.DB satisfies it.
type AggregatorDB interface {
	database.Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GroupAggregator resolves an occurrence to its group, creating the group
// race-safely when no candidate hash owns one yet.
type GroupAggregator interface {
	// Attach returns the owning group and whether this call created it.
	// A non-nil Discard means the occurrence was intentionally dropped
	// (tombstone, load shedding, allocation or lock timeout) and no group
	// was created or mutated.
	Attach(ctx context.Context, occ *models.NormalizedOccurrence) (*models.Group, bool, *models.Discard, error)
}

type groupAggregator struct {
	db        AggregatorDB
	hashRepo  repositories.GroupHashRepository
	groupRepo repositories.GroupRepository
	resolver  *HashResolver
	throttle  CreationThrottle
	cfg       config.GroupingConfig
	logger    *zap.Logger
}

// NewGroupAggregator creates a new GroupAggregator.
func NewGroupAggregator(
	db AggregatorDB,
	hashRepo repositories.GroupHashRepository,
	groupRepo repositories.GroupRepository,
	resolver *HashResolver,
	throttle CreationThrottle,
	cfg config.GroupingConfig,
	logger *zap.Logger,
) GroupAggregator {
	return &groupAggregator{
		db:        db,
		hashRepo:  hashRepo,
		groupRepo: groupRepo,
		resolver:  resolver,
		throttle:  throttle,
		cfg:       cfg,
		logger:    logger.Named("aggregator"),
	}
}

var _ GroupAggregator = (*groupAggregator)(nil)

func (a *groupAggregator) Attach(ctx context.Context, occ *models.NormalizedOccurrence) (*models.Group, bool, *models.Discard, error) {
	if len(occ.FlatHashes) == 0 && len(occ.HierarchicalHashes) == 0 {
		return nil, false, nil, apperrors.ErrNoHashes
	}

	// Fast path: materialize the hash rows (idempotent; concurrent
	// get-or-create races are harmless) and probe without any locks. The
	// common already-grouped case never waits behind a creation.
	hierRows, err := a.hashRepo.GetOrCreate(ctx, occ.ProjectID, occ.HierarchicalHashes)
	if err != nil {
		return nil, false, nil, err
	}
	flatRows, err := a.hashRepo.GetOrCreate(ctx, occ.ProjectID, occ.FlatHashes)
	if err != nil {
		return nil, false, nil, err
	}

	res, discard, err := a.resolver.Resolve(flatRows, hierRows)
	if err != nil {
		return nil, false, nil, err
	}
	if discard != nil {
		return nil, false, discard, nil
	}

	if res.Existing != nil {
		group, err := a.attachExisting(ctx, a.db, occ.ProjectID, res)
		if err != nil {
			return nil, false, nil, err
		}
		return group, false, nil, nil
	}

	return a.createOrAttachLocked(ctx, occ)
}

// attachExisting loads the resolved group and migrates any still-unassigned
// candidate hashes onto it, so grouping-config upgrades widen the existing
// group instead of forking a duplicate.
func (a *groupAggregator) attachExisting(ctx context.Context, q database.Querier, projectID uuid.UUID, res *Resolution) (*models.Group, error) {
	groupID := *res.Existing.GroupID

	group, err := a.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}

	if hashes := assignableHashes(res.Candidates); len(hashes) > 0 {
		migrated, err := a.hashRepo.AssignGroup(ctx, q, projectID, hashes, groupID)
		if err != nil {
			return nil, err
		}
		if migrated > 0 {
			a.logger.Info("migrated hashes onto existing group",
				append(logging.Group(group), logging.Hashes("hashes", hashes)...)...)
		}
	}

	return group, nil
}

// createOrAttachLocked is the creation slow path. It re-fetches the
// candidate rows under row locks and re-runs resolution: only one
// transaction can observe "still unowned" there, which is what makes group
// creation at-most-once. Everyone else short-circuits to attach.
func (a *groupAggregator) createOrAttachLocked(ctx context.Context, occ *models.NormalizedOccurrence) (*models.Group, bool, *models.Discard, error) {
	lockCtx, cancel := context.WithTimeout(ctx, a.cfg.LockTimeout)
	defer cancel()

	tx, err := a.db.Begin(lockCtx)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to begin creation transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	all := make([]string, 0, len(occ.HierarchicalHashes)+len(occ.FlatHashes))
	all = append(all, occ.HierarchicalHashes...)
	all = append(all, occ.FlatHashes...)

	locked, err := a.hashRepo.GetForUpdate(lockCtx, tx, occ.ProjectID, all)
	if err != nil {
		if isLockTimeout(err) {
			a.logger.Info("creation lock timed out", logging.Occurrence(occ)...)
			return nil, false, &models.Discard{Reason: models.DiscardReasonLockTimeout}, nil
		}
		return nil, false, nil, err
	}

	hierRows, flatRows := partitionLocked(locked, occ.HierarchicalHashes)

	res, discard, err := a.resolver.Resolve(flatRows, hierRows)
	if err != nil {
		return nil, false, nil, err
	}
	if discard != nil {
		return nil, false, discard, nil
	}

	if res.Existing != nil {
		// Another transaction won the race between our lockless probe and
		// the lock acquisition.
		group, err := a.attachExisting(lockCtx, tx, occ.ProjectID, res)
		if err != nil {
			return nil, false, nil, err
		}
		if err := tx.Commit(lockCtx); err != nil {
			return nil, false, nil, fmt.Errorf("failed to commit attach transaction: %w", err)
		}
		return group, false, nil, nil
	}

	anchor := assignableHashes(res.Candidates)
	if len(anchor) == 0 {
		a.logger.Warn("no assignable hash to anchor a new group", logging.Occurrence(occ)...)
		return nil, false, &models.Discard{Reason: models.DiscardReasonHashLocked}, nil
	}

	allowed, err := a.throttle.AllowCreate(ctx, occ.ProjectID)
	if err != nil {
		return nil, false, nil, err
	}
	if !allowed {
		a.logger.Info("group creation shed by throttle", logging.Project(occ.ProjectID))
		return nil, false, &models.Discard{Reason: models.DiscardReasonRateLimited}, nil
	}

	group, discard, err := a.createGroup(lockCtx, tx, occ)
	if err != nil || discard != nil {
		return nil, false, discard, err
	}

	assigned, err := a.hashRepo.AssignGroup(lockCtx, tx, occ.ProjectID, anchor, group.ID)
	if err != nil {
		return nil, false, nil, err
	}
	if assigned == 0 {
		// The locked re-probe saw these hashes unassigned and assignable;
		// zero updates here means the store contradicted itself.
		return nil, false, nil, fmt.Errorf("%w: creation assigned no hashes for group %s",
			apperrors.ErrInvariantViolation, group.ID)
	}

	if err := tx.Commit(lockCtx); err != nil {
		return nil, false, nil, fmt.Errorf("failed to commit creation transaction: %w", err)
	}

	a.logger.Info("created group",
		append(logging.Group(group), logging.Hashes("hashes", anchor)...)...)

	return group, true, nil, nil
}

func (a *groupAggregator) createGroup(ctx context.Context, tx pgx.Tx, occ *models.NormalizedOccurrence) (*models.Group, *models.Discard, error) {
	shortIDCtx, cancel := context.WithTimeout(ctx, a.cfg.ShortIDTimeout)
	defer cancel()

	shortID, err := a.groupRepo.NextShortIDTx(shortIDCtx, tx, occ.ProjectID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			a.logger.Info("short id allocation timed out", logging.Project(occ.ProjectID))
			return nil, &models.Discard{Reason: models.DiscardReasonShortIDTimeout}, nil
		}
		return nil, nil, err
	}

	group := &models.Group{
		ID:        uuid.New(),
		ProjectID: occ.ProjectID,
		ShortID:   shortID,
		Status:    models.GroupStatusUnresolved,
		TimesSeen: 1,
		FirstSeen: occ.OccurredAt,
		LastSeen:  occ.OccurredAt,
		ActiveAt:  occ.OccurredAt,
		Score:     initialScore(occ.OccurredAt),
		Metadata:  models.JSONBMap(occ.SummaryFields),
	}

	if err := a.groupRepo.CreateTx(ctx, tx, group); err != nil {
		return nil, nil, err
	}

	return group, nil, nil
}

// partitionLocked splits the locked rows back into hierarchical and flat
// slices, preserving the occurrence's candidate ordering.
func partitionLocked(locked []*models.GroupHash, hierarchical []string) (hier, flat []*models.GroupHash) {
	isHier := make(map[string]bool, len(hierarchical))
	for _, h := range hierarchical {
		isHier[h] = true
	}

	for _, gh := range locked {
		if isHier[gh.Hash] {
			hier = append(hier, gh)
		} else {
			flat = append(flat, gh)
		}
	}
	return hier, flat
}

func isLockTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}

func initialScore(seen time.Time) int64 {
	// log(times_seen) is zero for a fresh group, leaving recency alone.
	return seen.Unix()
}
