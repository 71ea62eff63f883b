package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/database"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// GroupRepository provides data access for group records.
//
// CreateTx and NextShortIDTx only run inside the aggregator's creation
// transaction. Counter updates and the regression flip deliberately use
// non-locking conditional/atomic UPDATEs so concurrent attaches to the same
// group never serialize on a row lock.
type GroupRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error)
	CreateTx(ctx context.Context, tx pgx.Tx, group *models.Group) error
	NextShortIDTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (int64, error)
	ApplyCounter(ctx context.Context, groupID uuid.UUID, times int64, firstSeen, lastSeen time.Time) error
	FlipToUnresolved(ctx context.Context, groupID uuid.UUID, activeAt, occurredAt, toleranceCutoff time.Time) (bool, error)
	UpdateStatus(ctx context.Context, groupID uuid.UUID, status string) error
}

type groupRepository struct {
	db *database.DB
}

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(db *database.DB) GroupRepository {
	return &groupRepository{db: db}
}

var _ GroupRepository = (*groupRepository)(nil)

const groupColumns = `id, project_id, short_id, status, times_seen,
	first_seen, last_seen, active_at, score, metadata, created_at`

func (r *groupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM engine_groups WHERE id = $1`

	group, err := scanGroup(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return group, nil
}

func (r *groupRepository) CreateTx(ctx context.Context, tx pgx.Tx, group *models.Group) error {
	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now()
	}
	if group.Metadata == nil {
		group.Metadata = models.JSONBMap{}
	}

	query := `
		INSERT INTO engine_groups (
			id, project_id, short_id, status, times_seen,
			first_seen, last_seen, active_at, score, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := tx.Exec(ctx, query,
		group.ID, group.ProjectID, group.ShortID, group.Status, group.TimesSeen,
		group.FirstSeen, group.LastSeen, group.ActiveAt, group.Score, group.Metadata, group.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}

	return nil
}

func (r *groupRepository) NextShortIDTx(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) (int64, error) {
	query := `
		INSERT INTO engine_project_counters (project_id, value)
		VALUES ($1, 1)
		ON CONFLICT (project_id)
		DO UPDATE SET value = engine_project_counters.value + 1
		RETURNING value`

	var shortID int64
	if err := tx.QueryRow(ctx, query, projectID).Scan(&shortID); err != nil {
		return 0, fmt.Errorf("failed to allocate short id: %w", err)
	}

	return shortID, nil
}

func (r *groupRepository) ApplyCounter(ctx context.Context, groupID uuid.UUID, times int64, firstSeen, lastSeen time.Time) error {
	// Store-side increment plus GREATEST/LEAST watermarks: commutative
	// under any interleaving of concurrent attaches, and self-correcting
	// for out-of-order delivery. The score stays monotonic in volume and
	// recency.
	query := `
		UPDATE engine_groups
		SET times_seen = times_seen + $2,
		    last_seen = GREATEST(last_seen, $3),
		    first_seen = LEAST(first_seen, $4),
		    score = (LN(times_seen + $2) * 600)::bigint
		        + EXTRACT(EPOCH FROM GREATEST(last_seen, $3))::bigint
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, groupID, times, lastSeen, firstSeen)
	if err != nil {
		return fmt.Errorf("failed to apply counter update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// FlipToUnresolved conditionally regresses a group. The flip only wins when
// the status is still resolved or unresolved (an interleaved ignore must
// not be overwritten) and active_at is older than toleranceCutoff, which
// de-duplicates near-simultaneous regressions. Returns false when the
// update affected no rows: someone else already handled it.
func (r *groupRepository) FlipToUnresolved(ctx context.Context, groupID uuid.UUID, activeAt, occurredAt, toleranceCutoff time.Time) (bool, error) {
	query := `
		UPDATE engine_groups
		SET status = 'unresolved',
		    active_at = $2,
		    last_seen = GREATEST(last_seen, $3)
		WHERE id = $1
		  AND status IN ('resolved', 'unresolved')
		  AND active_at < $4`

	tag, err := r.db.Exec(ctx, query, groupID, activeAt, occurredAt, toleranceCutoff)
	if err != nil {
		return false, fmt.Errorf("failed to flip group to unresolved: %w", err)
	}

	affected := tag.RowsAffected()
	if affected > 1 {
		return false, fmt.Errorf("%w: status flip affected %d rows for group %s",
			apperrors.ErrInvariantViolation, affected, groupID)
	}

	return affected == 1, nil
}

func (r *groupRepository) UpdateStatus(ctx context.Context, groupID uuid.UUID, status string) error {
	if !models.IsValidGroupStatus(status) {
		return fmt.Errorf("invalid group status: %s", status)
	}

	query := `UPDATE engine_groups SET status = $2 WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, groupID, status)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func scanGroup(row pgx.Row) (*models.Group, error) {
	var g models.Group

	err := row.Scan(
		&g.ID, &g.ProjectID, &g.ShortID, &g.Status, &g.TimesSeen,
		&g.FirstSeen, &g.LastSeen, &g.ActiveAt, &g.Score, &g.Metadata, &g.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group: %w", err)
	}

	return &g, nil
}
