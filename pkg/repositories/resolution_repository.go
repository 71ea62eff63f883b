package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/faultline-hq/faultline-engine/pkg/database"
	"github.com/faultline-hq/faultline-engine/pkg/models"
)

// ResolutionRepository provides data access for group resolution records.
// Resolutions are written by workflow tooling; the engine reads them during
// regression evaluation and clears release pins when a regression wins.
type ResolutionRepository interface {
	Create(ctx context.Context, res *models.GroupResolution) error
	GetByGroup(ctx context.Context, groupID uuid.UUID) ([]*models.GroupResolution, error)
	DeleteReleaseResolutions(ctx context.Context, groupID uuid.UUID) (int64, error)
}

type resolutionRepository struct {
	db *database.DB
}

// NewResolutionRepository creates a new ResolutionRepository.
func NewResolutionRepository(db *database.DB) ResolutionRepository {
	return &resolutionRepository{db: db}
}

var _ ResolutionRepository = (*resolutionRepository)(nil)

func (r *resolutionRepository) Create(ctx context.Context, res *models.GroupResolution) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO engine_group_resolutions (
			id, group_id, kind, release_version, release_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		res.ID, res.GroupID, res.Kind, res.ReleaseVersion, res.ReleaseDate, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group resolution: %w", err)
	}

	return nil
}

func (r *resolutionRepository) GetByGroup(ctx context.Context, groupID uuid.UUID) ([]*models.GroupResolution, error) {
	query := `
		SELECT id, group_id, kind, release_version, release_date, created_at
		FROM engine_group_resolutions
		WHERE group_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []*models.GroupResolution
	for rows.Next() {
		res, err := scanResolution(rows)
		if err != nil {
			return nil, err
		}
		resolutions = append(resolutions, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group resolutions: %w", err)
	}

	return resolutions, nil
}

func (r *resolutionRepository) DeleteReleaseResolutions(ctx context.Context, groupID uuid.UUID) (int64, error) {
	query := `
		DELETE FROM engine_group_resolutions
		WHERE group_id = $1 AND kind = 'in_release'`

	tag, err := r.db.Exec(ctx, query, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete release resolutions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func scanResolution(row pgx.Row) (*models.GroupResolution, error) {
	var res models.GroupResolution

	err := row.Scan(&res.ID, &res.GroupID, &res.Kind, &res.ReleaseVersion, &res.ReleaseDate, &res.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group resolution: %w", err)
	}

	return &res, nil
}
