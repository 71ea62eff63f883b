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

// GroupHashRepository provides data access for hash-to-group associations.
//
// GetOrCreate is the lockless materialization step of the fast path; it may
// race with concurrent callers and is idempotent. GetForUpdate is the
// pessimistic re-fetch of the creation slow path and must run inside the
// caller's transaction.
type GroupHashRepository interface {
	GetOrCreate(ctx context.Context, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error)
	AssignGroup(ctx context.Context, q database.Querier, projectID uuid.UUID, hashes []string, groupID uuid.UUID) (int64, error)
	SetState(ctx context.Context, projectID uuid.UUID, hash string, state string) error
}

type groupHashRepository struct {
	db *database.DB
}

// NewGroupHashRepository creates a new GroupHashRepository.
func NewGroupHashRepository(db *database.DB) GroupHashRepository {
	return &groupHashRepository{db: db}
}

var _ GroupHashRepository = (*groupHashRepository)(nil)

func (r *groupHashRepository) GetOrCreate(ctx context.Context, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	now := time.Now()
	insert := `
		INSERT INTO engine_group_hashes (id, project_id, hash, created_at)
		SELECT gen_random_uuid(), $1, h, $2 FROM unnest($3::text[]) AS h
		ON CONFLICT (project_id, hash) DO NOTHING`

	if _, err := r.db.Exec(ctx, insert, projectID, now, hashes); err != nil {
		return nil, fmt.Errorf("failed to materialize group hashes: %w", err)
	}

	query := `
		SELECT id, project_id, hash, group_id, state, created_at
		FROM engine_group_hashes
		WHERE project_id = $1 AND hash = ANY($2)`

	rows, err := r.db.Query(ctx, query, projectID, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to query group hashes: %w", err)
	}
	defer rows.Close()

	fetched, err := collectGroupHashes(rows)
	if err != nil {
		return nil, err
	}

	return orderByInput(fetched, hashes), nil
}

func (r *groupHashRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error) {
	// ORDER BY hash gives every competing transaction the same lock
	// acquisition order, so overlapping candidate sets cannot deadlock.
	query := `
		SELECT id, project_id, hash, group_id, state, created_at
		FROM engine_group_hashes
		WHERE project_id = $1 AND hash = ANY($2)
		ORDER BY hash
		FOR UPDATE`

	rows, err := tx.Query(ctx, query, projectID, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to lock group hashes: %w", err)
	}
	defer rows.Close()

	fetched, err := collectGroupHashes(rows)
	if err != nil {
		return nil, err
	}

	return orderByInput(fetched, hashes), nil
}

func (r *groupHashRepository) AssignGroup(ctx context.Context, q database.Querier, projectID uuid.UUID, hashes []string, groupID uuid.UUID) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}

	// group_id is set at most once; hashes held by an administrative
	// migration, split or tombstoned are never assigned. Re-running for an
	// already-assigned hash is a no-op, which makes migration idempotent.
	query := `
		UPDATE engine_group_hashes
		SET group_id = $3
		WHERE project_id = $1 AND hash = ANY($2)
		  AND group_id IS NULL
		  AND state NOT IN ('locked_in_migration', 'split', 'tombstoned')`

	tag, err := q.Exec(ctx, query, projectID, hashes, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to assign group to hashes: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (r *groupHashRepository) SetState(ctx context.Context, projectID uuid.UUID, hash string, state string) error {
	if !models.IsValidHashState(state) {
		return fmt.Errorf("invalid hash state: %s", state)
	}

	query := `UPDATE engine_group_hashes SET state = $3 WHERE project_id = $1 AND hash = $2`

	if _, err := r.db.Exec(ctx, query, projectID, hash, state); err != nil {
		return fmt.Errorf("failed to set hash state: %w", err)
	}

	return nil
}

func collectGroupHashes(rows pgx.Rows) ([]*models.GroupHash, error) {
	var hashes []*models.GroupHash
	for rows.Next() {
		gh, err := scanGroupHash(rows)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, gh)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating group hashes: %w", err)
	}

	return hashes, nil
}

// orderByInput returns rows in the order their hash values appeared in the
// request. Candidate precedence is positional (most specific first), so the
// store's ordering must never leak through.
func orderByInput(fetched []*models.GroupHash, hashes []string) []*models.GroupHash {
	byHash := make(map[string]*models.GroupHash, len(fetched))
	for _, gh := range fetched {
		byHash[gh.Hash] = gh
	}

	ordered := make([]*models.GroupHash, 0, len(hashes))
	for _, h := range hashes {
		if gh, ok := byHash[h]; ok {
			ordered = append(ordered, gh)
		}
	}
	return ordered
}

func scanGroupHash(row pgx.Row) (*models.GroupHash, error) {
	var gh models.GroupHash

	err := row.Scan(&gh.ID, &gh.ProjectID, &gh.Hash, &gh.GroupID, &gh.State, &gh.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan group hash: %w", err)
	}

	return &gh, nil
}
