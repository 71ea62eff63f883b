package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/faultline-hq/faultline-engine/pkg/apperrors"
	"github.com/faultline-hq/faultline-engine/pkg/database"
	"github.com/faultline-hq/faultline-engine/pkg/models"
	"github.com/faultline-hq/faultline-engine/pkg/repositories"
)

// fakeStore is an in-memory stand-in for the group and hash repositories,
// implementing the same semantics the SQL carries (conditional updates,
// idempotent assignment) so service logic can be unit tested without a
// database.
type fakeStore struct {
	mu       sync.Mutex
	groups   map[uuid.UUID]*models.Group
	hashes   map[string]*models.GroupHash // keyed by hash value
	counters map[uuid.UUID]int64

	applyCounterCalls []appliedCounter
	applyCounterErr   error
}

type appliedCounter struct {
	groupID   uuid.UUID
	times     int64
	firstSeen time.Time
	lastSeen  time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		groups:   make(map[uuid.UUID]*models.Group),
		hashes:   make(map[string]*models.GroupHash),
		counters: make(map[uuid.UUID]int64),
	}
}

func (s *fakeStore) addHash(hash string, state string, groupID *uuid.UUID) *models.GroupHash {
	gh := &models.GroupHash{
		ID:      uuid.New(),
		Hash:    hash,
		State:   state,
		GroupID: groupID,
	}
	s.hashes[hash] = gh
	return gh
}

func (s *fakeStore) addGroup(status string) *models.Group {
	g := &models.Group{
		ID:        uuid.New(),
		ShortID:   int64(len(s.groups) + 1),
		Status:    status,
		TimesSeen: 1,
		FirstSeen: time.Now().Add(-time.Hour),
		LastSeen:  time.Now().Add(-time.Hour),
		ActiveAt:  time.Now().Add(-time.Hour),
	}
	s.groups[g.ID] = g
	return g
}

// --- repositories.GroupHashRepository ---

type fakeHashRepo struct {
	store *fakeStore
}

var _ repositories.GroupHashRepository = (*fakeHashRepo)(nil)

func (r *fakeHashRepo) GetOrCreate(_ context.Context, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*models.GroupHash, 0, len(hashes))
	for _, h := range hashes {
		gh, ok := r.store.hashes[h]
		if !ok {
			gh = &models.GroupHash{
				ID:        uuid.New(),
				ProjectID: projectID,
				Hash:      h,
				State:     models.HashStateUnlocked,
			}
			r.store.hashes[h] = gh
		}
		copied := *gh
		out = append(out, &copied)
	}
	return out, nil
}

func (r *fakeHashRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, projectID uuid.UUID, hashes []string) ([]*models.GroupHash, error) {
	return r.GetOrCreate(ctx, projectID, hashes)
}

func (r *fakeHashRepo) AssignGroup(_ context.Context, _ database.Querier, _ uuid.UUID, hashes []string, groupID uuid.UUID) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var assigned int64
	for _, h := range hashes {
		gh, ok := r.store.hashes[h]
		if !ok || !gh.Assignable() {
			continue
		}
		id := groupID
		gh.GroupID = &id
		assigned++
	}
	return assigned, nil
}

func (r *fakeHashRepo) SetState(_ context.Context, _ uuid.UUID, hash string, state string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if gh, ok := r.store.hashes[hash]; ok {
		gh.State = state
	}
	return nil
}

// --- repositories.GroupRepository ---

type fakeGroupRepo struct {
	store *fakeStore
}

var _ repositories.GroupRepository = (*fakeGroupRepo)(nil)

func (r *fakeGroupRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Group, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	g, ok := r.store.groups[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *g
	return &copied, nil
}

func (r *fakeGroupRepo) CreateTx(_ context.Context, _ pgx.Tx, group *models.Group) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	copied := *group
	r.store.groups[group.ID] = &copied
	return nil
}

func (r *fakeGroupRepo) NextShortIDTx(ctx context.Context, _ pgx.Tx, projectID uuid.UUID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.counters[projectID]++
	return r.store.counters[projectID], nil
}

func (r *fakeGroupRepo) ApplyCounter(_ context.Context, groupID uuid.UUID, times int64, firstSeen, lastSeen time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.store.applyCounterErr != nil {
		return r.store.applyCounterErr
	}

	r.store.applyCounterCalls = append(r.store.applyCounterCalls, appliedCounter{
		groupID: groupID, times: times, firstSeen: firstSeen, lastSeen: lastSeen,
	})

	g, ok := r.store.groups[groupID]
	if !ok {
		return apperrors.ErrNotFound
	}
	g.TimesSeen += times
	if lastSeen.After(g.LastSeen) {
		g.LastSeen = lastSeen
	}
	if firstSeen.Before(g.FirstSeen) {
		g.FirstSeen = firstSeen
	}
	return nil
}

func (r *fakeGroupRepo) FlipToUnresolved(_ context.Context, groupID uuid.UUID, activeAt, occurredAt, toleranceCutoff time.Time) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	g, ok := r.store.groups[groupID]
	if !ok {
		return false, nil
	}
	if g.Status != models.GroupStatusResolved && g.Status != models.GroupStatusUnresolved {
		return false, nil
	}
	if !g.ActiveAt.Before(toleranceCutoff) {
		return false, nil
	}

	g.Status = models.GroupStatusUnresolved
	g.ActiveAt = activeAt
	if occurredAt.After(g.LastSeen) {
		g.LastSeen = occurredAt
	}
	return true, nil
}

func (r *fakeGroupRepo) UpdateStatus(_ context.Context, groupID uuid.UUID, status string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	g, ok := r.store.groups[groupID]
	if !ok {
		return apperrors.ErrNotFound
	}
	g.Status = status
	return nil
}

// --- repositories.ResolutionRepository ---

type fakeResolutionRepo struct {
	mu          sync.Mutex
	resolutions map[uuid.UUID][]*models.GroupResolution
}

var _ repositories.ResolutionRepository = (*fakeResolutionRepo)(nil)

func newFakeResolutionRepo() *fakeResolutionRepo {
	return &fakeResolutionRepo{resolutions: make(map[uuid.UUID][]*models.GroupResolution)}
}

func (r *fakeResolutionRepo) Create(_ context.Context, res *models.GroupResolution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	r.resolutions[res.GroupID] = append(r.resolutions[res.GroupID], res)
	return nil
}

func (r *fakeResolutionRepo) GetByGroup(_ context.Context, groupID uuid.UUID) ([]*models.GroupResolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.GroupResolution(nil), r.resolutions[groupID]...), nil
}

func (r *fakeResolutionRepo) DeleteReleaseResolutions(_ context.Context, groupID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []*models.GroupResolution
	var deleted int64
	for _, res := range r.resolutions[groupID] {
		if res.Kind == models.ResolutionKindInRelease {
			deleted++
			continue
		}
		kept = append(kept, res)
	}
	r.resolutions[groupID] = kept
	return deleted, nil
}

// --- services.WitnessSink ---

type recordingSink struct {
	mu        sync.Mutex
	witnesses []models.RegressionWitness
}

var _ WitnessSink = (*recordingSink)(nil)

func (s *recordingSink) Publish(_ context.Context, w models.RegressionWitness) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.witnesses = append(s.witnesses, w)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.witnesses)
}

// --- services.CreationThrottle ---

type denyThrottle struct{}

func (denyThrottle) AllowCreate(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

// --- AggregatorDB / pgx.Tx ---

// fakeTx satisfies pgx.Tx for aggregator unit tests; the repositories are
// faked, so only Commit and Rollback carry behavior.
type fakeTx struct {
	committed  bool
	rolledBack bool
}

var _ pgx.Tx = (*fakeTx)(nil)

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func (t *fakeTx) Conn() *pgx.Conn { return nil }

type fakeDB struct {
	tx fakeTx
}

var _ AggregatorDB = (*fakeDB)(nil)

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) { return &db.tx, nil }

func (db *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (db *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
