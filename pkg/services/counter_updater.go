package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/faultline-hq/faultline-engine/pkg/repositories"
)

// pendingCounter accumulates increments for one group between flushes.
type pendingCounter struct {
	times     int64
	firstSeen time.Time
	lastSeen  time.Time
}

func (p *pendingCounter) merge(occurredAt time.Time, n int64) {
	p.times += n
	if p.firstSeen.IsZero() || occurredAt.Before(p.firstSeen) {
		p.firstSeen = occurredAt
	}
	if occurredAt.After(p.lastSeen) {
		p.lastSeen = occurredAt
	}
}

// CounterUpdater coalesces counter increments and timestamp watermarks for
// existing groups. Many occurrences for one group inside a flush window
// collapse into a single times_seen += N update; the store-side
// GREATEST/LEAST arithmetic keeps the monotonic invariants regardless of
// flush interleaving.
type CounterUpdater struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*pendingCounter

	groupRepo repositories.GroupRepository
	interval  time.Duration
	logger    *zap.Logger

	started  bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewCounterUpdater creates a new CounterUpdater flushing every interval
// once Start is called.
func NewCounterUpdater(groupRepo repositories.GroupRepository, interval time.Duration, logger *zap.Logger) *CounterUpdater {
	return &CounterUpdater{
		pending:   make(map[uuid.UUID]*pendingCounter),
		groupRepo: groupRepo,
		interval:  interval,
		logger:    logger.Named("counters"),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Record buffers one occurrence against an existing group.
func (c *CounterUpdater) Record(groupID uuid.UUID, occurredAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[groupID]
	if !ok {
		p = &pendingCounter{}
		c.pending[groupID] = p
	}
	p.merge(occurredAt, 1)
}

// FlushGroup synchronously drains the buffered increments for one group.
// The orchestrator calls it before exposing any regression decision so the
// group's counters are current when the witness goes out.
func (c *CounterUpdater) FlushGroup(ctx context.Context, groupID uuid.UUID) error {
	c.mu.Lock()
	p, ok := c.pending[groupID]
	if ok {
		delete(c.pending, groupID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	return c.apply(ctx, groupID, p)
}

// Flush drains all buffered increments. The last error is returned; every
// failed group keeps its increments buffered for the next flush.
func (c *CounterUpdater) Flush(ctx context.Context) error {
	c.mu.Lock()
	drained := c.pending
	c.pending = make(map[uuid.UUID]*pendingCounter)
	c.mu.Unlock()

	var lastErr error
	for groupID, p := range drained {
		if err := c.apply(ctx, groupID, p); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *CounterUpdater) apply(ctx context.Context, groupID uuid.UUID, p *pendingCounter) error {
	err := c.groupRepo.ApplyCounter(ctx, groupID, p.times, p.firstSeen, p.lastSeen)
	if err != nil {
		// Increments are never dropped on a transient failure; merge them
		// back for the next flush.
		c.mu.Lock()
		if existing, ok := c.pending[groupID]; ok {
			existing.times += p.times
			if p.firstSeen.Before(existing.firstSeen) {
				existing.firstSeen = p.firstSeen
			}
			if p.lastSeen.After(existing.lastSeen) {
				existing.lastSeen = p.lastSeen
			}
		} else {
			c.pending[groupID] = p
		}
		c.mu.Unlock()

		c.logger.Warn("counter flush failed, increments re-buffered",
			zap.String("group_id", groupID.String()),
			zap.Int64("times", p.times),
			zap.Error(err))
		return err
	}

	return nil
}

// Start runs the background flush loop until Stop is called.
func (c *CounterUpdater) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.Flush(context.Background()); err != nil {
					c.logger.Warn("periodic counter flush failed", zap.Error(err))
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the flush loop and drains whatever is still buffered.
func (c *CounterUpdater) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}

	return c.Flush(ctx)
}

// PendingGroups returns how many groups currently have buffered increments.
func (c *CounterUpdater) PendingGroups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
