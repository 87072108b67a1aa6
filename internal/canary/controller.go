package canary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Veraticus/spice-feedback/internal/common"
	"github.com/Veraticus/spice-feedback/internal/model"
	"github.com/Veraticus/spice-feedback/internal/service"
)

// Controller errors.
var (
	ErrGateFailed    = errors.New("rollout gate not satisfied")
	ErrFullRollout   = errors.New("already at full rollout")
	ErrNotLowerStage = errors.New("rollback target must be a lower stage")
	ErrNotLoaded     = errors.New("canary state not loaded")
)

// Controller owns the live rollout state. Readers get an immutable snapshot;
// every administrative change persists a new version and then swaps the
// snapshot in one step.
type Controller struct {
	store   service.CanaryStore
	now     func() time.Time
	current atomic.Pointer[model.CanaryState]
	mu      sync.Mutex
}

// NewController creates a controller. Call Load before serving traffic.
func NewController(store service.CanaryStore) *Controller {
	return &Controller{store: store, now: time.Now}
}

// SetClock overrides the controller clock. Intended for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
}

// Load seeds the persisted state if absent and publishes it.
func (c *Controller) Load(ctx context.Context, seed model.CanaryState) error {
	if err := ValidatePercentage(seed.Percentage); err != nil {
		return err
	}
	state, err := c.store.EnsureCanaryState(ctx, seed)
	if err != nil {
		return fmt.Errorf("failed to load canary state: %w", err)
	}
	c.current.Store(state)
	return nil
}

// Refresh re-reads the persisted state, picking up changes made by other processes.
func (c *Controller) Refresh(ctx context.Context) error {
	state, err := c.store.LoadCanaryState(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh canary state: %w", err)
	}
	c.current.Store(state)
	return nil
}

// State returns the current snapshot. Before Load it is the safe default: 0%, no shadow.
func (c *Controller) State() model.CanaryState {
	if s := c.current.Load(); s != nil {
		return *s
	}
	return model.CanaryState{}
}

// Stage returns the rollout stage the current percentage falls in.
func (c *Controller) Stage() int {
	return StageFor(c.State().Percentage)
}

// Decide routes entityID against the current snapshot.
func (c *Controller) Decide(entityID string) model.RoutingDecision {
	return Decide(c.State(), entityID)
}

// History returns recent transitions, newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]model.CanaryTransition, error) {
	return c.store.CanaryHistory(ctx, limit)
}

// SetPercentage sets an arbitrary rollout percentage in [0, 100].
func (c *Controller) SetPercentage(ctx context.Context, pct int, reason string) (model.CanaryState, error) {
	if err := ValidatePercentage(pct); err != nil {
		return c.State(), err
	}
	if reason == "" {
		reason = "set"
	}
	return c.transition(ctx, reason, func(_ model.CanaryState, next *model.CanaryState) error {
		next.Percentage = pct
		return nil
	})
}

// SetShadow toggles shadow evaluation.
func (c *Controller) SetShadow(ctx context.Context, enabled bool) (model.CanaryState, error) {
	reason := "shadow off"
	if enabled {
		reason = "shadow on"
	}
	return c.transition(ctx, reason, func(_ model.CanaryState, next *model.CanaryState) error {
		next.Shadow = enabled
		return nil
	})
}

// Advance moves to the next stage if report satisfies criteria.
func (c *Controller) Advance(ctx context.Context, report GateReport, criteria GateCriteria) (model.CanaryState, error) {
	return c.transition(ctx, "advance", func(cur model.CanaryState, next *model.CanaryState) error {
		target, ok := NextStage(cur.Percentage)
		if !ok {
			return ErrFullRollout
		}
		report.Stage = StageFor(cur.Percentage)
		if err := criteria.Check(report); err != nil {
			return err
		}
		next.Percentage = target
		return nil
	})
}

// Rollback moves to a lower stage. It is never gated.
func (c *Controller) Rollback(ctx context.Context, target int) (model.CanaryState, error) {
	if err := ValidatePercentage(target); err != nil {
		return c.State(), err
	}
	if !IsStage(target) {
		return c.State(), fmt.Errorf("%w: %d is not a rollout stage %v", common.ErrRoutingMisconfiguration, target, Stages)
	}
	return c.transition(ctx, "rollback", func(cur model.CanaryState, next *model.CanaryState) error {
		if target >= cur.Percentage {
			return fmt.Errorf("%w: at %d%%, asked for %d%%", ErrNotLowerStage, cur.Percentage, target)
		}
		next.Percentage = target
		return nil
	})
}

func (c *Controller) transition(ctx context.Context, reason string, mutate func(cur model.CanaryState, next *model.CanaryState) error) (model.CanaryState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.Load() == nil {
		return model.CanaryState{}, ErrNotLoaded
	}

	cur := c.State()
	next := cur
	if err := mutate(cur, &next); err != nil {
		return cur, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = c.now().UTC()

	if err := c.store.SaveCanaryState(ctx, next, cur.Percentage, reason); err != nil {
		if refreshErr := c.Refresh(ctx); refreshErr != nil {
			slog.Warn("Failed to refresh canary state after save error", "error", refreshErr)
		}
		return c.State(), fmt.Errorf("failed to save canary state: %w", err)
	}

	c.current.Store(&next)
	slog.Info("Canary state changed",
		"reason", reason,
		"from", cur.Percentage,
		"to", next.Percentage,
		"shadow", next.Shadow,
		"version", next.Version)
	return next, nil
}
