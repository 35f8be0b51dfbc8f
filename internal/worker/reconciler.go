package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/organizations"
)

// RotationReconciler periodically compares each round-robin organization's
// rotation queue against the agent roster and rewrites queues that have
// drifted (stale members, duplicates from concurrent lazy rebuilds, or
// agents missing after a join).
type RotationReconciler struct {
	orgRepo  *organizations.Repository
	rotation *dispatch.RedisRotationQueue
	interval time.Duration
	logger   *zap.Logger
}

// NewRotationReconciler creates the reconciler. interval defaults to five
// minutes.
func NewRotationReconciler(orgRepo *organizations.Repository, rotation *dispatch.RedisRotationQueue, interval time.Duration, logger *zap.Logger) *RotationReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RotationReconciler{orgRepo: orgRepo, rotation: rotation, interval: interval, logger: logger}
}

// Run reconciles on a fixed interval until ctx is done.
func (r *RotationReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("rotation reconciler stopping")
			return
		case <-ticker.C:
			r.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll runs one reconciliation pass over every organization using
// round-robin assignment. Per-org failures are logged and skipped.
func (r *RotationReconciler) ReconcileAll(ctx context.Context) {
	orgIDs, err := r.orgRepo.ListOrganizationsWithRoundRobin(ctx)
	if err != nil {
		r.logger.Warn("reconciler: listing organizations failed", zap.Error(err))
		return
	}
	for _, orgID := range orgIDs {
		if err := r.reconcile(ctx, orgID); err != nil {
			r.logger.Warn("reconciler: org skipped", zap.String("org_id", orgID.String()), zap.Error(err))
		}
	}
}

func (r *RotationReconciler) reconcile(ctx context.Context, orgID uuid.UUID) error {
	agents, err := r.orgRepo.ListAgents(ctx, orgID)
	if err != nil {
		return err
	}
	queue, err := r.rotation.Snapshot(ctx, orgID)
	if err != nil {
		return err
	}
	// An empty queue is left alone: the dispatcher rebuilds it lazily on the
	// next assignment, preserving rotation position semantics.
	if len(queue) == 0 {
		return nil
	}

	roster := make([]uuid.UUID, len(agents))
	for i, a := range agents {
		roster[i] = a.UserID
	}
	if !drifted(roster, queue) {
		return nil
	}
	if err := r.rotation.Replace(ctx, orgID, roster); err != nil {
		return err
	}
	r.logger.Info("reconciler: rotation queue rewritten",
		zap.String("org_id", orgID.String()),
		zap.Int("queue_len", len(queue)), zap.Int("roster_len", len(roster)))
	return nil
}

// drifted reports whether the queue is anything other than a permutation of
// the roster with each agent appearing exactly once.
func drifted(roster, queue []uuid.UUID) bool {
	if len(roster) != len(queue) {
		return true
	}
	want := make(map[uuid.UUID]int, len(roster))
	for _, id := range roster {
		want[id]++
	}
	for _, id := range queue {
		want[id]--
		if want[id] < 0 {
			return true
		}
	}
	for _, n := range want {
		if n != 0 {
			return true
		}
	}
	return false
}
