package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/models"
)

// ErrUnknownOrganization is returned when the organization does not exist.
// It is the only error Assign propagates; everything else degrades to an
// unassigned ticket.
var ErrUnknownOrganization = errors.New("unknown organization")

// Settings is the per-organization assignment configuration.
type Settings struct {
	AutoAssign bool
	Algo       models.AssignmentAlgo
}

// AgentRef is a membership-directory entry for an agent.
type AgentRef struct {
	UserID   uuid.UUID
	JoinedAt time.Time
}

// SettingsSource loads assignment settings for an organization.
type SettingsSource interface {
	// GetAssignmentSettings returns pgx.ErrNoRows when the org does not exist.
	GetAssignmentSettings(ctx context.Context, orgID uuid.UUID) (Settings, error)
}

// MembershipSource is the authoritative agent roster for an organization,
// ordered by membership-creation time ascending.
type MembershipSource interface {
	ListAgents(ctx context.Context, orgID uuid.UUID) ([]AgentRef, error)
}

// AvailabilitySource reads agent capacity counters. The dispatcher only
// reads; the counters are maintained by the ticket lifecycle.
type AvailabilitySource interface {
	// LeastLoaded returns the eligible agent (is_available and
	// current_tickets < max_tickets) with the fewest current tickets,
	// ties broken by lowest user id. ok is false when no agent is eligible.
	LeastLoaded(ctx context.Context, orgID uuid.UUID) (agentID uuid.UUID, ok bool, err error)
}

// RotationQueue is the durable per-organization FIFO behind round-robin.
type RotationQueue interface {
	// Rotate atomically pops the front entry and pushes it to the back,
	// returning it. ok is false when the queue is empty.
	Rotate(ctx context.Context, orgID uuid.UUID) (agentID uuid.UUID, ok bool, err error)
	// Append pushes the roster onto the back of the queue in one operation
	// (used by the lazy rebuild; never writes a partial roster).
	Append(ctx context.Context, orgID uuid.UUID, agents []uuid.UUID) error
	// Replace clears the queue and writes the roster (force rebuild).
	Replace(ctx context.Context, orgID uuid.UUID, agents []uuid.UUID) error
	// Len returns the current queue length.
	Len(ctx context.Context, orgID uuid.UUID) (int64, error)
}

// Dispatcher selects an agent for a newly created ticket. It is invoked
// exactly once per ticket, synchronously in the creation path, and is never
// retried: a missed assignment leaves the ticket unassigned until an org
// admin reassigns it.
type Dispatcher struct {
	settings     SettingsSource
	membership   MembershipSource
	availability AvailabilitySource
	rotation     RotationQueue
	storeTimeout time.Duration
	logger       *zap.Logger
}

// NewDispatcher creates a dispatcher. storeTimeout bounds each backing-store
// access; zero means a 2s default.
func NewDispatcher(settings SettingsSource, membership MembershipSource, availability AvailabilitySource, rotation RotationQueue, storeTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if storeTimeout <= 0 {
		storeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		settings:     settings,
		membership:   membership,
		availability: availability,
		rotation:     rotation,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// Assign picks zero or one agent for a new ticket in the organization.
// A nil result with nil error means the ticket stays unassigned, which is a
// normal outcome. Only an unknown organization produces an error; transient
// store failures fall through the strategy chain and end at nil.
func (d *Dispatcher) Assign(ctx context.Context, orgID uuid.UUID) (*uuid.UUID, error) {
	settings, err := d.loadSettings(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrUnknownOrganization) {
			return nil, err
		}
		d.logger.Warn("dispatch: settings unavailable, leaving ticket unassigned",
			zap.String("org_id", orgID.String()), zap.Error(err))
		return nil, nil
	}

	if !settings.AutoAssign {
		return nil, nil
	}

	if settings.Algo == models.AlgoRoundRobin {
		if agentID, ok := d.roundRobin(ctx, orgID); ok {
			return &agentID, nil
		}
		// Empty or failing rotation queue: fall through to least-active.
	}

	if agentID, ok := d.leastActive(ctx, orgID); ok {
		return &agentID, nil
	}

	if agentID, ok := d.anyAgent(ctx, orgID); ok {
		return &agentID, nil
	}

	return nil, nil
}

func (d *Dispatcher) loadSettings(ctx context.Context, orgID uuid.UUID) (Settings, error) {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	s, err := d.settings.GetAssignmentSettings(ctx, orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Settings{}, ErrUnknownOrganization
	}
	return s, err
}

// roundRobin rotates the queue, lazily rebuilding it from the membership
// directory when empty. The length check and the rebuild are deliberately
// not atomic with the rotate: concurrent callers may both rebuild, leaving
// duplicate entries until the reconciler corrects the queue.
func (d *Dispatcher) roundRobin(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool) {
	agentID, ok, err := d.rotate(ctx, orgID)
	if err != nil {
		d.logger.Warn("dispatch: rotation queue unavailable, falling back",
			zap.String("org_id", orgID.String()), zap.Error(err))
		return uuid.Nil, false
	}
	if ok {
		return agentID, true
	}

	enqueued, err := d.rebuild(ctx, orgID)
	if err != nil {
		d.logger.Warn("dispatch: rotation rebuild failed, falling back",
			zap.String("org_id", orgID.String()), zap.Error(err))
		return uuid.Nil, false
	}
	if enqueued == 0 {
		return uuid.Nil, false
	}
	d.logger.Info("dispatch: rotation queue rebuilt",
		zap.String("org_id", orgID.String()), zap.Int("agents", enqueued))

	agentID, ok, err = d.rotate(ctx, orgID)
	if err != nil || !ok {
		return uuid.Nil, false
	}
	return agentID, true
}

func (d *Dispatcher) rotate(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	return d.rotation.Rotate(ctx, orgID)
}

// rebuild pushes the full current agent roster onto the queue when it is
// empty. Returns the number of agents enqueued.
func (d *Dispatcher) rebuild(ctx context.Context, orgID uuid.UUID) (int, error) {
	agents, err := d.listAgents(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if len(agents) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, len(agents))
	for i, a := range agents {
		ids[i] = a.UserID
	}
	appendCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	if err := d.rotation.Append(appendCtx, orgID, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EnrollAgent appends a newly joined agent to the back of the rotation, so
// they start receiving round-robin assignments without a full rebuild. Only
// useful when the queue is already populated; an empty queue picks the agent
// up on the next lazy rebuild anyway.
func (d *Dispatcher) EnrollAgent(ctx context.Context, orgID, agentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	n, err := d.rotation.Len(ctx, orgID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return d.rotation.Append(ctx, orgID, []uuid.UUID{agentID})
}

// ForceRebuild destructively replaces the rotation queue with the current
// agent roster in join order. Exposed for the administrative settings path.
func (d *Dispatcher) ForceRebuild(ctx context.Context, orgID uuid.UUID) (int, error) {
	agents, err := d.listAgents(ctx, orgID)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, len(agents))
	for i, a := range agents {
		ids[i] = a.UserID
	}
	replaceCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	if err := d.rotation.Replace(replaceCtx, orgID, ids); err != nil {
		return 0, err
	}
	d.logger.Info("dispatch: rotation queue force-rebuilt",
		zap.String("org_id", orgID.String()), zap.Int("agents", len(ids)))
	return len(ids), nil
}

func (d *Dispatcher) leastActive(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool) {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	agentID, ok, err := d.availability.LeastLoaded(ctx, orgID)
	if err != nil {
		d.logger.Warn("dispatch: availability store unavailable, falling back",
			zap.String("org_id", orgID.String()), zap.Error(err))
		return uuid.Nil, false
	}
	return agentID, ok
}

// anyAgent is the final fallback: the first agent in join order, with no
// availability filtering. It guarantees forward progress when availability
// bookkeeping is stale; the agent may well be over capacity.
func (d *Dispatcher) anyAgent(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool) {
	agents, err := d.listAgents(ctx, orgID)
	if err != nil {
		d.logger.Warn("dispatch: membership directory unavailable, leaving ticket unassigned",
			zap.String("org_id", orgID.String()), zap.Error(err))
		return uuid.Nil, false
	}
	if len(agents) == 0 {
		return uuid.Nil, false
	}
	d.logger.Info("dispatch: assigned via unfiltered fallback",
		zap.String("org_id", orgID.String()), zap.String("agent_id", agents[0].UserID.String()))
	return agents[0].UserID, true
}

func (d *Dispatcher) listAgents(ctx context.Context, orgID uuid.UUID) ([]AgentRef, error) {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	return d.membership.ListAgents(ctx, orgID)
}
