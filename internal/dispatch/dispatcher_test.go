package dispatch_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/models"
)

var (
	org = uuid.MustParse("11111111-1111-1111-1111-111111111111")

	agentA = uuid.MustParse("aaaaaaaa-0000-0000-0000-00000000000a")
	agentB = uuid.MustParse("aaaaaaaa-0000-0000-0000-00000000000b")
	agentC = uuid.MustParse("aaaaaaaa-0000-0000-0000-00000000000c")
)

type fakeSettings struct {
	settings map[uuid.UUID]dispatch.Settings
	err      error
}

func (f *fakeSettings) GetAssignmentSettings(_ context.Context, orgID uuid.UUID) (dispatch.Settings, error) {
	if f.err != nil {
		return dispatch.Settings{}, f.err
	}
	s, ok := f.settings[orgID]
	if !ok {
		return dispatch.Settings{}, pgx.ErrNoRows
	}
	return s, nil
}

type fakeMembership struct {
	agents []dispatch.AgentRef
	err    error
}

func (f *fakeMembership) ListAgents(_ context.Context, _ uuid.UUID) ([]dispatch.AgentRef, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.agents, nil
}

type availRow struct {
	id        uuid.UUID
	available bool
	current   int
	max       int
}

type fakeAvailability struct {
	rows []availRow
	err  error
}

// LeastLoaded mirrors the SQL contract: eligible rows ordered by
// current_tickets ascending, ties broken by lowest user id.
func (f *fakeAvailability) LeastLoaded(_ context.Context, _ uuid.UUID) (uuid.UUID, bool, error) {
	if f.err != nil {
		return uuid.Nil, false, f.err
	}
	eligible := make([]availRow, 0, len(f.rows))
	for _, r := range f.rows {
		if r.available && r.current < r.max {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return uuid.Nil, false, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].current != eligible[j].current {
			return eligible[i].current < eligible[j].current
		}
		return eligible[i].id.String() < eligible[j].id.String()
	})
	return eligible[0].id, true, nil
}

// fakeQueue is an in-memory RotationQueue with the same atomicity as the
// Redis implementation: Rotate is one operation under the lock.
type fakeQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]uuid.UUID
	err     error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: make(map[uuid.UUID][]uuid.UUID)}
}

func (q *fakeQueue) Rotate(_ context.Context, orgID uuid.UUID) (uuid.UUID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return uuid.Nil, false, q.err
	}
	list := q.entries[orgID]
	if len(list) == 0 {
		return uuid.Nil, false, nil
	}
	head := list[0]
	q.entries[orgID] = append(list[1:], head)
	return head, true, nil
}

func (q *fakeQueue) Append(_ context.Context, orgID uuid.UUID, agents []uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.entries[orgID] = append(q.entries[orgID], agents...)
	return nil
}

func (q *fakeQueue) Replace(_ context.Context, orgID uuid.UUID, agents []uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.entries[orgID] = append([]uuid.UUID(nil), agents...)
	return nil
}

func (q *fakeQueue) Len(_ context.Context, orgID uuid.UUID) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	return int64(len(q.entries[orgID])), nil
}

func (q *fakeQueue) snapshot(orgID uuid.UUID) []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.entries[orgID]...)
}

type fixture struct {
	settings     *fakeSettings
	membership   *fakeMembership
	availability *fakeAvailability
	queue        *fakeQueue
	dispatcher   *dispatch.Dispatcher
}

func newFixture(algo models.AssignmentAlgo, autoAssign bool) *fixture {
	now := time.Now()
	f := &fixture{
		settings: &fakeSettings{settings: map[uuid.UUID]dispatch.Settings{
			org: {AutoAssign: autoAssign, Algo: algo},
		}},
		membership: &fakeMembership{agents: []dispatch.AgentRef{
			{UserID: agentA, JoinedAt: now.Add(-3 * time.Hour)},
			{UserID: agentB, JoinedAt: now.Add(-2 * time.Hour)},
			{UserID: agentC, JoinedAt: now.Add(-1 * time.Hour)},
		}},
		availability: &fakeAvailability{},
		queue:        newFakeQueue(),
	}
	f.dispatcher = dispatch.NewDispatcher(f.settings, f.membership, f.availability, f.queue, time.Second, nil)
	return f
}

func assign(t *testing.T, d *dispatch.Dispatcher) *uuid.UUID {
	t.Helper()
	got, err := d.Assign(context.Background(), org)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	return got
}

func TestAssign_UnknownOrganization(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	_, err := f.dispatcher.Assign(context.Background(), uuid.New())
	if !errors.Is(err, dispatch.ErrUnknownOrganization) {
		t.Fatalf("expected ErrUnknownOrganization, got %v", err)
	}
}

func TestAssign_AutoAssignDisabled(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, false)
	f.availability.rows = []availRow{{id: agentA, available: true, current: 0, max: 5}}
	if got := assign(t, f.dispatcher); got != nil {
		t.Fatalf("auto_assign=false must return no agent, got %s", got)
	}
}

func TestAssign_RoundRobinCyclesInJoinOrder(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)

	// N consecutive dispatches return each agent exactly once, in join
	// order, then the cycle repeats.
	want := []uuid.UUID{agentA, agentB, agentC, agentA, agentB, agentC}
	for i, w := range want {
		got := assign(t, f.dispatcher)
		if got == nil || *got != w {
			t.Fatalf("dispatch %d: got %v, want %s", i+1, got, w)
		}
	}
}

func TestAssign_RoundRobinLazyRebuildLength(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	if got := assign(t, f.dispatcher); got == nil || *got != agentA {
		t.Fatalf("first dispatch: got %v, want %s", got, agentA)
	}
	// After the rebuild-on-empty, queue length equals the agent count.
	n, err := f.queue.Len(context.Background(), org)
	if err != nil || n != 3 {
		t.Fatalf("queue length after rebuild = %d (err %v), want 3", n, err)
	}
}

func TestAssign_ForceRebuildResetsRotation(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)

	// Ticket 1 -> A (queue B,C,A), Ticket 2 -> B (queue C,A,B).
	if got := assign(t, f.dispatcher); got == nil || *got != agentA {
		t.Fatalf("ticket 1: got %v, want %s", got, agentA)
	}
	if got := assign(t, f.dispatcher); got == nil || *got != agentB {
		t.Fatalf("ticket 2: got %v, want %s", got, agentB)
	}

	n, err := f.dispatcher.ForceRebuild(context.Background(), org)
	if err != nil {
		t.Fatalf("ForceRebuild: %v", err)
	}
	if n != 3 {
		t.Fatalf("ForceRebuild enqueued %d, want 3", n)
	}

	// Queue reset to A,B,C; ticket 3 -> A.
	if got := assign(t, f.dispatcher); got == nil || *got != agentA {
		t.Fatalf("ticket 3 after force rebuild: got %v, want %s", got, agentA)
	}
}

func TestAssign_RoundRobinNoAgentsFallsThrough(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	f.membership.agents = nil
	if got := assign(t, f.dispatcher); got != nil {
		t.Fatalf("zero agents must return no agent, got %s", got)
	}
}

func TestAssign_RoundRobinQueueFailureFallsBackToLeastActive(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	f.queue.err = errors.New("redis timeout")
	f.availability.rows = []availRow{
		{id: agentB, available: true, current: 1, max: 5},
	}
	got := assign(t, f.dispatcher)
	if got == nil || *got != agentB {
		t.Fatalf("expected LAA fallback to %s, got %v", agentB, got)
	}
}

func TestAssign_LeastActivePicksLowestLoad(t *testing.T) {
	f := newFixture(models.AlgoLeastActive, true)
	f.availability.rows = []availRow{
		{id: agentA, available: true, current: 2, max: 5},
		{id: agentB, available: true, current: 0, max: 5},
	}
	got := assign(t, f.dispatcher)
	if got == nil || *got != agentB {
		t.Fatalf("got %v, want %s", got, agentB)
	}
}

func TestAssign_LeastActiveSkipsIneligible(t *testing.T) {
	f := newFixture(models.AlgoLeastActive, true)
	f.availability.rows = []availRow{
		{id: agentA, available: true, current: 5, max: 5},  // at capacity
		{id: agentB, available: false, current: 0, max: 5}, // unavailable
		{id: agentC, available: true, current: 4, max: 5},
	}
	got := assign(t, f.dispatcher)
	if got == nil || *got != agentC {
		t.Fatalf("got %v, want %s (only eligible agent)", got, agentC)
	}
}

func TestAssign_FinalFallbackIgnoresAvailability(t *testing.T) {
	f := newFixture(models.AlgoLeastActive, true)
	// Nobody eligible, but agents exist: forward progress wins.
	f.availability.rows = []availRow{
		{id: agentA, available: true, current: 5, max: 5},
	}
	got := assign(t, f.dispatcher)
	if got == nil || *got != agentA {
		t.Fatalf("got %v, want first agent in join order %s", got, agentA)
	}
}

func TestAssign_NoAgentsAtAll(t *testing.T) {
	f := newFixture(models.AlgoLeastActive, true)
	f.membership.agents = nil
	if got := assign(t, f.dispatcher); got != nil {
		t.Fatalf("org without agents must return no agent, got %s", got)
	}
}

func TestAssign_AvailabilityFailureFallsThrough(t *testing.T) {
	f := newFixture(models.AlgoLeastActive, true)
	f.availability.err = errors.New("store timeout")
	got := assign(t, f.dispatcher)
	if got == nil || *got != agentA {
		t.Fatalf("availability failure should fall through to any-agent, got %v", got)
	}
}

func TestAssign_EveryStoreFailingStillSucceedsUnassigned(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	f.queue.err = errors.New("redis down")
	f.availability.err = errors.New("db down")
	f.membership.err = errors.New("db down")
	got, err := f.dispatcher.Assign(context.Background(), org)
	if err != nil {
		t.Fatalf("transient failures must not error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected unassigned, got %s", got)
	}
}

func TestAssign_SettingsTransientFailureUnassigned(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	f.settings.err = errors.New("db timeout")
	got, err := f.dispatcher.Assign(context.Background(), org)
	if err != nil || got != nil {
		t.Fatalf("settings failure must degrade to unassigned, got %v, %v", got, err)
	}
}

func TestForceRebuild_EmptyRoster(t *testing.T) {
	f := newFixture(models.AlgoRoundRobin, true)
	assign(t, f.dispatcher) // populate the queue
	f.membership.agents = nil
	n, err := f.dispatcher.ForceRebuild(context.Background(), org)
	if err != nil {
		t.Fatalf("ForceRebuild: %v", err)
	}
	if n != 0 {
		t.Fatalf("enqueued %d, want 0", n)
	}
	if got := f.queue.snapshot(org); len(got) != 0 {
		t.Fatalf("queue not cleared: %v", got)
	}
}
