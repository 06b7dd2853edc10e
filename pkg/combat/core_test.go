package combat

import (
	"testing"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

type capturePort struct {
	events []broadcast.Event
}

func (p *capturePort) Publish(event broadcast.Event) {
	p.events = append(p.events, event)
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type lifecycleRecorder struct {
	started   []types.PeerID
	ended     []types.PeerID
	anomalies []string
}

func (r *lifecycleRecorder) CombatStarted(peerID types.PeerID) { r.started = append(r.started, peerID) }
func (r *lifecycleRecorder) CombatEnded(peerID types.PeerID)   { r.ended = append(r.ended, peerID) }
func (r *lifecycleRecorder) AnomalyDetected(peerID types.PeerID, reason string) {
	r.anomalies = append(r.anomalies, reason)
}

func newTestCore() (*Core, *capturePort, *testClock, *metrics.Registry) {
	port := &capturePort{}
	clock := &testClock{now: time.Unix(1700000000, 0)}
	registry := metrics.NewRegistry()
	core := NewCore(NewCoreOptions{
		Port:    port,
		Metrics: registry,
		Now:     clock.Now,
	})
	return core, port, clock, registry
}

func syncIn(state State) SyncData {
	return SyncData{
		State:    state,
		Position: types.Vec3{X: 1, Y: 1},
	}
}

func TestCore_UpdateTransitions(t *testing.T) {
	core, _, _, _ := newTestCore()
	recorder := &lifecycleRecorder{}
	core.RegisterObserver(recorder)
	core.AddPeer(1)

	// Jumping straight to active combat is the only refused transition.
	err := core.Update(1, syncIn(StateActive))
	assert.True(t, types.IsValidationFailed(err))

	assert.NoError(t, core.Update(1, syncIn(StateInCombat)))
	assert.Equal(t, []types.PeerID{1}, recorder.started)

	state, ok := core.StateOf(1)
	assert.True(t, ok)
	assert.Equal(t, StateInCombat, state.State)
	assert.NotZero(t, state.EngagementID, "entering combat opens an engagement")

	engagement, ok := core.EngagementOf(state.EngagementID)
	assert.True(t, ok)
	assert.Contains(t, engagement.Participants, types.PeerID(1))

	assert.NoError(t, core.Update(1, syncIn(StateActive)))
	assert.Len(t, recorder.started, 1, "in-combat to active is not a fresh start")

	assert.NoError(t, core.Update(1, syncIn(StateOutOfCombat)))
	assert.Equal(t, []types.PeerID{1}, recorder.ended)
}

func TestCore_LeavingCombatLeavesEngagement(t *testing.T) {
	core, _, _, _ := newTestCore()
	core.AddPeer(1)
	core.AddPeer(2)

	assert.NoError(t, core.Update(1, syncIn(StateInCombat)))
	state, _ := core.StateOf(1)
	engagementID := state.EngagementID
	assert.NotZero(t, engagementID)

	assert.NoError(t, core.Update(2, syncIn(StateInCombat)))
	assert.NoError(t, core.JoinEngagement(engagementID, 2))

	assert.NoError(t, core.Update(1, syncIn(StateOutOfCombat)))
	state, _ = core.StateOf(1)
	assert.Zero(t, state.EngagementID, "out of combat clears the engagement")

	engagement, ok := core.EngagementOf(engagementID)
	assert.True(t, ok)
	assert.NotContains(t, engagement.Participants, types.PeerID(1))
	assert.Contains(t, engagement.Participants, types.PeerID(2))

	// The last participant leaving ends the engagement.
	assert.NoError(t, core.Update(2, syncIn(StateOutOfCombat)))
	_, ok = core.EngagementOf(engagementID)
	assert.False(t, ok)
}

func TestCore_UpdateValidation(t *testing.T) {
	core, _, _, _ := newTestCore()
	core.AddPeer(1)

	sync := syncIn(StateInCombat)
	sync.Position = types.Vec3{X: types.WorldBound + 1}
	assert.True(t, types.IsValidationFailed(core.Update(1, sync)))

	assert.True(t, types.IsNotFound(core.Update(99, syncIn(StateInCombat))))
}

func TestCore_FireRateLimit(t *testing.T) {
	core, _, clock, registry := newTestCore()
	core.AddPeer(1)

	fire := FireData{Weapon: 7, ShotsFired: MaxFireRate, Damage: 20, Position: types.Vec3{X: 1}}
	assert.NoError(t, core.Fire(1, fire))

	one := FireData{Weapon: 7, ShotsFired: 1, Damage: 20}
	err := core.Fire(1, one)
	assert.True(t, types.IsRateLimited(err))
	assert.Equal(t, int64(1), registry.Get("combat.rate_limited"))

	// A different weapon has its own window.
	other := FireData{Weapon: 8, ShotsFired: 5, Damage: 20}
	assert.NoError(t, core.Fire(1, other))

	clock.Advance(1100 * time.Millisecond)
	assert.NoError(t, core.Fire(1, one))

	state, _ := core.StateOf(1)
	assert.Equal(t, uint64(MaxFireRate+1), state.ShotCounts[7])
}

func TestCore_FireValidation(t *testing.T) {
	core, _, _, _ := newTestCore()
	core.AddPeer(1)

	assert.True(t, types.IsValidationFailed(core.Fire(1, FireData{Weapon: 7, ShotsFired: 0})))
	assert.True(t, types.IsValidationFailed(core.Fire(1, FireData{Weapon: 7, ShotsFired: 101})))
	assert.True(t, types.IsValidationFailed(core.Fire(1, FireData{Weapon: 7, ShotsFired: 1, Damage: MaxDamagePerHit + 1})))
	assert.True(t, types.IsNotFound(core.Fire(99, FireData{Weapon: 7, ShotsFired: 1})))
}

func TestCore_DamageAnomaly(t *testing.T) {
	core, _, clock, _ := newTestCore()
	recorder := &lifecycleRecorder{}
	core.RegisterObserver(recorder)
	core.AddPeer(1)

	assert.True(t, types.IsValidationFailed(core.DamageDealt(1, 50, 0)))
	assert.True(t, types.IsValidationFailed(core.DamageDealt(1, 50, MaxDamagePerHit+1)))

	// Pushing past 5000 damage inside the 5 second window raises the flag
	// once.
	assert.NoError(t, core.DamageDealt(1, 50, 2000))
	assert.False(t, core.Anomalous(1))
	assert.NoError(t, core.DamageDealt(1, 50, 2000))
	assert.NoError(t, core.DamageDealt(1, 50, 2000))
	assert.True(t, core.Anomalous(1))
	assert.Len(t, recorder.anomalies, 1)
	assert.Equal(t, "damage threshold", recorder.anomalies[0])

	// The flag clears once the window drains.
	clock.Advance(6 * time.Second)
	assert.NoError(t, core.DamageDealt(1, 50, 10))
	assert.False(t, core.Anomalous(1))
}

func TestCore_EngagementLifecycle(t *testing.T) {
	core, _, clock, _ := newTestCore()
	core.AddPeer(1)
	core.AddPeer(2)

	assert.NoError(t, core.Update(1, syncIn(StateInCombat)))
	state, _ := core.StateOf(1)
	engagementID := state.EngagementID

	// A nearby peer can join; a distant one cannot.
	near := syncIn(StateCombatReady)
	near.Position = types.Vec3{X: 5, Y: 5}
	assert.NoError(t, core.Update(2, near))
	assert.NoError(t, core.JoinEngagement(engagementID, 2))

	engagement, _ := core.EngagementOf(engagementID)
	assert.Len(t, engagement.Participants, 2)

	assert.NoError(t, core.AddEnemy(engagementID, 9001))
	engagement, _ = core.EngagementOf(engagementID)
	assert.Contains(t, engagement.Enemies, types.EntityID(9001))

	// Idle engagements are swept and participants evicted.
	clock.Advance(engagementIdleTTL + time.Minute)
	core.Tick()
	_, ok := core.EngagementOf(engagementID)
	assert.False(t, ok)
	state, _ = core.StateOf(1)
	assert.Zero(t, state.EngagementID)
}

func TestCore_JoinEngagementTooFar(t *testing.T) {
	core, _, _, _ := newTestCore()
	core.AddPeer(1)
	core.AddPeer(2)

	assert.NoError(t, core.Update(1, syncIn(StateInCombat)))
	state, _ := core.StateOf(1)

	far := syncIn(StateCombatReady)
	far.Position = types.Vec3{X: 500, Y: 500}
	assert.NoError(t, core.Update(2, far))

	err := core.JoinEngagement(state.EngagementID, 2)
	assert.True(t, types.IsValidationFailed(err))
	assert.True(t, types.IsNotFound(core.JoinEngagement(12345, 1)))
}

func TestCore_RemovePeerLeavesEngagement(t *testing.T) {
	core, _, _, _ := newTestCore()
	core.AddPeer(1)

	assert.NoError(t, core.Update(1, syncIn(StateInCombat)))
	state, _ := core.StateOf(1)

	core.RemovePeer(1)
	_, ok := core.StateOf(1)
	assert.False(t, ok)
	_, ok = core.EngagementOf(state.EngagementID)
	assert.False(t, ok, "an empty engagement is dropped")
}
