package status

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

func (p *capturePort) kinds() []string {
	kinds := make([]string, 0, len(p.events))
	for _, e := range p.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type recordingObserver struct {
	applied []ActiveEffect
	expired []ActiveEffect
}

func (o *recordingObserver) EffectApplied(effect ActiveEffect) { o.applied = append(o.applied, effect) }
func (o *recordingObserver) EffectExpired(effect ActiveEffect) { o.expired = append(o.expired, effect) }

func newTestEngine(defs map[EffectKind]Definition) (*Engine, *capturePort) {
	port := &capturePort{}
	engine := NewEngine(NewEngineOptions{
		Definitions: defs,
		Port:        port,
		Metrics:     metrics.NewRegistry(),
	})
	return engine, port
}

func TestEngine_ApplyFresh(t *testing.T) {
	engine, port := newTestEngine(nil)

	effect, err := engine.Apply(1, EffectStrengthBoost, 2)
	assert.NoError(t, err)
	assert.Equal(t, types.PeerID(1), effect.PeerID)
	assert.True(t, effect.IsBuff)
	assert.Equal(t, 1, effect.StackCount)
	assert.Equal(t, 10.0, effect.Intensity)
	assert.Equal(t, 60*time.Second, effect.Remaining)
	assert.Equal(t, types.PeerID(2), effect.Source)
	assert.Contains(t, port.kinds(), broadcast.EventStatusApply)

	got, ok := engine.EffectOf(1, EffectStrengthBoost)
	assert.True(t, ok)
	assert.Equal(t, effect, got)
	assert.Equal(t, []types.PeerID{1}, engine.PeersWith(EffectStrengthBoost))
}

func TestEngine_ApplyUnknownKind(t *testing.T) {
	engine, _ := newTestEngine(nil)
	_, err := engine.Apply(1, EffectKind("NoSuchEffect"), 1)
	assert.True(t, types.IsNotFound(err))
}

func TestEngine_BuffStacking(t *testing.T) {
	engine, _ := newTestEngine(nil)

	// StrengthBoost stacks to 3 with base intensity 10.
	tests := []struct {
		name          string
		wantStacks    int
		wantIntensity float64
	}{
		{name: "first apply", wantStacks: 1, wantIntensity: 10},
		{name: "second stack", wantStacks: 2, wantIntensity: 15},
		{name: "third stack", wantStacks: 3, wantIntensity: 20},
		{name: "capped at max stacks", wantStacks: 3, wantIntensity: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect, err := engine.Apply(1, EffectStrengthBoost, 1)
			assert.NoError(t, err)
			assert.Equal(t, tt.wantStacks, effect.StackCount)
			assert.Equal(t, tt.wantIntensity, effect.Intensity)
		})
	}
}

func TestEngine_DebuffStacking(t *testing.T) {
	engine, _ := newTestEngine(nil)

	// Bleeding stacks linearly with base intensity 2 and refreshes on
	// re-apply.
	first, err := engine.Apply(1, EffectBleeding, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2.0, first.Intensity)

	engine.Tick(5 * time.Second)

	second, err := engine.Apply(1, EffectBleeding, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, second.StackCount)
	assert.Equal(t, 4.0, second.Intensity)
	assert.Equal(t, 15*time.Second, second.Remaining, "re-apply refreshes the timer")
}

func TestEngine_RefreshOnReapply(t *testing.T) {
	engine, _ := newTestEngine(nil)

	// Stunned does not stack; re-applying resets the timer.
	_, err := engine.Apply(1, EffectStunned, 2)
	assert.NoError(t, err)

	engine.Tick(2 * time.Second)
	effect, ok := engine.EffectOf(1, EffectStunned)
	assert.True(t, ok)
	assert.Equal(t, time.Second, effect.Remaining)

	refreshed, err := engine.Apply(1, EffectStunned, 3)
	assert.NoError(t, err)
	assert.Equal(t, 1, refreshed.StackCount)
	assert.Equal(t, 3*time.Second, refreshed.Remaining)
	assert.Equal(t, types.PeerID(3), refreshed.Source)
}

func TestEngine_ReapplyConflict(t *testing.T) {
	defs := map[EffectKind]Definition{
		EffectSystemError: {
			Kind:          EffectSystemError,
			Category:      CategoryCyberware,
			Duration:      10 * time.Second,
			BaseIntensity: 5,
			MaxStacks:     1,
		},
	}
	engine, _ := newTestEngine(defs)

	_, err := engine.Apply(1, EffectSystemError, 1)
	assert.NoError(t, err)

	_, err = engine.Apply(1, EffectSystemError, 1)
	assert.True(t, types.IsConflict(err))
}

func TestEngine_AttributeStatusIncompatibility(t *testing.T) {
	engine, _ := newTestEngine(nil)
	observer := &recordingObserver{}
	engine.RegisterObserver(observer)

	// An attribute buff purges status debuffs.
	_, err := engine.Apply(1, EffectBleeding, 2)
	assert.NoError(t, err)
	_, err = engine.Apply(1, EffectStrengthBoost, 1)
	assert.NoError(t, err)

	_, ok := engine.EffectOf(1, EffectBleeding)
	assert.False(t, ok, "bleeding removed by attribute buff")
	assert.Len(t, observer.expired, 1)
	assert.Equal(t, EffectBleeding, observer.expired[0].Kind)

	// And a status debuff purges attribute buffs.
	_, err = engine.Apply(1, EffectPoisoned, 2)
	assert.NoError(t, err)
	_, ok = engine.EffectOf(1, EffectStrengthBoost)
	assert.False(t, ok, "strength boost removed by status debuff")
}

func TestEngine_TickExpiry(t *testing.T) {
	engine, port := newTestEngine(nil)
	observer := &recordingObserver{}
	engine.RegisterObserver(observer)

	_, err := engine.Apply(1, EffectStunned, 2)
	assert.NoError(t, err)

	engine.Tick(3 * time.Second)

	_, ok := engine.EffectOf(1, EffectStunned)
	assert.False(t, ok)
	assert.Len(t, observer.expired, 1)
	assert.Contains(t, port.kinds(), broadcast.EventStatusExpire)
	assert.Empty(t, engine.PeersWith(EffectStunned))
}

func TestEngine_TickDamageCadence(t *testing.T) {
	engine, _ := newTestEngine(nil)

	type emission struct {
		peerID    types.PeerID
		kind      EffectKind
		amplitude float64
		source    types.PeerID
	}
	var emissions []emission
	engine.SetDamageSink(func(peerID types.PeerID, kind EffectKind, amplitude float64, source types.PeerID) {
		emissions = append(emissions, emission{peerID, kind, amplitude, source})
	})

	_, err := engine.Apply(1, EffectBleeding, 2)
	assert.NoError(t, err)

	// Two quarter-second ticks cross one 500ms damage interval.
	engine.Tick(250 * time.Millisecond)
	assert.Empty(t, emissions)
	engine.Tick(250 * time.Millisecond)
	assert.Len(t, emissions, 1)
	assert.Equal(t, types.PeerID(1), emissions[0].peerID)
	assert.Equal(t, EffectBleeding, emissions[0].kind)
	assert.Equal(t, -2.0, emissions[0].amplitude)
	assert.Equal(t, types.PeerID(2), emissions[0].source)

	engine.Tick(500 * time.Millisecond)
	assert.Len(t, emissions, 2)
}

func TestEngine_RemoveAndRemoveAll(t *testing.T) {
	engine, _ := newTestEngine(nil)
	observer := &recordingObserver{}
	engine.RegisterObserver(observer)

	_, err := engine.Apply(1, EffectStunned, 2)
	assert.NoError(t, err)
	_, err = engine.Apply(1, EffectBlinded, 2)
	assert.NoError(t, err)

	assert.NoError(t, engine.Remove(1, EffectStunned))
	assert.Len(t, observer.expired, 1)
	assert.True(t, types.IsNotFound(engine.Remove(1, EffectStunned)))

	engine.RemoveAll(1)
	assert.Empty(t, engine.EffectsOf(1))
	// Disconnect teardown does not emit expirations.
	assert.Len(t, observer.expired, 1)
}
