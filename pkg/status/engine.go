package status

import (
	"sort"
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

// tickDamageInterval is the cadence at which damage-over-time effects emit
// damage events.
const tickDamageInterval = 500 * time.Millisecond

// ActiveEffect is one applied buff or debuff. The per-peer table holds at
// most one entry per kind; stacking mutates that entry.
type ActiveEffect struct {
	PeerID     types.PeerID
	Kind       EffectKind
	IsBuff     bool
	Category   Category
	Priority   Priority
	Intensity  float64
	StackCount int
	Remaining  time.Duration
	Source     types.PeerID
	Permanent  bool
}

// Observer is notified of effect lifecycle transitions. Callbacks run with
// no engine lock held; re-entrant calls are permitted.
type Observer interface {
	EffectApplied(effect ActiveEffect)
	EffectExpired(effect ActiveEffect)
}

// DamageSink consumes tick-damage emissions for damage-over-time effects.
// The amplitude is negative.
type DamageSink func(peerID types.PeerID, kind EffectKind, amplitude float64, source types.PeerID)

// Engine is the per-peer buff/debuff table with stacking, refresh,
// expiration and incompatibility handling.
type Engine struct {
	lock    sync.RWMutex
	defs    map[EffectKind]Definition
	effects map[types.PeerID]map[EffectKind]*ActiveEffect
	// byKind answers "who has effect X" broadcasts.
	byKind map[EffectKind]map[types.PeerID]struct{}

	sinceTickDamage time.Duration

	port    broadcast.Port
	metrics *metrics.Registry

	observersLock sync.Mutex
	observers     []Observer
	damageSink    DamageSink
}

type NewEngineOptions struct {
	Definitions map[EffectKind]Definition
	Port        broadcast.Port
	Metrics     *metrics.Registry
}

func NewEngine(opts NewEngineOptions) *Engine {
	defs := opts.Definitions
	if defs == nil {
		defs = DefaultDefinitions()
	}
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	return &Engine{
		defs:    defs,
		effects: make(map[types.PeerID]map[EffectKind]*ActiveEffect),
		byKind:  make(map[EffectKind]map[types.PeerID]struct{}),
		port:    port,
		metrics: opts.Metrics,
	}
}

// RegisterObserver adds an effect lifecycle observer.
func (e *Engine) RegisterObserver(observer Observer) {
	e.observersLock.Lock()
	defer e.observersLock.Unlock()
	e.observers = append(e.observers, observer)
}

// SetDamageSink sets the consumer of tick-damage emissions.
func (e *Engine) SetDamageSink(sink DamageSink) {
	e.observersLock.Lock()
	defer e.observersLock.Unlock()
	e.damageSink = sink
}

func (e *Engine) notifyApplied(effect ActiveEffect) {
	e.observersLock.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.observersLock.Unlock()
	for _, o := range observers {
		o.EffectApplied(effect)
	}
}

func (e *Engine) notifyExpired(effects []ActiveEffect) {
	if len(effects) == 0 {
		return
	}
	e.observersLock.Lock()
	observers := make([]Observer, len(e.observers))
	copy(observers, e.observers)
	e.observersLock.Unlock()
	for _, effect := range effects {
		for _, o := range observers {
			o.EffectExpired(effect)
		}
		e.port.Publish(broadcast.Event{
			Kind:       broadcast.EventStatusExpire,
			SenderPeer: effect.PeerID,
			Payload:    effect,
		})
	}
}

// Apply applies an effect of the given kind to a peer. Re-applying an
// existing effect stacks or refreshes it per the kind's definition; a kind
// that does neither rejects the re-apply.
func (e *Engine) Apply(peerID types.PeerID, kind EffectKind, source types.PeerID) (ActiveEffect, error) {
	def, ok := e.defs[kind]
	if !ok {
		return ActiveEffect{}, &types.ErrNotFound{Kind: "effect", ID: string(kind)}
	}

	e.lock.Lock()
	removed := e.resolveIncompatibilities(peerID, def)

	table := e.effects[peerID]
	if table == nil {
		table = make(map[EffectKind]*ActiveEffect)
		e.effects[peerID] = table
	}

	existing, exists := table[kind]
	var applied ActiveEffect
	switch {
	case exists && def.CanStack:
		existing.StackCount = existing.StackCount + 1
		if existing.StackCount > def.MaxStacks {
			existing.StackCount = def.MaxStacks
		}
		if def.IsBuff {
			existing.Intensity = def.BaseIntensity * (1 + 0.5*float64(existing.StackCount-1))
		} else {
			existing.Intensity = def.BaseIntensity * float64(existing.StackCount)
		}
		if def.RefreshOnReapply {
			existing.Remaining = def.Duration
		}
		existing.Source = source
		applied = *existing
	case exists && def.RefreshOnReapply:
		existing.Remaining = def.Duration
		existing.Source = source
		applied = *existing
	case exists:
		e.lock.Unlock()
		e.notifyExpired(removed)
		return ActiveEffect{}, &types.ErrConflict{Reason: "effect already active"}
	default:
		effect := &ActiveEffect{
			PeerID:     peerID,
			Kind:       kind,
			IsBuff:     def.IsBuff,
			Category:   def.Category,
			Priority:   def.Priority,
			Intensity:  def.BaseIntensity,
			StackCount: 1,
			Remaining:  def.Duration,
			Source:     source,
			Permanent:  def.Permanent,
		}
		table[kind] = effect
		index := e.byKind[kind]
		if index == nil {
			index = make(map[types.PeerID]struct{})
			e.byKind[kind] = index
		}
		index[peerID] = struct{}{}
		applied = *effect
	}
	e.lock.Unlock()

	e.metrics.Inc("status.applied")
	e.notifyExpired(removed)
	e.notifyApplied(applied)
	e.port.Publish(broadcast.Event{
		Kind:       broadcast.EventStatusApply,
		SenderPeer: peerID,
		Payload:    applied,
	})
	return applied, nil
}

// resolveIncompatibilities removes status-category debuffs when an
// attribute-category buff is applied, and attribute-category buffs when a
// status-category debuff is applied. Only those two categories interact.
// Caller holds the write lock; removed effects are returned for
// notification after release.
func (e *Engine) resolveIncompatibilities(peerID types.PeerID, def Definition) []ActiveEffect {
	var target Category
	switch {
	case def.IsBuff && def.Category == CategoryAttribute:
		target = CategoryStatus
	case !def.IsBuff && def.Category == CategoryStatus:
		target = CategoryAttribute
	default:
		return nil
	}

	var removed []ActiveEffect
	for kind, effect := range e.effects[peerID] {
		if effect.Category != target {
			continue
		}
		if target == CategoryStatus && effect.IsBuff {
			continue
		}
		if target == CategoryAttribute && !effect.IsBuff {
			continue
		}
		removed = append(removed, *effect)
		e.deleteEffect(peerID, kind)
	}
	return removed
}

func (e *Engine) deleteEffect(peerID types.PeerID, kind EffectKind) {
	delete(e.effects[peerID], kind)
	if len(e.effects[peerID]) == 0 {
		delete(e.effects, peerID)
	}
	if index := e.byKind[kind]; index != nil {
		delete(index, peerID)
		if len(index) == 0 {
			delete(e.byKind, kind)
		}
	}
}

// Remove removes an effect before its natural expiry. The removal is
// reported as an expiration.
func (e *Engine) Remove(peerID types.PeerID, kind EffectKind) error {
	e.lock.Lock()
	effect, ok := e.effects[peerID][kind]
	if !ok {
		e.lock.Unlock()
		return &types.ErrNotFound{Kind: "effect", ID: string(kind)}
	}
	removed := *effect
	e.deleteEffect(peerID, kind)
	e.lock.Unlock()

	e.notifyExpired([]ActiveEffect{removed})
	return nil
}

// RemoveAll drops every effect a peer carries without emitting expirations.
// Used when a peer disconnects.
func (e *Engine) RemoveAll(peerID types.PeerID) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for kind := range e.effects[peerID] {
		e.deleteEffect(peerID, kind)
	}
}

// Tick advances all effect timers by dt. Expirations are emitted in the
// same tick they cross zero. Damage-over-time effects emit a tick-damage
// event every 500ms with amplitude -intensity.
func (e *Engine) Tick(dt time.Duration) {
	type dotEmission struct {
		peerID    types.PeerID
		kind      EffectKind
		amplitude float64
		source    types.PeerID
	}

	e.lock.Lock()
	emitDamage := false
	e.sinceTickDamage += dt
	if e.sinceTickDamage >= tickDamageInterval {
		e.sinceTickDamage -= tickDamageInterval
		emitDamage = true
	}

	var expired []ActiveEffect
	var emissions []dotEmission
	for peerID, table := range e.effects {
		for kind, effect := range table {
			if !effect.Permanent {
				effect.Remaining -= dt
				if effect.Remaining <= 0 {
					expired = append(expired, *effect)
					e.deleteEffect(peerID, kind)
					continue
				}
			}
			if emitDamage {
				if def, ok := e.defs[kind]; ok && def.DamagePerTick {
					emissions = append(emissions, dotEmission{
						peerID:    peerID,
						kind:      kind,
						amplitude: -effect.Intensity,
						source:    effect.Source,
					})
				}
			}
		}
	}
	e.lock.Unlock()

	e.observersLock.Lock()
	sink := e.damageSink
	e.observersLock.Unlock()

	for _, em := range emissions {
		if sink != nil {
			sink(em.peerID, em.kind, em.amplitude, em.source)
		}
		e.port.Publish(broadcast.Event{
			Kind:       broadcast.EventStatusTick,
			SenderPeer: em.peerID,
			Payload: map[string]interface{}{
				"kind":      em.kind,
				"amplitude": em.amplitude,
			},
		})
	}
	if len(expired) > 0 {
		log.Trace("Expired %d status effects", len(expired))
		e.metrics.Add("status.expired", int64(len(expired)))
	}
	e.notifyExpired(expired)
}

// EffectsOf returns all active effects for a peer, ordered by kind.
func (e *Engine) EffectsOf(peerID types.PeerID) []ActiveEffect {
	e.lock.RLock()
	defer e.lock.RUnlock()
	table := e.effects[peerID]
	effects := make([]ActiveEffect, 0, len(table))
	for _, effect := range table {
		effects = append(effects, *effect)
	}
	sort.Slice(effects, func(i, j int) bool { return effects[i].Kind < effects[j].Kind })
	return effects
}

// EffectOf returns a single effect entry.
func (e *Engine) EffectOf(peerID types.PeerID, kind EffectKind) (ActiveEffect, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	effect, ok := e.effects[peerID][kind]
	if !ok {
		return ActiveEffect{}, false
	}
	return *effect, true
}

// PeersWith returns the peers currently carrying the given effect kind.
func (e *Engine) PeersWith(kind EffectKind) []types.PeerID {
	e.lock.RLock()
	defer e.lock.RUnlock()
	index := e.byKind[kind]
	peers := make([]types.PeerID, 0, len(index))
	for peerID := range index {
		peers = append(peers, peerID)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
