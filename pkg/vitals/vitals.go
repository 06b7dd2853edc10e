package vitals

import (
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/status"
	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// MaxStatValue is the upper bound for health, armor and stamina maxima.
	MaxStatValue = 10000
	// MaxDamageRate is the maximum accepted instantaneous damage rate in HP/s.
	MaxDamageRate = 200
	// MaxHealRate is the maximum accepted instantaneous healing rate in HP/s.
	MaxHealRate = 100
	// lowHealthFraction is the health fraction below which sync priority is
	// raised.
	lowHealthFraction = 0.3
)

// Stat is one current/max pair.
type Stat struct {
	Current float64
	Max     float64
}

// Flags are the derived status flags, refreshed whenever the status-effect
// table changes.
type Flags struct {
	InCombat    bool
	Unconscious bool
	Bleeding    bool
	Poisoned    bool
	Burning     bool
	Electrified bool
	Stunned     bool
	Blinded     bool
}

// Aggregate is the per-peer vital state.
type Aggregate struct {
	PeerID  types.PeerID
	Health  Stat
	Armor   Stat
	Stamina Stat
	Flags   Flags

	lastUpdate time.Time
}

// HealthUpdate is one inbound health sync from the engine adapter.
type HealthUpdate struct {
	Health  Stat
	Armor   Stat
	Stamina Stat
	// Attacker and WeaponType describe the source of the change; they are
	// carried on the critical event when the update downs the peer.
	Attacker   types.PeerID
	WeaponType string
}

// CriticalKind discriminates downed/revived critical events.
type CriticalKind string

const (
	CriticalDowned  CriticalKind = "downed"
	CriticalRevived CriticalKind = "revived"
)

// CriticalEvent is emitted when a peer crosses into or out of zero health.
type CriticalEvent struct {
	Kind       CriticalKind
	PeerID     types.PeerID
	Attacker   types.PeerID
	WeaponType string
}

// Observer is notified of critical transitions with no reducer lock held.
type Observer interface {
	CriticalTransition(event CriticalEvent)
}

// Reducer aggregates health, armor and stamina per peer, validates inbound
// updates against the anti-cheat rate bounds, and raises sync priority for
// peers in a bad way.
type Reducer struct {
	lock  sync.RWMutex
	peers map[types.PeerID]*Aggregate

	statuses *status.Engine
	port     broadcast.Port
	metrics  *metrics.Registry
	now      func() time.Time

	observersLock sync.Mutex
	observers     []Observer
}

type NewReducerOptions struct {
	Statuses *status.Engine
	Port     broadcast.Port
	Metrics  *metrics.Registry
	// Now overrides the clock in tests.
	Now func() time.Time
}

func NewReducer(opts NewReducerOptions) *Reducer {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := &Reducer{
		peers:    make(map[types.PeerID]*Aggregate),
		statuses: opts.Statuses,
		port:     port,
		metrics:  opts.Metrics,
		now:      now,
	}
	if opts.Statuses != nil {
		opts.Statuses.RegisterObserver(r)
	}
	return r
}

// RegisterObserver adds a critical-transition observer.
func (r *Reducer) RegisterObserver(observer Observer) {
	r.observersLock.Lock()
	defer r.observersLock.Unlock()
	r.observers = append(r.observers, observer)
}

// AddPeer registers a peer with full vitals.
func (r *Reducer) AddPeer(peerID types.PeerID, maxHealth, maxArmor, maxStamina float64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.peers[peerID] = &Aggregate{
		PeerID:  peerID,
		Health:  Stat{Current: maxHealth, Max: maxHealth},
		Armor:   Stat{Current: maxArmor, Max: maxArmor},
		Stamina: Stat{Current: maxStamina, Max: maxStamina},
	}
}

// RemovePeer drops a peer's vital state.
func (r *Reducer) RemovePeer(peerID types.PeerID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.peers, peerID)
}

func validStat(s Stat) bool {
	return s.Max > 0 && s.Max <= MaxStatValue && s.Current >= 0 && s.Current <= s.Max
}

// ApplyHealthUpdate validates and applies a health sync from the engine
// adapter. Updates whose change rate exceeds the damage or healing bound are
// rejected.
func (r *Reducer) ApplyHealthUpdate(peerID types.PeerID, update HealthUpdate) error {
	if !validStat(update.Health) || !validStat(update.Armor) || !validStat(update.Stamina) {
		return &types.ErrValidationFailed{Reason: "stat out of range"}
	}

	r.lock.Lock()
	agg, ok := r.peers[peerID]
	if !ok {
		r.lock.Unlock()
		return &types.ErrNotFound{Kind: "peer"}
	}

	now := r.now()
	if !agg.lastUpdate.IsZero() {
		dt := now.Sub(agg.lastUpdate).Seconds()
		if dt > 0 {
			delta := update.Health.Current - agg.Health.Current
			if delta < 0 && -delta > MaxDamageRate*dt {
				r.lock.Unlock()
				r.metrics.Inc("vitals.rate_rejects")
				return &types.ErrValidationFailed{Reason: "damage rate exceeded"}
			}
			if delta > 0 && delta > MaxHealRate*dt {
				r.lock.Unlock()
				r.metrics.Inc("vitals.rate_rejects")
				return &types.ErrValidationFailed{Reason: "healing rate exceeded"}
			}
		}
	}

	wasDown := agg.Health.Current <= 0
	agg.Health = update.Health
	agg.Armor = update.Armor
	agg.Stamina = update.Stamina
	agg.lastUpdate = now
	isDown := agg.Health.Current <= 0
	agg.Flags.Unconscious = isDown
	snapshot := *agg
	r.lock.Unlock()

	r.port.Publish(broadcast.Event{
		Kind:       broadcast.EventHealthUpdate,
		SenderPeer: peerID,
		Payload:    snapshot,
	})

	switch {
	case !wasDown && isDown:
		r.emitCritical(CriticalEvent{
			Kind:       CriticalDowned,
			PeerID:     peerID,
			Attacker:   update.Attacker,
			WeaponType: update.WeaponType,
		})
	case wasDown && !isDown:
		r.emitCritical(CriticalEvent{
			Kind:   CriticalRevived,
			PeerID: peerID,
		})
	}
	return nil
}

// ApplyDamage applies an authoritative damage amount produced by the damage
// filter. Negative amplitudes reduce health; the anti-cheat rate bounds do
// not apply to server-produced damage.
func (r *Reducer) ApplyDamage(peerID types.PeerID, amplitude float64, attacker types.PeerID, weaponType string) {
	r.lock.Lock()
	agg, ok := r.peers[peerID]
	if !ok {
		r.lock.Unlock()
		return
	}
	wasDown := agg.Health.Current <= 0
	agg.Health.Current += amplitude
	if agg.Health.Current < 0 {
		agg.Health.Current = 0
	}
	if agg.Health.Current > agg.Health.Max {
		agg.Health.Current = agg.Health.Max
	}
	isDown := agg.Health.Current <= 0
	agg.Flags.Unconscious = isDown
	snapshot := *agg
	r.lock.Unlock()

	r.port.Publish(broadcast.Event{
		Kind:       broadcast.EventHealthUpdate,
		SenderPeer: peerID,
		Payload:    snapshot,
	})
	if !wasDown && isDown {
		r.emitCritical(CriticalEvent{
			Kind:       CriticalDowned,
			PeerID:     peerID,
			Attacker:   attacker,
			WeaponType: weaponType,
		})
	}
}

func (r *Reducer) emitCritical(event CriticalEvent) {
	log.Debug("Peer %d %s", event.PeerID, event.Kind)
	r.metrics.Inc("vitals.critical_events")

	r.observersLock.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.observersLock.Unlock()
	for _, o := range observers {
		o.CriticalTransition(event)
	}

	r.port.Publish(broadcast.Event{
		Kind:       broadcast.EventCriticalEvent,
		SenderPeer: event.PeerID,
		Payload:    event,
	})
}

// SetInCombat sets the combat flag, maintained by the combat core.
func (r *Reducer) SetInCombat(peerID types.PeerID, inCombat bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if agg, ok := r.peers[peerID]; ok {
		agg.Flags.InCombat = inCombat
	}
}

// AggregateOf returns a copy of a peer's vital state.
func (r *Reducer) AggregateOf(peerID types.PeerID) (Aggregate, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	agg, ok := r.peers[peerID]
	if !ok {
		return Aggregate{}, false
	}
	return *agg, true
}

// SyncPriority reports whether a peer should be favored in
// bandwidth-constrained ticks: health below 30%, unconscious, in combat, or
// afflicted by a debuff.
func (r *Reducer) SyncPriority(peerID types.PeerID) bool {
	r.lock.RLock()
	agg, ok := r.peers[peerID]
	if !ok {
		r.lock.RUnlock()
		return false
	}
	f := agg.Flags
	lowHealth := agg.Health.Max > 0 && agg.Health.Current < agg.Health.Max*lowHealthFraction
	r.lock.RUnlock()

	if lowHealth || f.Unconscious || f.InCombat {
		return true
	}
	if r.statuses == nil {
		return false
	}
	for _, effect := range r.statuses.EffectsOf(peerID) {
		if !effect.IsBuff {
			return true
		}
	}
	return false
}

// EffectApplied implements status.Observer; flags are refreshed whenever the
// status-effect table changes.
func (r *Reducer) EffectApplied(effect status.ActiveEffect) {
	r.refreshFlags(effect.PeerID)
}

// EffectExpired implements status.Observer.
func (r *Reducer) EffectExpired(effect status.ActiveEffect) {
	r.refreshFlags(effect.PeerID)
}

func (r *Reducer) refreshFlags(peerID types.PeerID) {
	if r.statuses == nil {
		return
	}
	has := func(kind status.EffectKind) bool {
		_, ok := r.statuses.EffectOf(peerID, kind)
		return ok
	}
	bleeding := has(status.EffectBleeding)
	poisoned := has(status.EffectPoisoned)
	burning := has(status.EffectBurning)
	electrified := has(status.EffectElectrified)
	stunned := has(status.EffectStunned)
	blinded := has(status.EffectBlinded)

	r.lock.Lock()
	defer r.lock.Unlock()
	agg, ok := r.peers[peerID]
	if !ok {
		return
	}
	agg.Flags.Bleeding = bleeding
	agg.Flags.Poisoned = poisoned
	agg.Flags.Burning = burning
	agg.Flags.Electrified = electrified
	agg.Flags.Stunned = stunned
	agg.Flags.Blinded = blinded
}
