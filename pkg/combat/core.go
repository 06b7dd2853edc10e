package combat

import (
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

// Observer is notified of combat lifecycle transitions with no core lock
// held.
type Observer interface {
	CombatStarted(peerID types.PeerID)
	CombatEnded(peerID types.PeerID)
	AnomalyDetected(peerID types.PeerID, reason string)
}

// Core is the per-peer combat state machine with fire-rate and damage-rate
// anti-cheat plus the shared engagement lifecycle. Engagement state has its
// own lock domain because engagement lifetimes are decoupled from peer
// records.
type Core struct {
	lock  sync.RWMutex
	peers map[types.PeerID]*PeerState

	engagementsLock sync.RWMutex
	engagements     map[uint64]*Engagement
	nextEngagement  uint64

	port    broadcast.Port
	metrics *metrics.Registry
	now     func() time.Time

	observersLock sync.Mutex
	observers     []Observer
}

type NewCoreOptions struct {
	Port    broadcast.Port
	Metrics *metrics.Registry
	Now     func() time.Time
}

func NewCore(opts NewCoreOptions) *Core {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Core{
		peers:       make(map[types.PeerID]*PeerState),
		engagements: make(map[uint64]*Engagement),
		port:        port,
		metrics:     opts.Metrics,
		now:         now,
	}
}

// RegisterObserver adds a combat lifecycle observer.
func (c *Core) RegisterObserver(observer Observer) {
	c.observersLock.Lock()
	defer c.observersLock.Unlock()
	c.observers = append(c.observers, observer)
}

func (c *Core) snapshotObservers() []Observer {
	c.observersLock.Lock()
	defer c.observersLock.Unlock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	return observers
}

// AddPeer registers a peer out of combat.
func (c *Core) AddPeer(peerID types.PeerID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.peers[peerID]; !ok {
		c.peers[peerID] = &PeerState{
			PeerID:     peerID,
			State:      StateOutOfCombat,
			ShotCounts: make(map[types.WeaponID]uint64),
		}
	}
}

// RemovePeer drops a peer and evicts it from any engagement.
func (c *Core) RemovePeer(peerID types.PeerID) {
	c.lock.Lock()
	peer, ok := c.peers[peerID]
	var engagementID uint64
	if ok {
		engagementID = peer.EngagementID
		delete(c.peers, peerID)
	}
	c.lock.Unlock()

	if engagementID != 0 {
		c.leaveEngagement(engagementID, peerID)
	}
}

func inCombat(s State) bool {
	return s == StateInCombat || s == StateActive
}

// Update applies an inbound combat sync. The only rejected transition is
// OutOfCombat directly to ActiveCombat; all others are accepted as the
// client reports them.
func (c *Core) Update(peerID types.PeerID, sync SyncData) error {
	if !sync.Position.InWorldBounds() {
		return &types.ErrValidationFailed{Reason: "position out of world bounds"}
	}
	if !sync.AimDirection.Finite() {
		return &types.ErrValidationFailed{Reason: "aim direction is not finite"}
	}

	c.lock.Lock()
	peer, ok := c.peers[peerID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "peer"}
	}
	if peer.State == StateOutOfCombat && sync.State == StateActive {
		c.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "illegal combat state transition"}
	}

	wasInCombat := inCombat(peer.State)
	peer.State = sync.State
	peer.Stance = sync.Stance
	peer.InCover = sync.InCover
	peer.Aiming = sync.Aiming
	peer.MovementMode = sync.MovementMode
	peer.AlertLevel = sync.AlertLevel
	peer.Weapon = sync.Weapon
	peer.WeaponDrawn = sync.WeaponDrawn
	peer.Reloading = sync.Reloading
	peer.Firing = sync.Firing
	peer.Target = sync.Target
	peer.Position = sync.Position
	peer.AimDirection = sync.AimDirection
	peer.LastUpdate = c.now()
	nowInCombat := inCombat(peer.State)
	needsEngagement := peer.State == StateInCombat && peer.EngagementID == 0
	engagementID := peer.EngagementID
	var leftEngagement uint64
	if !nowInCombat && peer.EngagementID != 0 {
		leftEngagement = peer.EngagementID
		peer.EngagementID = 0
	}
	position := peer.Position
	snapshot := *peer
	c.lock.Unlock()

	if leftEngagement != 0 {
		c.leaveEngagement(leftEngagement, peerID)
	}
	if needsEngagement {
		id := c.startEngagement(peerID, position)
		c.lock.Lock()
		if peer, ok := c.peers[peerID]; ok {
			peer.EngagementID = id
		}
		c.lock.Unlock()
	} else if engagementID != 0 && sync.State == StateActive {
		c.touchEngagement(engagementID)
	}

	observers := c.snapshotObservers()
	switch {
	case !wasInCombat && nowInCombat:
		c.metrics.Inc("combat.started")
		for _, o := range observers {
			o.CombatStarted(peerID)
		}
	case wasInCombat && !nowInCombat:
		c.metrics.Inc("combat.ended")
		for _, o := range observers {
			o.CombatEnded(peerID)
		}
	}

	c.port.Publish(broadcast.Event{
		Kind:          broadcast.EventCombatUpdate,
		SenderPeer:    peerID,
		Payload:       snapshot,
		FocalPosition: &position,
	})
	return nil
}

// Fire validates and applies a weapon-fire report. Fires exceeding the
// rounds-per-second bound are rate limited.
func (c *Core) Fire(peerID types.PeerID, fire FireData) error {
	if fire.ShotsFired < 1 || fire.ShotsFired > 100 {
		return &types.ErrValidationFailed{Reason: "shots fired out of range"}
	}
	if fire.Damage < 0 || fire.Damage > MaxDamagePerHit {
		return &types.ErrValidationFailed{Reason: "damage out of range"}
	}

	now := c.now()
	c.lock.Lock()
	peer, ok := c.peers[peerID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "peer"}
	}

	c.evictWindowsLocked(peer, now)
	var recent uint32
	oneSecondAgo := now.Add(-time.Second)
	for _, shot := range peer.recentShots {
		if shot.weapon == fire.Weapon && shot.at.After(oneSecondAgo) {
			recent += shot.shots
		}
	}
	if recent+fire.ShotsFired > MaxFireRate {
		c.lock.Unlock()
		c.metrics.Inc("combat.rate_limited")
		return &types.ErrRateLimited{Reason: "fire rate exceeded"}
	}

	peer.recentShots = append(peer.recentShots, shotRecord{weapon: fire.Weapon, shots: fire.ShotsFired, at: now})
	if len(peer.recentShots) > maxRecentShots {
		peer.recentShots = peer.recentShots[len(peer.recentShots)-maxRecentShots:]
	}
	peer.ShotCounts[fire.Weapon] += uint64(fire.ShotsFired)
	position := peer.Position
	c.lock.Unlock()

	c.checkAnomalies(peerID, now)
	c.metrics.Inc("combat.fires")
	c.port.Publish(broadcast.Event{
		Kind:          broadcast.EventWeaponFire,
		SenderPeer:    peerID,
		Payload:       fire,
		FocalPosition: &position,
	})
	return nil
}

// DamageDealt validates and records a damage report.
func (c *Core) DamageDealt(peerID types.PeerID, target types.EntityID, damage float64) error {
	if damage <= 0 || damage > MaxDamagePerHit {
		return &types.ErrValidationFailed{Reason: "damage out of range"}
	}

	now := c.now()
	c.lock.Lock()
	peer, ok := c.peers[peerID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "peer"}
	}
	c.evictWindowsLocked(peer, now)
	peer.recentDamage = append(peer.recentDamage, damageRecord{amount: damage, at: now})
	if len(peer.recentDamage) > maxRecentDamage {
		peer.recentDamage = peer.recentDamage[len(peer.recentDamage)-maxRecentDamage:]
	}
	position := peer.Position
	c.lock.Unlock()

	c.checkAnomalies(peerID, now)
	c.port.Publish(broadcast.Event{
		Kind:       broadcast.EventDamageDealt,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"target": target,
			"damage": damage,
		},
		FocalPosition: &position,
	})
	return nil
}

func (c *Core) evictWindowsLocked(peer *PeerState, now time.Time) {
	shotCutoff := now.Add(-shotWindowTTL)
	shots := peer.recentShots[:0]
	for _, shot := range peer.recentShots {
		if shot.at.After(shotCutoff) {
			shots = append(shots, shot)
		}
	}
	peer.recentShots = shots

	damageCutoff := now.Add(-damageWindowTTL)
	damage := peer.recentDamage[:0]
	for _, record := range peer.recentDamage {
		if record.at.After(damageCutoff) {
			damage = append(damage, record)
		}
	}
	peer.recentDamage = damage
}

// checkAnomalies raises an anomaly flag when a peer's 5-second cumulative
// damage or shot count crosses the detection thresholds. Surfaced to
// observability only; gameplay continues.
func (c *Core) checkAnomalies(peerID types.PeerID, now time.Time) {
	cutoff := now.Add(-anomalyWindow)

	c.lock.Lock()
	peer, ok := c.peers[peerID]
	if !ok {
		c.lock.Unlock()
		return
	}
	var totalDamage float64
	var totalShots uint32
	for _, record := range peer.recentDamage {
		if record.at.After(cutoff) {
			totalDamage += record.amount
		}
	}
	for _, shot := range peer.recentShots {
		if shot.at.After(cutoff) {
			totalShots += shot.shots
		}
	}
	var reason string
	switch {
	case totalDamage > anomalyDamageThreshold:
		reason = "damage threshold"
	case totalShots > anomalyShotThreshold:
		reason = "shot threshold"
	default:
		peer.anomalous = false
		c.lock.Unlock()
		return
	}
	already := peer.anomalous
	peer.anomalous = true
	c.lock.Unlock()

	if already {
		return
	}
	log.Warn("Combat anomaly for peer %d: %s", peerID, reason)
	c.metrics.Inc("combat.anomalies")
	for _, o := range c.snapshotObservers() {
		o.AnomalyDetected(peerID, reason)
	}
}

// StateOf returns a copy of a peer's combat state.
func (c *Core) StateOf(peerID types.PeerID) (PeerState, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	peer, ok := c.peers[peerID]
	if !ok {
		return PeerState{}, false
	}
	snapshot := *peer
	snapshot.recentShots = nil
	snapshot.recentDamage = nil
	return snapshot, true
}

// Anomalous reports whether a peer currently carries the anomaly flag.
func (c *Core) Anomalous(peerID types.PeerID) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()
	peer, ok := c.peers[peerID]
	return ok && peer.anomalous
}

// Tick sweeps engagements that have gone idle.
func (c *Core) Tick() {
	now := c.now()
	c.engagementsLock.Lock()
	var ended []*Engagement
	for id, engagement := range c.engagements {
		if now.Sub(engagement.LastActiveAt) > engagementIdleTTL {
			ended = append(ended, engagement)
			delete(c.engagements, id)
		}
	}
	c.engagementsLock.Unlock()

	for _, engagement := range ended {
		c.evictParticipants(engagement)
	}
}

func (c *Core) evictParticipants(engagement *Engagement) {
	c.lock.Lock()
	for peerID := range engagement.Participants {
		if peer, ok := c.peers[peerID]; ok && peer.EngagementID == engagement.ID {
			peer.EngagementID = 0
		}
	}
	c.lock.Unlock()
	log.Debug("Engagement %d ended", engagement.ID)
	c.metrics.Inc("combat.engagements_ended")
}

func (c *Core) startEngagement(peerID types.PeerID, center types.Vec3) uint64 {
	c.engagementsLock.Lock()
	defer c.engagementsLock.Unlock()
	c.nextEngagement++
	id := c.nextEngagement
	now := c.now()
	c.engagements[id] = &Engagement{
		ID:           id,
		Participants: map[types.PeerID]struct{}{peerID: {}},
		Enemies:      make(map[types.EntityID]struct{}),
		Center:       center,
		Radius:       DefaultEngagementRadius,
		StartedAt:    now,
		LastActiveAt: now,
	}
	c.metrics.Inc("combat.engagements_started")
	return id
}

func (c *Core) touchEngagement(id uint64) {
	c.engagementsLock.Lock()
	defer c.engagementsLock.Unlock()
	if engagement, ok := c.engagements[id]; ok {
		engagement.LastActiveAt = c.now()
	}
}

// JoinEngagement adds a peer to an engagement; the peer must be within the
// engagement radius of its center.
func (c *Core) JoinEngagement(id uint64, peerID types.PeerID) error {
	c.lock.RLock()
	peer, ok := c.peers[peerID]
	var position types.Vec3
	if ok {
		position = peer.Position
	}
	c.lock.RUnlock()
	if !ok {
		return &types.ErrNotFound{Kind: "peer"}
	}

	c.engagementsLock.Lock()
	engagement, ok := c.engagements[id]
	if !ok {
		c.engagementsLock.Unlock()
		return &types.ErrNotFound{Kind: "engagement"}
	}
	if position.DistanceTo(engagement.Center) > engagement.Radius {
		c.engagementsLock.Unlock()
		return &types.ErrValidationFailed{Reason: "too far from engagement"}
	}
	engagement.Participants[peerID] = struct{}{}
	engagement.LastActiveAt = c.now()
	c.engagementsLock.Unlock()

	c.lock.Lock()
	if peer, ok := c.peers[peerID]; ok {
		peer.EngagementID = id
	}
	c.lock.Unlock()
	return nil
}

// AddEnemy registers an enemy entity with an engagement.
func (c *Core) AddEnemy(id uint64, enemy types.EntityID) error {
	c.engagementsLock.Lock()
	defer c.engagementsLock.Unlock()
	engagement, ok := c.engagements[id]
	if !ok {
		return &types.ErrNotFound{Kind: "engagement"}
	}
	engagement.Enemies[enemy] = struct{}{}
	engagement.LastActiveAt = c.now()
	return nil
}

func (c *Core) leaveEngagement(id uint64, peerID types.PeerID) {
	c.engagementsLock.Lock()
	engagement, ok := c.engagements[id]
	if ok {
		delete(engagement.Participants, peerID)
		if len(engagement.Participants) == 0 {
			delete(c.engagements, id)
		}
	}
	c.engagementsLock.Unlock()
}

// EngagementOf returns a copy of an engagement.
func (c *Core) EngagementOf(id uint64) (Engagement, bool) {
	c.engagementsLock.RLock()
	defer c.engagementsLock.RUnlock()
	engagement, ok := c.engagements[id]
	if !ok {
		return Engagement{}, false
	}
	snapshot := *engagement
	snapshot.Participants = make(map[types.PeerID]struct{}, len(engagement.Participants))
	for peerID := range engagement.Participants {
		snapshot.Participants[peerID] = struct{}{}
	}
	snapshot.Enemies = make(map[types.EntityID]struct{}, len(engagement.Enemies))
	for enemy := range engagement.Enemies {
		snapshot.Enemies[enemy] = struct{}{}
	}
	return snapshot, true
}
