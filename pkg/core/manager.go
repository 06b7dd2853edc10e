package core

import (
	"context"
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/combat"
	"github.com/duskworks/coopcore/pkg/cyberware"
	"github.com/duskworks/coopcore/pkg/instances"
	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/missions"
	"github.com/duskworks/coopcore/pkg/queue"
	"github.com/duskworks/coopcore/pkg/sessions"
	"github.com/duskworks/coopcore/pkg/spatial"
	"github.com/duskworks/coopcore/pkg/status"
	"github.com/duskworks/coopcore/pkg/store"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/duskworks/coopcore/pkg/vitals"
)

const (
	// DefaultTickInterval is the fast-path cadence: status and cyberware
	// timers, inbound message drains.
	DefaultTickInterval = 50 * time.Millisecond
	// slowTickEvery runs the housekeeping ticks (transfers, engagements,
	// idle peers, instance and mission GC) once per this many fast ticks.
	slowTickEvery = 20
)

// Manager owns every coordination subsystem and drives them from one tick
// loop, the way a single game loop drives world state. Inbound messages
// arrive through a queue fed by the network layer.
type Manager struct {
	grid       *spatial.InterestGrid
	dispatcher *broadcast.Dispatcher
	fabric     *sessions.Fabric
	missions   *missions.Coordinator
	instances  *instances.Registry
	statuses   *status.Engine
	cyberware  *cyberware.Engine
	vitals     *vitals.Reducer
	inventory  *inventory.Authority
	combat     *combat.Core
	damage     *combat.Filter

	repository   store.Repository
	inboundQueue queue.Queue
	saveChan     chan inventory.SaveRequest
	txnChan      chan inventory.TransactionRecord
	metrics      *metrics.Registry
	tickInterval time.Duration

	// lastSeq drops stale or duplicate client sequence numbers per peer.
	// Guarded by seqLock because peer teardown runs off the tick goroutine.
	seqLock sync.Mutex
	lastSeq map[types.PeerID]uint64
}

type NewManagerOptions struct {
	Repository   store.Repository
	InboundQueue queue.Queue
	Metrics      *metrics.Registry
	TickInterval time.Duration
	// Locations are registered at startup, typically from the config file.
	Locations []instances.Location
}

func NewManager(opts NewManagerOptions) (*Manager, error) {
	tickInterval := opts.TickInterval
	if tickInterval == 0 {
		tickInterval = DefaultTickInterval
	}

	grid := spatial.NewInterestGrid(spatial.AABB{
		MinX: -types.WorldBound, MinY: -types.WorldBound,
		MaxX: types.WorldBound, MaxY: types.WorldBound,
	})
	dispatcher := broadcast.NewDispatcher(broadcast.NewDispatcherOptions{
		Grid:    grid,
		Metrics: opts.Metrics,
	})

	saveChan := make(chan inventory.SaveRequest, 256)
	txnChan := make(chan inventory.TransactionRecord, 256)

	statuses := status.NewEngine(status.NewEngineOptions{
		Port:    dispatcher,
		Metrics: opts.Metrics,
	})
	vitalsReducer := vitals.NewReducer(vitals.NewReducerOptions{
		Statuses: statuses,
		Port:     dispatcher,
		Metrics:  opts.Metrics,
	})
	damageFilter := combat.NewFilter(nil)
	dispatcher.SetPriority(vitalsReducer.SyncPriority)
	statuses.SetDamageSink(func(peerID types.PeerID, kind status.EffectKind, amplitude float64, source types.PeerID) {
		// Effect ticks are already past the skin: no armor, but the type
		// multipliers and invulnerability of downed peers still apply.
		hit := combat.Hit{
			SourcePeer: source,
			RawDamage:  -amplitude,
			Kind:       damageKindFor(kind),
		}
		if agg, ok := vitalsReducer.AggregateOf(peerID); ok {
			hit.Invulnerable = agg.Flags.Unconscious
		}
		if damage := damageFilter.Apply(hit); damage > 0 {
			vitalsReducer.ApplyDamage(peerID, -damage, source, string(kind))
		}
	})

	cyberEngine := cyberware.NewEngine(cyberware.NewEngineOptions{
		Port:    dispatcher,
		Metrics: opts.Metrics,
	})

	invAuthority := inventory.NewAuthority(inventory.NewAuthorityOptions{
		Distance: func(a, b types.PeerID) (float32, bool) {
			posA, okA := grid.Position(a)
			posB, okB := grid.Position(b)
			if !okA || !okB {
				return 0, false
			}
			return posA.DistanceTo(posB), true
		},
		SaveChan: saveChan,
		TxnChan:  txnChan,
		Port:     dispatcher,
		Metrics:  opts.Metrics,
	})

	combatCore := combat.NewCore(combat.NewCoreOptions{
		Port:    dispatcher,
		Metrics: opts.Metrics,
	})
	combatCore.RegisterObserver(&combatFlags{vitals: vitalsReducer})

	fabric := sessions.NewFabric(sessions.NewFabricOptions{
		Port:     dispatcher,
		Recorder: joinRecorder(opts.Repository),
		Metrics:  opts.Metrics,
	})

	coordinator := missions.NewCoordinator(missions.NewCoordinatorOptions{
		Membership: fabric.IsMember,
		Port:       dispatcher,
		Metrics:    opts.Metrics,
	})

	registry := instances.NewRegistry(instances.NewRegistryOptions{
		Port:    dispatcher,
		Metrics: opts.Metrics,
	})
	for _, loc := range opts.Locations {
		if err := registry.RegisterLocation(loc); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		grid:         grid,
		dispatcher:   dispatcher,
		fabric:       fabric,
		missions:     coordinator,
		instances:    registry,
		statuses:     statuses,
		cyberware:    cyberEngine,
		vitals:       vitalsReducer,
		inventory:    invAuthority,
		combat:       combatCore,
		damage:       damageFilter,
		repository:   opts.Repository,
		inboundQueue: opts.InboundQueue,
		saveChan:     saveChan,
		txnChan:      txnChan,
		metrics:      opts.Metrics,
		tickInterval: tickInterval,
		lastSeq:      make(map[types.PeerID]uint64),
	}
	fabric.AddObserver(m)
	return m, nil
}

// damageKindFor maps a status effect onto the damage filter's type tags.
func damageKindFor(kind status.EffectKind) combat.DamageKind {
	if kind == status.EffectElectrified {
		return combat.DamageElectrical
	}
	return combat.DamagePhysical
}

func joinRecorder(repo store.Repository) sessions.JoinRecorder {
	if repo == nil {
		return nil
	}
	return store.JoinRecorder{Repo: repo}
}

// combatFlags mirrors combat lifecycle into the vitals flags.
type combatFlags struct {
	vitals *vitals.Reducer
}

func (c *combatFlags) CombatStarted(peerID types.PeerID) { c.vitals.SetInCombat(peerID, true) }
func (c *combatFlags) CombatEnded(peerID types.PeerID)   { c.vitals.SetInCombat(peerID, false) }
func (c *combatFlags) AnomalyDetected(peerID types.PeerID, reason string) {
	log.Warn("Combat anomaly for peer %d: %s", peerID, reason)
}

// Dispatcher exposes the broadcast dispatcher so the network layer can
// register delivery observers.
func (m *Manager) Dispatcher() *broadcast.Dispatcher { return m.dispatcher }

// Fabric exposes the session fabric for the network and admin layers.
func (m *Manager) Fabric() *sessions.Fabric { return m.fabric }

// Instances exposes the location/instance registry for the admin layer.
func (m *Manager) Instances() *instances.Registry { return m.instances }

// SaveRequests is the channel the persistence worker consumes snapshots
// from.
func (m *Manager) SaveRequests() <-chan inventory.SaveRequest { return m.saveChan }

// TransactionRecords is the channel the persistence worker consumes
// transaction log entries from.
func (m *Manager) TransactionRecords() <-chan inventory.TransactionRecord { return m.txnChan }

// PeerJoined seeds per-peer state across the subsystems when a peer enters
// a session. Inventory is restored from the durable store when present.
func (m *Manager) PeerJoined(sessionID types.SessionID, peerID types.PeerID) {
	m.inventory.AddPeer(peerID)
	if m.repository != nil {
		snapshot, err := m.repository.LoadInventory(context.Background(), peerID)
		switch {
		case err == nil:
			if err := m.inventory.Restore(snapshot); err != nil {
				log.Error("Failed to restore inventory for peer %d: %v", peerID, err)
			}
		case types.IsNotFound(err):
		default:
			log.Error("Failed to load inventory for peer %d: %v", peerID, err)
		}
	}
	m.combat.AddPeer(peerID)
	m.vitals.AddPeer(peerID, 100, 100, 100)
	log.Info("Peer %d joined session %s", peerID, sessionID)
}

// PeerLeft tears down per-peer state across the subsystems. The final
// inventory snapshot is flushed to the persistence worker before the
// in-memory copy is dropped.
func (m *Manager) PeerLeft(sessionID types.SessionID, peerID types.PeerID, reason string) {
	if snapshot, ok := m.inventory.SnapshotOf(peerID); ok {
		select {
		case m.saveChan <- inventory.SaveRequest{PeerID: peerID, Snapshot: snapshot}:
		default:
			log.Error("Save channel full, dropping final snapshot for peer %d", peerID)
		}
	}
	m.inventory.RemovePeer(peerID)
	m.combat.RemovePeer(peerID)
	m.vitals.RemovePeer(peerID)
	m.statuses.RemoveAll(peerID)
	m.missions.RemovePeer(peerID)
	m.instances.Leave(peerID)
	m.grid.Remove(peerID)
	m.seqLock.Lock()
	delete(m.lastSeq, peerID)
	m.seqLock.Unlock()
	log.Info("Peer %d left session %s: %s", peerID, sessionID, reason)
}

// HostChanged is part of the session observer interface.
func (m *Manager) HostChanged(sessionID types.SessionID, from, to types.PeerID) {
	log.Info("Session %s host changed from peer %d to peer %d", sessionID, from, to)
}

// Start runs the tick loop until the context is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	tickCount := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.drainInbound()
			m.statuses.Tick(m.tickInterval)
			m.cyberware.Tick(m.tickInterval)
			tickCount++
			if tickCount%slowTickEvery == 0 {
				m.slowTick()
			}
		}
	}
}

func (m *Manager) slowTick() {
	m.inventory.Tick()
	m.combat.Tick()
	m.fabric.Tick()
	m.instances.Tick()
	m.missions.Tick()
	m.metrics.Inc("core.slow_ticks")
}

func (m *Manager) drainInbound() {
	if m.inboundQueue == nil {
		return
	}
	pending, err := m.inboundQueue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read inbound messages: %v", err)
		return
	}
	for _, item := range pending {
		if err := m.handleInbound(item); err != nil {
			log.Debug("Rejected inbound message: %v", err)
			m.metrics.Inc("core.rejected_messages")
		}
	}
}
