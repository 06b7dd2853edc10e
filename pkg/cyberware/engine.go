package cyberware

import (
	"math/rand"
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// baseMalfunctionRate is the per-second probability of a malfunction roll
	// succeeding for a healthy, charged piece.
	baseMalfunctionRate = 0.0001
	// minorMalfunctionTTL is how long a minor malfunction persists before
	// auto-resolving.
	minorMalfunctionTTL = 30 * time.Second

	lowHealthThreshold   = 0.3
	lowBatteryThreshold  = 0.2
	lowHealthMultiplier  = 5.0
	lowBatteryMultiplier = 3.0
)

// Installed is one installed piece of cyberware for a peer.
type Installed struct {
	ID      CyberwareID
	Slot    Slot
	Ability Ability
	State   State
	Health  float64
	Battery float64

	Active            bool
	OnCooldown        bool
	CooldownRemaining time.Duration

	Malfunctioning      bool
	MalfunctionType     string
	MalfunctionSeverity MalfunctionSeverity
	malfunctionSince    time.Duration

	InstalledAt time.Time
}

// Engine holds the per-peer installed-cyberware tables and drives ability
// cooldowns, time-dilation windows and malfunction rolls.
type Engine struct {
	lock      sync.RWMutex
	installed map[types.PeerID]map[CyberwareID]*Installed
	slowMo    map[types.PeerID]*SlowMotion

	rng     *rand.Rand
	port    broadcast.Port
	metrics *metrics.Registry
}

type NewEngineOptions struct {
	Port    broadcast.Port
	Metrics *metrics.Registry
	// Seed makes malfunction rolls deterministic in tests; zero uses the
	// current time.
	Seed int64
}

func NewEngine(opts NewEngineOptions) *Engine {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Engine{
		installed: make(map[types.PeerID]map[CyberwareID]*Installed),
		slowMo:    make(map[types.PeerID]*SlowMotion),
		rng:       rand.New(rand.NewSource(seed)),
		port:      port,
		metrics:   opts.Metrics,
	}
}

// Install registers a piece of cyberware for a peer, enforcing the
// slot/ability compatibility table.
func (e *Engine) Install(peerID types.PeerID, id CyberwareID, slot Slot, ability Ability) error {
	if !SlotAccepts(slot, ability) {
		return &types.ErrValidationFailed{Reason: "ability not compatible with slot"}
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	table := e.installed[peerID]
	if table == nil {
		table = make(map[CyberwareID]*Installed)
		e.installed[peerID] = table
	}
	if _, exists := table[id]; exists {
		return &types.ErrConflict{Reason: "cyberware already installed"}
	}
	table[id] = &Installed{
		ID:          id,
		Slot:        slot,
		Ability:     ability,
		State:       StateOperational,
		Health:      1.0,
		Battery:     1.0,
		InstalledAt: time.Now(),
	}
	e.metrics.Inc("cyberware.installed")
	return nil
}

// Uninstall removes a piece of cyberware.
func (e *Engine) Uninstall(peerID types.PeerID, id CyberwareID) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	table := e.installed[peerID]
	if _, ok := table[id]; !ok {
		return &types.ErrNotFound{Kind: "cyberware"}
	}
	delete(table, id)
	if len(table) == 0 {
		delete(e.installed, peerID)
	}
	return nil
}

// Activate triggers a piece's primary ability. The piece must be
// operational, off cooldown and not malfunctioning. Time-dilation abilities
// additionally start a per-peer slow-motion window; a second activation
// while one is running is refused.
func (e *Engine) Activate(peerID types.PeerID, id CyberwareID) error {
	e.lock.Lock()
	piece, ok := e.installed[peerID][id]
	if !ok {
		e.lock.Unlock()
		return &types.ErrNotFound{Kind: "cyberware"}
	}
	if piece.State != StateOperational {
		e.lock.Unlock()
		return &types.ErrConflict{Reason: "cyberware not operational"}
	}
	if piece.OnCooldown {
		e.lock.Unlock()
		return &types.ErrRateLimited{Reason: "ability on cooldown"}
	}
	if piece.Malfunctioning {
		e.lock.Unlock()
		return &types.ErrConflict{Reason: "cyberware malfunctioning"}
	}

	var slowMoStarted *SlowMotion
	if window, ok := DilationWindow(piece.Ability); ok {
		if _, running := e.slowMo[peerID]; running {
			e.lock.Unlock()
			return &types.ErrConflict{Reason: "slow motion already active"}
		}
		window.Remaining = window.Duration
		e.slowMo[peerID] = &window
		slowMoStarted = &window
	}

	piece.Active = true
	piece.OnCooldown = true
	piece.CooldownRemaining = AbilityCooldown(piece.Ability)
	ability := piece.Ability
	e.lock.Unlock()

	e.metrics.Inc("cyberware.activations")
	e.port.Publish(broadcast.Event{
		Kind:       broadcast.EventCyberwareUpdate,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"cyberwareId": id,
			"ability":     ability,
			"active":      true,
		},
	})
	if slowMoStarted != nil {
		e.port.Publish(broadcast.Event{
			Kind:       broadcast.EventSlowMotionStart,
			SenderPeer: peerID,
			Payload: map[string]interface{}{
				"factor":   slowMoStarted.Factor,
				"duration": slowMoStarted.Duration.Seconds(),
			},
		})
	}
	return nil
}

// SetCondition updates a piece's health and battery levels, clamped to 0..1.
func (e *Engine) SetCondition(peerID types.PeerID, id CyberwareID, health, battery float64) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	piece, ok := e.installed[peerID][id]
	if !ok {
		return &types.ErrNotFound{Kind: "cyberware"}
	}
	piece.Health = clamp01(health)
	piece.Battery = clamp01(battery)
	switch {
	case piece.Health <= 0:
		piece.State = StateOffline
	case piece.Health < lowHealthThreshold:
		piece.State = StateDamaged
	case piece.Health < 0.6:
		piece.State = StateDegraded
	default:
		if piece.State == StateDegraded || piece.State == StateDamaged || piece.State == StateOffline {
			piece.State = StateOperational
		}
	}
	return nil
}

// ClearMalfunction clears a malfunction of any severity.
func (e *Engine) ClearMalfunction(peerID types.PeerID, id CyberwareID) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	piece, ok := e.installed[peerID][id]
	if !ok {
		return &types.ErrNotFound{Kind: "cyberware"}
	}
	if !piece.Malfunctioning {
		return &types.ErrConflict{Reason: "cyberware is not malfunctioning"}
	}
	piece.Malfunctioning = false
	piece.MalfunctionType = ""
	piece.malfunctionSince = 0
	if piece.State == StateMalfunctioning {
		piece.State = StateOperational
	}
	return nil
}

// SlowMotionOf returns the active slow-motion window for a peer, if any.
func (e *Engine) SlowMotionOf(peerID types.PeerID) (SlowMotion, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	w, ok := e.slowMo[peerID]
	if !ok {
		return SlowMotion{}, false
	}
	return *w, true
}

// InstalledOf returns the installed table for a peer.
func (e *Engine) InstalledOf(peerID types.PeerID) []Installed {
	e.lock.RLock()
	defer e.lock.RUnlock()
	table := e.installed[peerID]
	pieces := make([]Installed, 0, len(table))
	for _, piece := range table {
		pieces = append(pieces, *piece)
	}
	return pieces
}

// Piece returns a single installed entry.
func (e *Engine) Piece(peerID types.PeerID, id CyberwareID) (Installed, bool) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	piece, ok := e.installed[peerID][id]
	if !ok {
		return Installed{}, false
	}
	return *piece, true
}

// Tick advances cooldowns, slow-motion windows and malfunction timers, and
// rolls for new malfunctions.
func (e *Engine) Tick(dt time.Duration) {
	e.lock.Lock()
	defer e.lock.Unlock()

	dtSec := dt.Seconds()
	for peerID, window := range e.slowMo {
		window.Remaining -= dt
		if window.Remaining <= 0 {
			delete(e.slowMo, peerID)
		}
	}

	for peerID, table := range e.installed {
		for _, piece := range table {
			if piece.OnCooldown {
				piece.CooldownRemaining -= dt
				if piece.CooldownRemaining <= 0 {
					piece.OnCooldown = false
					piece.CooldownRemaining = 0
					piece.Active = false
				}
			}

			if piece.Malfunctioning {
				piece.malfunctionSince += dt
				if piece.MalfunctionSeverity == SeverityMinor && piece.malfunctionSince >= minorMalfunctionTTL {
					piece.Malfunctioning = false
					piece.MalfunctionType = ""
					piece.malfunctionSince = 0
					if piece.State == StateMalfunctioning {
						piece.State = StateOperational
					}
				}
				continue
			}

			rate := baseMalfunctionRate
			if piece.Health < lowHealthThreshold {
				rate *= lowHealthMultiplier
			}
			if piece.Battery < lowBatteryThreshold {
				rate *= lowBatteryMultiplier
			}
			if e.rng.Float64() < rate*dtSec {
				piece.Malfunctioning = true
				piece.MalfunctionSeverity = e.rollSeverity()
				piece.MalfunctionType = "glitch"
				piece.malfunctionSince = 0
				piece.State = StateMalfunctioning
				e.metrics.Inc("cyberware.malfunctions")
				log.Debug("Cyberware %d malfunctioned for peer %d (severity %d)", piece.ID, peerID, piece.MalfunctionSeverity)
			}
		}
	}
}

func (e *Engine) rollSeverity() MalfunctionSeverity {
	switch roll := e.rng.Float64(); {
	case roll < 0.7:
		return SeverityMinor
	case roll < 0.95:
		return SeverityMajor
	default:
		return SeverityCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
