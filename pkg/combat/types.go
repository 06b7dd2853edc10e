package combat

import (
	"time"

	"github.com/duskworks/coopcore/pkg/types"
)

// State is a peer's combat state.
type State string

const (
	StateOutOfCombat State = "out_of_combat"
	StateCombatReady State = "combat_ready"
	StateInCombat    State = "in_combat"
	StateActive      State = "active_combat"
	StatePostCombat  State = "post_combat"
)

const (
	// maxRecentShots caps a peer's recent-shots window.
	maxRecentShots = 100
	// maxRecentDamage caps a peer's recent-damage window.
	maxRecentDamage = 50
	// shotWindowTTL is how long shots stay in the window.
	shotWindowTTL = 10 * time.Second
	// damageWindowTTL is how long damage entries stay in the window.
	damageWindowTTL = 30 * time.Second

	// MaxFireRate is the accepted rounds-per-second bound.
	MaxFireRate = 20
	// MaxDamagePerHit is the accepted per-hit damage bound.
	MaxDamagePerHit = 10000

	// anomalyWindow is the look-back window for anomaly detection.
	anomalyWindow = 5 * time.Second
	// anomalyDamageThreshold flags cumulative damage above this in the window.
	anomalyDamageThreshold = 5000
	// anomalyShotThreshold flags shot counts above this in the window.
	anomalyShotThreshold = 100

	// DefaultEngagementRadius is the engagement radius in meters.
	DefaultEngagementRadius = 50
	// engagementIdleTTL ends an engagement after this long without any
	// participant in active combat.
	engagementIdleTTL = 5 * time.Minute
)

// SyncData is one inbound combat state update.
type SyncData struct {
	State        State          `json:"state"`
	Stance       string         `json:"stance"`
	InCover      bool           `json:"inCover"`
	Aiming       bool           `json:"aiming"`
	MovementMode string         `json:"movementMode"`
	AlertLevel   uint8          `json:"alertLevel"`
	Weapon       types.WeaponID `json:"weapon"`
	WeaponDrawn  bool           `json:"weaponDrawn"`
	Reloading    bool           `json:"reloading"`
	Firing       bool           `json:"firing"`
	Target       types.EntityID `json:"target"`
	Position     types.Vec3     `json:"position"`
	AimDirection types.Vec3     `json:"aimDirection"`
}

// FireData is one inbound weapon-fire report.
type FireData struct {
	Weapon     types.WeaponID `json:"weapon"`
	ShotsFired uint32         `json:"shotsFired"`
	Damage     float64        `json:"damage"`
	Position   types.Vec3     `json:"position"`
}

type shotRecord struct {
	weapon types.WeaponID
	shots  uint32
	at     time.Time
}

type damageRecord struct {
	amount float64
	at     time.Time
}

// PeerState is the authoritative per-peer combat state.
type PeerState struct {
	PeerID       types.PeerID
	State        State
	Stance       string
	InCover      bool
	Aiming       bool
	MovementMode string
	AlertLevel   uint8
	Weapon       types.WeaponID
	WeaponDrawn  bool
	Reloading    bool
	Firing       bool
	Target       types.EntityID
	Position     types.Vec3
	AimDirection types.Vec3
	LastUpdate   time.Time
	EngagementID uint64

	ShotCounts map[types.WeaponID]uint64

	recentShots  []shotRecord
	recentDamage []damageRecord
	anomalous    bool
}

// Engagement is an ephemeral grouping of peers and enemies treated as one
// combat context.
type Engagement struct {
	ID           uint64
	Participants map[types.PeerID]struct{}
	Enemies      map[types.EntityID]struct{}
	Center       types.Vec3
	Radius       float32
	StartedAt    time.Time
	LastActiveAt time.Time
}
