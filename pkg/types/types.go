package types

import (
	"math"
	"regexp"
)

// PeerID identifies a connected player instance.
type PeerID uint32

// EntityID identifies a world entity (NPC, vehicle, prop).
type EntityID uint64

// ItemID identifies an inventory item definition.
type ItemID uint64

// WeaponID identifies a weapon definition.
type WeaponID uint64

// Short string identifiers are limited to 64 characters from [A-Za-z0-9_-].
type (
	LocationID string
	SessionID  string
	MissionID  string
)

// WorldBound is the absolute value limit for world coordinates on each axis.
const WorldBound = 100000

var shortIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidShortID reports whether s is a well-formed short identifier.
func ValidShortID(s string) bool {
	return shortIDPattern.MatchString(s)
}

// Vec3 is a position or direction in world coordinates.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Finite reports whether all components are finite floats.
func (v Vec3) Finite() bool {
	for _, c := range []float32{v.X, v.Y, v.Z} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// InWorldBounds reports whether all components are finite and within the world bound.
func (v Vec3) InWorldBounds() bool {
	if !v.Finite() {
		return false
	}
	for _, c := range []float32{v.X, v.Y, v.Z} {
		if c < -WorldBound || c > WorldBound {
			return false
		}
	}
	return true
}

// DistanceTo returns the euclidean distance between two points.
func (v Vec3) DistanceTo(o Vec3) float32 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	dz := float64(v.Z - o.Z)
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}

// DistanceSq2D returns the squared distance on the X/Y plane.
func (v Vec3) DistanceSq2D(o Vec3) float32 {
	dx := v.X - o.X
	dy := v.Y - o.Y
	return dx*dx + dy*dy
}

// ConnectionQuality is the derived quality band for a peer's connection.
type ConnectionQuality int

const (
	QualityExcellent ConnectionQuality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityDisconnected
)

func (q ConnectionQuality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// QualityFromPing derives a quality band from ping (ms) and packet loss (0..1).
func QualityFromPing(pingMs float64, loss float64) ConnectionQuality {
	if loss > 0.10 {
		return QualityPoor
	}
	switch {
	case pingMs < 50:
		return QualityExcellent
	case pingMs < 100:
		return QualityGood
	case pingMs < 200:
		return QualityFair
	default:
		return QualityPoor
	}
}
