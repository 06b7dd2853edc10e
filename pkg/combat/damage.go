package combat

import "github.com/duskworks/coopcore/pkg/types"

// DamageKind tags a hit for the type multipliers.
type DamageKind string

const (
	DamagePhysical   DamageKind = "physical"
	DamageExplosive  DamageKind = "explosive"
	DamageElectrical DamageKind = "electrical"
)

// Hit describes one damage application for the filter.
type Hit struct {
	SourcePeer   types.PeerID
	Target       types.EntityID
	TargetIsNPC  bool
	RawDamage    float64
	Armor        float64
	Invulnerable bool
	Critical     bool
	Headshot     bool
	Kind         DamageKind
}

// ArmorCurve reduces raw damage by armor. The game-data adapter supplies
// the project's real curve; the default is a flat subtraction floored at
// zero.
type ArmorCurve func(raw, armor float64) float64

// DefaultArmorCurve is the conservative flat-subtraction curve.
func DefaultArmorCurve(raw, armor float64) float64 {
	applied := raw - armor
	if applied < 0 {
		return 0
	}
	return applied
}

// Filter is the one place authoritative damage numbers are produced. It is
// a pure computation over combat and health inputs.
type Filter struct {
	curve ArmorCurve
}

func NewFilter(curve ArmorCurve) *Filter {
	if curve == nil {
		curve = DefaultArmorCurve
	}
	return &Filter{curve: curve}
}

// Apply computes the final damage for a hit.
func (f *Filter) Apply(hit Hit) float64 {
	if hit.Invulnerable {
		return 0
	}
	damage := f.curve(hit.RawDamage, hit.Armor)
	if hit.Critical {
		damage *= 1.5
	}
	if hit.Headshot {
		damage *= 2.0
	}
	switch hit.Kind {
	case DamageExplosive:
		damage *= 1.2
	case DamageElectrical:
		damage *= 0.9
	}
	return damage
}
