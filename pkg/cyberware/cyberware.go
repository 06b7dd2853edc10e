package cyberware

import "time"

// CyberwareID identifies one installed piece of cyberware.
type CyberwareID uint64

// Slot is a body location cyberware installs into.
type Slot string

const (
	SlotArms          Slot = "arms"
	SlotLegs          Slot = "legs"
	SlotEyes          Slot = "eyes"
	SlotNervousSystem Slot = "nervous_system"
	SlotCirculatory   Slot = "circulatory"
	SlotIntegumentary Slot = "integumentary"
	SlotFrontalCortex Slot = "frontal_cortex"
	SlotHands         Slot = "hands"
)

// Ability is the primary ability a piece of cyberware provides.
type Ability string

const (
	AbilityMantisBlades         Ability = "mantis_blades"
	AbilityMonowire             Ability = "monowire"
	AbilityProjectileLauncher   Ability = "projectile_launcher"
	AbilityGorillaArms          Ability = "gorilla_arms"
	AbilityReinforcedTendons    Ability = "reinforced_tendons"
	AbilityLynxPaws             Ability = "lynx_paws"
	AbilityFortifiedAnkles      Ability = "fortified_ankles"
	AbilityKiroshiOptics        Ability = "kiroshi_optics"
	AbilityTargetingCoprocessor Ability = "targeting_coprocessor"
	AbilityThreatAnalysis       Ability = "threat_analysis"
	AbilityKerenzikov           Ability = "kerenzikov"
	AbilitySandevistan          Ability = "sandevistan"
	AbilitySynapticOptimizer    Ability = "synaptic_optimizer"
	AbilityBiomonitor           Ability = "biomonitor"
	AbilitySubdermalArmor       Ability = "subdermal_armor"
)

// State is the operational state of an installed piece.
type State string

const (
	StateOperational    State = "operational"
	StateActive         State = "active"
	StateDegraded       State = "degraded"
	StateDamaged        State = "damaged"
	StateMalfunctioning State = "malfunctioning"
	StateOffline        State = "offline"
)

// MalfunctionSeverity ranks how bad a malfunction is. Minor malfunctions
// auto-resolve after 30 seconds; higher severities persist until cleared.
type MalfunctionSeverity int

const (
	SeverityMinor MalfunctionSeverity = iota
	SeverityMajor
	SeverityCritical
)

// slotAbilities is the fixed slot/ability compatibility table. Slots not
// present accept any ability.
var slotAbilities = map[Slot][]Ability{
	SlotArms:          {AbilityMantisBlades, AbilityMonowire, AbilityProjectileLauncher, AbilityGorillaArms},
	SlotLegs:          {AbilityReinforcedTendons, AbilityLynxPaws, AbilityFortifiedAnkles},
	SlotEyes:          {AbilityKiroshiOptics, AbilityTargetingCoprocessor, AbilityThreatAnalysis},
	SlotNervousSystem: {AbilityKerenzikov, AbilitySandevistan, AbilitySynapticOptimizer},
}

// SlotAccepts reports whether the slot accepts the given ability.
func SlotAccepts(slot Slot, ability Ability) bool {
	allowed, restricted := slotAbilities[slot]
	if !restricted {
		return true
	}
	for _, a := range allowed {
		if a == ability {
			return true
		}
	}
	return false
}

// abilityCooldowns maps each ability to its activation cooldown.
var abilityCooldowns = map[Ability]time.Duration{
	AbilityMantisBlades:         2 * time.Second,
	AbilityMonowire:             3 * time.Second,
	AbilityProjectileLauncher:   8 * time.Second,
	AbilityGorillaArms:          2 * time.Second,
	AbilityReinforcedTendons:    4 * time.Second,
	AbilityLynxPaws:             2 * time.Second,
	AbilityFortifiedAnkles:      5 * time.Second,
	AbilityKiroshiOptics:        2 * time.Second,
	AbilityTargetingCoprocessor: 6 * time.Second,
	AbilityThreatAnalysis:       10 * time.Second,
	AbilityKerenzikov:           15 * time.Second,
	AbilitySandevistan:          30 * time.Second,
	AbilitySynapticOptimizer:    12 * time.Second,
	AbilityBiomonitor:           20 * time.Second,
	AbilitySubdermalArmor:       10 * time.Second,
}

// AbilityCooldown returns the activation cooldown for an ability.
func AbilityCooldown(ability Ability) time.Duration {
	if d, ok := abilityCooldowns[ability]; ok {
		return d
	}
	return 5 * time.Second
}

// timeDilation maps time-dilation abilities to their slow-motion window.
var timeDilation = map[Ability]SlowMotion{
	AbilityKerenzikov:  {Factor: 0.5, Duration: 3 * time.Second},
	AbilitySandevistan: {Factor: 0.25, Duration: 8 * time.Second},
}

// SlowMotion describes a per-peer time-dilation window.
type SlowMotion struct {
	Factor    float64
	Duration  time.Duration
	Remaining time.Duration
}

// DilationWindow returns the slow-motion window an ability starts, if any.
func DilationWindow(ability Ability) (SlowMotion, bool) {
	w, ok := timeDilation[ability]
	return w, ok
}
