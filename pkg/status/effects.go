package status

import "time"

// EffectKind identifies one buff or debuff.
type EffectKind string

// Buff kinds.
const (
	EffectStrengthBoost       EffectKind = "StrengthBoost"
	EffectReflexesBoost       EffectKind = "ReflexesBoost"
	EffectTechAbilityBoost    EffectKind = "TechnicalAbilityBoost"
	EffectIntelligenceBoost   EffectKind = "IntelligenceBoost"
	EffectCoolBoost           EffectKind = "CoolBoost"
	EffectDamageBoost         EffectKind = "DamageBoost"
	EffectArmorBoost          EffectKind = "ArmorBoost"
	EffectCritChanceBoost     EffectKind = "CriticalChanceBoost"
	EffectAccuracyBoost       EffectKind = "AccuracyBoost"
	EffectSpeedBoost          EffectKind = "SpeedBoost"
	EffectJumpBoost           EffectKind = "JumpBoost"
	EffectStaminaBoost        EffectKind = "StaminaBoost"
	EffectStealthBoost        EffectKind = "StealthBoost"
	EffectHackingBoost        EffectKind = "HackingBoost"
	EffectDetectionReduction  EffectKind = "DetectionReduction"
	EffectFoodBuff            EffectKind = "FoodBuff"
	EffectAlcoholBuff         EffectKind = "AlcoholBuff"
	EffectStimulantBuff       EffectKind = "StimulantBuff"
	EffectMedicationBuff      EffectKind = "MedicationBuff"
	EffectCyberwareBoost      EffectKind = "CyberwareBoost"
	EffectOpticsEnhancement   EffectKind = "OpticsEnhancement"
	EffectProcessingBoost     EffectKind = "ProcessingBoost"
	EffectTempResistance      EffectKind = "TemperatureResistance"
	EffectRadiationResistance EffectKind = "RadiationResistance"
)

// Debuff kinds.
const (
	EffectBleeding       EffectKind = "Bleeding"
	EffectPoisoned       EffectKind = "Poisoned"
	EffectBurning        EffectKind = "Burning"
	EffectElectrified    EffectKind = "Electrified"
	EffectStunned        EffectKind = "Stunned"
	EffectBlinded        EffectKind = "Blinded"
	EffectSlowed         EffectKind = "Slowed"
	EffectWeakened       EffectKind = "Weakened"
	EffectRadiation      EffectKind = "Radiation"
	EffectToxicAir       EffectKind = "ToxicAir"
	EffectExtremeHeat    EffectKind = "ExtremeHeat"
	EffectExtremeCold    EffectKind = "ExtremeCold"
	EffectSuppressed     EffectKind = "Suppressed"
	EffectDisoriented    EffectKind = "Disoriented"
	EffectOverheated     EffectKind = "Overheated"
	EffectWeaponJammed   EffectKind = "WeaponJammed"
	EffectArmorDamaged   EffectKind = "ArmorDamaged"
	EffectAlcoholPenalty EffectKind = "AlcoholPenalty"
	EffectDrugCrash      EffectKind = "DrugCrash"
	EffectSystemError    EffectKind = "SystemError"
	EffectFear           EffectKind = "Fear"
	EffectConfusion      EffectKind = "Confusion"
	EffectHallucination  EffectKind = "Hallucination"
	EffectPanic          EffectKind = "Panic"
)

// Category partitions effect kinds for external filtering. The engine itself
// only uses it for the attribute/status incompatibility rule.
type Category int

const (
	CategoryAttribute Category = iota
	CategoryCombat
	CategoryMovement
	CategoryStealth
	CategoryConsumable
	CategoryCyberware
	CategoryEnvironmental
	CategoryStatus
	CategoryPsychological
)

func (c Category) String() string {
	switch c {
	case CategoryAttribute:
		return "attribute"
	case CategoryCombat:
		return "combat"
	case CategoryMovement:
		return "movement"
	case CategoryStealth:
		return "stealth"
	case CategoryConsumable:
		return "consumable"
	case CategoryCyberware:
		return "cyberware"
	case CategoryEnvironmental:
		return "environmental"
	case CategoryStatus:
		return "status"
	case CategoryPsychological:
		return "psychological"
	default:
		return "unknown"
	}
}

// Priority ranks effects for external filtering.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	PriorityEmergency
)

// Definition holds the per-kind defaults applied on a fresh apply.
type Definition struct {
	Kind             EffectKind
	IsBuff           bool
	Category         Category
	Priority         Priority
	Duration         time.Duration
	BaseIntensity    float64
	CanStack         bool
	MaxStacks        int
	RefreshOnReapply bool
	// DamagePerTick > 0 marks a damage-over-time effect; each status tick
	// emits a damage event with amplitude -intensity.
	DamagePerTick bool
	Permanent     bool
}

func buffDef(kind EffectKind, cat Category, dur time.Duration, intensity float64, stacks int) Definition {
	return Definition{
		Kind:             kind,
		IsBuff:           true,
		Category:         cat,
		Priority:         PriorityNormal,
		Duration:         dur,
		BaseIntensity:    intensity,
		CanStack:         stacks > 1,
		MaxStacks:        stacks,
		RefreshOnReapply: stacks <= 1,
	}
}

func debuffDef(kind EffectKind, cat Category, prio Priority, dur time.Duration, intensity float64, dot bool) Definition {
	return Definition{
		Kind:             kind,
		IsBuff:           false,
		Category:         cat,
		Priority:         prio,
		Duration:         dur,
		BaseIntensity:    intensity,
		CanStack:         dot,
		MaxStacks:        5,
		RefreshOnReapply: true,
		DamagePerTick:    dot,
	}
}

// DefaultDefinitions returns the built-in effect catalog.
func DefaultDefinitions() map[EffectKind]Definition {
	defs := map[EffectKind]Definition{}
	add := func(d Definition) { defs[d.Kind] = d }

	add(buffDef(EffectStrengthBoost, CategoryAttribute, 60*time.Second, 10, 3))
	add(buffDef(EffectReflexesBoost, CategoryAttribute, 60*time.Second, 10, 3))
	add(buffDef(EffectTechAbilityBoost, CategoryAttribute, 60*time.Second, 10, 3))
	add(buffDef(EffectIntelligenceBoost, CategoryAttribute, 60*time.Second, 10, 3))
	add(buffDef(EffectCoolBoost, CategoryAttribute, 60*time.Second, 10, 3))
	add(buffDef(EffectDamageBoost, CategoryCombat, 30*time.Second, 15, 2))
	add(buffDef(EffectArmorBoost, CategoryCombat, 30*time.Second, 20, 2))
	add(buffDef(EffectCritChanceBoost, CategoryCombat, 30*time.Second, 5, 1))
	add(buffDef(EffectAccuracyBoost, CategoryCombat, 30*time.Second, 10, 1))
	add(buffDef(EffectSpeedBoost, CategoryMovement, 20*time.Second, 15, 1))
	add(buffDef(EffectJumpBoost, CategoryMovement, 20*time.Second, 25, 1))
	add(buffDef(EffectStaminaBoost, CategoryMovement, 30*time.Second, 20, 2))
	add(buffDef(EffectStealthBoost, CategoryStealth, 45*time.Second, 20, 1))
	add(buffDef(EffectHackingBoost, CategoryStealth, 45*time.Second, 15, 1))
	add(buffDef(EffectDetectionReduction, CategoryStealth, 45*time.Second, 30, 1))
	add(buffDef(EffectFoodBuff, CategoryConsumable, 300*time.Second, 5, 1))
	add(buffDef(EffectAlcoholBuff, CategoryConsumable, 120*time.Second, 5, 3))
	add(buffDef(EffectStimulantBuff, CategoryConsumable, 60*time.Second, 10, 2))
	add(buffDef(EffectMedicationBuff, CategoryConsumable, 120*time.Second, 10, 1))
	add(buffDef(EffectCyberwareBoost, CategoryCyberware, 90*time.Second, 10, 2))
	add(buffDef(EffectOpticsEnhancement, CategoryCyberware, 90*time.Second, 10, 1))
	add(buffDef(EffectProcessingBoost, CategoryCyberware, 90*time.Second, 15, 1))
	add(buffDef(EffectTempResistance, CategoryEnvironmental, 180*time.Second, 25, 1))
	add(buffDef(EffectRadiationResistance, CategoryEnvironmental, 180*time.Second, 25, 1))

	add(debuffDef(EffectBleeding, CategoryStatus, PriorityHigh, 15*time.Second, 2, true))
	add(debuffDef(EffectPoisoned, CategoryStatus, PriorityHigh, 20*time.Second, 3, true))
	add(debuffDef(EffectBurning, CategoryStatus, PriorityCritical, 8*time.Second, 5, true))
	add(debuffDef(EffectElectrified, CategoryStatus, PriorityCritical, 5*time.Second, 4, true))
	add(debuffDef(EffectStunned, CategoryStatus, PriorityCritical, 3*time.Second, 1, false))
	add(debuffDef(EffectBlinded, CategoryStatus, PriorityHigh, 5*time.Second, 1, false))
	add(debuffDef(EffectSlowed, CategoryStatus, PriorityNormal, 10*time.Second, 20, false))
	add(debuffDef(EffectWeakened, CategoryStatus, PriorityNormal, 15*time.Second, 15, false))
	add(debuffDef(EffectRadiation, CategoryEnvironmental, PriorityHigh, 30*time.Second, 2, true))
	add(debuffDef(EffectToxicAir, CategoryEnvironmental, PriorityHigh, 20*time.Second, 2, true))
	add(debuffDef(EffectExtremeHeat, CategoryEnvironmental, PriorityNormal, 25*time.Second, 1, true))
	add(debuffDef(EffectExtremeCold, CategoryEnvironmental, PriorityNormal, 25*time.Second, 1, true))
	add(debuffDef(EffectSuppressed, CategoryCombat, PriorityNormal, 6*time.Second, 10, false))
	add(debuffDef(EffectDisoriented, CategoryCombat, PriorityNormal, 8*time.Second, 15, false))
	add(debuffDef(EffectOverheated, CategoryCombat, PriorityNormal, 10*time.Second, 10, false))
	add(debuffDef(EffectWeaponJammed, CategoryCombat, PriorityHigh, 5*time.Second, 1, false))
	add(debuffDef(EffectArmorDamaged, CategoryCombat, PriorityNormal, 30*time.Second, 25, false))
	add(debuffDef(EffectAlcoholPenalty, CategoryConsumable, PriorityLow, 120*time.Second, 10, false))
	add(debuffDef(EffectDrugCrash, CategoryConsumable, PriorityNormal, 60*time.Second, 15, false))
	add(debuffDef(EffectSystemError, CategoryCyberware, PriorityHigh, 15*time.Second, 10, false))
	add(debuffDef(EffectFear, CategoryPsychological, PriorityNormal, 12*time.Second, 10, false))
	add(debuffDef(EffectConfusion, CategoryPsychological, PriorityNormal, 10*time.Second, 10, false))
	add(debuffDef(EffectHallucination, CategoryPsychological, PriorityHigh, 20*time.Second, 15, false))
	add(debuffDef(EffectPanic, CategoryPsychological, PriorityHigh, 8*time.Second, 20, false))

	return defs
}
