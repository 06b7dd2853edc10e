package broadcast

import "github.com/duskworks/coopcore/pkg/types"

// Outbound event kinds.
const (
	EventInventoryUpdate        = "InventoryUpdateOut"
	EventTransferResult         = "TransferResult"
	EventHealthUpdate           = "HealthUpdate"
	EventStatusApply            = "StatusApplyOut"
	EventStatusTick             = "StatusTick"
	EventStatusExpire           = "StatusExpire"
	EventCombatUpdate           = "CombatUpdate"
	EventWeaponFire             = "WeaponFireOut"
	EventDamageDealt            = "DamageDealtOut"
	EventCriticalEvent          = "CriticalEvent"
	EventMissionState           = "MissionState"
	EventObjectiveState         = "ObjectiveState"
	EventDialogueState          = "DialogueState"
	EventDialogueChoiceExecuted = "DialogueChoiceExecuted"
	EventInstanceUpdate         = "InstanceUpdate"
	EventInstanceDestroyed      = "InstanceDestroyed"
	EventPermissionUpdate       = "PermissionUpdate"
	EventTeleportPeer           = "TeleportPeer"
	EventSessionUpdate          = "SessionUpdate"
	EventGameModeUpdate         = "GameModeUpdate"
	EventVehicleOccupancy       = "VehicleOccupancy"
	EventHostChanged            = "HostChanged"
	EventCyberwareUpdate        = "CyberwareUpdate"
	EventSlowMotionStart        = "SlowMotionStart"
)

// Event is one outbound update published by a subsystem. FocalPosition and
// RadiusHint drive interest culling; a nil FocalPosition means the event is
// delivered to every tracked peer (session-wide control events).
type Event struct {
	Kind          string
	SenderPeer    types.PeerID
	Payload       interface{}
	FocalPosition *types.Vec3
	RadiusHint    float32
	// Recipients, when non-nil, bypasses interest culling and addresses the
	// event to a fixed peer set (mission parties, instance participants).
	Recipients []types.PeerID
}

// Port is the outbound interface the subsystems publish through. Publish
// never fails synchronously; dropped recipients are tallied and swept by the
// session layer.
type Port interface {
	Publish(event Event)
}

// NopPort discards every event. Useful as a default in tests.
type NopPort struct{}

func (NopPort) Publish(Event) {}
