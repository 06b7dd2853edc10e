package messages

import "encoding/json"

const (
	// MessageBufferSize represents the maximum size of an encoded message
	MessageBufferSize = 4096
)

// Inbound message types
const (
	MessageTypeClientPing = "ping"

	MessageTypeSessionCreate = "session_create"
	MessageTypeSessionJoin   = "session_join"
	MessageTypeSessionStart  = "session_start"
	MessageTypeSessionLeave  = "session_leave"
	MessageTypeSessionEnd    = "session_end"
	MessageTypeGameMode      = "game_mode"
	MessageTypeWorldState    = "world_state"
	MessageTypeSeatClaim     = "vehicle_seat_claim"
	MessageTypeSeatLeave     = "vehicle_seat_leave"

	MessageTypePositionUpdate = "position_update"

	MessageTypeInventoryUpdate = "inventory_update"
	MessageTypeTransferRequest = "transfer_request"
	MessageTypeTransferApprove = "transfer_approve"
	MessageTypeTransferDeny    = "transfer_deny"
	MessageTypeTransferCancel  = "transfer_cancel"
	MessageTypeWorldPickup     = "world_pickup"

	MessageTypeHealthUpdate = "health_update"
	MessageTypeStatusApply  = "status_apply"
	MessageTypeStatusRemove = "status_remove"

	MessageTypeCyberwareInstall  = "cyberware_install"
	MessageTypeCyberwareActivate = "cyberware_activate"
	MessageTypeCyberwareRepair   = "cyberware_repair"

	MessageTypeCombatUpdate = "combat_update"
	MessageTypeWeaponFire   = "weapon_fire"
	MessageTypeDamageDealt  = "damage_dealt"

	MessageTypeMissionCreate     = "mission_create"
	MessageTypeMissionReady      = "mission_ready"
	MessageTypeMissionPhase      = "mission_phase"
	MessageTypeObjectiveUpdate   = "objective_update"
	MessageTypeDialogueBegin     = "dialogue_begin"
	MessageTypeDialogueChoice    = "dialogue_choice"
	MessageTypeCheckpointCreate  = "checkpoint_create"
	MessageTypeCheckpointRestore = "checkpoint_restore"

	MessageTypeApartmentEnter = "apartment_enter"
	MessageTypeStoreEnter     = "store_enter"
	MessageTypeCustomEnter    = "custom_enter"
	MessageTypeInstanceLeave  = "instance_leave"
	MessageTypePermissionsSet = "permissions_set"
)

// Message represents a generic inbound message for
// serialization/deserialization. ClientSeq is the sender's monotonically
// increasing sequence number; stale sequences are dropped by the dispatch
// layer.
type Message struct {
	SenderPeer uint32          `json:"senderPeer"`
	ClientSeq  uint64          `json:"clientSeq"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
}
