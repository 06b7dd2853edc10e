package core

import (
	"encoding/json"
	"fmt"

	"github.com/duskworks/coopcore/pkg/combat"
	"github.com/duskworks/coopcore/pkg/cyberware"
	"github.com/duskworks/coopcore/pkg/instances"
	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/messages"
	"github.com/duskworks/coopcore/pkg/missions"
	"github.com/duskworks/coopcore/pkg/sessions"
	"github.com/duskworks/coopcore/pkg/status"
	"github.com/duskworks/coopcore/pkg/types"
	"github.com/duskworks/coopcore/pkg/vitals"
)

// Inbound payload shapes. Each maps one message type onto a subsystem call.
type (
	positionUpdatePayload struct {
		Position types.Vec3 `json:"position"`
	}

	sessionCreatePayload struct {
		SessionID types.SessionID   `json:"sessionId"`
		Name      string            `json:"name"`
		Settings  sessions.Settings `json:"settings"`
		Password  string            `json:"password"`
	}

	sessionJoinPayload struct {
		SessionID types.SessionID `json:"sessionId"`
		Name      string          `json:"name"`
		Password  string          `json:"password"`
	}

	sessionControlPayload struct {
		SessionID types.SessionID `json:"sessionId"`
	}

	gameModePayload struct {
		SessionID types.SessionID `json:"sessionId"`
		GameMode  string          `json:"gameMode"`
	}

	worldStatePayload struct {
		SessionID types.SessionID `json:"sessionId"`
		GameTime  float64         `json:"gameTime"`
		Weather   string          `json:"weather"`
		TimeScale float64         `json:"timeScale"`
	}

	pingPayload struct {
		PingMs float64 `json:"pingMs"`
		Loss   float64 `json:"loss"`
	}

	seatPayload struct {
		Vehicle types.EntityID `json:"vehicle"`
		Seat    int            `json:"seat"`
	}

	transferRequestPayload struct {
		ToPeer   types.PeerID `json:"toPeer"`
		ItemID   types.ItemID `json:"itemId"`
		Quantity uint32       `json:"quantity"`
	}

	transferDecisionPayload struct {
		RequestID uint64 `json:"requestId"`
		Reason    string `json:"reason"`
	}

	worldPickupPayload struct {
		ItemID   types.ItemID `json:"itemId"`
		Position types.Vec3   `json:"position"`
	}

	healthUpdatePayload struct {
		Health     float64      `json:"health"`
		MaxHealth  float64      `json:"maxHealth"`
		Armor      float64      `json:"armor"`
		MaxArmor   float64      `json:"maxArmor"`
		Stamina    float64      `json:"stamina"`
		MaxStamina float64      `json:"maxStamina"`
		Attacker   types.PeerID `json:"attacker"`
		WeaponType string       `json:"weaponType"`
	}

	statusApplyPayload struct {
		Kind   status.EffectKind `json:"kind"`
		Target types.PeerID      `json:"target"`
	}

	statusRemovePayload struct {
		Kind status.EffectKind `json:"kind"`
	}

	cyberwareInstallPayload struct {
		ID      cyberware.CyberwareID `json:"id"`
		Slot    cyberware.Slot        `json:"slot"`
		Ability cyberware.Ability     `json:"ability"`
	}

	cyberwareActivatePayload struct {
		ID cyberware.CyberwareID `json:"id"`
	}

	cyberwareRepairPayload struct {
		ID      cyberware.CyberwareID `json:"id"`
		Health  float64               `json:"health"`
		Battery float64               `json:"battery"`
		// ClearMalfunction requests a malfunction reset alongside the
		// condition update.
		ClearMalfunction bool `json:"clearMalfunction"`
	}

	damageDealtPayload struct {
		Target types.EntityID `json:"target"`
		Damage float64        `json:"damage"`
		// TargetPeer is set when the hit entity is another player; the
		// filtered damage is then applied to that peer's vitals.
		TargetPeer types.PeerID      `json:"targetPeer"`
		Critical   bool              `json:"critical"`
		Headshot   bool              `json:"headshot"`
		Kind       combat.DamageKind `json:"damageKind"`
	}

	missionCreatePayload struct {
		QuestID      string         `json:"questId"`
		Participants []types.PeerID `json:"participants"`
	}

	missionControlPayload struct {
		MissionID types.MissionID `json:"missionId"`
		Phase     string          `json:"phase"`
	}

	objectiveUpdatePayload struct {
		MissionID types.MissionID    `json:"missionId"`
		Objective missions.Objective `json:"objective"`
	}

	dialogueBeginPayload struct {
		MissionID  types.MissionID `json:"missionId"`
		Speaker    string          `json:"speaker"`
		DialogueID string          `json:"dialogueId"`
	}

	dialogueChoicePayload struct {
		MissionID   types.MissionID `json:"missionId"`
		ChoiceIndex int             `json:"choiceIndex"`
		Approve     bool            `json:"approve"`
	}

	checkpointCreatePayload struct {
		MissionID types.MissionID `json:"missionId"`
		Name      string          `json:"name"`
	}

	checkpointRestorePayload struct {
		MissionID    types.MissionID `json:"missionId"`
		CheckpointID string          `json:"checkpointId"`
	}

	apartmentEnterPayload struct {
		LocationID types.LocationID `json:"locationId"`
		Owner      types.PeerID     `json:"owner"`
	}

	storeEnterPayload struct {
		LocationID types.LocationID `json:"locationId"`
	}

	permissionsSetPayload struct {
		LocationID   types.LocationID `json:"locationId"`
		Public       bool             `json:"public"`
		AllowFriends bool             `json:"allowFriends"`
		AllowGuild   bool             `json:"allowGuild"`
		Allowed      []types.PeerID   `json:"allowed"`
		Blocked      []types.PeerID   `json:"blocked"`
	}
)

// handleInbound routes one queued message to its subsystem. Messages with a
// stale client sequence number are dropped.
func (m *Manager) handleInbound(item interface{}) error {
	msg, ok := item.(*messages.Message)
	if !ok {
		return fmt.Errorf("unexpected message item type %T", item)
	}
	peerID := types.PeerID(msg.SenderPeer)

	if msg.ClientSeq > 0 {
		m.seqLock.Lock()
		if msg.ClientSeq <= m.lastSeq[peerID] {
			m.seqLock.Unlock()
			return fmt.Errorf("stale sequence %d from peer %d", msg.ClientSeq, peerID)
		}
		m.lastSeq[peerID] = msg.ClientSeq
		m.seqLock.Unlock()
	}
	m.fabric.Touch(peerID)

	switch msg.Type {
	case messages.MessageTypeClientPing:
		var p pingPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal ping: %v", err)
		}
		return m.fabric.RecordPing(peerID, p.PingMs, p.Loss)

	case messages.MessageTypePositionUpdate:
		var p positionUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal position update: %v", err)
		}
		return m.grid.Move(peerID, p.Position)

	case messages.MessageTypeSessionCreate:
		var p sessionCreatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal session create: %v", err)
		}
		p.Settings.Password = p.Password
		return m.fabric.Create(p.SessionID, peerID, p.Name, p.Settings)

	case messages.MessageTypeSessionJoin:
		var p sessionJoinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal session join: %v", err)
		}
		return m.fabric.Join(p.SessionID, peerID, p.Name, p.Password)

	case messages.MessageTypeSessionStart:
		var p sessionControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal session start: %v", err)
		}
		return m.fabric.Start(p.SessionID, peerID)

	case messages.MessageTypeSessionLeave:
		m.fabric.Leave(peerID, "client request")
		return nil

	case messages.MessageTypeSessionEnd:
		var p sessionControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal session end: %v", err)
		}
		return m.fabric.End(p.SessionID, peerID)

	case messages.MessageTypeGameMode:
		var p gameModePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal game mode: %v", err)
		}
		return m.fabric.SetGameMode(p.SessionID, peerID, p.GameMode)

	case messages.MessageTypeWorldState:
		var p worldStatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal world state: %v", err)
		}
		return m.fabric.UpdateWorldState(p.SessionID, peerID, p.GameTime, p.Weather, p.TimeScale)

	case messages.MessageTypeSeatClaim:
		var p seatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal seat claim: %v", err)
		}
		return m.fabric.ClaimSeat(p.Vehicle, p.Seat, peerID)

	case messages.MessageTypeSeatLeave:
		var p seatPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal seat leave: %v", err)
		}
		m.fabric.LeaveSeat(p.Vehicle, peerID)
		return nil

	case messages.MessageTypeInventoryUpdate:
		var snapshot inventory.Snapshot
		if err := json.Unmarshal(msg.Payload, &snapshot); err != nil {
			return fmt.Errorf("failed to unmarshal inventory update: %v", err)
		}
		snapshot.PeerID = peerID
		return m.inventory.ApplySnapshot(snapshot)

	case messages.MessageTypeTransferRequest:
		var p transferRequestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal transfer request: %v", err)
		}
		_, err := m.inventory.RequestTransfer(peerID, p.ToPeer, p.ItemID, p.Quantity)
		return err

	case messages.MessageTypeTransferApprove:
		var p transferDecisionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal transfer approve: %v", err)
		}
		return m.inventory.ApproveTransfer(p.RequestID)

	case messages.MessageTypeTransferDeny:
		var p transferDecisionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal transfer deny: %v", err)
		}
		return m.inventory.DenyTransfer(p.RequestID, p.Reason)

	case messages.MessageTypeTransferCancel:
		var p transferDecisionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal transfer cancel: %v", err)
		}
		return m.inventory.CancelTransfer(p.RequestID, p.Reason)

	case messages.MessageTypeWorldPickup:
		var p worldPickupPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal world pickup: %v", err)
		}
		return m.inventory.RegisterWorldPickup(p.ItemID, p.Position, peerID)

	case messages.MessageTypeHealthUpdate:
		var p healthUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal health update: %v", err)
		}
		return m.vitals.ApplyHealthUpdate(peerID, vitals.HealthUpdate{
			Health:     vitals.Stat{Current: p.Health, Max: p.MaxHealth},
			Armor:      vitals.Stat{Current: p.Armor, Max: p.MaxArmor},
			Stamina:    vitals.Stat{Current: p.Stamina, Max: p.MaxStamina},
			Attacker:   p.Attacker,
			WeaponType: p.WeaponType,
		})

	case messages.MessageTypeStatusApply:
		var p statusApplyPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal status apply: %v", err)
		}
		target := p.Target
		if target == 0 {
			target = peerID
		}
		_, err := m.statuses.Apply(target, p.Kind, peerID)
		return err

	case messages.MessageTypeStatusRemove:
		var p statusRemovePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal status remove: %v", err)
		}
		return m.statuses.Remove(peerID, p.Kind)

	case messages.MessageTypeCyberwareInstall:
		var p cyberwareInstallPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal cyberware install: %v", err)
		}
		return m.cyberware.Install(peerID, p.ID, p.Slot, p.Ability)

	case messages.MessageTypeCyberwareActivate:
		var p cyberwareActivatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal cyberware activate: %v", err)
		}
		return m.cyberware.Activate(peerID, p.ID)

	case messages.MessageTypeCyberwareRepair:
		var p cyberwareRepairPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal cyberware repair: %v", err)
		}
		if p.ClearMalfunction {
			if err := m.cyberware.ClearMalfunction(peerID, p.ID); err != nil {
				return err
			}
		}
		return m.cyberware.SetCondition(peerID, p.ID, p.Health, p.Battery)

	case messages.MessageTypeCombatUpdate:
		var p combat.SyncData
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal combat update: %v", err)
		}
		return m.combat.Update(peerID, p)

	case messages.MessageTypeWeaponFire:
		var p combat.FireData
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal weapon fire: %v", err)
		}
		return m.combat.Fire(peerID, p)

	case messages.MessageTypeDamageDealt:
		var p damageDealtPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal damage dealt: %v", err)
		}
		if err := m.combat.DamageDealt(peerID, p.Target, p.Damage); err != nil {
			return err
		}
		if p.TargetPeer != 0 {
			hit := combat.Hit{
				SourcePeer: peerID,
				Target:     p.Target,
				RawDamage:  p.Damage,
				Critical:   p.Critical,
				Headshot:   p.Headshot,
				Kind:       p.Kind,
			}
			if agg, ok := m.vitals.AggregateOf(p.TargetPeer); ok {
				hit.Armor = agg.Armor.Current
				hit.Invulnerable = agg.Flags.Unconscious
			}
			if damage := m.damage.Apply(hit); damage > 0 {
				m.vitals.ApplyDamage(p.TargetPeer, -damage, peerID, string(p.Kind))
			}
		}
		return nil

	case messages.MessageTypeMissionCreate:
		var p missionCreatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal mission create: %v", err)
		}
		_, err := m.missions.Create(peerID, p.QuestID, p.Participants)
		return err

	case messages.MessageTypeMissionReady:
		var p missionControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal mission ready: %v", err)
		}
		return m.missions.Ready(p.MissionID, peerID)

	case messages.MessageTypeMissionPhase:
		var p missionControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal mission phase: %v", err)
		}
		return m.missions.SetPhase(p.MissionID, peerID, p.Phase)

	case messages.MessageTypeObjectiveUpdate:
		var p objectiveUpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal objective update: %v", err)
		}
		return m.missions.UpdateObjective(p.MissionID, peerID, p.Objective)

	case messages.MessageTypeDialogueBegin:
		var p dialogueBeginPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal dialogue begin: %v", err)
		}
		return m.missions.BeginDialogue(p.MissionID, peerID, p.Speaker, p.DialogueID)

	case messages.MessageTypeDialogueChoice:
		var p dialogueChoicePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal dialogue choice: %v", err)
		}
		return m.missions.SubmitChoice(p.MissionID, peerID, p.ChoiceIndex, p.Approve)

	case messages.MessageTypeCheckpointCreate:
		var p checkpointCreatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint create: %v", err)
		}
		_, err := m.missions.CreateCheckpoint(p.MissionID, peerID, p.Name)
		return err

	case messages.MessageTypeCheckpointRestore:
		var p checkpointRestorePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal checkpoint restore: %v", err)
		}
		return m.missions.RestoreCheckpoint(p.MissionID, peerID, p.CheckpointID)

	case messages.MessageTypeApartmentEnter:
		var p apartmentEnterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal apartment enter: %v", err)
		}
		owner := p.Owner
		if owner == 0 {
			owner = peerID
		}
		return m.instances.EnterApartment(p.LocationID, owner, peerID)

	case messages.MessageTypeStoreEnter:
		var p storeEnterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal store enter: %v", err)
		}
		return m.instances.EnterStore(p.LocationID, peerID)

	case messages.MessageTypeCustomEnter:
		var p storeEnterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal custom enter: %v", err)
		}
		return m.instances.EnterCustom(p.LocationID, peerID)

	case messages.MessageTypeInstanceLeave:
		m.instances.Leave(peerID)
		return nil

	case messages.MessageTypePermissionsSet:
		var p permissionsSetPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("failed to unmarshal permissions set: %v", err)
		}
		perms := instances.Permissions{
			Public:       p.Public,
			AllowFriends: p.AllowFriends,
			AllowGuild:   p.AllowGuild,
			Allowed:      make(map[types.PeerID]struct{}, len(p.Allowed)),
			Blocked:      make(map[types.PeerID]struct{}, len(p.Blocked)),
		}
		for _, id := range p.Allowed {
			perms.Allowed[id] = struct{}{}
		}
		for _, id := range p.Blocked {
			perms.Blocked[id] = struct{}{}
		}
		return m.instances.SetPermissions(p.LocationID, peerID, perms)

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}
