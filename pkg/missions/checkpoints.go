package missions

import (
	"time"

	"github.com/google/uuid"

	"github.com/duskworks/coopcore/pkg/types"
)

// maxCheckpoints bounds per-mission checkpoint history; the oldest entry is
// dropped when the cap is reached.
const maxCheckpoints = 16

// CreateCheckpoint snapshots the mission's quest state under a name so the
// party can roll back to it later.
func (c *Coordinator) CreateCheckpoint(missionID types.MissionID, peerID types.PeerID, name string) (string, error) {
	if !types.ValidShortID(name) {
		return "", &types.ErrValidationFailed{Reason: "malformed checkpoint name"}
	}

	c.lock.Lock()
	mission, ok := c.missions[missionID]
	if !ok {
		c.lock.Unlock()
		return "", &types.ErrNotFound{Kind: "mission", ID: string(missionID)}
	}
	if !mission.hasParticipant(peerID) {
		c.lock.Unlock()
		return "", &types.ErrNotFound{Kind: "participant"}
	}

	checkpoint := Checkpoint{
		ID:         uuid.NewString(),
		Name:       name,
		CreatedBy:  peerID,
		CreatedAt:  c.now(),
		QuestID:    mission.QuestID,
		Phase:      mission.Phase,
		Objectives: make(map[string]Objective, len(mission.Objectives)),
	}
	for id, obj := range mission.Objectives {
		checkpoint.Objectives[id] = *obj
	}
	mission.Checkpoints = append(mission.Checkpoints, checkpoint)
	if len(mission.Checkpoints) > maxCheckpoints {
		mission.Checkpoints = mission.Checkpoints[1:]
	}
	mission.lastUpdate = c.now()
	c.lock.Unlock()

	c.metrics.Inc("missions.checkpoints_created")
	return checkpoint.ID, nil
}

// RestoreCheckpoint rolls the mission back to a previously created
// checkpoint. Only the host restores; the restored state is rebroadcast to
// the whole party under a bumped sync version.
func (c *Coordinator) RestoreCheckpoint(missionID types.MissionID, peerID types.PeerID, checkpointID string) error {
	c.lock.Lock()
	mission, ok := c.missions[missionID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "mission", ID: string(missionID)}
	}
	if mission.Host != peerID {
		c.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host restores checkpoints"}
	}
	var found *Checkpoint
	for i := range mission.Checkpoints {
		if mission.Checkpoints[i].ID == checkpointID {
			found = &mission.Checkpoints[i]
			break
		}
	}
	if found == nil {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "checkpoint", ID: checkpointID}
	}

	mission.QuestID = found.QuestID
	mission.Phase = found.Phase
	mission.Objectives = make(map[string]*Objective, len(found.Objectives))
	for id, obj := range found.Objectives {
		o := obj
		mission.Objectives[id] = &o
	}
	if mission.State == StateCompleted || mission.State == StateFailed {
		mission.State = StateInProgress
		mission.endedAt = time.Time{}
	}
	mission.Dialogue = nil
	mission.SyncVersion++
	mission.lastUpdate = c.now()
	c.lock.Unlock()

	c.metrics.Inc("missions.checkpoints_restored")
	c.broadcastState(missionID)
	return nil
}
