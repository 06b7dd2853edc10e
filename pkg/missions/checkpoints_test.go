package missions

import (
	"testing"

	"github.com/duskworks/coopcore/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCoordinator_CreateCheckpoint(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(nil)
	missionID := startedMission(t, coordinator)

	// Any participant can snapshot, not just the host.
	checkpointID, err := coordinator.CreateCheckpoint(missionID, 2, "before_vault")
	assert.NoError(t, err)
	assert.NotEmpty(t, checkpointID)

	mission, _ := coordinator.Snapshot(missionID)
	assert.Len(t, mission.Checkpoints, 1)
	assert.Equal(t, "before_vault", mission.Checkpoints[0].Name)
	assert.Equal(t, types.PeerID(2), mission.Checkpoints[0].CreatedBy)

	_, err = coordinator.CreateCheckpoint(missionID, 1, "bad name!")
	assert.True(t, types.IsValidationFailed(err))

	_, err = coordinator.CreateCheckpoint(missionID, 9, "ok_name")
	assert.True(t, types.IsNotFound(err))

	_, err = coordinator.CreateCheckpoint("nope", 1, "ok_name")
	assert.True(t, types.IsNotFound(err))
}

func TestCoordinator_RestoreCheckpoint(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(nil)
	missionID := startedMission(t, coordinator)

	assert.NoError(t, coordinator.SetPhase(missionID, 1, "act_one"))
	assert.NoError(t, coordinator.UpdateObjective(missionID, 1, Objective{
		ID: "main", State: ObjectiveActive, Progress: 0.5,
	}))

	checkpointID, err := coordinator.CreateCheckpoint(missionID, 1, "midpoint")
	assert.NoError(t, err)

	// Completing the mission and moving the phase on, then rolling back.
	assert.NoError(t, coordinator.SetPhase(missionID, 1, "act_two"))
	assert.NoError(t, coordinator.UpdateObjective(missionID, 1, Objective{
		ID: "main", State: ObjectiveCompleted, Progress: 1,
	}))
	mission, _ := coordinator.Snapshot(missionID)
	assert.Equal(t, StateCompleted, mission.State)

	err = coordinator.RestoreCheckpoint(missionID, 2, checkpointID)
	assert.True(t, types.IsConflict(err), "only the host restores")

	assert.NoError(t, coordinator.RestoreCheckpoint(missionID, 1, checkpointID))
	mission, _ = coordinator.Snapshot(missionID)
	assert.Equal(t, StateInProgress, mission.State, "completed rolls back to in progress")
	assert.Equal(t, "act_one", mission.Phase)
	assert.Equal(t, 0.5, mission.Objectives["main"].Progress)
	assert.Equal(t, ObjectiveActive, mission.Objectives["main"].State)

	assert.True(t, types.IsNotFound(coordinator.RestoreCheckpoint(missionID, 1, "nope")))
}

func TestCoordinator_RestoreClearsDialogue(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(nil)
	missionID := startedMission(t, coordinator)

	checkpointID, err := coordinator.CreateCheckpoint(missionID, 1, "start")
	assert.NoError(t, err)

	assert.NoError(t, coordinator.BeginDialogue(missionID, 1, "Judy", "dlg_rooftop"))
	assert.NoError(t, coordinator.RestoreCheckpoint(missionID, 1, checkpointID))

	err = coordinator.SubmitChoice(missionID, 2, 0, true)
	assert.True(t, types.IsConflict(err), "restore abandons the active vote")
}

func TestCoordinator_CheckpointHistoryCap(t *testing.T) {
	coordinator, _, _ := newTestCoordinator(nil)
	missionID := startedMission(t, coordinator)

	for i := 0; i < maxCheckpoints+3; i++ {
		_, err := coordinator.CreateCheckpoint(missionID, 1, "cp")
		assert.NoError(t, err)
	}
	mission, _ := coordinator.Snapshot(missionID)
	assert.Len(t, mission.Checkpoints, maxCheckpoints)
}
