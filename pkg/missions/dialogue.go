package missions

import (
	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/types"
)

type execution struct {
	missionID   types.MissionID
	choiceIndex int
	recipients  []types.PeerID
}

// BeginDialogue starts a dialogue vote on behalf of the host. At most one
// session is active per mission; the vote times out after 60 seconds.
func (c *Coordinator) BeginDialogue(missionID types.MissionID, peerID types.PeerID, speaker, dialogueID string) error {
	c.lock.Lock()
	mission, ok := c.missions[missionID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "mission", ID: string(missionID)}
	}
	if mission.Host != peerID {
		c.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host begins dialogue"}
	}
	if mission.Dialogue != nil {
		c.lock.Unlock()
		return &types.ErrConflict{Reason: "dialogue already active"}
	}
	mission.Dialogue = &DialogueSession{
		Speaker:    speaker,
		DialogueID: dialogueID,
		Deadline:   c.now().Add(dialogueTimeout),
		proposals:  make(map[int]*proposal),
	}
	mission.lastUpdate = c.now()
	speakerCopy := speaker
	dialogueCopy := dialogueID
	recipients := append([]types.PeerID(nil), mission.Participants...)
	c.lock.Unlock()

	c.port.Publish(broadcast.Event{
		Kind:       broadcast.EventDialogueState,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"missionId":  missionID,
			"speaker":    speakerCopy,
			"dialogueId": dialogueCopy,
		},
		Recipients: recipients,
	})
	return nil
}

// SubmitChoice records a participant's vote on a choice index. The
// submitter of a new proposal counts as its first approval. The choice
// executes when the host submits it or when its approvals reach a strict
// majority of participants.
func (c *Coordinator) SubmitChoice(missionID types.MissionID, peerID types.PeerID, choiceIndex int, approve bool) error {
	c.lock.Lock()
	mission, ok := c.missions[missionID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "mission", ID: string(missionID)}
	}
	if !mission.hasParticipant(peerID) {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "participant"}
	}
	session := mission.Dialogue
	if session == nil {
		c.lock.Unlock()
		return &types.ErrConflict{Reason: "no active dialogue"}
	}

	prop, exists := session.proposals[choiceIndex]
	if !exists {
		if !approve {
			c.lock.Unlock()
			return &types.ErrValidationFailed{Reason: "cannot reject an unproposed choice"}
		}
		session.nextOrder++
		prop = &proposal{
			choiceIndex: choiceIndex,
			approvals:   make(map[types.PeerID]struct{}),
			rejections:  make(map[types.PeerID]struct{}),
			submittedAt: c.now(),
			order:       session.nextOrder,
		}
		session.proposals[choiceIndex] = prop
	}
	if approve {
		delete(prop.rejections, peerID)
		prop.approvals[peerID] = struct{}{}
	} else {
		delete(prop.approvals, peerID)
		prop.rejections[peerID] = struct{}{}
	}
	mission.lastUpdate = c.now()

	majority := len(mission.Participants)/2 + 1
	execute := (approve && peerID == mission.Host) || len(prop.approvals) >= majority
	var exec execution
	if execute {
		mission.Dialogue = nil
		exec = execution{
			missionID:   missionID,
			choiceIndex: choiceIndex,
			recipients:  append([]types.PeerID(nil), mission.Participants...),
		}
	}
	c.lock.Unlock()

	if execute {
		c.announceExecution(exec)
	}
	return nil
}

// executeTimeoutLocked picks the winning proposal of a timed-out vote: the
// proposal with the most approvals, ties broken by earliest submission.
// Caller holds the write lock. Returns false when no proposal exists.
func (c *Coordinator) executeTimeoutLocked(mission *Mission) (execution, bool) {
	session := mission.Dialogue
	if session == nil || len(session.proposals) == 0 {
		return execution{}, false
	}
	var winner *proposal
	for _, prop := range session.proposals {
		if winner == nil {
			winner = prop
			continue
		}
		if len(prop.approvals) > len(winner.approvals) ||
			(len(prop.approvals) == len(winner.approvals) && prop.order < winner.order) {
			winner = prop
		}
	}
	mission.Dialogue = nil
	return execution{
		missionID:   mission.ID,
		choiceIndex: winner.choiceIndex,
		recipients:  append([]types.PeerID(nil), mission.Participants...),
	}, true
}

func (c *Coordinator) announceExecution(exec execution) {
	c.metrics.Inc("missions.dialogue_choices")
	c.port.Publish(broadcast.Event{
		Kind: broadcast.EventDialogueChoiceExecuted,
		Payload: map[string]interface{}{
			"missionId":   exec.missionID,
			"choiceIndex": exec.choiceIndex,
		},
		Recipients: exec.recipients,
	})
}
