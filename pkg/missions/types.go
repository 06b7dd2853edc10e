package missions

import (
	"time"

	"github.com/duskworks/coopcore/pkg/types"
)

// State is the lifecycle state of a mission.
type State string

const (
	StateStarting   State = "starting"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateEnded      State = "ended"
)

// ObjectiveState is the state of one mission objective.
type ObjectiveState string

const (
	ObjectiveInactive  ObjectiveState = "inactive"
	ObjectiveActive    ObjectiveState = "active"
	ObjectiveCompleted ObjectiveState = "completed"
	ObjectiveFailed    ObjectiveState = "failed"
	ObjectiveOptional  ObjectiveState = "optional"
)

// Objective is one quest objective tracked by a mission.
type Objective struct {
	ID       string         `json:"id"`
	State    ObjectiveState `json:"state"`
	Progress float64        `json:"progress"`
	Optional bool           `json:"optional"`
}

// Checkpoint is a named snapshot of quest state a mission can roll back to.
type Checkpoint struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	CreatedBy  types.PeerID         `json:"createdBy"`
	CreatedAt  time.Time            `json:"createdAt"`
	QuestID    string               `json:"questId"`
	Phase      string               `json:"phase"`
	Objectives map[string]Objective `json:"objectives"`
}

// proposal is one dialogue choice under vote. The suggester counts as the
// first approval.
type proposal struct {
	choiceIndex int
	approvals   map[types.PeerID]struct{}
	rejections  map[types.PeerID]struct{}
	submittedAt time.Time
	order       int
}

// DialogueSession is the synchronized multi-party dialogue vote embedded in
// a mission. At most one session is active per mission.
type DialogueSession struct {
	Speaker    string
	DialogueID string
	Deadline   time.Time

	proposals map[int]*proposal
	nextOrder int
}

// Mission is one cooperative quest in flight.
type Mission struct {
	ID           types.MissionID
	QuestID      string
	Phase        string
	State        State
	Host         types.PeerID
	Participants []types.PeerID
	Objectives   map[string]*Objective
	Checkpoints  []Checkpoint
	Dialogue     *DialogueSession
	SyncVersion  uint64

	ready      map[types.PeerID]struct{}
	lastUpdate time.Time
	endedAt    time.Time
}

func (m *Mission) hasParticipant(peerID types.PeerID) bool {
	for _, p := range m.Participants {
		if p == peerID {
			return true
		}
	}
	return false
}
