package missions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// dialogueTimeout is the absolute deadline for a dialogue vote.
	dialogueTimeout = 60 * time.Second
	// missionGCTTL garbage-collects a terminated mission after this long
	// without updates.
	missionGCTTL = time.Hour
)

// MembershipFunc reports whether a peer is a known session member. The
// session fabric supplies it.
type MembershipFunc func(peerID types.PeerID) bool

// Coordinator is the distributed quest/objective state machine with
// synchronized dialogue voting and checkpoint rollback. Mission and
// dialogue state share one lock domain, separate from the owning peer
// records.
type Coordinator struct {
	lock     sync.RWMutex
	missions map[types.MissionID]*Mission
	byPeer   map[types.PeerID]types.MissionID

	membership MembershipFunc
	port       broadcast.Port
	metrics    *metrics.Registry
	now        func() time.Time
}

type NewCoordinatorOptions struct {
	Membership MembershipFunc
	Port       broadcast.Port
	Metrics    *metrics.Registry
	Now        func() time.Time
}

func NewCoordinator(opts NewCoordinatorOptions) *Coordinator {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		missions:   make(map[types.MissionID]*Mission),
		byPeer:     make(map[types.PeerID]types.MissionID),
		membership: opts.Membership,
		port:       port,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// Create starts a mission hosted by host. Every participant must be a known
// session member and not already in a mission. The mission stays in
// Starting until all participants signal ready.
func (c *Coordinator) Create(host types.PeerID, questID string, participants []types.PeerID) (types.MissionID, error) {
	if !types.ValidShortID(questID) {
		return "", &types.ErrValidationFailed{Reason: "malformed quest id"}
	}
	if !containsPeer(participants, host) {
		participants = append([]types.PeerID{host}, participants...)
	}

	c.lock.Lock()
	for _, peerID := range participants {
		if c.membership != nil && !c.membership(peerID) {
			c.lock.Unlock()
			return "", &types.ErrNotFound{Kind: "peer"}
		}
		if _, busy := c.byPeer[peerID]; busy {
			c.lock.Unlock()
			return "", &types.ErrConflict{Reason: "peer already in a mission"}
		}
	}

	missionID := types.MissionID(uuid.NewString())
	mission := &Mission{
		ID:           missionID,
		QuestID:      questID,
		State:        StateStarting,
		Host:         host,
		Participants: append([]types.PeerID(nil), participants...),
		Objectives:   make(map[string]*Objective),
		ready:        make(map[types.PeerID]struct{}),
		lastUpdate:   c.now(),
	}
	c.missions[missionID] = mission
	for _, peerID := range participants {
		c.byPeer[peerID] = missionID
	}
	c.lock.Unlock()

	c.metrics.Inc("missions.created")
	c.broadcastState(missionID)
	return missionID, nil
}

// Ready records a participant's ready signal; when every participant is
// ready the mission transitions to InProgress.
func (c *Coordinator) Ready(missionID types.MissionID, peerID types.PeerID) error {
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
	mission.ready[peerID] = struct{}{}
	mission.lastUpdate = c.now()
	allReady := mission.State == StateStarting && len(mission.ready) == len(mission.Participants)
	if allReady {
		mission.State = StateInProgress
		mission.SyncVersion++
	}
	c.lock.Unlock()

	if allReady {
		c.metrics.Inc("missions.started")
		c.broadcastState(missionID)
	}
	return nil
}

// SetPhase sets the host-supplied quest phase.
func (c *Coordinator) SetPhase(missionID types.MissionID, peerID types.PeerID, phase string) error {
	c.lock.Lock()
	mission, ok := c.missions[missionID]
	if !ok {
		c.lock.Unlock()
		return &types.ErrNotFound{Kind: "mission", ID: string(missionID)}
	}
	if mission.Host != peerID {
		c.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host sets the phase"}
	}
	mission.Phase = phase
	mission.SyncVersion++
	mission.lastUpdate = c.now()
	c.lock.Unlock()

	c.broadcastState(missionID)
	return nil
}

// UpdateObjective upserts an objective. The mission completes automatically
// when every non-optional objective is completed.
func (c *Coordinator) UpdateObjective(missionID types.MissionID, peerID types.PeerID, objective Objective) error {
	if objective.Progress < 0 || objective.Progress > 1 {
		return &types.ErrValidationFailed{Reason: "objective progress out of range"}
	}

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
	obj := objective
	mission.Objectives[objective.ID] = &obj
	mission.SyncVersion++
	mission.lastUpdate = c.now()

	completed := mission.State == StateInProgress && missionComplete(mission)
	if completed {
		mission.State = StateCompleted
		mission.endedAt = c.now()
	}
	snapshot := obj
	c.lock.Unlock()

	c.port.Publish(broadcast.Event{
		Kind:       broadcast.EventObjectiveState,
		SenderPeer: peerID,
		Payload: map[string]interface{}{
			"missionId": missionID,
			"objective": snapshot,
		},
		Recipients: c.participantsOf(missionID),
	})
	if completed {
		c.metrics.Inc("missions.completed")
		c.broadcastState(missionID)
	}
	return nil
}

func missionComplete(mission *Mission) bool {
	any := false
	for _, obj := range mission.Objectives {
		if obj.Optional {
			continue
		}
		any = true
		if obj.State != ObjectiveCompleted {
			return false
		}
	}
	return any
}

// RemovePeer drops a participant. Host transfers to the first remaining
// participant; an empty mission ends.
func (c *Coordinator) RemovePeer(peerID types.PeerID) {
	c.lock.Lock()
	missionID, ok := c.byPeer[peerID]
	if !ok {
		c.lock.Unlock()
		return
	}
	delete(c.byPeer, peerID)
	mission := c.missions[missionID]
	if mission == nil {
		c.lock.Unlock()
		return
	}
	for i, p := range mission.Participants {
		if p == peerID {
			mission.Participants = append(mission.Participants[:i], mission.Participants[i+1:]...)
			break
		}
	}
	delete(mission.ready, peerID)
	mission.lastUpdate = c.now()
	if len(mission.Participants) == 0 {
		mission.State = StateEnded
		mission.endedAt = c.now()
	} else if mission.Host == peerID {
		mission.Host = mission.Participants[0]
	}
	mission.SyncVersion++
	c.lock.Unlock()

	c.broadcastState(missionID)
}

// MissionOf returns the mission id a peer participates in.
func (c *Coordinator) MissionOf(peerID types.PeerID) (types.MissionID, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	missionID, ok := c.byPeer[peerID]
	return missionID, ok
}

// Snapshot returns a copy of a mission's public state.
func (c *Coordinator) Snapshot(missionID types.MissionID) (Mission, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	mission, ok := c.missions[missionID]
	if !ok {
		return Mission{}, false
	}
	return copyMission(mission), true
}

func copyMission(mission *Mission) Mission {
	snapshot := *mission
	snapshot.Participants = append([]types.PeerID(nil), mission.Participants...)
	snapshot.Objectives = make(map[string]*Objective, len(mission.Objectives))
	for id, obj := range mission.Objectives {
		o := *obj
		snapshot.Objectives[id] = &o
	}
	snapshot.Checkpoints = append([]Checkpoint(nil), mission.Checkpoints...)
	snapshot.ready = nil
	snapshot.Dialogue = nil
	return snapshot
}

func (c *Coordinator) participantsOf(missionID types.MissionID) []types.PeerID {
	c.lock.RLock()
	defer c.lock.RUnlock()
	mission, ok := c.missions[missionID]
	if !ok {
		return nil
	}
	return append([]types.PeerID(nil), mission.Participants...)
}

func (c *Coordinator) broadcastState(missionID types.MissionID) {
	snapshot, ok := c.Snapshot(missionID)
	if !ok {
		return
	}
	c.port.Publish(broadcast.Event{
		Kind:       broadcast.EventMissionState,
		SenderPeer: snapshot.Host,
		Payload:    snapshot,
		Recipients: append([]types.PeerID(nil), snapshot.Participants...),
	})
}

// Tick executes timed-out dialogue votes and garbage-collects terminated
// missions.
func (c *Coordinator) Tick() {
	now := c.now()

	c.lock.Lock()
	var executions []execution
	for _, mission := range c.missions {
		if mission.Dialogue != nil && now.After(mission.Dialogue.Deadline) {
			if exec, ok := c.executeTimeoutLocked(mission); ok {
				executions = append(executions, exec)
			} else {
				mission.Dialogue = nil
			}
		}
	}
	var collected []types.MissionID
	for missionID, mission := range c.missions {
		terminated := mission.State == StateCompleted || mission.State == StateFailed || mission.State == StateEnded
		if terminated && !mission.endedAt.IsZero() && now.Sub(mission.lastUpdate) > missionGCTTL {
			collected = append(collected, missionID)
			for _, peerID := range mission.Participants {
				delete(c.byPeer, peerID)
			}
			delete(c.missions, missionID)
		}
	}
	c.lock.Unlock()

	for _, exec := range executions {
		c.announceExecution(exec)
	}
	for _, missionID := range collected {
		log.Debug("Garbage-collected mission %s", missionID)
		c.metrics.Inc("missions.collected")
	}
}

func containsPeer(peers []types.PeerID, peerID types.PeerID) bool {
	for _, p := range peers {
		if p == peerID {
			return true
		}
	}
	return false
}
