package sessions

import (
	"sync"
	"time"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

// JoinRecorder persists session join history. The storage layer supplies it.
type JoinRecorder interface {
	RecordJoin(sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) error
}

// Fabric owns session lifecycle, membership, connection quality, and host
// migration.
type Fabric struct {
	lock     sync.RWMutex
	sessions map[types.SessionID]*Session
	byPeer   map[types.PeerID]types.SessionID

	observersLock sync.RWMutex
	observers     []Observer

	port     broadcast.Port
	recorder JoinRecorder
	metrics  *metrics.Registry
	now      func() time.Time

	vehicles vehicleTable
}

type NewFabricOptions struct {
	Port     broadcast.Port
	Recorder JoinRecorder
	Metrics  *metrics.Registry
	Now      func() time.Time
}

func NewFabric(opts NewFabricOptions) *Fabric {
	port := opts.Port
	if port == nil {
		port = broadcast.NopPort{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Fabric{
		sessions: make(map[types.SessionID]*Session),
		byPeer:   make(map[types.PeerID]types.SessionID),
		port:     port,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		now:      now,
		vehicles: vehicleTable{seats: make(map[types.EntityID]map[int]types.PeerID)},
	}
}

// AddObserver registers a membership lifecycle observer.
func (f *Fabric) AddObserver(obs Observer) {
	f.observersLock.Lock()
	defer f.observersLock.Unlock()
	f.observers = append(f.observers, obs)
}

func (f *Fabric) eachObserver(fn func(Observer)) {
	f.observersLock.RLock()
	observers := append([]Observer(nil), f.observers...)
	f.observersLock.RUnlock()
	for _, obs := range observers {
		fn(obs)
	}
}

// Create opens a new session hosted by host. The host joins immediately and
// the session starts in the lobby.
func (f *Fabric) Create(sessionID types.SessionID, host types.PeerID, hostName string, settings Settings) error {
	if !types.ValidShortID(string(sessionID)) {
		return &types.ErrValidationFailed{Reason: "malformed session id"}
	}
	if settings.MaxPlayers == 0 {
		settings.MaxPlayers = DefaultMaxPlayers
	}
	if settings.MaxPlayers < 1 || settings.MaxPlayers > MaxPlayersLimit {
		return &types.ErrValidationFailed{Reason: "player cap out of range"}
	}
	if settings.Privacy == "" {
		settings.Privacy = PrivacyPublic
	}
	switch settings.Privacy {
	case PrivacyPublic, PrivacyFriends, PrivacyPrivate:
	default:
		return &types.ErrValidationFailed{Reason: "unknown privacy setting"}
	}
	if settings.DifficultyScale == 0 {
		settings.DifficultyScale = 1
	}
	if settings.DifficultyScale < MinDifficultyScale || settings.DifficultyScale > MaxDifficultyScale {
		return &types.ErrValidationFailed{Reason: "difficulty scale out of range"}
	}

	f.lock.Lock()
	if _, exists := f.sessions[sessionID]; exists {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "session id already in use"}
	}
	if _, busy := f.byPeer[host]; busy {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "host already in a session"}
	}
	now := f.now()
	session := &Session{
		ID:       sessionID,
		Host:     host,
		State:    StateLobby,
		Settings: settings,
		World:    WorldState{TimeScale: 1, ActivePlayers: 1, SyncVersion: 1},
		Peers: map[types.PeerID]*Peer{
			host: {ID: host, Name: hostName, Quality: types.QualityExcellent, JoinedAt: now, lastActivity: now},
		},
		Created: now,
	}
	f.sessions[sessionID] = session
	f.byPeer[host] = sessionID
	f.lock.Unlock()

	f.metrics.Inc("sessions.created")
	f.recordJoin(sessionID, host, hostName, now)
	f.eachObserver(func(obs Observer) { obs.PeerJoined(sessionID, host) })
	f.broadcastSession(sessionID)
	log.Info("Session %s created by peer %d", sessionID, host)
	return nil
}

// Join admits a peer into a session. Drop-in joins into an active session
// require the host to have enabled them.
func (f *Fabric) Join(sessionID types.SessionID, peerID types.PeerID, name, password string) error {
	f.lock.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.lock.Unlock()
		return &types.ErrNotFound{Kind: "session", ID: string(sessionID)}
	}
	if _, busy := f.byPeer[peerID]; busy {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "peer already in a session"}
	}
	switch session.State {
	case StateLobby:
	case StateActive:
		if !session.Settings.AllowDropIn {
			f.lock.Unlock()
			return &types.ErrConflict{Reason: "session does not accept drop-in joins"}
		}
	default:
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "session has ended"}
	}
	if len(session.Peers) >= session.Settings.MaxPlayers {
		f.lock.Unlock()
		return &types.ErrCapacityExceeded{Resource: "session players"}
	}
	if session.Settings.Password != "" && session.Settings.Password != password {
		f.lock.Unlock()
		return &types.ErrValidationFailed{Reason: "wrong password"}
	}
	now := f.now()
	session.Peers[peerID] = &Peer{ID: peerID, Name: name, Quality: types.QualityExcellent, JoinedAt: now, lastActivity: now}
	f.byPeer[peerID] = sessionID
	session.World.SyncVersion++
	session.World.ActivePlayers = len(session.Peers)
	f.lock.Unlock()

	f.metrics.Inc("sessions.joins")
	f.recordJoin(sessionID, peerID, name, now)
	f.eachObserver(func(obs Observer) { obs.PeerJoined(sessionID, peerID) })
	f.broadcastSession(sessionID)
	return nil
}

func (f *Fabric) recordJoin(sessionID types.SessionID, peerID types.PeerID, name string, at time.Time) {
	if f.recorder == nil {
		return
	}
	if err := f.recorder.RecordJoin(sessionID, peerID, name, at); err != nil {
		log.Error("Failed to record session join: %v", err)
	}
}

// Start transitions the session from lobby to active. Host only.
func (f *Fabric) Start(sessionID types.SessionID, peerID types.PeerID) error {
	f.lock.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.lock.Unlock()
		return &types.ErrNotFound{Kind: "session", ID: string(sessionID)}
	}
	if session.Host != peerID {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host starts the session"}
	}
	if session.State != StateLobby {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "session is not in the lobby"}
	}
	session.State = StateActive
	f.lock.Unlock()

	f.metrics.Inc("sessions.started")
	f.broadcastSession(sessionID)
	return nil
}

// SetGameMode changes the session's game mode. Host only.
func (f *Fabric) SetGameMode(sessionID types.SessionID, peerID types.PeerID, mode string) error {
	f.lock.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.lock.Unlock()
		return &types.ErrNotFound{Kind: "session", ID: string(sessionID)}
	}
	if session.Host != peerID {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host sets the game mode"}
	}
	session.Settings.GameMode = mode
	recipients := session.peerList()
	f.lock.Unlock()

	f.port.Publish(broadcast.Event{
		Kind:       broadcast.EventGameModeUpdate,
		SenderPeer: peerID,
		Payload:    map[string]interface{}{"sessionId": sessionID, "gameMode": mode},
		Recipients: recipients,
	})
	return nil
}

// UpdateWorldState applies the host's world clock and weather sync and
// bumps the sync version. Host only.
func (f *Fabric) UpdateWorldState(sessionID types.SessionID, peerID types.PeerID, gameTime float64, weather string, timeScale float64) error {
	if timeScale <= 0 {
		return &types.ErrValidationFailed{Reason: "time scale out of range"}
	}
	f.lock.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.lock.Unlock()
		return &types.ErrNotFound{Kind: "session", ID: string(sessionID)}
	}
	if session.Host != peerID {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host syncs world state"}
	}
	session.World.GameTime = gameTime
	session.World.Weather = weather
	session.World.TimeScale = timeScale
	session.World.SyncVersion++
	f.lock.Unlock()

	f.broadcastSession(sessionID)
	return nil
}

// Leave removes a peer from its session. The host role migrates when the
// host leaves; an empty session ends.
func (f *Fabric) Leave(peerID types.PeerID, reason string) {
	f.lock.Lock()
	sessionID, ok := f.byPeer[peerID]
	if !ok {
		f.lock.Unlock()
		return
	}
	session := f.sessions[sessionID]
	delete(f.byPeer, peerID)
	delete(session.Peers, peerID)
	f.vehicles.releaseAll(peerID)
	session.World.SyncVersion++
	session.World.ActivePlayers = len(session.Peers)

	var hostFrom, hostTo types.PeerID
	migrated := false
	if len(session.Peers) == 0 {
		session.State = StateEnded
		delete(f.sessions, sessionID)
	} else if session.Host == peerID {
		hostFrom = peerID
		hostTo = pickNewHost(session)
		session.Host = hostTo
		migrated = true
	}
	f.lock.Unlock()

	f.metrics.Inc("sessions.leaves")
	f.eachObserver(func(obs Observer) { obs.PeerLeft(sessionID, peerID, reason) })
	if migrated {
		f.metrics.Inc("sessions.host_migrations")
		f.eachObserver(func(obs Observer) { obs.HostChanged(sessionID, hostFrom, hostTo) })
		f.port.Publish(broadcast.Event{
			Kind:    broadcast.EventHostChanged,
			Payload: map[string]interface{}{"sessionId": sessionID, "from": hostFrom, "to": hostTo},
		})
		log.Info("Session %s host migrated from peer %d to peer %d", sessionID, hostFrom, hostTo)
	}
	f.broadcastSession(sessionID)
}

// pickNewHost selects the remaining peer in the best connection quality
// band, ties broken by earliest join time.
func pickNewHost(session *Session) types.PeerID {
	var best *Peer
	for _, peer := range session.Peers {
		if best == nil {
			best = peer
			continue
		}
		if peer.Quality < best.Quality ||
			(peer.Quality == best.Quality && peer.JoinedAt.Before(best.JoinedAt)) {
			best = peer
		}
	}
	return best.ID
}

// End terminates a session and evicts every member. Host only.
func (f *Fabric) End(sessionID types.SessionID, peerID types.PeerID) error {
	f.lock.Lock()
	session, ok := f.sessions[sessionID]
	if !ok {
		f.lock.Unlock()
		return &types.ErrNotFound{Kind: "session", ID: string(sessionID)}
	}
	if session.Host != peerID {
		f.lock.Unlock()
		return &types.ErrConflict{Reason: "only the host ends the session"}
	}
	evicted := session.peerList()
	for _, id := range evicted {
		delete(f.byPeer, id)
		f.vehicles.releaseAll(id)
	}
	session.State = StateEnded
	session.Peers = make(map[types.PeerID]*Peer)
	delete(f.sessions, sessionID)
	f.lock.Unlock()

	f.metrics.Inc("sessions.ended")
	for _, id := range evicted {
		evictedID := id
		f.eachObserver(func(obs Observer) { obs.PeerLeft(sessionID, evictedID, "session ended") })
	}
	f.port.Publish(broadcast.Event{
		Kind:       broadcast.EventSessionUpdate,
		SenderPeer: peerID,
		Payload:    map[string]interface{}{"sessionId": sessionID, "state": StateEnded},
		Recipients: evicted,
	})
	return nil
}

// RecordPing updates a peer's measured connection stats and derives its
// quality band. Counts as activity.
func (f *Fabric) RecordPing(peerID types.PeerID, pingMs, loss float64) error {
	if pingMs < 0 || loss < 0 || loss > 1 {
		return &types.ErrValidationFailed{Reason: "ping stats out of range"}
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	sessionID, ok := f.byPeer[peerID]
	if !ok {
		return &types.ErrNotFound{Kind: "peer"}
	}
	peer := f.sessions[sessionID].Peers[peerID]
	peer.PingMs = pingMs
	peer.Loss = loss
	peer.Quality = types.QualityFromPing(pingMs, loss)
	peer.lastActivity = f.now()
	return nil
}

// Touch marks inbound activity for a peer.
func (f *Fabric) Touch(peerID types.PeerID) {
	f.lock.Lock()
	defer f.lock.Unlock()
	sessionID, ok := f.byPeer[peerID]
	if !ok {
		return
	}
	f.sessions[sessionID].Peers[peerID].lastActivity = f.now()
}

// IsMember reports whether a peer belongs to any session.
func (f *Fabric) IsMember(peerID types.PeerID) bool {
	f.lock.RLock()
	defer f.lock.RUnlock()
	_, ok := f.byPeer[peerID]
	return ok
}

// SessionOf returns the session a peer belongs to.
func (f *Fabric) SessionOf(peerID types.PeerID) (types.SessionID, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	sessionID, ok := f.byPeer[peerID]
	return sessionID, ok
}

// Snapshot returns a copy of a session's public state.
func (f *Fabric) Snapshot(sessionID types.SessionID) (Session, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	snapshot := *session
	snapshot.Peers = make(map[types.PeerID]*Peer, len(session.Peers))
	for id, peer := range session.Peers {
		p := *peer
		snapshot.Peers[id] = &p
	}
	return snapshot, true
}

// Sessions returns the ids of all open sessions.
func (f *Fabric) Sessions() []types.SessionID {
	f.lock.RLock()
	defer f.lock.RUnlock()
	ids := make([]types.SessionID, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Tick disconnects peers idle past the TTL.
func (f *Fabric) Tick() {
	now := f.now()

	f.lock.RLock()
	var idle []types.PeerID
	for _, session := range f.sessions {
		for id, peer := range session.Peers {
			if now.Sub(peer.lastActivity) > idleDisconnectTTL {
				idle = append(idle, id)
			}
		}
	}
	f.lock.RUnlock()

	for _, peerID := range idle {
		log.Info("Disconnecting idle peer %d", peerID)
		f.metrics.Inc("sessions.idle_disconnects")
		f.Leave(peerID, "idle timeout")
	}
}

func (f *Fabric) broadcastSession(sessionID types.SessionID) {
	snapshot, ok := f.Snapshot(sessionID)
	if !ok {
		return
	}
	f.port.Publish(broadcast.Event{
		Kind:       broadcast.EventSessionUpdate,
		SenderPeer: snapshot.Host,
		Payload: map[string]interface{}{
			"sessionId": snapshot.ID,
			"state":     snapshot.State,
			"host":      snapshot.Host,
			"peers":     snapshot.Peers,
			"gameMode":  snapshot.Settings.GameMode,
			"world":     snapshot.World,
		},
		Recipients: snapshot.peerList(),
	})
}
