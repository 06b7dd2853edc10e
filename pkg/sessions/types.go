package sessions

import (
	"time"

	"github.com/duskworks/coopcore/pkg/types"
)

// State is the lifecycle state of a session.
type State string

const (
	StateLobby  State = "lobby"
	StateActive State = "active"
	StateEnded  State = "ended"
)

const (
	// DefaultMaxPlayers is the player cap when settings leave it unset.
	DefaultMaxPlayers = 8
	// MaxPlayersLimit is the hard upper bound on configured player caps.
	MaxPlayersLimit = 32
	// idleDisconnectTTL drops a peer after this long without any inbound
	// activity.
	idleDisconnectTTL = 5 * time.Minute
)

// Privacy controls who may discover and join a session.
type Privacy string

const (
	PrivacyPublic  Privacy = "public"
	PrivacyFriends Privacy = "friends"
	PrivacyPrivate Privacy = "private"
)

const (
	// MinDifficultyScale and MaxDifficultyScale bound the host-configured
	// difficulty multiplier.
	MinDifficultyScale = 0.25
	MaxDifficultyScale = 4.0
)

// Settings are the host-configured session parameters.
type Settings struct {
	Name            string  `json:"name"`
	MaxPlayers      int     `json:"maxPlayers"`
	Password        string  `json:"-"`
	Privacy         Privacy `json:"privacy"`
	AllowDropIn     bool    `json:"allowDropIn"`
	GameMode        string  `json:"gameMode"`
	EconomyMode     string  `json:"economyMode"`
	ProgressMode    string  `json:"progressMode"`
	DifficultyScale float64 `json:"difficultyScale"`
}

// WorldState is the shared world clock and weather the host syncs to the
// session. SyncVersion bumps on every membership change the clients must
// reconcile against.
type WorldState struct {
	GameTime      float64 `json:"gameTime"`
	Weather       string  `json:"weather"`
	TimeScale     float64 `json:"timeScale"`
	ActivePlayers int     `json:"activePlayers"`
	SyncVersion   uint64  `json:"syncVersion"`
}

// Peer is one connected member of a session.
type Peer struct {
	ID       types.PeerID            `json:"id"`
	Name     string                  `json:"name"`
	PingMs   float64                 `json:"pingMs"`
	Loss     float64                 `json:"loss"`
	Quality  types.ConnectionQuality `json:"quality"`
	JoinedAt time.Time               `json:"joinedAt"`

	lastActivity time.Time
}

// Session is one cooperative play session.
type Session struct {
	ID       types.SessionID
	Host     types.PeerID
	State    State
	Settings Settings
	World    WorldState
	Peers    map[types.PeerID]*Peer
	Created  time.Time
}

func (s *Session) peerList() []types.PeerID {
	peers := make([]types.PeerID, 0, len(s.Peers))
	for id := range s.Peers {
		peers = append(peers, id)
	}
	return peers
}

// Observer receives membership lifecycle callbacks. Callbacks run outside
// the fabric's locks.
type Observer interface {
	PeerJoined(sessionID types.SessionID, peerID types.PeerID)
	PeerLeft(sessionID types.SessionID, peerID types.PeerID, reason string)
	HostChanged(sessionID types.SessionID, from, to types.PeerID)
}
