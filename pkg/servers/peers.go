package servers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"

	"nhooyr.io/websocket"

	"github.com/duskworks/coopcore/pkg/broadcast"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/messages"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/types"
)

const (
	// PeerIDMaxRetries is the maximum number of retries when generating a
	// unique peer id.
	PeerIDMaxRetries = 1024
	// writeBufferSize is the per-connection outbound buffer; a peer that
	// cannot drain it has events dropped.
	writeBufferSize = 256
)

// peerConn is one connected peer's websocket and outbound buffer.
type peerConn struct {
	id     types.PeerID
	conn   *websocket.Conn
	sendCh chan []byte
	cancel context.CancelFunc
}

// PeerManager tracks connected peers and delivers resolved broadcast
// events to their sockets. It implements the dispatcher's Observer.
type PeerManager struct {
	lock  sync.RWMutex
	peers map[types.PeerID]*peerConn

	codec   *messages.Codec
	metrics *metrics.Registry
}

type NewPeerManagerOptions struct {
	Codec   *messages.Codec
	Metrics *metrics.Registry
}

func NewPeerManager(opts NewPeerManagerOptions) *PeerManager {
	return &PeerManager{
		peers:   make(map[types.PeerID]*peerConn),
		codec:   opts.Codec,
		metrics: opts.Metrics,
	}
}

// addPeer registers a connection under a fresh random peer id.
func (m *PeerManager) addPeer(conn *websocket.Conn, cancel context.CancelFunc) (*peerConn, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i := 0; i < PeerIDMaxRetries; i++ {
		id := types.PeerID(rand.Uint32())
		if id == 0 {
			continue
		}
		if _, exists := m.peers[id]; exists {
			continue
		}
		peer := &peerConn{
			id:     id,
			conn:   conn,
			sendCh: make(chan []byte, writeBufferSize),
			cancel: cancel,
		}
		m.peers[id] = peer
		return peer, nil
	}
	return nil, fmt.Errorf("failed to generate a unique peer id")
}

// removePeer drops the peer from the table and cancels its connection
// context. The send channel is never closed: a Deliver racing the removal
// may still hold a reference to it, and writeLoop exits through the context
// instead.
func (m *PeerManager) removePeer(id types.PeerID) {
	m.lock.Lock()
	peer, ok := m.peers[id]
	if ok {
		delete(m.peers, id)
	}
	m.lock.Unlock()
	if ok {
		peer.cancel()
	}
}

// Disconnect force-closes a peer's connection. The read loop observes the
// closure and runs the normal teardown path.
func (m *PeerManager) Disconnect(id types.PeerID) bool {
	m.lock.RLock()
	peer, ok := m.peers[id]
	m.lock.RUnlock()
	if !ok {
		return false
	}
	peer.cancel()
	return true
}

// Connected returns the number of connected peers.
func (m *PeerManager) Connected() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.peers)
}

// Deliver implements broadcast.Observer: it frames a resolved event and
// queues it on the recipient's socket. A full buffer drops the event.
func (m *PeerManager) Deliver(peerID types.PeerID, event broadcast.Event) {
	m.lock.RLock()
	peer, ok := m.peers[peerID]
	m.lock.RUnlock()
	if !ok {
		return
	}

	frame, err := m.encodeEvent(event)
	if err != nil {
		log.Error("Failed to encode event %s: %v", event.Kind, err)
		return
	}
	select {
	case peer.sendCh <- frame:
	default:
		m.metrics.Inc("servers.dropped_events")
		log.Debug("Dropped event %s for slow peer %d", event.Kind, peerID)
	}
}

type outboundEnvelope struct {
	Kind       string       `json:"kind"`
	SenderPeer types.PeerID `json:"senderPeer"`
	Payload    interface{}  `json:"payload"`
}

func (m *PeerManager) encodeEvent(event broadcast.Event) ([]byte, error) {
	payload, err := json.Marshal(outboundEnvelope{
		Kind:       event.Kind,
		SenderPeer: event.SenderPeer,
		Payload:    event.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %v", err)
	}
	return m.codec.Encode(payload)
}

// writeLoop drains a peer's outbound buffer onto the socket.
func (m *PeerManager) writeLoop(ctx context.Context, peer *peerConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-peer.sendCh:
			if err := peer.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				log.Debug("Failed to write to peer %d: %v", peer.id, err)
				peer.cancel()
				return
			}
			m.metrics.Inc("servers.delivered_events")
		}
	}
}
