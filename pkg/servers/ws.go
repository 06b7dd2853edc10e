package servers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/messages"
	"github.com/duskworks/coopcore/pkg/queue"
	"github.com/duskworks/coopcore/pkg/types"
)

// DisconnectHandler runs when a peer's connection closes for any reason.
type DisconnectHandler func(peerID types.PeerID)

// WSServer accepts peer connections over WebSocket, assigns peer ids, and
// feeds decoded messages into the inbound queue.
type WSServer struct {
	addr         string
	peers        *PeerManager
	codec        *messages.Codec
	inboundQueue queue.Queue
	onDisconnect DisconnectHandler
}

type NewWSServerOptions struct {
	Addr         string
	Peers        *PeerManager
	Codec        *messages.Codec
	InboundQueue queue.Queue
	OnDisconnect DisconnectHandler
}

func NewWSServer(opts NewWSServerOptions) *WSServer {
	return &WSServer{
		addr:         opts.Addr,
		peers:        opts.Peers,
		codec:        opts.Codec,
		inboundQueue: opts.InboundQueue,
		onDisconnect: opts.OnDisconnect,
	}
}

// Start runs the listener until the context is cancelled.
func (s *WSServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Error("Failed to accept WebSocket connection: %v", err)
			return
		}
		go s.handleConnection(ctx, conn)
	})

	server := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("WebSocket server listening on %s", s.addr)
	if err := server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("WebSocket server closed")
			return nil
		}
		return fmt.Errorf("websocket server error: %v", err)
	}
	return nil
}

// handshake is the first frame a peer sends; the server replies with the
// assigned peer id.
type handshakeReply struct {
	PeerID types.PeerID `json:"peerId"`
}

func (s *WSServer) handleConnection(ctx context.Context, conn *websocket.Conn) {
	connCtx, cancel := context.WithCancel(ctx)
	peer, err := s.peers.addPeer(conn, cancel)
	if err != nil {
		log.Error("Failed to register peer: %v", err)
		cancel()
		conn.Close(websocket.StatusTryAgainLater, "server full")
		return
	}
	defer func() {
		cancel()
		s.peers.removePeer(peer.id)
		conn.Close(websocket.StatusNormalClosure, "")
		if s.onDisconnect != nil {
			s.onDisconnect(peer.id)
		}
		log.Debug("Peer %d disconnected", peer.id)
	}()

	if err := s.sendHandshake(connCtx, peer); err != nil {
		log.Error("Failed to send handshake to peer %d: %v", peer.id, err)
		return
	}
	log.Debug("Peer %d connected", peer.id)

	go s.peers.writeLoop(connCtx, peer)

	for {
		msgType, frame, err := conn.Read(connCtx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && connCtx.Err() == nil {
				log.Debug("Read error for peer %d: %v", peer.id, err)
			}
			return
		}
		if msgType != websocket.MessageBinary {
			continue
		}
		if err := s.enqueue(peer.id, frame); err != nil {
			log.Debug("Rejected frame from peer %d: %v", peer.id, err)
		}
	}
}

func (s *WSServer) sendHandshake(ctx context.Context, peer *peerConn) error {
	payload, err := json.Marshal(handshakeReply{PeerID: peer.id})
	if err != nil {
		return fmt.Errorf("failed to marshal handshake: %v", err)
	}
	frame, err := s.codec.Encode(payload)
	if err != nil {
		return fmt.Errorf("failed to encode handshake: %v", err)
	}
	return peer.conn.Write(ctx, websocket.MessageBinary, frame)
}

func (s *WSServer) enqueue(peerID types.PeerID, frame []byte) error {
	if len(frame) > messages.MessageBufferSize {
		return fmt.Errorf("frame exceeds %d bytes", messages.MessageBufferSize)
	}
	payload, err := s.codec.Decode(frame)
	if err != nil {
		return err
	}
	msg := &messages.Message{}
	if err := json.Unmarshal(payload, msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %v", err)
	}
	// The connection owns the sender identity; the field in the frame is
	// ignored.
	msg.SenderPeer = uint32(peerID)
	if err := s.inboundQueue.Enqueue(msg); err != nil {
		return fmt.Errorf("failed to enqueue message: %v", err)
	}
	return nil
}
