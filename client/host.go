// Package client wires the peer connection manager into the game layer:
// one orchestrator per role, pumping relay frames, channel traffic and
// session state into the host engine or the guest mirror.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tunewar/tunewar/game"
	"github.com/tunewar/tunewar/peer"
	"github.com/tunewar/tunewar/protocol"
)

// roomReplyTimeout bounds the wait for the relay's room-created/room-joined
// reply after dialing.
const roomReplyTimeout = 10 * time.Second

type HostConfig struct {
	SignalURL  string
	Self       game.Player
	Questions  []game.Question
	TimeLimit  time.Duration
	ICEServers []webrtc.ICEServer
	Store      game.Persister // optional
	Logger     *slog.Logger   // optional
}

// Host runs the host side of a game: it creates a room on the relay,
// answers inbound offers, and feeds guest traffic into the engine.
type Host struct {
	log *slog.Logger
	mgr *peer.Manager
	eng *game.Engine

	// Every inbound envelope is appended here; attach a cursor to consume
	// the stream without re-processing.
	Log game.MessageLog

	mu           sync.Mutex
	peerToPlayer map[string]string
	roomCode     string
}

// broadcastAdapter fans an envelope out to every guest channel. Closed
// channels are soft failures already logged by the manager.
type broadcastAdapter struct {
	mgr *peer.Manager
}

func (b broadcastAdapter) Broadcast(e game.Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b.mgr.Broadcast(raw)
	return nil
}

func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sig, err := peer.DialSignaler(ctx, cfg.SignalURL, logger)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}

	mgr := peer.NewManager(peer.ManagerConfig{
		Signaler:   sig,
		Role:       protocol.RoleHost,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
	})

	eng := game.NewEngine(game.EngineConfig{
		Self:      cfg.Self,
		Questions: cfg.Questions,
		TimeLimit: cfg.TimeLimit,
		Out:       broadcastAdapter{mgr: mgr},
		Store:     cfg.Store,
		Logger:    logger,
	})

	return &Host{
		log:          logger,
		mgr:          mgr,
		eng:          eng,
		peerToPlayer: make(map[string]string),
	}, nil
}

// Run creates the room and pumps events until the context ends or the game
// finishes. It returns the room code via RoomCode once the relay replies.
func (h *Host) Run(ctx context.Context) error {
	go h.mgr.Run()
	go h.eng.Run()
	defer h.mgr.Close()
	defer h.eng.Stop()

	if err := h.createRoom(ctx); err != nil {
		return err
	}

	for {
		select {
		case msg := <-h.mgr.Messages():
			h.handleMessage(msg)
		case sc := <-h.mgr.States():
			h.handleStateChange(sc)
		case <-h.eng.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) createRoom(ctx context.Context) error {
	if err := h.mgr.CreateRoom(); err != nil {
		return err
	}

	timer := time.NewTimer(roomReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case frame := <-h.mgr.Signals():
			switch frame.Type {
			case protocol.SignalRoomCreated:
				h.mu.Lock()
				h.roomCode = frame.RoomCode
				h.mu.Unlock()
				h.log.Info("room created", "code", frame.RoomCode)
				return nil
			case protocol.SignalError:
				return fmt.Errorf("relay error: %s", frame.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no reply to create-room")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *Host) handleMessage(msg peer.ChannelMessage) {
	var env game.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		h.log.Warn("dropping malformed data channel message", "peer", msg.PeerID, "error", err)
		return
	}

	// Remember which transport carries which player, so a transport
	// failure can be mapped back to a roster entry.
	if env.Type == game.MsgPlayerJoined && env.From != "" {
		h.mu.Lock()
		h.peerToPlayer[msg.PeerID] = env.From
		h.mu.Unlock()
	}

	h.Log.Append(env)
	h.eng.HandleEnvelope(env)
}

func (h *Host) handleStateChange(sc peer.StateChange) {
	if sc.State != peer.StateFailed {
		return
	}

	h.mu.Lock()
	playerID := h.peerToPlayer[sc.PeerID]
	h.mu.Unlock()

	if playerID == "" {
		h.log.Info("transport lost before player identified", "peer", sc.PeerID)
		return
	}
	h.eng.PlayerDisconnected(playerID)
}

// RoomCode returns the relay room code, empty until room creation succeeds.
func (h *Host) RoomCode() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomCode
}

// StartGame begins the first round.
func (h *Host) StartGame() {
	h.eng.StartGame()
}

// SubmitAnswer records the host's own answer for the current round.
func (h *Host) SubmitAnswer(answer string) {
	h.eng.SubmitLocalAnswer(answer)
}

// Engine exposes the underlying state machine, mainly for final scores.
func (h *Host) Engine() *game.Engine {
	return h.eng
}

// Manager exposes the peer manager for out-of-band slot exchanges.
func (h *Host) Manager() *peer.Manager {
	return h.mgr
}
