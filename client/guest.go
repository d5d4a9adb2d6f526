package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tunewar/tunewar/game"
	"github.com/tunewar/tunewar/peer"
	"github.com/tunewar/tunewar/protocol"
)

type GuestConfig struct {
	SignalURL  string
	RoomCode   string
	Self       game.Player
	Questions  []game.Question // full local question set; the mirror keys it by ID
	ICEServers []webrtc.ICEServer
	Store      game.Persister // optional
	Logger     *slog.Logger   // optional
}

// Guest runs the guest side of a game: join the relay room, offer to the
// host, then mirror game state from the host's broadcasts.
type Guest struct {
	log      *slog.Logger
	mgr      *peer.Manager
	mirror   *game.Mirror
	roomCode string

	Log game.MessageLog
}

// sendAdapter carries the mirror's outbound messages over the single
// host session.
type sendAdapter struct {
	mgr *peer.Manager
}

func (a sendAdapter) Send(e game.Envelope) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	a.mgr.Send("host", raw)
	return nil
}

func NewGuest(ctx context.Context, cfg GuestConfig) (*Guest, error) {
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
		Role:       protocol.RoleGuest,
		ICEServers: cfg.ICEServers,
		Logger:     logger,
	})

	mirror := game.NewMirror(game.MirrorConfig{
		Self:      cfg.Self,
		Questions: cfg.Questions,
		Out:       sendAdapter{mgr: mgr},
		Store:     cfg.Store,
		Logger:    logger,
	})

	return &Guest{
		log:      logger,
		mgr:      mgr,
		mirror:   mirror,
		roomCode: cfg.RoomCode,
	}, nil
}

// Run joins the room, negotiates the host transport, and pumps events until
// the context ends or the host transport is lost.
func (g *Guest) Run(ctx context.Context) error {
	go g.mgr.Run()
	defer g.mgr.Close()

	if err := g.joinRoom(ctx); err != nil {
		return err
	}
	if err := g.mgr.Connect(); err != nil {
		return fmt.Errorf("connect to host: %w", err)
	}

	for {
		select {
		case <-g.mgr.ChannelOpens():
			g.mirror.ChannelOpened()
		case msg := <-g.mgr.Messages():
			g.handleMessage(msg)
		case sc := <-g.mgr.States():
			if sc.State == peer.StateFailed {
				if g.mirror.Finished() {
					return nil
				}
				return fmt.Errorf("host connection lost")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Guest) joinRoom(ctx context.Context) error {
	if err := g.mgr.JoinRoom(g.roomCode); err != nil {
		return err
	}

	timer := time.NewTimer(roomReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case frame := <-g.mgr.Signals():
			switch frame.Type {
			case protocol.SignalRoomJoined:
				g.log.Info("joined room", "code", frame.RoomCode, "players", frame.PlayerCount)
				return nil
			case protocol.SignalError:
				return fmt.Errorf("relay error: %s", frame.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no reply to join-room")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Guest) handleMessage(msg peer.ChannelMessage) {
	var env game.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		g.log.Warn("dropping malformed data channel message", "error", err)
		return
	}
	g.Log.Append(env)
	g.mirror.Handle(env)
}

// SetDraftAnswer stages the local answer for the current round.
func (g *Guest) SetDraftAnswer(answer string) {
	g.mirror.SetDraftAnswer(answer)
}

// SubmitAnswer sends the staged answer to the host.
func (g *Guest) SubmitAnswer() {
	g.mirror.Submit()
}

// Mirror exposes the replicated game state for display.
func (g *Guest) Mirror() *game.Mirror {
	return g.mirror
}

// Manager exposes the peer manager for out-of-band slot exchanges.
func (g *Guest) Manager() *peer.Manager {
	return g.mgr
}
