package peer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tunewar/tunewar/protocol"
)

// Signaler is the client side of the relay protocol: a websocket carrying
// SignalFrames in both directions. Received frames surface on Frames();
// the channel closes when the connection dies.
type Signaler struct {
	conn    *websocket.Conn
	log     *slog.Logger
	writeMu sync.Mutex
	frames  chan protocol.SignalFrame

	closeOnce sync.Once
	done      chan struct{}
}

// DialSignaler connects to the relay's websocket endpoint and starts the
// read loop.
func DialSignaler(ctx context.Context, url string, logger *slog.Logger) (*Signaler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &Signaler{
		conn:   conn,
		log:    logger,
		frames: make(chan protocol.SignalFrame, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Signaler) readLoop() {
	defer close(s.frames)

	for {
		var frame protocol.SignalFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.done:
			default:
				s.log.Debug("signaling connection closed", "error", err)
			}
			return
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Frames returns the inbound frame stream.
func (s *Signaler) Frames() <-chan protocol.SignalFrame {
	return s.frames
}

// Send writes one frame. Safe for concurrent use.
func (s *Signaler) Send(frame protocol.SignalFrame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *Signaler) CreateRoom() error {
	return s.Send(protocol.SignalFrame{Type: protocol.SignalCreateRoom})
}

func (s *Signaler) JoinRoom(code string) error {
	return s.Send(protocol.SignalFrame{Type: protocol.SignalJoinRoom, RoomCode: code})
}

func (s *Signaler) SendOffer(roomCode string, sdp json.RawMessage, slot *int) error {
	return s.Send(protocol.SignalFrame{
		Type:      protocol.SignalOffer,
		RoomCode:  roomCode,
		SDP:       sdp,
		SlotIndex: slot,
	})
}

func (s *Signaler) SendAnswer(roomCode string, sdp json.RawMessage, slot *int) error {
	return s.Send(protocol.SignalFrame{
		Type:      protocol.SignalAnswer,
		RoomCode:  roomCode,
		SDP:       sdp,
		SlotIndex: slot,
	})
}

func (s *Signaler) SendCandidate(roomCode string, candidate json.RawMessage, slot *int) error {
	return s.Send(protocol.SignalFrame{
		Type:      protocol.SignalICECandidate,
		RoomCode:  roomCode,
		Candidate: candidate,
		SlotIndex: slot,
	})
}

func (s *Signaler) LeaveRoom() error {
	return s.Send(protocol.SignalFrame{Type: protocol.SignalLeaveRoom})
}

// Close tears the connection down. Idempotent.
func (s *Signaler) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
