package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/tunewar/tunewar/exchange"
	"github.com/tunewar/tunewar/protocol"
)

// ErrIceGatheringTimeout marks a slot-based offer or answer whose candidate
// gathering did not complete within the configured bound.
var ErrIceGatheringTimeout = errors.New("ice gathering timed out")

const defaultGatherTimeout = 5 * time.Second

// hostPeerID is the guest's key for its single session.
const hostPeerID = "host"

// ChannelMessage is one payload received on a peer's data channel.
type ChannelMessage struct {
	PeerID  string
	Payload []byte
}

// StateChange reports a session entering a new state.
type StateChange struct {
	PeerID string
	State  State
}

type ManagerConfig struct {
	Signaler      *Signaler // nil for purely out-of-band exchanges
	Role          string    // protocol.RoleHost or protocol.RoleGuest
	ICEServers    []webrtc.ICEServer
	GatherTimeout time.Duration
	Logger        *slog.Logger
}

// Manager owns the peer sessions of one participant: the host holds one per
// guest, a guest holds exactly one (to the host). It runs the offer/answer/
// ICE exchange over the signaler and surfaces channel traffic and state
// transitions on Go channels.
type Manager struct {
	log           *slog.Logger
	sig           *Signaler
	role          string
	ice           []webrtc.ICEServer
	gatherTimeout time.Duration

	mu       sync.Mutex
	roomCode string
	sessions map[string]*Session
	order    []string // creation order, for the untagged-candidate fallback

	messages chan ChannelMessage
	states   chan StateChange
	opens    chan string
	signals  chan protocol.SignalFrame

	closeOnce sync.Once
	done      chan struct{}
}

func NewManager(cfg ManagerConfig) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.GatherTimeout
	if timeout <= 0 {
		timeout = defaultGatherTimeout
	}

	return &Manager{
		log:           logger,
		sig:           cfg.Signaler,
		role:          cfg.Role,
		ice:           cfg.ICEServers,
		gatherTimeout: timeout,
		sessions:      make(map[string]*Session),
		messages:      make(chan ChannelMessage, 32),
		states:        make(chan StateChange, 32),
		opens:         make(chan string, 8),
		signals:       make(chan protocol.SignalFrame, 16),
		done:          make(chan struct{}),
	}
}

// Messages streams payloads received on any peer's data channel.
func (m *Manager) Messages() <-chan ChannelMessage { return m.messages }

// States streams session state transitions.
func (m *Manager) States() <-chan StateChange { return m.states }

// ChannelOpens streams peer IDs whose data channel just opened.
func (m *Manager) ChannelOpens() <-chan string { return m.opens }

// Signals streams relay frames the manager does not consume itself
// (room-created, room-joined, player-joined, player-left, error).
func (m *Manager) Signals() <-chan protocol.SignalFrame { return m.signals }

func (m *Manager) RoomCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roomCode
}

func (m *Manager) setRoomCode(code string) {
	m.mu.Lock()
	m.roomCode = code
	m.mu.Unlock()
}

// Run consumes relay frames until the signaler closes. Negotiation frames
// are handled in place; everything else is passed through on Signals.
func (m *Manager) Run() {
	if m.sig == nil {
		return
	}

	for frame := range m.sig.Frames() {
		switch frame.Type {
		case protocol.SignalRoomCreated, protocol.SignalRoomJoined:
			m.setRoomCode(frame.RoomCode)
			m.forwardSignal(frame)
		case protocol.SignalOffer:
			if err := m.handleOffer(frame); err != nil {
				m.log.Error("handling offer failed", "error", err)
			}
		case protocol.SignalAnswer:
			if err := m.handleAnswer(frame); err != nil {
				m.log.Error("handling answer failed", "error", err)
			}
		case protocol.SignalICECandidate:
			if err := m.handleCandidate(frame); err != nil {
				m.log.Warn("applying candidate failed", "error", err)
			}
		default:
			m.forwardSignal(frame)
		}
	}
}

func (m *Manager) forwardSignal(frame protocol.SignalFrame) {
	select {
	case m.signals <- frame:
	default:
		m.log.Warn("dropping signal frame, consumer not keeping up", "type", frame.Type)
	}
}

// CreateRoom asks the relay for a new room. The room-created reply arrives
// on Signals.
func (m *Manager) CreateRoom() error {
	if m.sig == nil {
		return errors.New("no signaler configured")
	}
	return m.sig.CreateRoom()
}

// JoinRoom asks the relay to add this connection to an existing room. The
// room-joined or error reply arrives on Signals.
func (m *Manager) JoinRoom(code string) error {
	if m.sig == nil {
		return errors.New("no signaler configured")
	}
	return m.sig.JoinRoom(code)
}

// Connect starts the guest's negotiation: it creates the transport and the
// reliable ordered data channel, then offers through the relay. The host's
// answer and candidates arrive asynchronously via Run.
func (m *Manager) Connect() error {
	s := m.replaceSession(hostPeerID)
	s.advance(StateConnecting)

	pc, err := m.newTransport(s, nil)
	if err != nil {
		return err
	}

	dc, err := pc.CreateDataChannel("game", nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	m.wireChannel(s, dc)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return m.sig.SendOffer(m.RoomCode(), raw, nil)
}

// handleOffer is the host path: a new transport per inbound offer, answer
// sent back through the relay, data channel received asynchronously once the
// guest's channel negotiates.
func (m *Manager) handleOffer(frame protocol.SignalFrame) error {
	s := m.replaceSession(m.peerKey(frame.SlotIndex))
	s.advance(StateConnecting)

	pc, err := m.newTransport(s, frame.SlotIndex)
	if err != nil {
		return err
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.wireChannel(s, dc)
	})

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(frame.SDP, &offer); err != nil {
		return fmt.Errorf("decode offer: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return m.sig.SendAnswer(m.RoomCode(), raw, frame.SlotIndex)
}

func (m *Manager) handleAnswer(frame protocol.SignalFrame) error {
	s := m.sessionByTag(frame.SlotIndex)
	if s == nil {
		return fmt.Errorf("answer with no session to apply it to")
	}

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(frame.SDP, &answer); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	return s.transport().SetRemoteDescription(answer)
}

// handleCandidate applies a trickled candidate. A tagged candidate goes to
// its slot's session; an untagged one falls back to the most recently
// created session, best effort.
func (m *Manager) handleCandidate(frame protocol.SignalFrame) error {
	s := m.sessionByTag(frame.SlotIndex)
	if s == nil || s.transport() == nil {
		return fmt.Errorf("candidate with no session to apply it to")
	}

	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(frame.Candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return s.transport().AddICECandidate(init)
}

// newTransport creates the peer connection and wires candidate forwarding
// and state mapping.
func (m *Manager) newTransport(s *Session, slot *int) (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: m.ice})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s.setTransport(pc)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || m.sig == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := m.sig.SendCandidate(m.RoomCode(), raw, slot); err != nil {
			m.log.Warn("forwarding candidate failed", "peer", s.PeerID, "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if s.advance(StateConnected) {
				m.emitState(s.PeerID, StateConnected)
			}
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			if s.advance(StateFailed) {
				m.log.Info("peer transport lost", "peer", s.PeerID, "state", state.String())
				m.emitState(s.PeerID, StateFailed)
			}
		}
	})

	return pc, nil
}

func (m *Manager) wireChannel(s *Session, dc *webrtc.DataChannel) {
	s.setChannel(dc)

	dc.OnOpen(func() {
		select {
		case m.opens <- s.PeerID:
		case <-m.done:
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case m.messages <- ChannelMessage{PeerID: s.PeerID, Payload: msg.Data}:
		case <-m.done:
		}
	})
}

// Send delivers a payload to one peer. A missing session or closed channel
// is a soft failure: logged, never propagated, never fatal to game flow.
func (m *Manager) Send(peerID string, payload []byte) {
	m.mu.Lock()
	s := m.sessions[peerID]
	m.mu.Unlock()

	if s == nil {
		m.log.Warn("send to unknown peer dropped", "peer", peerID)
		return
	}
	if err := s.Send(payload); err != nil {
		m.log.Warn("send dropped", "peer", peerID, "error", err)
	}
}

// Broadcast delivers a payload to every peer with an open channel.
func (m *Manager) Broadcast(payload []byte) {
	for _, s := range m.snapshot() {
		if err := s.Send(payload); err != nil {
			m.log.Warn("broadcast send dropped", "peer", s.PeerID, "error", err)
		}
	}
}

// RemovePeer closes a session. The peer's player entry survives on the
// roster; the game layer only flips its connected flag.
func (m *Manager) RemovePeer(peerID string) {
	m.mu.Lock()
	s := m.sessions[peerID]
	m.mu.Unlock()

	if s == nil {
		return
	}
	if s.advance(StateFailed) {
		m.emitState(peerID, StateFailed)
	}
	s.Close()
}

// Close tears down every session and the signaler.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		for _, s := range m.snapshot() {
			s.Close()
		}
		if m.sig != nil {
			m.sig.Close()
		}
	})
}

// GenerateSlotOffers prepares n slot sessions for the out-of-band exchange.
// Unlike the trickle path, each offer must be complete before it can travel
// by QR or paste, so local candidate gathering is awaited, bounded by the
// gather timeout.
func (m *Manager) GenerateSlotOffers(n int) ([]exchange.Payload, error) {
	payloads := make([]exchange.Payload, 0, n)

	for i := 0; i < n; i++ {
		slot := i
		s := m.replaceSession(m.peerKey(&slot))
		s.advance(StateConnecting)

		pc, err := m.newTransport(s, &slot)
		if err != nil {
			return nil, err
		}

		dc, err := pc.CreateDataChannel("game", nil)
		if err != nil {
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		m.wireChannel(s, dc)

		offer, err := pc.CreateOffer(nil)
		if err != nil {
			return nil, fmt.Errorf("create offer for slot %d: %w", i, err)
		}
		gathered := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(offer); err != nil {
			return nil, fmt.Errorf("set local description for slot %d: %w", i, err)
		}

		select {
		case <-gathered:
		case <-time.After(m.gatherTimeout):
			return nil, fmt.Errorf("slot %d: %w", i, ErrIceGatheringTimeout)
		}

		local := pc.LocalDescription()
		payloads = append(payloads, exchange.NewPayload("offer", local.SDP, &slot))
	}

	return payloads, nil
}

// AnswerSlotOffer is the guest half of the out-of-band exchange: apply the
// host's complete offer, produce a complete answer.
func (m *Manager) AnswerSlotOffer(p exchange.Payload) (exchange.Payload, error) {
	s := m.replaceSession(hostPeerID)
	s.advance(StateConnecting)

	pc, err := m.newTransport(s, p.SlotIndex)
	if err != nil {
		return exchange.Payload{}, err
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.wireChannel(s, dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  p.SDP,
	}); err != nil {
		return exchange.Payload{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return exchange.Payload{}, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return exchange.Payload{}, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-time.After(m.gatherTimeout):
		return exchange.Payload{}, ErrIceGatheringTimeout
	}

	return exchange.NewPayload("answer", pc.LocalDescription().SDP, p.SlotIndex), nil
}

// AcceptSlotAnswer applies a guest's out-of-band answer to its slot session.
func (m *Manager) AcceptSlotAnswer(p exchange.Payload) error {
	s := m.sessionByTag(p.SlotIndex)
	if s == nil || s.transport() == nil {
		return fmt.Errorf("no session for answer slot")
	}
	return s.transport().SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  p.SDP,
	})
}

// SessionState reports the state of one peer's session.
func (m *Manager) SessionState(peerID string) (State, bool) {
	m.mu.Lock()
	s := m.sessions[peerID]
	m.mu.Unlock()
	if s == nil {
		return StateWaiting, false
	}
	return s.State(), true
}

func (m *Manager) peerKey(slot *int) string {
	if slot != nil {
		return fmt.Sprintf("slot-%d", *slot)
	}
	if m.role == protocol.RoleGuest {
		return hostPeerID
	}
	return uuid.NewString()
}

// replaceSession installs a fresh session under key, closing any prior one:
// a re-offer from a reconnecting peer always gets a new transport.
func (m *Manager) replaceSession(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[key]; ok {
		old.Close()
		for i, k := range m.order {
			if k == key {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}

	s := newSession(key)
	m.sessions[key] = s
	m.order = append(m.order, key)
	return s
}

// sessionByTag resolves a slot-tagged frame to its session, falling back to
// the most recently created session for untagged frames.
func (m *Manager) sessionByTag(slot *int) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot != nil {
		if s, ok := m.sessions[fmt.Sprintf("slot-%d", *slot)]; ok {
			return s
		}
	}
	if len(m.order) == 0 {
		return nil
	}
	return m.sessions[m.order[len(m.order)-1]]
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, k := range m.order {
		out = append(out, m.sessions[k])
	}
	return out
}

func (m *Manager) emitState(peerID string, state State) {
	select {
	case m.states <- StateChange{PeerID: peerID, State: state}:
	default:
		m.log.Warn("dropping state change, consumer not keeping up", "peer", peerID)
	}
}
