// Package peer negotiates WebRTC transports through the signaling relay and
// exposes one reliable ordered data channel per remote participant.
package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// ErrChannelClosed marks a send attempted while the data channel is not
// open. It is a soft failure: callers log it and carry on.
var ErrChannelClosed = errors.New("data channel not open")

// State is the lifecycle of one peer session. Waiting means a slot is
// reserved but no exchange has started; failed is reachable from connecting
// or connected on transport failure or close.
type State int

const (
	StateWaiting State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// validTransition enforces waiting → connecting → connected, with failed
// reachable from connecting or connected only.
func validTransition(from, to State) bool {
	switch to {
	case StateConnecting:
		return from == StateWaiting
	case StateConnected:
		return from == StateConnecting
	case StateFailed:
		return from == StateConnecting || from == StateConnected
	}
	return false
}

// Session is one negotiated point-to-point transport plus its message
// channel. The channel stays nil until negotiated: the joining side creates
// it, so the host only gains send capability once OnDataChannel fires.
type Session struct {
	PeerID string

	mu        sync.Mutex
	state     State
	pc        *webrtc.PeerConnection
	channel   *webrtc.DataChannel
	createdAt time.Time

	closeOnce sync.Once
}

func newSession(peerID string) *Session {
	return &Session{
		PeerID:    peerID,
		state:     StateWaiting,
		createdAt: time.Now(),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// advance moves the session to a new state, reporting whether the
// transition was legal. Illegal transitions leave the state untouched, so a
// late failure callback cannot resurrect a closed session.
func (s *Session) advance(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

func (s *Session) setTransport(pc *webrtc.PeerConnection) {
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
}

func (s *Session) transport() *webrtc.PeerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pc
}

func (s *Session) setChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.channel = dc
	s.mu.Unlock()
}

// Send writes one message to the data channel, or returns ErrChannelClosed
// if the channel has not been negotiated or is no longer open.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	dc := s.channel
	s.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelClosed
	}
	return dc.Send(payload)
}

// Close shuts the channel and transport down. Idempotent; repeat calls and
// closes racing transport callbacks are no-ops.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		dc := s.channel
		pc := s.pc
		s.mu.Unlock()

		if dc != nil {
			_ = dc.Close()
		}
		if pc != nil {
			_ = pc.Close()
		}
	})
}
