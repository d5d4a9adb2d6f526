// Package protocol defines the wire types for the signaling relay.
//
// The relay never interprets SDP or ICE payloads; it only routes frames
// between members of a room, so everything negotiation-specific is carried
// as raw JSON.
package protocol

import "encoding/json"

// Client-to-server frame types.
const (
	SignalCreateRoom   = "create-room"
	SignalJoinRoom     = "join-room"
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalLeaveRoom    = "leave-room"
)

// Server-to-client frame types. Offer, answer and ice-candidate frames are
// also relayed back out with the sender's role in From.
const (
	SignalRoomCreated  = "room-created"
	SignalRoomJoined   = "room-joined"
	SignalPlayerJoined = "player-joined"
	SignalPlayerLeft   = "player-left"
	SignalError        = "error"
)

// Roles assigned by the relay: the room creator is the host, every later
// member is a guest.
const (
	RoleHost  = "host"
	RoleGuest = "guest"
)

// SignalFrame is the single JSON frame shape used in both directions.
// Unused fields are omitted, so each frame only carries what its type needs.
type SignalFrame struct {
	Type        string          `json:"type"`
	RoomCode    string          `json:"roomCode,omitempty"`
	PlayerCount int             `json:"playerCount,omitempty"`
	SDP         json.RawMessage `json:"sdp,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	SlotIndex   *int            `json:"slotIndex,omitempty"`
	From        string          `json:"from,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Relayable reports whether a frame type is forwarded verbatim to the other
// members of the sender's room.
func Relayable(frameType string) bool {
	switch frameType {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}
