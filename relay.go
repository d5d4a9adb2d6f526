// Signaling relay: short-lived websocket rooms carrying WebRTC negotiation
// frames between a host and its guests. The relay never inspects SDP or
// candidate payloads; it tags each relayed frame with the sender's role and
// fans it out to the rest of the room. Game traffic never touches it.

package main

import (
	"crypto/rand"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/tunewar/tunewar/protocol"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	// Pings must outpace the read deadline.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type relayClient struct {
	conn *websocket.Conn
	send chan protocol.SignalFrame

	// Guarded by the relay mutex.
	role   string
	room   *relayRoom
	closed bool
}

type relayRoom struct {
	code       string
	members    []*relayClient // join order; members[0] is the host
	createdAt  time.Time
	lastActive time.Time
}

// Relay holds every active room. Rooms are tiny and short-lived, so a single
// mutex over the whole map is plenty.
type Relay struct {
	cfg *Config

	mu    sync.Mutex
	rooms map[string]*relayRoom
}

func newRelay(cfg *Config) *Relay {
	rl := &Relay{
		cfg:   cfg,
		rooms: make(map[string]*relayRoom),
	}
	if cfg.roomTimeout > 0 {
		go rl.reaperLoop()
	}
	return rl
}

// newRoomCode generates a crypto-random room code. Codes are not checked for
// collisions: the space is large relative to concurrent room counts, and a
// collision only manifests as a join landing in an unexpected room.
func (rl *Relay) newRoomCode() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const max = byte(255 - (256 % len(letters)))

	n := rl.cfg.roomCodeLength
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, letters[int(b)%len(letters)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}

	return string(out)
}

// reaperLoop periodically removes rooms idle longer than the room timeout.
func (rl *Relay) reaperLoop() {
	ticker := time.NewTicker(rl.cfg.sweepInterval)
	for range ticker.C {
		cutoff := time.Now().Add(-rl.cfg.roomTimeout)

		rl.mu.Lock()
		for code, room := range rl.rooms {
			if room.lastActive.Before(cutoff) {
				logf(rl.cfg, "RELAY: Reaping idle room %s", code)
				for _, m := range room.members {
					m.room = nil
					rl.dropClientLocked(m)
				}
				delete(rl.rooms, code)
			}
		}
		rl.mu.Unlock()
	}
}

// dropClientLocked closes a client's send channel exactly once. Caller holds
// the relay mutex.
func (rl *Relay) dropClientLocked(c *relayClient) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// deliverLocked queues a frame for one client, dropping the client if its
// writer cannot keep up. Caller holds the relay mutex.
func (rl *Relay) deliverLocked(c *relayClient, frame protocol.SignalFrame) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		rl.dropClientLocked(c)
	}
}

// broadcastLocked fans a frame out to every room member except the sender.
func (rl *Relay) broadcastLocked(room *relayRoom, from *relayClient, frame protocol.SignalFrame) {
	for _, m := range room.members {
		if m == from {
			continue
		}
		rl.deliverLocked(m, frame)
	}
}

func (rl *Relay) handleFrame(c *relayClient, frame protocol.SignalFrame) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	switch frame.Type {
	case protocol.SignalCreateRoom:
		rl.handleCreateLocked(c)
	case protocol.SignalJoinRoom:
		rl.handleJoinLocked(c, frame.RoomCode)
	case protocol.SignalLeaveRoom:
		rl.leaveLocked(c)
	default:
		if protocol.Relayable(frame.Type) {
			rl.handleRelayLocked(c, frame)
			return
		}
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:    protocol.SignalError,
			Message: "unknown frame type: " + frame.Type,
		})
	}
}

func (rl *Relay) handleCreateLocked(c *relayClient) {
	if c.room != nil {
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:    protocol.SignalError,
			Message: "already in a room",
		})
		return
	}

	now := time.Now()
	room := &relayRoom{
		code:       rl.newRoomCode(),
		members:    []*relayClient{c},
		createdAt:  now,
		lastActive: now,
	}
	rl.rooms[room.code] = room
	c.room = room
	c.role = protocol.RoleHost

	logf(rl.cfg, "RELAY: Room %s created", room.code)

	rl.deliverLocked(c, protocol.SignalFrame{
		Type:        protocol.SignalRoomCreated,
		RoomCode:    room.code,
		PlayerCount: 1,
	})
}

func (rl *Relay) handleJoinLocked(c *relayClient, code string) {
	if c.room != nil {
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:    protocol.SignalError,
			Message: "already in a room",
		})
		return
	}

	room, ok := rl.rooms[code]
	if !ok {
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:     protocol.SignalError,
			RoomCode: code,
			Message:  "room not found",
		})
		return
	}
	if len(room.members) >= rl.cfg.roomCapacity {
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:     protocol.SignalError,
			RoomCode: code,
			Message:  "room full",
		})
		return
	}

	room.members = append(room.members, c)
	room.lastActive = time.Now()
	c.room = room
	c.role = protocol.RoleGuest

	logf(rl.cfg, "RELAY: Client joined room %s (%d players)", code, len(room.members))

	rl.deliverLocked(c, protocol.SignalFrame{
		Type:        protocol.SignalRoomJoined,
		RoomCode:    code,
		PlayerCount: len(room.members),
	})
	rl.broadcastLocked(room, c, protocol.SignalFrame{
		Type:        protocol.SignalPlayerJoined,
		RoomCode:    code,
		PlayerCount: len(room.members),
	})
}

// handleRelayLocked forwards a negotiation frame to the rest of the sender's
// room, stamped with the sender's role so receivers know which direction it
// travelled.
func (rl *Relay) handleRelayLocked(c *relayClient, frame protocol.SignalFrame) {
	if c.room == nil || frame.RoomCode != c.room.code {
		rl.deliverLocked(c, protocol.SignalFrame{
			Type:     protocol.SignalError,
			RoomCode: frame.RoomCode,
			Message:  "not a member of that room",
		})
		return
	}

	c.room.lastActive = time.Now()
	frame.From = c.role
	rl.broadcastLocked(c.room, c, frame)
}

// leaveLocked removes a client from its room, notifying the remaining
// members. The last member out deletes the room.
func (rl *Relay) leaveLocked(c *relayClient) {
	room := c.room
	if room == nil {
		return
	}
	c.room = nil

	for i, m := range room.members {
		if m == c {
			room.members = append(room.members[:i], room.members[i+1:]...)
			break
		}
	}

	if len(room.members) == 0 {
		logf(rl.cfg, "RELAY: Room %s empty, removed", room.code)
		delete(rl.rooms, room.code)
		return
	}

	room.lastActive = time.Now()
	rl.broadcastLocked(room, nil, protocol.SignalFrame{
		Type:        protocol.SignalPlayerLeft,
		RoomCode:    room.code,
		PlayerCount: len(room.members),
	})
}

// disconnect handles a dead socket: leave the room, then shut the writer
// down.
func (rl *Relay) disconnect(c *relayClient) {
	rl.mu.Lock()
	rl.leaveLocked(c)
	rl.dropClientLocked(c)
	rl.mu.Unlock()
}

func (c *relayClient) readPump(rl *Relay) {
	defer func() {
		rl.disconnect(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame protocol.SignalFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			rl.mu.Lock()
			rl.deliverLocked(c, protocol.SignalFrame{
				Type:    protocol.SignalError,
				Message: "malformed frame",
			})
			rl.mu.Unlock()
			continue
		}

		rl.handleFrame(c, frame)
	}
}

func (c *relayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func serveRelay(rl *Relay) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &relayClient{
			conn: conn,
			send: make(chan protocol.SignalFrame, 16),
		}

		go client.writePump()
		client.readPump(rl)
	}
}

// serveRoomQR generates a PNG QR code pointing a guest's phone at the join
// URL for a room. The /join/ page itself belongs to the front-end, which is
// expected to be reverse-proxied onto this origin.
func serveRoomQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing room code", http.StatusBadRequest)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/join/" + code

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

func registerRelay(cfg *Config, mux *httprouter.Router) *Relay {
	rl := newRelay(cfg)

	mux.GET(cfg.prefix+"/ws", serveRelay(rl))
	mux.GET(cfg.prefix+"/room/:code/qr", serveRoomQR(cfg))

	return rl
}
