package game

import "github.com/google/uuid"

// HostID is the stable player ID of the host instance. Guests get a random
// UUID on creation instead.
const HostID = "host"

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Connected bool   `json:"connected"`
}

// NewGuest creates a connected guest player with a generated ID.
func NewGuest(name string) Player {
	return Player{
		ID:        uuid.NewString(),
		Name:      name,
		Role:      RoleGuest,
		Connected: true,
	}
}

// NewHost creates the host's own player entry.
func NewHost(name string) Player {
	return Player{
		ID:        HostID,
		Name:      name,
		Role:      RoleHost,
		Connected: true,
	}
}

// Roster is the ordered player list. The authoritative copy lives on the
// host; guests only ever hold snapshots received via player-list-update.
type Roster struct {
	players []Player
}

// Upsert adds or updates a player keyed by ID, reporting whether anything
// changed. An update that leaves name, role and connected untouched is a
// no-op, which is what keeps the host from re-broadcasting the roster when
// a guest's player-joined message is delivered more than once.
func (r *Roster) Upsert(p Player) bool {
	for i := range r.players {
		if r.players[i].ID != p.ID {
			continue
		}
		if r.players[i] == p {
			return false
		}
		r.players[i] = p
		return true
	}
	r.players = append(r.players, p)
	return true
}

// SetConnected flips a player's connected flag. The player entry itself is
// never removed, so final scoring keeps disconnected players' history.
func (r *Roster) SetConnected(id string, connected bool) bool {
	for i := range r.players {
		if r.players[i].ID == id {
			if r.players[i].Connected == connected {
				return false
			}
			r.players[i].Connected = connected
			return true
		}
	}
	return false
}

func (r *Roster) Get(id string) (Player, bool) {
	for _, p := range r.players {
		if p.ID == id {
			return p, true
		}
	}
	return Player{}, false
}

// Snapshot returns a copy of the full roster, for broadcast.
func (r *Roster) Snapshot() []Player {
	out := make([]Player, len(r.players))
	copy(out, r.players)
	return out
}

// Connected returns the players currently marked connected.
func (r *Roster) Connected() []Player {
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		if p.Connected {
			out = append(out, p)
		}
	}
	return out
}

func (r *Roster) Len() int {
	return len(r.players)
}
