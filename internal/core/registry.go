package core

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type peerEntry struct {
	peer        domain.Peer
	connections map[domain.PeerID]struct{}
}

type room struct {
	id        domain.RoomID
	createdAt time.Time
	order     []domain.PeerID
	peers     map[domain.PeerID]*peerEntry
}

// Registry is an in-memory RoomRegistry. A single mutex guards the whole
// table; every method holds it only for map work and never calls out.
type Registry struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*room
	now   func() time.Time
}

var _ RoomRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*room),
		now:   time.Now,
	}
}

// GetOrCreate reserves id for a following AddPeer. Until a peer arrives the
// room stays invisible to Room and List, and PruneEmpty drops it.
func (r *Registry) GetOrCreate(id domain.RoomID) domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(id).snapshot()
}

func (r *Registry) getOrCreateLocked(id domain.RoomID) *room {
	rm, ok := r.rooms[id]
	if ok {
		return rm
	}
	rm = &room{
		id:        id,
		createdAt: r.now(),
		peers:     make(map[domain.PeerID]*peerEntry),
	}
	r.rooms[id] = rm
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room created")
	return rm
}

func (r *Registry) AddPeer(id domain.RoomID, peer domain.PeerID, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return fmt.Errorf("add peer %s: %w", peer, domain.ErrRoomNotFound)
	}
	rm.add(peer, user, r.now())
	return nil
}

func (r *Registry) Join(id domain.RoomID, peer domain.PeerID, user domain.User) ([]domain.Peer, error) {
	if id == "" {
		return nil, domain.ErrRoomIDEmpty
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rm := r.getOrCreateLocked(id)
	rm.add(peer, user, r.now())
	return rm.others(peer), nil
}

// RemovePeer drops peer and every connection reference to it, deleting the
// room once it is empty. It reports whether anything was removed.
func (r *Registry) RemovePeer(id domain.RoomID, peer domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	if _, ok := rm.peers[peer]; !ok {
		return false
	}
	delete(rm.peers, peer)
	rm.order = slices.DeleteFunc(rm.order, func(p domain.PeerID) bool { return p == peer })
	for _, e := range rm.peers {
		delete(e.connections, peer)
	}
	log.Info().Str("module", "core.registry").Str("room", string(id)).Str("peer", string(peer)).Msg("peer removed")
	if len(rm.peers) == 0 {
		delete(r.rooms, id)
		log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("room deleted")
	}
	return true
}

func (r *Registry) ListOtherPeers(id domain.RoomID, exclude domain.PeerID) []domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil
	}
	return rm.others(exclude)
}

// Link records a negotiation between a and b on both sides.
func (r *Registry) Link(id domain.RoomID, a, b domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	ea, okA := rm.peers[a]
	eb, okB := rm.peers[b]
	if !okA || !okB || a == b {
		return domain.ErrPeerNotFound
	}
	ea.connections[b] = struct{}{}
	eb.connections[a] = struct{}{}
	return nil
}

func (r *Registry) Peer(id domain.RoomID, peer domain.PeerID) (domain.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return domain.Peer{}, false
	}
	e, ok := rm.peers[peer]
	if !ok {
		return domain.Peer{}, false
	}
	return e.snapshot(), true
}

func (r *Registry) Room(id domain.RoomID) (domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok || len(rm.peers) == 0 {
		return domain.Room{}, false
	}
	return rm.snapshot(), true
}

func (r *Registry) List() []domain.RoomInfo {
	r.mu.Lock()
	out := make([]domain.RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		if len(rm.peers) == 0 {
			continue
		}
		out = append(out, domain.RoomInfo{ID: id, PeerCount: len(rm.peers), CreatedAt: rm.createdAt})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PruneEmpty deletes rooms that were reserved before cutoff and never got a
// peer. It returns how many were removed.
func (r *Registry) PruneEmpty(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rm := range r.rooms {
		if len(rm.peers) == 0 && rm.createdAt.Before(cutoff) {
			delete(r.rooms, id)
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "core.registry").Int("rooms", n).Msg("empty rooms pruned")
	}
	return n
}

// add is a no-op for a peer already present so a repeated join keeps its
// original position in the roster.
func (rm *room) add(peer domain.PeerID, user domain.User, now time.Time) {
	if _, ok := rm.peers[peer]; ok {
		return
	}
	rm.peers[peer] = &peerEntry{
		peer: domain.Peer{
			ID:          peer,
			UserID:      user.ID,
			DisplayName: user.Username,
			JoinedAt:    now,
		},
		connections: make(map[domain.PeerID]struct{}),
	}
	rm.order = append(rm.order, peer)
	log.Info().Str("module", "core.registry").Str("room", string(rm.id)).Str("peer", string(peer)).Str("user", string(user.ID)).Msg("peer added")
}

func (rm *room) others(exclude domain.PeerID) []domain.Peer {
	out := make([]domain.Peer, 0, len(rm.order))
	for _, id := range rm.order {
		if id == exclude {
			continue
		}
		out = append(out, rm.peers[id].snapshot())
	}
	return out
}

func (rm *room) snapshot() domain.Room {
	return domain.Room{ID: rm.id, CreatedAt: rm.createdAt, Peers: rm.others("")}
}

func (e *peerEntry) snapshot() domain.Peer {
	p := e.peer
	if len(e.connections) > 0 {
		p.Connections = make([]domain.PeerID, 0, len(e.connections))
		for id := range e.connections {
			p.Connections = append(p.Connections, id)
		}
		slices.Sort(p.Connections)
	}
	return p
}
