package media

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type EventType int

const (
	MediaAdded EventType = iota
	MediaEnded
)

func (t EventType) String() string {
	if t == MediaAdded {
		return "added"
	}
	return "ended"
}

type MediaEvent struct {
	Type    EventType
	PeerID  domain.PeerID
	Kind    domain.MediaKind
	TrackID string
	Track   mesh.RemoteTrack
}

type RemoteMedia struct {
	TrackID string
	Kind    domain.MediaKind
	Track   mesh.RemoteTrack
}

// Aggregator is a mesh.Observer that keeps, per remote peer, the inbound
// tracks that are live. Events reach subscribers in the order they happened.
type Aggregator struct {
	log zerolog.Logger

	// emitMu serialises state change plus delivery
	emitMu sync.Mutex
	mu     sync.Mutex
	tracks map[domain.PeerID]map[string]RemoteMedia
	subs   map[int]func(MediaEvent)
	nextID int
}

var _ mesh.Observer = (*Aggregator)(nil)

func NewAggregator(logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		log:    logger,
		tracks: make(map[domain.PeerID]map[string]RemoteMedia),
		subs:   make(map[int]func(MediaEvent)),
	}
}

func (a *Aggregator) OnStateChange(domain.PeerID, mesh.State, error) {}

func (a *Aggregator) OnTrack(peer domain.PeerID, t mesh.RemoteTrack) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	rm := RemoteMedia{TrackID: t.ID(), Kind: domain.KindOf(t.ID(), t.Kind().String()), Track: t}
	a.mu.Lock()
	set := a.tracks[peer]
	if set == nil {
		set = make(map[string]RemoteMedia)
		a.tracks[peer] = set
	}
	set[rm.TrackID] = rm
	subs := a.subscribersLocked()
	a.mu.Unlock()

	a.log.Info().Str("peer", string(peer)).Str("kind", string(rm.Kind)).Str("track", rm.TrackID).Msg("media added")
	deliver(subs, MediaEvent{Type: MediaAdded, PeerID: peer, Kind: rm.Kind, TrackID: rm.TrackID, Track: t})
}

// OnPeerClosed drops the peer's whole track set.
func (a *Aggregator) OnPeerClosed(peer domain.PeerID) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	set := a.tracks[peer]
	delete(a.tracks, peer)
	subs := a.subscribersLocked()
	a.mu.Unlock()

	for _, rm := range sortedMedia(set) {
		a.log.Info().Str("peer", string(peer)).Str("kind", string(rm.Kind)).Str("track", rm.TrackID).Msg("media ended")
		deliver(subs, MediaEvent{Type: MediaEnded, PeerID: peer, Kind: rm.Kind, TrackID: rm.TrackID, Track: rm.Track})
	}
}

// OnTrackEnded drops a single track, e.g. when the sender stopped sharing.
func (a *Aggregator) OnTrackEnded(peer domain.PeerID, trackID string) {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	rm, ok := a.tracks[peer][trackID]
	if ok {
		delete(a.tracks[peer], trackID)
		if len(a.tracks[peer]) == 0 {
			delete(a.tracks, peer)
		}
	}
	subs := a.subscribersLocked()
	a.mu.Unlock()
	if !ok {
		return
	}
	deliver(subs, MediaEvent{Type: MediaEnded, PeerID: peer, Kind: rm.Kind, TrackID: rm.TrackID, Track: rm.Track})
}

// Tracks lists the live tracks of peer ordered by track id.
func (a *Aggregator) Tracks(peer domain.PeerID) []RemoteMedia {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedMedia(a.tracks[peer])
}

func (a *Aggregator) Subscribe(fn func(MediaEvent)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) subscribersLocked() []func(MediaEvent) {
	out := make([]func(MediaEvent), 0, len(a.subs))
	for id := 0; id < a.nextID; id++ {
		if fn, ok := a.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func deliver(subs []func(MediaEvent), ev MediaEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}

func sortedMedia(set map[string]RemoteMedia) []RemoteMedia {
	out := make([]RemoteMedia, 0, len(set))
	for _, rm := range set {
		out = append(out, rm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}
