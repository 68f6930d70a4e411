package media

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

var ErrNotPublished = errors.New("nothing published for kind")

// TrackTarget receives published tracks. *mesh.Manager satisfies it.
type TrackTarget interface {
	AttachTrack(webrtc.TrackLocal) error
	DetachTrack(trackID string) error
}

type published struct {
	track Track
	stop  chan struct{}
}

// PublishListener hears about every change to the local track set.
type PublishListener func(kind domain.MediaKind, track Track, published bool)

// Publisher keeps at most one local track per kind attached to the mesh.
type Publisher struct {
	target TrackTarget
	log    zerolog.Logger

	mu     sync.Mutex
	tracks map[domain.MediaKind]*published

	lmu       sync.Mutex
	listeners map[int]PublishListener
	nextID    int
}

func NewPublisher(target TrackTarget, logger zerolog.Logger) *Publisher {
	return &Publisher{
		target:    target,
		log:       logger,
		tracks:    make(map[domain.MediaKind]*published),
		listeners: make(map[int]PublishListener),
	}
}

// Publish attaches track as the source for kind, replacing and stopping any
// previous one. When the track ends on its own it is unpublished.
func (p *Publisher) Publish(track Track, kind domain.MediaKind) error {
	if !kind.Valid() {
		return fmt.Errorf("media kind %q", kind)
	}

	p.mu.Lock()
	old := p.tracks[kind]
	if old != nil {
		delete(p.tracks, kind)
		p.detachLocked(old)
	}
	if err := p.target.AttachTrack(track); err != nil {
		p.mu.Unlock()
		if old != nil {
			p.notify(kind, old.track, false)
		}
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	entry := &published{track: track, stop: make(chan struct{})}
	p.tracks[kind] = entry
	p.mu.Unlock()

	if old != nil {
		p.notify(kind, old.track, false)
	}
	p.log.Info().Str("kind", string(kind)).Str("track", track.ID()).Msg("published")
	p.notify(kind, track, true)
	go p.watch(kind, entry)
	return nil
}

// Unpublish stops and detaches the track for kind.
func (p *Publisher) Unpublish(kind domain.MediaKind) error {
	return p.unpublish(kind, nil)
}

func (p *Publisher) unpublish(kind domain.MediaKind, only *published) error {
	p.mu.Lock()
	entry := p.tracks[kind]
	if entry == nil || (only != nil && entry != only) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotPublished, kind)
	}
	delete(p.tracks, kind)
	p.detachLocked(entry)
	p.mu.Unlock()

	p.log.Info().Str("kind", string(kind)).Str("track", entry.track.ID()).Msg("unpublished")
	p.notify(kind, entry.track, false)
	return nil
}

func (p *Publisher) detachLocked(e *published) {
	close(e.stop)
	if err := p.target.DetachTrack(e.track.ID()); err != nil {
		p.log.Warn().Err(err).Str("track", e.track.ID()).Msg("detach track")
	}
	e.track.Stop()
}

// watch ties the publication to the life of the source.
func (p *Publisher) watch(kind domain.MediaKind, e *published) {
	select {
	case <-e.track.Done():
		if err := p.unpublish(kind, e); err == nil {
			p.log.Info().Str("kind", string(kind)).Msg("source ended")
		}
	case <-e.stop:
	}
}

// LocalTracks is a snapshot of what is published right now.
func (p *Publisher) LocalTracks() map[domain.MediaKind]Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.MediaKind]Track, len(p.tracks))
	for k, e := range p.tracks {
		out[k] = e.track
	}
	return out
}

// Close unpublishes everything.
func (p *Publisher) Close() {
	p.mu.Lock()
	kinds := make([]domain.MediaKind, 0, len(p.tracks))
	for k := range p.tracks {
		kinds = append(kinds, k)
	}
	p.mu.Unlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		_ = p.Unpublish(k)
	}
}

// Subscribe registers l and returns a func that removes it. Listeners are
// called synchronously from the goroutine that changed the set.
func (p *Publisher) Subscribe(l PublishListener) (unsubscribe func()) {
	p.lmu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.lmu.Unlock()
	return func() {
		p.lmu.Lock()
		delete(p.listeners, id)
		p.lmu.Unlock()
	}
}

func (p *Publisher) notify(kind domain.MediaKind, t Track, on bool) {
	p.lmu.Lock()
	ls := make([]PublishListener, 0, len(p.listeners))
	for id := 0; id < p.nextID; id++ {
		if l, ok := p.listeners[id]; ok {
			ls = append(ls, l)
		}
	}
	p.lmu.Unlock()
	for _, l := range ls {
		l(kind, t, on)
	}
}
