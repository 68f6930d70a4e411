// Package media publishes local tracks into the mesh and keeps the per-peer
// view of remote tracks.
package media

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// Track is a local source. Done is closed once the source has ended, either
// through Stop or because the capture went away.
type Track interface {
	webrtc.TrackLocal
	Stop()
	Done() <-chan struct{}
}

// RTPTrack forwards already-encoded RTP. Its id is "<kind>-<uuid>" so the
// receiving side can tell a screen share from a camera.
type RTPTrack struct {
	*webrtc.TrackLocalStaticRTP
	kind domain.MediaKind
	done chan struct{}
	once sync.Once
}

func DefaultCodec(kind domain.MediaKind) webrtc.RTPCodecCapability {
	if kind == domain.KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

func NewRTPTrack(kind domain.MediaKind, codec webrtc.RTPCodecCapability, streamID string) (*RTPTrack, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("media kind %q", kind)
	}
	id := string(kind) + "-" + uuid.NewString()
	t, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &RTPTrack{TrackLocalStaticRTP: t, kind: kind, done: make(chan struct{})}, nil
}

func (t *RTPTrack) MediaKind() domain.MediaKind { return t.kind }

func (t *RTPTrack) Stop() { t.once.Do(func() { close(t.done) }) }

func (t *RTPTrack) Done() <-chan struct{} { return t.done }
