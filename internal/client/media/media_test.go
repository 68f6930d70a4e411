package media

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type fakeTarget struct {
	mu       sync.Mutex
	attached []string
	detached []string
	fail     error
}

func (f *fakeTarget) AttachTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.attached = append(f.attached, t.ID())
	return nil
}

func (f *fakeTarget) DetachTrack(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached = append(f.detached, id)
	return nil
}

func (f *fakeTarget) snapshot() (attached, detached []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attached...), append([]string(nil), f.detached...)
}

func newTrack(t *testing.T, kind domain.MediaKind) *RTPTrack {
	t.Helper()
	tr, err := NewRTPTrack(kind, DefaultCodec(kind), "local")
	require.NoError(t, err)
	return tr
}

func TestRTPTrackID(t *testing.T) {
	tr := newTrack(t, domain.KindScreen)
	assert.Equal(t, domain.KindScreen, domain.KindOf(tr.ID(), "video"))
	assert.Equal(t, domain.KindScreen, tr.MediaKind())

	_, err := NewRTPTrack("hologram", DefaultCodec(domain.KindVideo), "local")
	require.Error(t, err)
}

func TestPublishUnpublish(t *testing.T) {
	target := &fakeTarget{}
	p := NewPublisher(target, zerolog.Nop())

	var mu sync.Mutex
	var changes []string
	p.Subscribe(func(k domain.MediaKind, _ Track, on bool) {
		mu.Lock()
		defer mu.Unlock()
		if on {
			changes = append(changes, "+"+string(k))
		} else {
			changes = append(changes, "-"+string(k))
		}
	})

	audio := newTrack(t, domain.KindAudio)
	require.NoError(t, p.Publish(audio, domain.KindAudio))
	assert.Len(t, p.LocalTracks(), 1)

	require.NoError(t, p.Unpublish(domain.KindAudio))
	require.ErrorIs(t, p.Unpublish(domain.KindAudio), ErrNotPublished)
	assert.Empty(t, p.LocalTracks())

	select {
	case <-audio.Done():
	default:
		t.Fatal("unpublished track not stopped")
	}
	attached, detached := target.snapshot()
	assert.Equal(t, []string{audio.ID()}, attached)
	assert.Equal(t, []string{audio.ID()}, detached)

	mu.Lock()
	assert.Equal(t, []string{"+audio", "-audio"}, changes)
	mu.Unlock()
}

func TestPublishReplacesSameKind(t *testing.T) {
	target := &fakeTarget{}
	p := NewPublisher(target, zerolog.Nop())

	first := newTrack(t, domain.KindVideo)
	second := newTrack(t, domain.KindVideo)
	require.NoError(t, p.Publish(first, domain.KindVideo))
	require.NoError(t, p.Publish(second, domain.KindVideo))

	assert.Equal(t, second.ID(), p.LocalTracks()[domain.KindVideo].ID())
	_, detached := target.snapshot()
	assert.Equal(t, []string{first.ID()}, detached)
}

func TestScreenShareEndsWithSource(t *testing.T) {
	target := &fakeTarget{}
	p := NewPublisher(target, zerolog.Nop())

	screen := newTrack(t, domain.KindScreen)
	require.NoError(t, p.Publish(screen, domain.KindScreen))

	// the capture source goes away without anyone calling Unpublish
	screen.Stop()

	require.Eventually(t, func() bool {
		_, detached := target.snapshot()
		return len(detached) == 1 && len(p.LocalTracks()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPublishAttachFailure(t *testing.T) {
	target := &fakeTarget{fail: domain.ErrSessionClosed}
	p := NewPublisher(target, zerolog.Nop())

	err := p.Publish(newTrack(t, domain.KindAudio), domain.KindAudio)
	require.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Empty(t, p.LocalTracks())
	require.Error(t, p.Publish(newTrack(t, domain.KindAudio), "hologram"))
}

type fakeRemote struct {
	id   string
	kind webrtc.RTPCodecType

	mu   sync.Mutex
	pkts []*rtp.Packet
	err  error
}

func (f *fakeRemote) ID() string                { return f.id }
func (f *fakeRemote) StreamID() string          { return "remote" }
func (f *fakeRemote) Kind() webrtc.RTPCodecType { return f.kind }

func (f *fakeRemote) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pkts) == 0 {
		if f.err != nil {
			return nil, nil, f.err
		}
		return nil, nil, io.EOF
	}
	p := f.pkts[0]
	f.pkts = f.pkts[1:]
	return p, nil, nil
}

func TestAggregatorLifecycle(t *testing.T) {
	a := NewAggregator(zerolog.Nop())
	var events []MediaEvent
	unsub := a.Subscribe(func(ev MediaEvent) { events = append(events, ev) })

	a.OnTrack("b", &fakeRemote{id: "audio-1", kind: webrtc.RTPCodecTypeAudio})
	a.OnTrack("b", &fakeRemote{id: "screen-1", kind: webrtc.RTPCodecTypeVideo})
	a.OnTrack("c", &fakeRemote{id: "opaque", kind: webrtc.RTPCodecTypeVideo})

	tracks := a.Tracks("b")
	require.Len(t, tracks, 2)
	assert.Equal(t, domain.KindAudio, tracks[0].Kind)
	assert.Equal(t, domain.KindScreen, tracks[1].Kind)
	assert.Equal(t, domain.KindVideo, a.Tracks("c")[0].Kind)

	a.OnTrackEnded("b", "screen-1")
	a.OnTrackEnded("b", "screen-1")
	assert.Len(t, a.Tracks("b"), 1)

	a.OnPeerClosed("b")
	assert.Empty(t, a.Tracks("b"))
	assert.Len(t, a.Tracks("c"), 1)

	require.Len(t, events, 5)
	assert.Equal(t, MediaEnded, events[3].Type)
	assert.Equal(t, "screen-1", events[3].TrackID)
	assert.Equal(t, MediaEvent{Type: MediaEnded, PeerID: "b", Kind: domain.KindAudio, TrackID: "audio-1", Track: events[0].Track}, events[4])

	unsub()
	a.OnPeerClosed("c")
	assert.Len(t, events, 5)
}

func TestDrain(t *testing.T) {
	tr := &fakeRemote{id: "audio-1", pkts: []*rtp.Packet{{}, {}, {}}}
	var got int
	n, err := Drain(context.Background(), tr, func(*rtp.Packet) { got++ })
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, got)

	boom := errors.New("boom")
	n, err = Drain(context.Background(), &fakeRemote{err: boom}, nil)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = Drain(ctx, &fakeRemote{pkts: []*rtp.Packet{{}}}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type sink struct {
	mu      sync.Mutex
	seqs    []uint16
	stopped chan struct{}
	once    sync.Once
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	s.seqs = append(s.seqs, p.SequenceNumber)
	s.mu.Unlock()
	return nil
}

func (s *sink) Stop() { s.once.Do(func() { close(s.stopped) }) }

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seqs)
}

func TestIngestUDP(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	out, err := net.Dial("udp4", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()

	s := &sink{stopped: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- IngestUDP(ctx, conn, s, zerolog.Nop()) }()

	for seq := uint16(1); seq <= 3; seq++ {
		raw, err := (&rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: seq}, Payload: []byte{1}}).Marshal()
		require.NoError(t, err)
		_, err = out.Write(raw)
		require.NoError(t, err)
	}
	_, err = out.Write([]byte{0x00})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ingest did not stop")
	}
	<-s.stopped
	s.mu.Lock()
	assert.Equal(t, []uint16{1, 2, 3}, s.seqs)
	s.mu.Unlock()
}
