package rtc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/client/rtc"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// pipe delivers one direction of signaling in send order.
type pipe struct {
	from   domain.PeerID
	ch     chan func(*mesh.Manager)
	target *mesh.Manager
}

func newPipe(ctx context.Context, from domain.PeerID) *pipe {
	p := &pipe{from: from, ch: make(chan func(*mesh.Manager), 64)}
	go func() {
		for {
			select {
			case fn := <-p.ch:
				fn(p.target)
			case <-ctx.Done():
				return
			}
		}
	}()
	return p
}

func (p *pipe) SendOffer(_ domain.PeerID, sdp string) error {
	p.ch <- func(m *mesh.Manager) { _ = m.HandleOffer(p.from, sdp) }
	return nil
}

func (p *pipe) SendAnswer(_ domain.PeerID, sdp string) error {
	p.ch <- func(m *mesh.Manager) { _ = m.HandleAnswer(p.from, sdp) }
	return nil
}

func (p *pipe) SendCandidate(_ domain.PeerID, c webrtc.ICECandidateInit) error {
	p.ch <- func(m *mesh.Manager) { _ = m.HandleCandidate(p.from, c) }
	return nil
}

func loopbackFactory(t *testing.T) mesh.ConnectionFactory {
	t.Helper()
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(true)
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	api, err := rtc.NewAPI(&se)
	require.NoError(t, err)
	return rtc.NewFactory(api, webrtc.Configuration{}, zerolog.Nop())
}

func TestLoopbackMeshCarriesAudio(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	toB := newPipe(ctx, "a")
	toA := newPipe(ctx, "b")
	a := mesh.NewManager(mesh.Config{Factory: loopbackFactory(t), Signaler: toB, Logger: zerolog.Nop()})
	b := mesh.NewManager(mesh.Config{Factory: loopbackFactory(t), Signaler: toA, Logger: zerolog.Nop()})
	defer a.Close()
	defer b.Close()
	toB.target = b
	toA.target = a

	var (
		mu       sync.Mutex
		gotTrack = make(chan string, 1)
	)
	b.Subscribe(mesh.ObserverFuncs{
		Track: func(from domain.PeerID, tr mesh.RemoteTrack) {
			mu.Lock()
			defer mu.Unlock()
			select {
			case gotTrack <- string(from) + "/" + tr.ID():
			default:
			}
		},
	})

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-test", "a",
	)
	require.NoError(t, err)
	require.NoError(t, a.AttachTrack(track))

	// b is the newcomer: it learns about a from the roster, a gets peerJoined.
	require.NoError(t, b.HandleRoster(nil, []domain.PeerID{"a"}))
	require.NoError(t, a.HandlePeerJoined("b"))

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		var seq uint16
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq++
				_ = track.WriteRTP(&rtp.Packet{
					Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq, Timestamp: uint32(seq) * 960, SSRC: 1},
					Payload: []byte{0xf8, 0xff, 0xfe},
				})
			}
		}
	}()

	require.Eventually(t, func() bool {
		sa, _ := a.State("b")
		sb, _ := b.State("a")
		return sa == mesh.StateConnected && sb == mesh.StateConnected
	}, 15*time.Second, 50*time.Millisecond)

	select {
	case got := <-gotTrack:
		require.Equal(t, "a/audio-test", got)
	case <-time.After(15 * time.Second):
		t.Fatal("no remote track")
	}
}
