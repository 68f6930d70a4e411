// Package session runs one participant's call: admission, signaling, the
// peer mesh, local publishing and the remote media view.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/client/admission"
	"github.com/somnesh/NexMeet-sub000/internal/client/media"
	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/client/rtc"
	"github.com/somnesh/NexMeet-sub000/internal/client/signal"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

const signalPath = "/api/ws/signal"

type Config struct {
	// Server is the http(s) base URL of the relay.
	Server string
	Room   domain.RoomID
	UserID domain.UserID
	Name   string
	// Codec is the signaling subprotocol, "json" or "msgpack".
	Codec string
	Grace time.Duration
	// Ask goes through host admission before joining.
	Ask bool

	// Factory overrides the pion connection factory.
	Factory    mesh.ConnectionFactory
	HTTPClient *http.Client
	// OnPacket sees every RTP packet read from remote tracks.
	OnPacket func(peer domain.PeerID, trackID string, pkt *rtp.Packet)
	Logger   zerolog.Logger
}

type Session struct {
	cfg Config
	log zerolog.Logger

	mesh  *mesh.Manager
	pub   *media.Publisher
	agg   *media.Aggregator
	admit *admission.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	sig     *signal.Client
	self    domain.PeerID
	closing bool
	joined  chan joinOutcome

	done      chan struct{}
	closeOnce sync.Once
}

type joinOutcome struct {
	reply protocol.RoomJoined
	err   error
}

// New builds a session. Nothing touches the network until Join.
func New(cfg Config) (*Session, error) {
	if cfg.Room == "" {
		return nil, domain.ErrRoomIDEmpty
	}
	if _, err := domain.NewUser(cfg.UserID, nameOr(cfg)); err != nil {
		return nil, err
	}
	if cfg.Codec == "" {
		cfg.Codec = protocol.SubprotocolJSON
	}

	s := &Session{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("room", string(cfg.Room)).Str("user", string(cfg.UserID)).Logger(),
		admit:  admission.New(cfg.Server, cfg.UserID, cfg.HTTPClient),
		joined: make(chan joinOutcome, 1),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	factory := cfg.Factory
	if factory == nil {
		api, err := rtc.NewAPI(nil)
		if err != nil {
			return nil, err
		}
		factory = rtc.NewFactory(api, rtc.DefaultConfiguration(), s.log.With().Str("module", "client.rtc").Logger())
	}

	s.mesh = mesh.NewManager(mesh.Config{
		Factory:  factory,
		Signaler: s,
		Grace:    cfg.Grace,
		Logger:   s.log.With().Str("module", "client.mesh").Logger(),
	})
	s.pub = media.NewPublisher(s.mesh, s.log.With().Str("module", "client.media").Logger())
	s.agg = media.NewAggregator(s.log.With().Str("module", "client.media").Logger())
	s.mesh.Subscribe(s.agg)
	s.mesh.Subscribe(mesh.ObserverFuncs{Track: s.drain})
	return s, nil
}

func nameOr(cfg Config) string {
	if strings.TrimSpace(cfg.Name) == "" {
		return string(cfg.UserID)
	}
	return cfg.Name
}

func (s *Session) Mesh() *mesh.Manager           { return s.mesh }
func (s *Session) Publisher() *media.Publisher   { return s.pub }
func (s *Session) Aggregator() *media.Aggregator { return s.agg }
func (s *Session) Admission() *admission.Client  { return s.admit }
func (s *Session) Done() <-chan struct{}         { return s.done }

// PeerID is this session's id in the room, empty before the join reply.
func (s *Session) PeerID() domain.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Join asks for admission when configured, opens the signaling socket and
// waits for the join reply.
func (s *Session) Join(ctx context.Context) (protocol.RoomJoined, error) {
	if s.cfg.Ask {
		req, err := s.admit.RequestAndWait(ctx, s.cfg.Room, nameOr(s.cfg))
		if err != nil {
			return protocol.RoomJoined{}, fmt.Errorf("admission: %w", err)
		}
		s.log.Info().Str("participant", string(req.ParticipantID)).Msg("admitted")
	}

	wsURL, err := signalURL(s.cfg.Server)
	if err != nil {
		return protocol.RoomJoined{}, err
	}
	header := http.Header{}
	header.Set(admission.UserIDHeader, string(s.cfg.UserID))
	sig, err := signal.Dial(ctx, wsURL, signal.Options{
		Codec:  s.cfg.Codec,
		Header: header,
		Logger: s.log.With().Str("module", "client.signal").Logger(),
	})
	if err != nil {
		return protocol.RoomJoined{}, err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		sig.Close()
		return protocol.RoomJoined{}, domain.ErrSessionClosed
	}
	if s.sig != nil {
		s.mu.Unlock()
		sig.Close()
		return protocol.RoomJoined{}, domain.ErrAlreadyJoined
	}
	s.sig = sig
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(sig)

	if err := sig.Send(protocol.JoinRoom{RoomID: s.cfg.Room, UserID: s.cfg.UserID, Name: nameOr(s.cfg)}); err != nil {
		s.Close()
		return protocol.RoomJoined{}, err
	}

	select {
	case out := <-s.joined:
		if out.err != nil {
			s.Close()
		}
		return out.reply, out.err
	case <-s.done:
		return protocol.RoomJoined{}, domain.ErrSessionClosed
	case <-ctx.Done():
		s.Close()
		return protocol.RoomJoined{}, ctx.Err()
	}
}

// Leave tells the room we are going and tears everything down.
func (s *Session) Leave() {
	s.mu.Lock()
	sig := s.sig
	s.mu.Unlock()
	if sig != nil {
		if err := sig.Send(protocol.LeaveRoom{RoomID: s.cfg.Room, UserID: s.cfg.UserID}); err != nil {
			s.log.Debug().Err(err).Msg("leave")
		}
	}
	s.Close()
}

// Close cancels in-flight negotiations, closes every peer connection and the
// signaling socket.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		sig := s.sig
		s.mu.Unlock()

		s.cancel()
		s.pub.Close()
		s.mesh.Close()
		if sig != nil {
			sig.Close()
		}
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
}

func (s *Session) loop(sig *signal.Client) {
	defer s.wg.Done()
	defer s.Close()

	for msg := range sig.Incoming() {
		if err := s.dispatch(msg); err != nil {
			s.log.Debug().Err(err).Str("type", string(msg.Type())).Msg("signal handling")
		}
	}
	if err := sig.Err(); err != nil {
		s.log.Warn().Err(err).Msg("signaling connection lost")
	}
}

func (s *Session) dispatch(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.RoomJoined:
		s.mu.Lock()
		s.self = m.PeerID
		s.mu.Unlock()
		s.mesh.SetLocalID(m.PeerID)
		roster := make([]domain.PeerID, 0, len(m.PeerList))
		for _, p := range m.PeerList {
			roster = append(roster, p.ID)
		}
		s.log.Info().Str("peer", string(m.PeerID)).Int("roster", len(roster)).Msg("joined room")
		err := s.mesh.HandleRoster(protocol.WebRTCServers(m.ICEServers), roster)
		s.settle(joinOutcome{reply: m})
		return err
	case protocol.PeerJoined:
		if s.PeerID() == "" {
			s.log.Debug().Str("peer", string(m.PeerID)).Msg("peerJoined before roomJoined ignored")
			return nil
		}
		s.log.Info().Str("peer", string(m.PeerID)).Str("name", m.Name).Msg("peer joined")
		return s.mesh.HandlePeerJoined(m.PeerID)
	case protocol.PeerLeft:
		s.log.Info().Str("peer", string(m.PeerID)).Msg("peer left")
		s.mesh.HandlePeerLeft(m.PeerID)
		return nil
	case protocol.Offer:
		return s.mesh.HandleOffer(m.FromPeerID, m.SDP)
	case protocol.Answer:
		return s.mesh.HandleAnswer(m.FromPeerID, m.SDP)
	case protocol.ICECandidate:
		return s.mesh.HandleCandidate(m.FromPeerID, m.Candidate.Init())
	case protocol.Error:
		err := errorFor(m)
		if !s.settle(joinOutcome{err: err}) {
			s.log.Warn().Err(err).Msg("relay error")
		}
		return nil
	case protocol.Left:
		s.log.Info().Msg("left room")
		return nil
	case protocol.Ping:
		return s.Send(protocol.Pong{})
	case protocol.Pong:
		return nil
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, msg.Type())
	}
}

// settle reports the join outcome once; later calls return false.
func (s *Session) settle(out joinOutcome) bool {
	select {
	case s.joined <- out:
		return true
	default:
		return false
	}
}

func errorFor(m protocol.Error) error {
	var base error
	switch m.Code {
	case protocol.CodeJoinRejected:
		base = domain.ErrJoinRejected
	case protocol.CodeJoinPending:
		base = domain.ErrJoinPending
	case protocol.CodeAlreadyJoined:
		base = domain.ErrAlreadyJoined
	case protocol.CodeNotInRoom:
		base = domain.ErrRoomNotFound
	case protocol.CodeForbidden:
		base = domain.ErrForbidden
	case protocol.CodeMeetingEnded:
		base = domain.ErrMeetingEnded
	default:
		return fmt.Errorf("relay: %s: %s", m.Code, m.Message)
	}
	return fmt.Errorf("%w: %s", base, m.Message)
}

func (s *Session) drain(peer domain.PeerID, track mesh.RemoteTrack) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		var sink func(*rtp.Packet)
		if s.cfg.OnPacket != nil {
			id := track.ID()
			sink = func(p *rtp.Packet) { s.cfg.OnPacket(peer, id, p) }
		}
		n, err := media.Drain(s.ctx, track, sink)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug().Err(err).Str("peer", string(peer)).Str("track", track.ID()).Msg("remote track read")
		}
		s.log.Debug().Str("peer", string(peer)).Str("track", track.ID()).Int("packets", n).Msg("remote track ended")
		s.agg.OnTrackEnded(peer, track.ID())
	}()
}

// Send puts m on the signaling socket.
func (s *Session) Send(m protocol.Message) error {
	s.mu.Lock()
	sig := s.sig
	s.mu.Unlock()
	if sig == nil {
		return domain.ErrSessionClosed
	}
	return sig.Send(m)
}

func (s *Session) SendOffer(to domain.PeerID, sdp string) error {
	return s.Send(protocol.Offer{TargetPeerID: to, SDP: sdp})
}

func (s *Session) SendAnswer(to domain.PeerID, sdp string) error {
	return s.Send(protocol.Answer{TargetPeerID: to, SDP: sdp})
}

func (s *Session) SendCandidate(to domain.PeerID, c webrtc.ICECandidateInit) error {
	return s.Send(protocol.ICECandidate{TargetPeerID: to, Candidate: protocol.CandidateFromInit(c)})
}

func signalURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + signalPath
	return u.String(), nil
}
