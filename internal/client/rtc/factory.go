package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/client/mesh"
	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// NewAPI builds a pion API with the default codecs and interceptors
// (NACK, RTCP reports, TWCC). se may be nil.
func NewAPI(se *webrtc.SettingEngine) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	opts := []func(*webrtc.API){
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
	}
	if se != nil {
		opts = append(opts, webrtc.WithSettingEngine(*se))
	}
	return webrtc.NewAPI(opts...), nil
}

// NewFactory returns a mesh.ConnectionFactory. The ICE servers of the call
// replace base.ICEServers when the server sent any.
func NewFactory(api *webrtc.API, base webrtc.Configuration, log zerolog.Logger) mesh.ConnectionFactory {
	return func(peer domain.PeerID, ice []webrtc.ICEServer) (mesh.MediaConnection, error) {
		cfg := base
		if len(ice) > 0 {
			cfg.ICEServers = ice
		}
		conn, err := NewConnection(api, cfg, peer, log)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
