package protocol

import "github.com/pion/webrtc/v4"

// ICEServer is the wire form of an RTCIceServer entry.
type ICEServer struct {
	URLs       []string `json:"urls" msgpack:"urls" mapstructure:"urls"`
	Username   string   `json:"username,omitempty" msgpack:"username,omitempty" mapstructure:"username"`
	Credential string   `json:"credential,omitempty" msgpack:"credential,omitempty" mapstructure:"credential"`
}

func (s ICEServer) WebRTC() webrtc.ICEServer {
	out := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
	if s.Username != "" {
		out.Username = s.Username
		out.Credential = s.Credential
		out.CredentialType = webrtc.ICECredentialTypePassword
	}
	return out
}

func WebRTCServers(in []ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, s.WebRTC())
	}
	return out
}

func CandidateFromInit(c webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c Candidate) Init() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
