package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestJSONWireShape(t *testing.T) {
	data, err := JSON.Encode(PeerJoined{PeerID: "p1", UserID: "u1", Name: "Ann"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"peerJoined","payload":{"peerId":"p1","userId":"u1","name":"Ann"}}`, string(data))
}

func TestJSONDecodeBrowserOffer(t *testing.T) {
	m, err := JSON.Decode([]byte(`{"type":"webrtc-offer","payload":{"targetPeerId":"b","sdp":"v=0"}}`))
	require.NoError(t, err)
	offer, ok := m.(Offer)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "b", string(offer.Target()))
	assert.Equal(t, "v=0", offer.SDP)
}

func TestDecodeMissingPayload(t *testing.T) {
	m, err := JSON.Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, Ping{}, m)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := JSON.Decode([]byte(`{"type":"createTransport","payload":{}}`))
	require.ErrorIs(t, err, ErrUnknownType)

	raw, err := msgpack.Marshal(map[string]any{"type": "produce"})
	require.NoError(t, err)
	_, err = Msgpack.Decode(raw)
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := JSON.Decode([]byte(`not json`))
	require.Error(t, err)
	_, err = Msgpack.Decode([]byte{0xc1})
	require.Error(t, err)
}

func TestCandidateSurvivesBothCodecs(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	in := ICECandidate{
		TargetPeerID: "b",
		Candidate: Candidate{
			Candidate:     "candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host",
			SDPMid:        &mid,
			SDPMLineIndex: &idx,
		},
	}
	for _, c := range []Codec{JSON, Msgpack} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Encode(in)
			require.NoError(t, err)
			out, err := c.Decode(data)
			require.NoError(t, err)
			got := out.(ICECandidate)
			assert.Equal(t, in.Candidate.Candidate, got.Candidate.Candidate)
			require.NotNil(t, got.Candidate.SDPMid)
			assert.Equal(t, "0", *got.Candidate.SDPMid)
			require.NotNil(t, got.Candidate.SDPMLineIndex)
			assert.Equal(t, uint16(1), *got.Candidate.SDPMLineIndex)
			assert.Nil(t, got.Candidate.UsernameFragment)
		})
	}
}

func TestFromStripsTarget(t *testing.T) {
	fwd := Answer{TargetPeerID: "b", SDP: "v=0"}.From("a")
	ans := fwd.(Answer)
	assert.Empty(t, ans.TargetPeerID)
	assert.Equal(t, "a", string(ans.FromPeerID))
	assert.Equal(t, "v=0", ans.SDP)
}

func TestCodecFor(t *testing.T) {
	c, err := CodecFor("")
	require.NoError(t, err)
	assert.Equal(t, SubprotocolJSON, c.Name())

	c, err = CodecFor("msgpack")
	require.NoError(t, err)
	assert.True(t, c.Binary())

	_, err = CodecFor("protobuf")
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestICEServerTurnCredential(t *testing.T) {
	s := ICEServer{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"}.WebRTC()
	assert.Equal(t, "u", s.Username)
	assert.Equal(t, "p", s.Credential)

	stun := ICEServer{URLs: []string{"stun:stun.l.google.com:19302"}}.WebRTC()
	assert.Empty(t, stun.Username)
	assert.Nil(t, stun.Credential)
}
