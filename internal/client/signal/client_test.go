package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

// echoServer answers ping with pong and bounces negotiation messages back
// tagged as coming from "srv".
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{Subprotocols: protocol.Subprotocols}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		codec, err := protocol.CodecFor(conn.Subprotocol())
		if err != nil {
			return
		}
		frame := websocket.TextMessage
		if codec.Binary() {
			frame = websocket.BinaryMessage
		}
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != frame {
				return
			}
			msg, err := codec.Decode(data)
			if err != nil {
				return
			}
			var reply protocol.Message
			switch m := msg.(type) {
			case protocol.Ping:
				reply = protocol.Pong{}
			case protocol.Targeted:
				reply = m.From("srv")
			default:
				continue
			}
			out, err := codec.Encode(reply)
			if err != nil {
				return
			}
			if err := conn.WriteMessage(frame, out); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	select {
	case m, ok := <-c.Incoming():
		require.True(t, ok, "connection closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := echoServer(t)
	for _, codec := range []string{protocol.SubprotocolJSON, protocol.SubprotocolMsgpack} {
		t.Run(codec, func(t *testing.T) {
			c, err := Dial(context.Background(), wsURL(srv), Options{Codec: codec, Logger: zerolog.Nop()})
			require.NoError(t, err)
			defer c.Close()
			assert.Equal(t, codec, c.Codec().Name())

			require.NoError(t, c.Send(protocol.Ping{}))
			assert.Equal(t, protocol.Pong{}, next(t, c))

			require.NoError(t, c.SendOffer("b", "v=0"))
			assert.Equal(t, protocol.Offer{FromPeerID: "srv", SDP: "v=0"}, next(t, c))

			mid := "0"
			require.NoError(t, c.SendCandidate("b", webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid}))
			got, ok := next(t, c).(protocol.ICECandidate)
			require.True(t, ok)
			assert.Equal(t, domain.PeerID("srv"), got.FromPeerID)
			assert.Equal(t, "candidate:1", got.Candidate.Candidate)
			require.NotNil(t, got.Candidate.SDPMid)
			assert.Equal(t, "0", *got.Candidate.SDPMid)
		})
	}
}

func TestClientCloseEndsIncoming(t *testing.T) {
	srv := echoServer(t)
	c, err := Dial(context.Background(), wsURL(srv), Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	c.Close()
	c.Close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-c.Incoming():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Send(protocol.Ping{}), domain.ErrSessionClosed)
}

func TestDialRefused(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/api/ws/signal", Options{Logger: zerolog.Nop()})
	require.Error(t, err)
}
