// Package signal is the client end of the signaling WebSocket.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

type Options struct {
	// Codec is the subprotocol to ask for: "json" or "msgpack".
	Codec  string
	Header http.Header
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

// Client manages the WebSocket connection to the relay.
type Client struct {
	conn     *websocket.Conn
	codec    protocol.Codec
	log      zerolog.Logger
	incoming chan protocol.Message
	outgoing chan []byte
	done     chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Dial connects to url (ws:// or wss://) and starts the pumps.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}
	if opts.Codec != "" {
		dialer.Subprotocols = []string{opts.Codec}
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	codec, err := protocol.CodecFor(conn.Subprotocol())
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{
		conn:     conn,
		codec:    codec,
		log:      opts.Logger.With().Str("codec", codec.Name()).Logger(),
		incoming: make(chan protocol.Message, sendBuffer),
		outgoing: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Client) Codec() protocol.Codec { return c.codec }

// Incoming is closed when the connection ends.
func (c *Client) Incoming() <-chan protocol.Message { return c.incoming }

func (c *Client) Done() <-chan struct{} { return c.done }

// Err is the read error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Send(m protocol.Message) error {
	data, err := c.codec.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return domain.ErrSessionClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return domain.ErrSessionClosed
	}
}

func (c *Client) SendOffer(to domain.PeerID, sdp string) error {
	return c.Send(protocol.Offer{TargetPeerID: to, SDP: sdp})
}

func (c *Client) SendAnswer(to domain.PeerID, sdp string) error {
	return c.Send(protocol.Answer{TargetPeerID: to, SDP: sdp})
}

func (c *Client) SendCandidate(to domain.PeerID, ci webrtc.ICECandidateInit) error {
	return c.Send(protocol.ICECandidate{TargetPeerID: to, Candidate: protocol.CandidateFromInit(ci)})
}

// Close ends the connection with a close frame. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
		msg, err := c.codec.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.log.Debug().Err(err).Msg("skipping message")
				continue
			}
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	for {
		select {
		case data := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frame, data); err != nil {
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
