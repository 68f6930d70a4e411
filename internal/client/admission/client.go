// Package admission calls the meeting admission REST surface on behalf of a
// participant or a host.
package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

// UserIDHeader carries the caller identity, as set by the auth proxy.
const UserIDHeader = "X-User-Id"

// StatusError is a non-2xx reply. Is maps it back onto the domain errors.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("admission: %d %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch e.Code {
	case http.StatusForbidden:
		return target == domain.ErrForbidden
	case http.StatusNotFound:
		return target == domain.ErrRequestNotFound || target == domain.ErrRoomNotFound
	case http.StatusConflict:
		return target == domain.ErrJoinRejected
	case http.StatusGone:
		return target == domain.ErrMeetingEnded
	case http.StatusTooManyRequests:
		return target == domain.ErrRateLimited
	}
	return false
}

type Client struct {
	base string
	user domain.UserID
	http *http.Client
}

// New returns a client for the server at base (e.g. http://host:8080).
// hc may be nil.
func New(base string, user domain.UserID, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), user: user, http: hc}
}

type created struct {
	Code   domain.RoomID `json:"code"`
	HostID domain.UserID `json:"hostId"`
}

// CreateMeeting allocates a meeting code with the caller as host.
func (c *Client) CreateMeeting(ctx context.Context) (domain.RoomID, error) {
	var out created
	if err := c.do(ctx, http.MethodPost, "/api/meeting", nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// Ask submits or refreshes a join request.
func (c *Client) Ask(ctx context.Context, room domain.RoomID, name string) (domain.JoinRequest, error) {
	var out domain.JoinRequest
	err := c.do(ctx, http.MethodPost, meetingPath(room, "ask"), map[string]string{"userName": name}, &out)
	return out, err
}

// Status fetches a request. With wait the server holds the call until the
// request leaves PENDING or its own timeout passes.
func (c *Client) Status(ctx context.Context, room domain.RoomID, pid domain.ParticipantID, wait bool) (domain.JoinRequest, error) {
	path := meetingPath(room, "requests", string(pid))
	if wait {
		path += "?wait=1"
	}
	var out domain.JoinRequest
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// Wait long-polls until the request is resolved or ctx ends.
func (c *Client) Wait(ctx context.Context, room domain.RoomID, pid domain.ParticipantID) (domain.JoinRequest, error) {
	for {
		req, err := c.Status(ctx, room, pid, true)
		if err != nil {
			return req, err
		}
		if req.Status.Terminal() {
			return req, nil
		}
		if err := ctx.Err(); err != nil {
			return req, err
		}
	}
}

// RequestAndWait asks to join and blocks until the host decides. A rejection
// is returned as domain.ErrJoinRejected.
func (c *Client) RequestAndWait(ctx context.Context, room domain.RoomID, name string) (domain.JoinRequest, error) {
	req, err := c.Ask(ctx, room, name)
	if err != nil {
		return req, err
	}
	if req.Status == domain.JoinPending {
		req, err = c.Wait(ctx, room, req.ParticipantID)
		if err != nil {
			return req, err
		}
	}
	if req.Status == domain.JoinRejected {
		return req, domain.ErrJoinRejected
	}
	return req, nil
}

type requestList struct {
	Requests []domain.JoinRequest `json:"requests"`
}

// Pending lists open requests. Host only.
func (c *Client) Pending(ctx context.Context, room domain.RoomID) ([]domain.JoinRequest, error) {
	var out requestList
	err := c.do(ctx, http.MethodGet, meetingPath(room, "requests"), nil, &out)
	return out.Requests, err
}

func (c *Client) Accept(ctx context.Context, room domain.RoomID, pid domain.ParticipantID) (domain.JoinRequest, error) {
	return c.resolve(ctx, room, pid, "accept")
}

func (c *Client) Reject(ctx context.Context, room domain.RoomID, pid domain.ParticipantID) (domain.JoinRequest, error) {
	return c.resolve(ctx, room, pid, "reject")
}

func (c *Client) resolve(ctx context.Context, room domain.RoomID, pid domain.ParticipantID, verb string) (domain.JoinRequest, error) {
	var out domain.JoinRequest
	err := c.do(ctx, http.MethodPost, meetingPath(room, verb), map[string]domain.ParticipantID{"participantId": pid}, &out)
	return out, err
}

// Kick removes a peer from the room. Host only.
func (c *Client) Kick(ctx context.Context, room domain.RoomID, peer domain.PeerID) error {
	return c.do(ctx, http.MethodPost, meetingPath(room, "kick"), map[string]domain.PeerID{"peerId": peer}, nil)
}

// End closes the meeting for everyone. Host only.
func (c *Client) End(ctx context.Context, room domain.RoomID) error {
	return c.do(ctx, http.MethodPost, meetingPath(room, "end"), nil, nil)
}

func meetingPath(room domain.RoomID, parts ...string) string {
	segs := append([]string{"/api/meeting", url.PathEscape(string(room))}, parts...)
	for i := 2; i < len(segs); i++ {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.user != "" {
		req.Header.Set(UserIDHeader, string(c.user))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
