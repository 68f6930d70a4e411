// Package admission gates entry into host-owned rooms: ask-to-join,
// accept and reject.
package admission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
)

type entry struct {
	req  domain.JoinRequest
	done chan struct{}
}

type roomState struct {
	host     domain.UserID
	ended    bool
	touched  time.Time
	requests map[domain.ParticipantID]*entry
	// byUser points at the latest request of each user.
	byUser map[domain.UserID]domain.ParticipantID
}

type Controller struct {
	mu      sync.Mutex
	rooms   map[domain.RoomID]*roomState
	events  events.Publisher
	limiter *RoomRateLimiter
	now     func() time.Time
	newID   func() domain.ParticipantID
}

func NewController(pub events.Publisher, limiter *RoomRateLimiter) *Controller {
	return &Controller{
		rooms:   make(map[domain.RoomID]*roomState),
		events:  pub,
		limiter: limiter,
		now:     time.Now,
		newID:   func() domain.ParticipantID { return domain.ParticipantID(uuid.NewString()) },
	}
}

func (c *Controller) state(id domain.RoomID) *roomState {
	rs, ok := c.rooms[id]
	if !ok {
		rs = &roomState{
			requests: make(map[domain.ParticipantID]*entry),
			byUser:   make(map[domain.UserID]domain.ParticipantID),
		}
		c.rooms[id] = rs
	}
	rs.touched = c.now()
	return rs
}

// SetHost makes userID the host of roomID. A room keeps its first host.
func (c *Controller) SetHost(roomID domain.RoomID, userID domain.UserID) error {
	if roomID == "" {
		return domain.ErrRoomIDEmpty
	}
	if userID == "" {
		return domain.ErrUserIDEmpty
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rs := c.state(roomID)
	if rs.ended {
		return domain.ErrMeetingEnded
	}
	if rs.host != "" && rs.host != userID {
		return fmt.Errorf("room %s already hosted: %w", roomID, domain.ErrForbidden)
	}
	rs.host = userID
	log.Info().Str("module", "app.admission").Str("room", string(roomID)).Str("host", string(userID)).Msg("host set")
	return nil
}

func (c *Controller) Host(roomID domain.RoomID) (domain.UserID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rooms[roomID]
	if !ok || rs.host == "" {
		return "", false
	}
	return rs.host, true
}

// RequestToJoin records that userID wants into roomID. Rooms without a host
// and the host itself short-circuit to ACCEPTED. A repeat while PENDING
// refreshes the existing request instead of adding another.
func (c *Controller) RequestToJoin(roomID domain.RoomID, userID domain.UserID, userName string) (domain.JoinRequest, error) {
	if roomID == "" {
		return domain.JoinRequest{}, domain.ErrRoomIDEmpty
	}
	if userID == "" {
		return domain.JoinRequest{}, domain.ErrUserIDEmpty
	}
	userName = strings.TrimSpace(userName)
	if userName == "" {
		userName = string(userID)
	}
	if len(userName) > domain.MaxUsernameLen {
		return domain.JoinRequest{}, domain.ErrUsernameTooLong
	}

	c.mu.Lock()
	now := c.now()
	rs, ok := c.rooms[roomID]
	if ok && rs.ended {
		c.mu.Unlock()
		return domain.JoinRequest{}, domain.ErrMeetingEnded
	}
	if ok {
		rs.touched = now
	}
	if !ok || rs.host == "" || rs.host == userID {
		c.mu.Unlock()
		return domain.JoinRequest{
			RoomID:      roomID,
			UserID:      userID,
			UserName:    userName,
			RequestedAt: now,
			ResolvedAt:  now,
			Status:      domain.JoinAccepted,
		}, nil
	}

	if pid, ok := rs.byUser[userID]; ok {
		e := rs.requests[pid]
		switch e.req.Status {
		case domain.JoinAccepted:
			req := e.req
			c.mu.Unlock()
			return req, nil
		case domain.JoinPending:
			e.req.RequestedAt = now
			e.req.UserName = userName
			req, host := e.req, rs.host
			c.mu.Unlock()
			log.Info().Str("module", "app.admission").Str("room", string(roomID)).Str("participant", string(pid)).Msg("join request refreshed")
			c.notify(events.UserTopic(host), events.JoinRequested, req)
			return req, nil
		}
	}

	if !c.limiter.Allow(userID) {
		c.mu.Unlock()
		return domain.JoinRequest{}, domain.ErrRateLimited
	}

	pid := c.newID()
	e := &entry{
		req: domain.JoinRequest{
			ParticipantID: pid,
			RoomID:        roomID,
			UserID:        userID,
			UserName:      userName,
			RequestedAt:   now,
			Status:        domain.JoinPending,
		},
		done: make(chan struct{}),
	}
	rs.requests[pid] = e
	rs.byUser[userID] = pid
	req, host := e.req, rs.host
	c.mu.Unlock()

	log.Info().Str("module", "app.admission").Str("room", string(roomID)).Str("user", string(userID)).Str("participant", string(pid)).Msg("join request created")
	c.notify(events.UserTopic(host), events.JoinRequested, req)
	return req, nil
}

// Resolve moves a PENDING request to ACCEPTED or REJECTED. Only the host may
// call it; resolving an already resolved request returns it unchanged.
func (c *Controller) Resolve(roomID domain.RoomID, hostID domain.UserID, pid domain.ParticipantID, accepted bool) (domain.JoinRequest, error) {
	c.mu.Lock()
	rs, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return domain.JoinRequest{}, domain.ErrRoomNotFound
	}
	if rs.host == "" || rs.host != hostID {
		c.mu.Unlock()
		log.Warn().Str("module", "app.admission").Str("room", string(roomID)).Str("user", string(hostID)).Msg("resolve by non-host")
		return domain.JoinRequest{}, domain.ErrForbidden
	}
	e, ok := rs.requests[pid]
	if !ok {
		c.mu.Unlock()
		return domain.JoinRequest{}, domain.ErrRequestNotFound
	}
	if e.req.Status.Terminal() {
		req := e.req
		c.mu.Unlock()
		return req, nil
	}
	kind := events.JoinRejected
	e.req.Status = domain.JoinRejected
	if accepted {
		kind = events.JoinAccepted
		e.req.Status = domain.JoinAccepted
	}
	e.req.ResolvedAt = c.now()
	rs.touched = e.req.ResolvedAt
	close(e.done)
	req := e.req
	c.mu.Unlock()

	log.Info().Str("module", "app.admission").Str("room", string(roomID)).Str("participant", string(pid)).Str("status", string(req.Status)).Msg("join request resolved")
	c.notify(events.UserTopic(req.UserID), kind, req)
	return req, nil
}

// CanJoin reports whether userID may enter roomID right now.
func (c *Controller) CanJoin(roomID domain.RoomID, userID domain.UserID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rooms[roomID]
	if ok && rs.ended {
		return domain.ErrMeetingEnded
	}
	if !ok || rs.host == "" || rs.host == userID {
		return nil
	}
	pid, ok := rs.byUser[userID]
	if !ok {
		return domain.ErrAdmissionRequired
	}
	switch rs.requests[pid].req.Status {
	case domain.JoinAccepted:
		return nil
	case domain.JoinRejected:
		return domain.ErrJoinRejected
	default:
		return domain.ErrJoinPending
	}
}

func (c *Controller) Get(roomID domain.RoomID, pid domain.ParticipantID) (domain.JoinRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, err := c.lookup(roomID, pid)
	if err != nil {
		return domain.JoinRequest{}, err
	}
	return e.req, nil
}

// Wait blocks until the request leaves PENDING or ctx ends. On ctx expiry the
// still-pending request is returned together with ctx.Err().
func (c *Controller) Wait(ctx context.Context, roomID domain.RoomID, pid domain.ParticipantID) (domain.JoinRequest, error) {
	c.mu.Lock()
	e, err := c.lookup(roomID, pid)
	if err != nil {
		c.mu.Unlock()
		return domain.JoinRequest{}, err
	}
	done := e.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		c.mu.Lock()
		req := e.req
		c.mu.Unlock()
		return req, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.req, nil
}

// Pending lists PENDING requests of roomID oldest first. Host only.
func (c *Controller) Pending(roomID domain.RoomID, hostID domain.UserID) ([]domain.JoinRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	if rs.host != hostID {
		return nil, domain.ErrForbidden
	}
	out := make([]domain.JoinRequest, 0, len(rs.requests))
	for _, e := range rs.requests {
		if e.req.Status == domain.JoinPending {
			out = append(out, e.req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

// EndMeeting closes roomID for good. Pending requests are rejected and later
// asks or joins fail with domain.ErrMeetingEnded. Ending twice is a no-op.
func (c *Controller) EndMeeting(roomID domain.RoomID, hostID domain.UserID) error {
	c.mu.Lock()
	rs, ok := c.rooms[roomID]
	if !ok {
		c.mu.Unlock()
		return domain.ErrRoomNotFound
	}
	if rs.host == "" || rs.host != hostID {
		c.mu.Unlock()
		return domain.ErrForbidden
	}
	if rs.ended {
		c.mu.Unlock()
		return nil
	}
	now := c.now()
	rs.ended = true
	rs.touched = now
	var rejected []domain.JoinRequest
	for _, e := range rs.requests {
		if e.req.Status == domain.JoinPending {
			e.req.Status = domain.JoinRejected
			e.req.ResolvedAt = now
			close(e.done)
			rejected = append(rejected, e.req)
		}
	}
	c.mu.Unlock()

	log.Info().Str("module", "app.admission").Str("room", string(roomID)).Int("rejected", len(rejected)).Msg("meeting ended")
	for _, req := range rejected {
		c.notify(events.UserTopic(req.UserID), events.JoinRejected, req)
	}
	return nil
}

// Sweep forgets rooms untouched since cutoff that live reports as empty,
// and prunes the rate limiter. It returns how many rooms were dropped.
func (c *Controller) Sweep(cutoff time.Time, live func(domain.RoomID) bool) int {
	c.mu.Lock()
	var stale []domain.RoomID
	for id, rs := range c.rooms {
		if rs.touched.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	n := 0
	for _, id := range stale {
		if live != nil && live(id) {
			continue
		}
		c.mu.Lock()
		if rs, ok := c.rooms[id]; ok && rs.touched.Before(cutoff) {
			delete(c.rooms, id)
			n++
		}
		c.mu.Unlock()
	}
	c.limiter.Prune()
	if n > 0 {
		log.Info().Str("module", "app.admission").Int("rooms", n).Msg("idle admission state swept")
	}
	return n
}

func (c *Controller) lookup(roomID domain.RoomID, pid domain.ParticipantID) (*entry, error) {
	rs, ok := c.rooms[roomID]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	e, ok := rs.requests[pid]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return e, nil
}

func (c *Controller) notify(topic events.Topic, kind events.Kind, req domain.JoinRequest) {
	if c.events == nil {
		return
	}
	c.events.Publish(topic, events.Event{Type: kind, RoomID: req.RoomID, Payload: req})
}
