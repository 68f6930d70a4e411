package admission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
	"github.com/somnesh/NexMeet-sub000/internal/events"
)

type recorder struct {
	mu  sync.Mutex
	got []published
}

type published struct {
	topic events.Topic
	ev    events.Event
}

func (r *recorder) Publish(topic events.Topic, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, published{topic, ev})
}

func (r *recorder) kinds(topic events.Topic) []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Kind
	for _, p := range r.got {
		if p.topic == topic {
			out = append(out, p.ev.Type)
		}
	}
	return out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestController(t *testing.T) (*Controller, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	c := NewController(rec, nil)
	c.now = clk.now
	n := 0
	c.newID = func() domain.ParticipantID {
		n++
		return domain.ParticipantID(fmt.Sprintf("p%d", n))
	}
	require.NoError(t, c.SetHost("abc-defg-hij", "host"))
	return c, rec, clk
}

func TestHostAndUnhostedRoomsShortCircuit(t *testing.T) {
	c, rec, _ := newTestController(t)

	req, err := c.RequestToJoin("abc-defg-hij", "host", "Host")
	require.NoError(t, err)
	assert.Equal(t, domain.JoinAccepted, req.Status)

	req, err = c.RequestToJoin("open-room", "guest", "Guest")
	require.NoError(t, err)
	assert.Equal(t, domain.JoinAccepted, req.Status)
	assert.NoError(t, c.CanJoin("open-room", "guest"))
	assert.Empty(t, rec.got)
}

func TestRequestNotifiesHost(t *testing.T) {
	c, rec, _ := newTestController(t)

	req, err := c.RequestToJoin("abc-defg-hij", "u1", "  Ann ")
	require.NoError(t, err)
	assert.Equal(t, domain.JoinPending, req.Status)
	assert.Equal(t, "Ann", req.UserName)
	assert.Equal(t, []events.Kind{events.JoinRequested}, rec.kinds(events.UserTopic("host")))
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "u1"), domain.ErrJoinPending)
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "stranger"), domain.ErrAdmissionRequired)
}

func TestRepeatedRequestRefreshesTimestamp(t *testing.T) {
	c, _, clk := newTestController(t)

	first, err := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.NoError(t, err)
	clk.t = clk.t.Add(30 * time.Second)
	second, err := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.NoError(t, err)

	assert.Equal(t, first.ParticipantID, second.ParticipantID)
	pending, err := c.Pending("abc-defg-hij", "host")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, clk.t, pending[0].RequestedAt)
}

func TestIndependentRequests(t *testing.T) {
	c, _, _ := newTestController(t)
	a, _ := c.RequestToJoin("abc-defg-hij", "a", "A")
	b, _ := c.RequestToJoin("abc-defg-hij", "b", "B")
	require.NotEqual(t, a.ParticipantID, b.ParticipantID)

	_, err := c.Resolve("abc-defg-hij", "host", a.ParticipantID, true)
	require.NoError(t, err)

	assert.NoError(t, c.CanJoin("abc-defg-hij", "a"))
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "b"), domain.ErrJoinPending)
	pending, _ := c.Pending("abc-defg-hij", "host")
	require.Len(t, pending, 1)
	assert.Equal(t, b.ParticipantID, pending[0].ParticipantID)
}

func TestResolveIsHostOnly(t *testing.T) {
	c, rec, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	_, err := c.Resolve("abc-defg-hij", "u1", req.ParticipantID, true)
	require.ErrorIs(t, err, domain.ErrForbidden)
	got, _ := c.Get("abc-defg-hij", req.ParticipantID)
	assert.Equal(t, domain.JoinPending, got.Status)
	assert.Empty(t, rec.kinds(events.UserTopic("u1")))

	_, err = c.Pending("abc-defg-hij", "u1")
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestResolveTwiceIsNoop(t *testing.T) {
	c, rec, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	first, err := c.Resolve("abc-defg-hij", "host", req.ParticipantID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRejected, first.Status)

	second, err := c.Resolve("abc-defg-hij", "host", req.ParticipantID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRejected, second.Status)
	assert.Equal(t, []events.Kind{events.JoinRejected}, rec.kinds(events.UserTopic("u1")))
}

func TestRejectedUserCanAskAgain(t *testing.T) {
	c, _, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	_, _ = c.Resolve("abc-defg-hij", "host", req.ParticipantID, false)
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "u1"), domain.ErrJoinRejected)

	again, err := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, domain.JoinPending, again.Status)
	assert.NotEqual(t, req.ParticipantID, again.ParticipantID)
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "u1"), domain.ErrJoinPending)

	old, _ := c.Get("abc-defg-hij", req.ParticipantID)
	assert.Equal(t, domain.JoinRejected, old.Status)
}

func TestAcceptedRequestIsReturnedOnRepeat(t *testing.T) {
	c, _, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	_, _ = c.Resolve("abc-defg-hij", "host", req.ParticipantID, true)

	again, err := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.NoError(t, err)
	assert.Equal(t, domain.JoinAccepted, again.Status)
	assert.Equal(t, req.ParticipantID, again.ParticipantID)
}

func TestWaitUnblocksOnResolve(t *testing.T) {
	c, _, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	done := make(chan domain.JoinRequest, 1)
	go func() {
		got, err := c.Wait(context.Background(), "abc-defg-hij", req.ParticipantID)
		assert.NoError(t, err)
		done <- got
	}()

	_, err := c.Resolve("abc-defg-hij", "host", req.ParticipantID, true)
	require.NoError(t, err)
	select {
	case got := <-done:
		assert.Equal(t, domain.JoinAccepted, got.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	c, _, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := c.Wait(ctx, "abc-defg-hij", req.ParticipantID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.JoinPending, got.Status)

	_, err = c.Wait(context.Background(), "abc-defg-hij", "nope")
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestSetHostKeepsFirstHost(t *testing.T) {
	c, _, _ := newTestController(t)
	require.NoError(t, c.SetHost("abc-defg-hij", "host"))
	require.ErrorIs(t, c.SetHost("abc-defg-hij", "other"), domain.ErrForbidden)
	h, ok := c.Host("abc-defg-hij")
	require.True(t, ok)
	assert.Equal(t, domain.UserID("host"), h)
}

func TestConcurrentResolveSingleOutcome(t *testing.T) {
	c, rec, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(accept bool) {
			defer wg.Done()
			_, _ = c.Resolve("abc-defg-hij", "host", req.ParticipantID, accept)
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Len(t, rec.kinds(events.UserTopic("u1")), 1)
}

func TestRateLimitedRequests(t *testing.T) {
	c, _, _ := newTestController(t)
	c.limiter = NewRoomRateLimiter(1, time.Minute)

	req, err := c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.NoError(t, err)
	_, _ = c.Resolve("abc-defg-hij", "host", req.ParticipantID, false)

	_, err = c.RequestToJoin("abc-defg-hij", "u1", "Ann")
	require.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestEndMeetingRejectsPendingAndClosesRoom(t *testing.T) {
	c, rec, _ := newTestController(t)
	req, _ := c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	require.ErrorIs(t, c.EndMeeting("abc-defg-hij", "u1"), domain.ErrForbidden)
	require.NoError(t, c.EndMeeting("abc-defg-hij", "host"))
	require.NoError(t, c.EndMeeting("abc-defg-hij", "host"))

	got, err := c.Wait(context.Background(), "abc-defg-hij", req.ParticipantID)
	require.NoError(t, err)
	assert.Equal(t, domain.JoinRejected, got.Status)
	assert.Equal(t, []events.Kind{events.JoinRejected}, rec.kinds(events.UserTopic("u1")))

	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "host"), domain.ErrMeetingEnded)
	assert.ErrorIs(t, c.CanJoin("abc-defg-hij", "u2"), domain.ErrMeetingEnded)
	_, err = c.RequestToJoin("abc-defg-hij", "u2", "Bo")
	assert.ErrorIs(t, err, domain.ErrMeetingEnded)
	assert.ErrorIs(t, c.SetHost("abc-defg-hij", "host"), domain.ErrMeetingEnded)
	assert.ErrorIs(t, c.EndMeeting("missing", "host"), domain.ErrRoomNotFound)
}

func TestSweepDropsIdleRooms(t *testing.T) {
	c, _, clk := newTestController(t)
	c.limiter = NewRoomRateLimiter(5, time.Minute)
	c.limiter.now = clk.now
	require.NoError(t, c.SetHost("busy-room-xyz", "host2"))
	_, _ = c.RequestToJoin("abc-defg-hij", "u1", "Ann")

	clk.t = clk.t.Add(2 * time.Hour)
	live := func(id domain.RoomID) bool { return id == "busy-room-xyz" }
	assert.Equal(t, 1, c.Sweep(clk.t.Add(-time.Hour), live))

	_, ok := c.Host("abc-defg-hij")
	assert.False(t, ok)
	_, ok = c.Host("busy-room-xyz")
	assert.True(t, ok)
	assert.Empty(t, c.limiter.history)
}
