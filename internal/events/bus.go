// Package events is the room/user scoped pub/sub channel for application
// events. It is separate from the media signaling path.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/somnesh/NexMeet-sub000/internal/domain"
)

type Kind string

const (
	ParticipantJoined Kind = "PARTICIPANT_JOINED"
	ParticipantLeft   Kind = "PARTICIPANT_LEFT"
	ParticipantKicked Kind = "PARTICIPANT_KICKED"
	HostJoined        Kind = "HOST_JOINED"
	JoinRequested     Kind = "JOIN_REQUEST"
	JoinAccepted      Kind = "JOIN_ACCEPTED"
	JoinRejected      Kind = "JOIN_REJECTED"
	YouWereKicked     Kind = "YOU_WERE_KICKED"
	MeetingEnded      Kind = "MEETING_ENDED"
)

type Event struct {
	Type    Kind          `json:"type"`
	RoomID  domain.RoomID `json:"roomId"`
	Payload any           `json:"payload,omitempty"`
	Time    time.Time     `json:"time"`
}

type Topic string

func RoomTopic(id domain.RoomID) Topic { return Topic("room/" + string(id)) }
func UserTopic(id domain.UserID) Topic { return Topic("user/" + string(id)) }

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(topic Topic, ev Event)
}

// Subscription delivers events for its topics in publish order. Events are
// dropped for a subscriber whose buffer is full.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	topics []Topic
	bus    *Bus
	once   sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.bus.remove(s) })
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*Subscription]struct{}
	buffer int
	now    func() time.Time
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{
		subs:   make(map[Topic]map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	ch := make(chan Event, b.buffer)
	s := &Subscription{C: ch, ch: ch, topics: topics, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		set, ok := b.subs[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			b.subs[t] = set
		}
		set[s] = struct{}{}
	}
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range s.topics {
		set := b.subs[t]
		delete(set, s)
		if len(set) == 0 {
			delete(b.subs, t)
		}
	}
	close(s.ch)
}

func (b *Bus) Publish(topic Topic, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[topic] {
		select {
		case s.ch <- ev:
		default:
			log.Warn().Str("module", "events").Str("topic", string(topic)).Str("type", string(ev.Type)).Msg("subscriber full, event dropped")
		}
	}
}
