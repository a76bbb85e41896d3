// Package rooms fans envelopes out to subscribers by room name.
//
// Rooms follow the client contract: asset:<id>, assets:all and user:<id>.
// Websocket connections and gRPC streams both attach as Subscribers.
package rooms

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"fracx/domain/event"
	"fracx/infra/metrics"
)

type Subscriber struct {
	ID    string
	C     <-chan event.Envelope
	send  chan event.Envelope
	rooms map[string]struct{}
}

// Hub is safe for concurrent use. Deliver never blocks: a subscriber whose
// buffer is full misses the envelope.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Subscriber]struct{}
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Subscriber]struct{}),
		log:   log.Named("rooms"),
	}
}

// Subscribe registers a subscriber that belongs to no room yet.
func (h *Hub) Subscribe(id string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	ch := make(chan event.Envelope, buffer)
	metrics.Subscribers.Inc()
	return &Subscriber{ID: id, C: ch, send: ch, rooms: make(map[string]struct{})}
}

func (h *Hub) Join(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.rooms == nil {
		return // closed
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Subscriber]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) Leave(s *Subscriber, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(s, room)
}

// Close removes the subscriber from every room and closes its channel.
func (h *Hub) Close(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.rooms == nil {
		return
	}
	for room := range s.rooms {
		h.leave(s, room)
	}
	s.rooms = nil
	close(s.send)
	metrics.Subscribers.Dec()
}

// Members reports how many subscribers are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver implements event.Sink. A subscriber in several of an envelope's
// rooms receives it once.
func (h *Hub) Deliver(_ context.Context, batch []event.Envelope) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, env := range batch {
		seen := make(map[*Subscriber]struct{})
		for _, room := range env.Rooms {
			for s := range h.rooms[room] {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
				select {
				case s.send <- env:
				default:
					metrics.EventsDropped.Inc()
					h.log.Debug("subscriber too slow, dropping",
						zap.String("subscriber", s.ID),
						zap.String("event", string(env.Event)),
					)
				}
			}
		}
		metrics.EventsPublished.WithLabelValues(string(env.Event)).Inc()
	}
	return nil
}

func (h *Hub) leave(s *Subscriber, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if s.rooms != nil {
		delete(s.rooms, room)
	}
}
