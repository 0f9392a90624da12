package daemon

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/north-brook/brokerd/internal/models"
	"github.com/north-brook/brokerd/internal/protocol"
)

// Subscriber is a connection registered via events.subscribe, filtered to
// a set of topics. A write failure marks it stale without propagating the
// error to the rest of the broadcast fan-out.
type Subscriber struct {
	id     uint64
	writer io.Writer
	topics map[string]bool
}

// Broadcaster fans out events to every interested, still-connected
// subscriber, grounded on server.py's _broadcast_event.
type Broadcaster struct {
	mu       sync.Mutex
	nextID   uint64
	subs     map[uint64]*Subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: map[uint64]*Subscriber{}}
}

// Register adds writer as a subscriber for topics (empty = all topics) and
// returns a handle used to unregister it later.
func (b *Broadcaster) Register(writer io.Writer, topics map[string]bool) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{id: b.nextID, writer: writer, topics: topics}
	b.subs[sub.id] = sub
	return sub
}

func (b *Broadcaster) Unregister(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast serializes event once and writes it to every subscriber whose
// topic filter includes it (or whose filter is empty, meaning "all").
func (b *Broadcaster) Broadcast(event models.Event) {
	b.mu.Lock()
	if len(b.subs) == 0 {
		b.mu.Unlock()
		return
	}
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if len(sub.topics) == 0 || sub.topics[string(event.Topic)] {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	envelope := &protocol.EventEnvelope{
		Topic: string(event.Topic),
		Data:  eventToMap(event),
	}
	payload, err := protocol.Encode(envelope)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode event envelope")
		return
	}
	framed := protocol.FramePayload(payload)

	var stale []*Subscriber
	for _, sub := range targets {
		if _, err := sub.writer.Write(framed); err != nil {
			stale = append(stale, sub)
		}
	}
	if len(stale) > 0 {
		b.mu.Lock()
		for _, sub := range stale {
			delete(b.subs, sub.id)
		}
		b.mu.Unlock()
	}
}

func eventToMap(event models.Event) map[string]any {
	return map[string]any{
		"topic":     string(event.Topic),
		"timestamp": event.Timestamp,
		"payload":   event.Payload,
	}
}
