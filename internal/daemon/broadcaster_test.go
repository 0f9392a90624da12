package daemon

import (
	"bytes"
	"testing"
	"time"

	"github.com/north-brook/brokerd/internal/models"
)

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, bytes.ErrTooLarge }

func TestBroadcasterDeliversToMatchingTopic(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	var buf bytes.Buffer
	sub := b.Register(&buf, map[string]bool{"orders": true})
	defer b.Unregister(sub)

	b.Broadcast(models.Event{Topic: models.TopicOrders, Timestamp: time.Now().UTC(), Payload: map[string]any{"x": 1}})
	if buf.Len() == 0 {
		t.Error("expected subscriber to receive a matching-topic event")
	}
}

func TestBroadcasterSkipsNonMatchingTopic(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	var buf bytes.Buffer
	sub := b.Register(&buf, map[string]bool{"fills": true})
	defer b.Unregister(sub)

	b.Broadcast(models.Event{Topic: models.TopicOrders, Timestamp: time.Now().UTC()})
	if buf.Len() != 0 {
		t.Error("expected subscriber filtered to fills to receive nothing")
	}
}

func TestBroadcasterEmptyFilterReceivesEverything(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	var buf bytes.Buffer
	sub := b.Register(&buf, map[string]bool{})
	defer b.Unregister(sub)

	b.Broadcast(models.Event{Topic: models.TopicRisk, Timestamp: time.Now().UTC()})
	if buf.Len() == 0 {
		t.Error("expected an unfiltered subscriber to receive every topic")
	}
}

func TestBroadcasterRemovesStaleSubscriberOnWriteFailure(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	b.Register(failingWriter{}, nil)
	if b.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", b.Count())
	}

	b.Broadcast(models.Event{Topic: models.TopicOrders, Timestamp: time.Now().UTC()})
	if b.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after a failed write", b.Count())
	}
}

func TestBroadcasterUnregister(t *testing.T) {
	t.Parallel()
	b := NewBroadcaster()
	var buf bytes.Buffer
	sub := b.Register(&buf, nil)
	b.Unregister(sub)
	if b.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after Unregister", b.Count())
	}
}
