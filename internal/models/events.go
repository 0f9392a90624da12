package models

import "time"

// EventTopic is the closed set of broadcast channels a subscriber may filter
// on, grounded on broker_daemon/models/events.py.
type EventTopic string

const (
	TopicOrders     EventTopic = "orders"
	TopicFills      EventTopic = "fills"
	TopicPositions  EventTopic = "positions"
	TopicPnL        EventTopic = "pnl"
	TopicRisk       EventTopic = "risk"
	TopicConnection EventTopic = "connection"
)

var AllTopics = []EventTopic{TopicOrders, TopicFills, TopicPositions, TopicPnL, TopicRisk, TopicConnection}

// Event is the envelope broadcast to every subscriber whose filter set
// includes Topic. Payload is a map[string]any whose keys depend on the topic
// (order fields, fill fields, risk event details, or a connection "event"
// with its host/port details).
type Event struct {
	Topic     EventTopic `json:"topic" msgpack:"topic"`
	Timestamp time.Time  `json:"timestamp" msgpack:"timestamp"`
	Payload   any        `json:"payload" msgpack:"payload"`
}
