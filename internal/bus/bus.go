// Package bus is the in-process fan-out hub that pushes journaled
// events and run-state transitions to live subscribers.
//
// Delivery is at-most-once with no replay: a reconnecting client
// re-subscribes and re-fetches history from the journal. Slow consumers
// never block writers; when a subscriber's bounded queue fills, the
// subscriber is dropped and its channel closed.
package bus

import (
	"log/slog"
	"sync"

	"github.com/haasonsaas/mcptap/internal/journal"
)

// Topic names. A subscriber may hold any mix.
const TopicGlobal = "global"

// TopicRun is the topic carrying one run's events and status updates.
func TopicRun(runID string) string { return "run/" + runID }

// TopicAgent is the topic carrying run-created/run-updated notices for
// one agent.
func TopicAgent(agentID string) string { return "agent/" + agentID }

// MessageType distinguishes fan-out payloads.
type MessageType string

const (
	MessageEvent      MessageType = "event"
	MessageRunCreated MessageType = "run_created"
	MessageRunUpdated MessageType = "run_updated"
)

// Message is one fan-out delivery.
type Message struct {
	Type  MessageType    `json:"type"`
	Event *journal.Event `json:"event,omitempty"`
	Run   *journal.Run   `json:"run,omitempty"`
}

// DefaultQueueSize bounds each subscriber's queue.
const DefaultQueueSize = 256

// Subscriber receives messages for its topics on a single channel. The
// channel closes when the subscriber is unsubscribed or dropped for
// backpressure.
type Subscriber struct {
	ch     chan *Message
	topics map[string]struct{}
	closed bool
}

// C is the subscriber's delivery channel.
func (s *Subscriber) C() <-chan *Message { return s.ch }

// Bus routes messages to subscribers by topic. The subscriber table is
// mutex-guarded; sends inside the lock are non-blocking.
type Bus struct {
	mu        sync.Mutex
	byTopic   map[string]map[*Subscriber]struct{}
	queueSize int
	logger    *slog.Logger
}

// New creates a bus. queueSize <= 0 selects DefaultQueueSize.
func New(queueSize int, logger *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		byTopic:   make(map[string]map[*Subscriber]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe registers a new subscriber for the given topics.
func (b *Bus) Subscribe(topics ...string) *Subscriber {
	sub := &Subscriber{
		ch:     make(chan *Message, b.queueSize),
		topics: make(map[string]struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		b.addLocked(sub, topic)
	}
	return sub
}

// Add subscribes an existing subscriber to one more topic.
func (b *Bus) Add(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	b.addLocked(sub, topic)
}

// Remove detaches a subscriber from one topic. The subscriber stays
// alive for its remaining topics.
func (b *Bus) Remove(sub *Subscriber, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(sub.topics, topic)
	if set, ok := b.byTopic[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.byTopic, topic)
		}
	}
}

// Unsubscribe detaches a subscriber from all topics and closes its
// channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropLocked(sub)
}

// Publish delivers a message to every subscriber of a topic, in the
// order Publish was called. A subscriber whose queue is full is dropped.
func (b *Bus) Publish(topic string, msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.byTopic[topic] {
		select {
		case sub.ch <- msg:
		default:
			b.logger.Warn("dropping slow subscriber", "topic", topic)
			b.dropLocked(sub)
		}
	}
}

func (b *Bus) addLocked(sub *Subscriber, topic string) {
	sub.topics[topic] = struct{}{}
	set, ok := b.byTopic[topic]
	if !ok {
		set = make(map[*Subscriber]struct{})
		b.byTopic[topic] = set
	}
	set[sub] = struct{}{}
}

func (b *Bus) dropLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	for topic := range sub.topics {
		if set, ok := b.byTopic[topic]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.byTopic, topic)
			}
		}
	}
	sub.topics = make(map[string]struct{})
	sub.closed = true
	close(sub.ch)
}

// EventInserted implements journal.Observer: each acknowledged event is
// broadcast to its run topic and to global, after the insert committed.
func (b *Bus) EventInserted(event *journal.Event) {
	msg := &Message{Type: MessageEvent, Event: event}
	b.Publish(TopicRun(event.RunID), msg)
	b.Publish(TopicGlobal, msg)
}

// RunChanged implements journal.Observer: run creation and status
// updates go to the run topic, the owning agent's topic, and global.
func (b *Bus) RunChanged(run *journal.Run) {
	typ := MessageRunUpdated
	if run.Status == journal.RunPending {
		typ = MessageRunCreated
	}
	msg := &Message{Type: typ, Run: run}
	b.Publish(TopicRun(run.ID), msg)
	if run.AgentID != "" {
		b.Publish(TopicAgent(run.AgentID), msg)
	}
	b.Publish(TopicGlobal, msg)
}
