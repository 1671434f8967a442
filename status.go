package flow

import (
	"sync"
	"time"

	"github.com/meikuraledutech/flow/metrics"
)

// StatusEvent reports a node's execution state to live observers.
type StatusEvent struct {
	JobID      string     `json:"job_id"`
	WorkflowID string     `json:"workflow_id"`
	NodeID     string     `json:"node_id"`
	Status     NodeStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Publisher is the publish side of the status channel. Publish must not
// block on subscribers.
type Publisher interface {
	Publish(topic string, ev StatusEvent)
}

// TopicCloser is implemented by publishers that can end all subscriptions
// to a topic.
type TopicCloser interface {
	CloseTopic(topic string)
}

// JobTopic is the topic carrying the events of one job.
func JobTopic(jobID string) string { return "job:" + jobID }

// WorkflowTopic is the topic carrying the events of every job of a workflow.
func WorkflowTopic(workflowID string) string { return "workflow:" + workflowID }

// DefaultSubscriberBuffer is the per-subscriber queue length used when
// NewBroker is given a non-positive size.
const DefaultSubscriberBuffer = 64

// Broker is an in-process topic fan-out. Delivery is best-effort: a
// subscriber whose buffer is full misses the event, and subscribers only see
// events published after they subscribed.
type Broker struct {
	buffer int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
}

// NewBroker returns a broker giving each subscriber a queue of size buffer.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		buffer: buffer,
		topics: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription receives the events of one topic until closed.
type Subscription struct {
	topic  string
	ch     chan StatusEvent
	broker *Broker
}

// Events is closed when the subscription or its topic is closed.
func (s *Subscription) Events() <-chan StatusEvent { return s.ch }

// Close stops delivery. It is safe to call more than once.
func (s *Subscription) Close() { s.broker.unsubscribe(s) }

// Subscribe starts receiving events published to topic from now on.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		topic:  topic,
		ch:     make(chan StatusEvent, b.buffer),
		broker: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every current subscriber of topic without waiting.
func (b *Broker) Publish(topic string, ev StatusEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.topics[topic] {
		select {
		case sub.ch <- ev:
		default:
			metrics.RecordDroppedEvent()
		}
	}
}

// CloseTopic closes every subscription of topic.
func (b *Broker) CloseTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.topics[topic] {
		close(sub.ch)
	}
	delete(b.topics, topic)
}

// Subscribers returns the number of open subscriptions to topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broker) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}
