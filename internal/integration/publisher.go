package integration

import (
	"log"

	"github.com/puzpuzpuz/xsync/v4"
)

// Swappable for tests.
var logPrintf = log.Printf

const subscriberBuffer = 16

// InProcessPublisher is a topic-keyed fan-out inside the process. Slow
// subscribers drop messages rather than block the pipeline.
type InProcessPublisher struct {
	topics *xsync.Map[string, *xsync.Map[int64, chan []byte]]
	nextID *xsync.Counter
}

// NewInProcessPublisher creates an empty publisher.
func NewInProcessPublisher() *InProcessPublisher {
	return &InProcessPublisher{
		topics: xsync.NewMap[string, *xsync.Map[int64, chan []byte]](),
		nextID: xsync.NewCounter(),
	}
}

// Subscribe registers a buffered channel on a topic. The returned cancel
// func removes and closes the channel.
func (p *InProcessPublisher) Subscribe(topic string) (<-chan []byte, func()) {
	subs, _ := p.topics.LoadOrCompute(topic, func() (*xsync.Map[int64, chan []byte], bool) {
		return xsync.NewMap[int64, chan []byte](), false
	})

	p.nextID.Inc()
	id := p.nextID.Value()
	ch := make(chan []byte, subscriberBuffer)
	subs.Store(id, ch)

	cancel := func() {
		if existing, ok := subs.LoadAndDelete(id); ok {
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers the payload to every subscriber of the topic. A full
// subscriber buffer drops the message for that subscriber only.
func (p *InProcessPublisher) Publish(topic string, payload []byte) {
	subs, ok := p.topics.Load(topic)
	if !ok {
		return
	}
	subs.Range(func(id int64, ch chan []byte) bool {
		select {
		case ch <- payload:
		default:
			logPrintf("[publisher] topic %s: subscriber %d lagging, dropped message", topic, id)
		}
		return true
	})
}
