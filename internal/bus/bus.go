// Package bus decouples channel adapters from the agent loop with two
// in-process FIFO queues. Queues are unbounded but monitored; depth is
// logged when it crosses the warning threshold.
package bus

import (
	"errors"
	"sync"

	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// ErrBusClosed is returned by publish operations after Close.
var ErrBusClosed = errors.New("bus: closed")

// depthWarnThreshold triggers a warning log when a queue backs up.
const depthWarnThreshold = 1000

// queue is an unbounded FIFO with a single delivery goroutine.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []envelope.Envelope
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(env envelope.Envelope) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrBusClosed
	}
	q.items = append(q.items, env)
	q.cond.Signal()
	return len(q.items), nil
}

// pop blocks until an item is available or the queue is closed and drained.
func (q *queue) pop() (envelope.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return envelope.Envelope{}, false
		}
		q.cond.Wait()
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, true
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// MessageBus carries inbound envelopes to the agent loop and outbound
// envelopes to channel adapters and the control event stream.
type MessageBus struct {
	inbound  *queue
	outbound *queue

	mu          sync.Mutex
	inboundSub  chan envelope.Envelope
	outboundSub []outboundSub
	closed      bool
	closing     chan struct{}
	done        chan struct{}

	log *logger.Logger
}

type outboundSub struct {
	channelID string // "" matches every channel
	ch        chan envelope.Envelope
	gone      chan struct{} // closed when the subscriber detaches
}

// NewMessageBus creates a bus and starts its delivery goroutines.
func NewMessageBus(log *logger.Logger) *MessageBus {
	b := &MessageBus{
		inbound:  newQueue(),
		outbound: newQueue(),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		log:      log.WithComponent("bus"),
	}
	go b.pumpInbound()
	go b.pumpOutbound()
	return b
}

// PublishInbound enqueues an envelope for the agent loop.
func (b *MessageBus) PublishInbound(env envelope.Envelope) error {
	depth, err := b.inbound.push(env)
	if err != nil {
		return err
	}
	if depth >= depthWarnThreshold {
		b.log.Warn("inbound queue backed up", "depth", depth)
	}
	return nil
}

// PublishOutbound enqueues an envelope for channel delivery.
func (b *MessageBus) PublishOutbound(env envelope.Envelope) error {
	depth, err := b.outbound.push(env)
	if err != nil {
		return err
	}
	if depth >= depthWarnThreshold {
		b.log.Warn("outbound queue backed up", "depth", depth)
	}
	return nil
}

// SubscribeInbound returns the single inbound consumer channel. The channel
// is closed when the bus closes; after Close it is already closed.
func (b *MessageBus) SubscribeInbound() <-chan envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan envelope.Envelope)
		close(ch)
		return ch
	}
	if b.inboundSub == nil {
		b.inboundSub = make(chan envelope.Envelope)
	}
	return b.inboundSub
}

// SubscribeOutbound returns a channel receiving outbound envelopes for the
// given channel id. An empty id subscribes to every channel. The returned
// channel is closed when the bus closes.
func (b *MessageBus) SubscribeOutbound(channelID string) <-chan envelope.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan envelope.Envelope, 16)
	if b.closed {
		close(ch)
		return ch
	}
	b.outboundSub = append(b.outboundSub, outboundSub{
		channelID: channelID,
		ch:        ch,
		gone:      make(chan struct{}),
	})
	return ch
}

// UnsubscribeOutbound detaches a subscriber. Envelopes published afterwards
// are no longer delivered to it, and a delivery blocked on its full buffer
// is abandoned. The channel itself is not closed; the caller must stop
// receiving on it.
func (b *MessageBus) UnsubscribeOutbound(ch <-chan envelope.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.outboundSub {
		if sub.ch == ch {
			close(sub.gone)
			b.outboundSub = append(b.outboundSub[:i], b.outboundSub[i+1:]...)
			return
		}
	}
}

// Close stops the bus. Later publishes fail with ErrBusClosed; subscriber
// channels are closed after queued envelopes drain. A subscriber that has
// stopped receiving cannot stall the shutdown: deliveries its full buffer
// would block are dropped.
func (b *MessageBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.closing)
	b.mu.Unlock()

	b.inbound.close()
	b.outbound.close()
	<-b.done
}

func (b *MessageBus) pumpInbound() {
	for {
		env, ok := b.inbound.pop()
		if !ok {
			break
		}
		b.mu.Lock()
		ch := b.inboundSub
		b.mu.Unlock()
		if ch != nil {
			ch <- env
		}
	}
	b.mu.Lock()
	if b.inboundSub != nil {
		close(b.inboundSub)
	}
	b.mu.Unlock()
}

func (b *MessageBus) pumpOutbound() {
	for {
		env, ok := b.outbound.pop()
		if !ok {
			break
		}
		b.mu.Lock()
		subs := make([]outboundSub, len(b.outboundSub))
		copy(subs, b.outboundSub)
		b.mu.Unlock()
		for _, sub := range subs {
			if sub.channelID != "" && sub.channelID != env.ChannelID {
				continue
			}
			select {
			case sub.ch <- env:
				continue
			default:
			}
			// Buffer full. Wait, but give up if the subscriber detaches
			// or the bus is shutting down.
			select {
			case sub.ch <- env:
			case <-sub.gone:
			case <-b.closing:
			}
		}
	}
	b.mu.Lock()
	for _, sub := range b.outboundSub {
		close(sub.ch)
	}
	b.outboundSub = nil
	b.mu.Unlock()
	close(b.done)
}
