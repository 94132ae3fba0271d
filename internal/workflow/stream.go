package workflow

import (
	"sync"

	"mediaforge/internal/domain"
)

// DefaultSubscriberBuffer bounds each subscriber's event channel when the
// caller does not configure one.
const DefaultSubscriberBuffer = 32

// Broker fans out progress events per job. Delivery is ordered per job
// because every publish for a job happens from that job's single worker.
// Each subscriber owns a bounded buffer; when a slow subscriber falls
// behind, the oldest buffered non-terminal events are dropped. Terminal
// events evict whatever is necessary to get in, so every subscriber
// connected when the terminal event fires will observe it, after which the
// channel closes. There is no history replay.
type Broker struct {
	mu     sync.Mutex
	buffer int
	topics map[string]map[chan domain.ProgressEvent]struct{}
}

// NewBroker creates a broker with the given per-subscriber buffer size.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broker{
		buffer: buffer,
		topics: make(map[string]map[chan domain.ProgressEvent]struct{}),
	}
}

// Subscribe registers interest in a job's events. The returned cancel
// function detaches the subscriber and closes the channel; it is safe to
// call more than once and after the stream has already closed.
func (b *Broker) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	ch := make(chan domain.ProgressEvent, b.buffer)

	b.mu.Lock()
	subs, ok := b.topics[jobID]
	if !ok {
		subs = make(map[chan domain.ProgressEvent]struct{})
		b.topics[jobID] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := b.topics[jobID]
		if !ok {
			return
		}
		if _, member := subs[ch]; !member {
			return
		}
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.topics, jobID)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber of the event's
// job. A terminal event closes the topic.
func (b *Broker) Publish(ev domain.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[ev.JobID]
	if !ok {
		return
	}
	for ch := range subs {
		b.deliver(ch, ev)
	}
	if ev.Terminal() {
		for ch := range subs {
			close(ch)
		}
		delete(b.topics, ev.JobID)
	}
}

// deliver enqueues ev on ch. Non-terminal events make a single attempt to
// free space by discarding the oldest buffered event; terminal events keep
// evicting until they fit.
func (b *Broker) deliver(ch chan domain.ProgressEvent, ev domain.ProgressEvent) {
	if ev.Terminal() {
		for {
			select {
			case ch <- ev:
				return
			default:
				select {
				case <-ch:
				default:
				}
			}
		}
	}
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// SubscriberCount reports the live subscriber count for a job.
func (b *Broker) SubscriberCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[jobID])
}
