package pubsub

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var ErrClosed = errors.New("broadcaster is closed")

// Broadcaster fans every published value out to the subscriptions that exist
// at publish time. Nothing is replayed to later subscribers.
//
// Each subscription owns an unbounded queue, so Publish never waits for a
// slow reader.
type Broadcaster[T any] struct {
	topic string

	mu     sync.RWMutex
	subs   map[uint64]*subscription[T]
	nextID uint64
	closed bool

	published metric.Int64Counter
	active    metric.Int64UpDownCounter
	attrs     metric.MeasurementOption
}

type subscription[T any] struct {
	mu     sync.Mutex
	queue  []T
	notify chan struct{}
	done   chan struct{}
}

func New[T any](topic string) *Broadcaster[T] {
	meter := otel.Meter("github.com/vvakame/shelfql/internal/pubsub")

	published, err := meter.Int64Counter("shelfql.pubsub.published",
		metric.WithDescription("Number of events published to a topic."))
	if err != nil {
		published = noop.Int64Counter{}
	}
	active, err := meter.Int64UpDownCounter("shelfql.pubsub.subscriptions",
		metric.WithDescription("Number of active subscriptions of a topic."))
	if err != nil {
		active = noop.Int64UpDownCounter{}
	}

	return &Broadcaster[T]{
		topic:     topic,
		subs:      make(map[uint64]*subscription[T]),
		published: published,
		active:    active,
		attrs:     metric.WithAttributes(attribute.String("topic", topic)),
	}
}

func (b *Broadcaster[T]) Topic() string {
	return b.topic
}

// Subscribe registers a subscription before returning. The channel yields
// values published after registration and is closed once ctx is done or the
// broadcaster is closed.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) (<-chan T, error) {
	sub := &subscription[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	b.active.Add(ctx, 1, b.attrs)

	out := make(chan T)
	go func() {
		defer close(out)
		defer b.unsubscribe(context.WithoutCancel(ctx), id)

		for {
			for {
				v, ok := sub.pop()
				if !ok {
					break
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				case <-sub.done:
					return
				}
			}

			select {
			case <-sub.notify:
			case <-ctx.Done():
				return
			case <-sub.done:
				return
			}
		}
	}()

	return out, nil
}

// Publish enqueues v for every current subscription.
func (b *Broadcaster[T]) Publish(ctx context.Context, v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.push(v)
	}
	b.published.Add(ctx, 1, b.attrs)
}

// Len returns the number of active subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Close ends every subscription. Later Subscribe calls fail with ErrClosed
// and Publish becomes a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.done)
	}
}

func (b *Broadcaster[T]) unsubscribe(ctx context.Context, id uint64) {
	b.mu.Lock()
	_, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		b.active.Add(ctx, -1, b.attrs)
	}
}

func (s *subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}
