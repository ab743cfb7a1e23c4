package bus

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type key interface {
	comparable
}

type message interface {
	any
}

type Message[K key, M message] struct {
	Key     K
	Message M
}

type Publisher[M message] func(msg M)
type Subscriber[K key, M message] func(ctx context.Context) <-chan Message[K, M]

const defaultBufferSize = 256

// Bus fans messages out to subscribers without blocking the publisher.
// A subscriber that falls behind loses messages instead of stalling the producer.
type Bus[K key, M message] struct {
	log        *zap.Logger
	bufferSize int

	keySubs    *xsync.MapOf[K, map[*subscription[K, M]]struct{}]
	globalSubs *xsync.MapOf[*subscription[K, M], struct{}]

	published *atomic.Uint64
	dropped   *atomic.Uint64
}

type subscription[K key, M message] struct {
	mu     sync.RWMutex
	ch     chan Message[K, M]
	closed bool
}

func (s *subscription[K, M]) send(msg Message[K, M]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *subscription[K, M]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type Option func(*options)

type options struct {
	bufferSize int
}

// WithBufferSize sets the per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

func NewBus[K key, M message](logger *zap.Logger, opts ...Option) *Bus[K, M] {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[K, M]{
		log:        logger,
		bufferSize: max(o.bufferSize, 1),
		keySubs:    xsync.NewMapOf[K, map[*subscription[K, M]]struct{}](),
		globalSubs: xsync.NewMapOf[*subscription[K, M], struct{}](),
		published:  atomic.NewUint64(0),
		dropped:    atomic.NewUint64(0),
	}
}

func (b *Bus[K, M]) Publish(key K, msg M) {
	b.published.Inc()
	m := Message[K, M]{Key: key, Message: msg}
	b.globalSubs.Range(func(sub *subscription[K, M], _ struct{}) bool {
		b.deliver(sub, m)
		return true
	})
	subs, ok := b.keySubs.Load(key)
	if !ok {
		return
	}
	for sub := range subs {
		b.deliver(sub, m)
	}
}

func (b *Bus[K, M]) deliver(sub *subscription[K, M], msg Message[K, M]) {
	if sub.send(msg) {
		return
	}
	if b.dropped.Inc() == 1 {
		b.log.Warn("Subscriber is falling behind, dropping messages", zap.Any("key", msg.Key))
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(msg M) {
		b.Publish(key, msg)
	}
}

func (b *Bus[K, M]) CreateSubscriber(key ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, key...)
	}
}

// Subscribe returns a channel receiving messages for the given keys, or for
// every key when none are given. The channel is closed when ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, key ...K) <-chan Message[K, M] {
	sub := &subscription[K, M]{ch: make(chan Message[K, M], b.bufferSize)}
	if len(key) == 0 {
		b.globalSubs.Store(sub, struct{}{})
		go func() {
			<-ctx.Done()
			b.globalSubs.Delete(sub)
			sub.close()
		}()
		return sub.ch
	}
	for _, k := range key {
		b.keySubs.Compute(k, func(val map[*subscription[K, M]]struct{}, ok bool) (map[*subscription[K, M]]struct{}, bool) {
			next := make(map[*subscription[K, M]]struct{}, len(val)+1)
			for s := range val {
				next[s] = struct{}{}
			}
			next[sub] = struct{}{}
			return next, false
		})
	}
	go func() {
		<-ctx.Done()
		for _, k := range key {
			b.keySubs.Compute(k, func(val map[*subscription[K, M]]struct{}, ok bool) (map[*subscription[K, M]]struct{}, bool) {
				next := make(map[*subscription[K, M]]struct{}, len(val))
				for s := range val {
					if s != sub {
						next[s] = struct{}{}
					}
				}
				return next, len(next) == 0
			})
		}
		sub.close()
	}()
	return sub.ch
}

// Published is the number of messages passed to Publish.
func (b *Bus[K, M]) Published() uint64 {
	return b.published.Load()
}

// Dropped is the number of deliveries lost to full subscriber buffers.
func (b *Bus[K, M]) Dropped() uint64 {
	return b.dropped.Load()
}
