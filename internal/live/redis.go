package live

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const channelPrefix = "live:"

// RedisHandle serves subscriptions from a Loader and re-delivers whenever a
// change notification is published for the subscribed path.
type RedisHandle struct {
	client *redis.Client
	loader Loader
	logf   func(string, ...any)

	mu     sync.Mutex
	closed bool
	subs   map[*redisSub]struct{}
}

type redisSub struct {
	cancel context.CancelFunc
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisHandle(redisURL string, loader Loader) (*RedisHandle, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisHandleWithClient(client, loader), nil
}

func NewRedisHandleWithClient(client *redis.Client, loader Loader) *RedisHandle {
	return &RedisHandle{
		client: client,
		loader: loader,
		logf:   log.Printf,
		subs:   make(map[*redisSub]struct{}),
	}
}

func (h *RedisHandle) channel(path Path) string {
	return channelPrefix + path.String()
}

func (h *RedisHandle) Subscribe(path Path, onBatch func(Batch), onError func(error)) Unsubscribe {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		report(onError, ErrClosed)
		return func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{
		cancel: cancel,
		pubsub: h.client.Subscribe(ctx, h.channel(path)),
		done:   make(chan struct{}),
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.run(ctx, sub, path, onBatch, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			_, open := h.subs[sub]
			delete(h.subs, sub)
			h.mu.Unlock()
			if open {
				h.stop(sub)
			}
		})
	}
}

func (h *RedisHandle) run(ctx context.Context, sub *redisSub, path Path, onBatch func(Batch), onError func(error)) {
	defer close(sub.done)

	if _, err := sub.pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			report(onError, fmt.Errorf("subscribe %s: %w", path, err))
		}
		return
	}
	h.load(ctx, path, onBatch, onError)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			h.load(ctx, path, onBatch, onError)
		}
	}
}

func (h *RedisHandle) load(ctx context.Context, path Path, onBatch func(Batch), onError func(error)) {
	batch, err := h.loader.LoadCollection(ctx, path)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		report(onError, fmt.Errorf("load %s: %w", path, err))
		return
	}
	if onBatch != nil {
		onBatch(batch)
	}
}

func (h *RedisHandle) stop(sub *redisSub) {
	sub.cancel()
	if err := sub.pubsub.Close(); err != nil {
		h.logf("live: close subscription: %v", err)
	}
	<-sub.done
}

func (h *RedisHandle) Get(ctx context.Context, path Path) (Batch, error) {
	return h.loader.LoadCollection(ctx, path)
}

// Touch announces a write under path to every subscriber of the path and of
// its account group.
func (h *RedisHandle) Touch(ctx context.Context, path Path) error {
	for _, target := range path.WithGroup() {
		if err := h.client.Publish(ctx, h.channel(target), path.String()).Err(); err != nil {
			return fmt.Errorf("publish change %s: %w", target, err)
		}
	}
	return nil
}

func (h *RedisHandle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// Close stops every open subscription and the client.
func (h *RedisHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	subs := make([]*redisSub, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*redisSub]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		h.stop(sub)
	}
	return h.client.Close()
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
