package live

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// PollHandle reloads every subscription on a fixed interval and delivers only
// when the batch changed. It is used when no Redis is configured.
type PollHandle struct {
	loader   Loader
	interval time.Duration

	mu   sync.Mutex
	subs map[*pollSub]struct{}
}

type pollSub struct {
	path   Path
	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPollHandle(loader Loader, interval time.Duration) *PollHandle {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &PollHandle{
		loader:   loader,
		interval: interval,
		subs:     make(map[*pollSub]struct{}),
	}
}

func (h *PollHandle) Subscribe(path Path, onBatch func(Batch), onError func(error)) Unsubscribe {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &pollSub{
		path:   path,
		kick:   make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go h.run(ctx, sub, onBatch, onError)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			sub.cancel()
			<-sub.done
		})
	}
}

func (h *PollHandle) run(ctx context.Context, sub *pollSub, onBatch func(Batch), onError func(error)) {
	defer close(sub.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	last := ""
	for {
		batch, err := h.loader.LoadCollection(ctx, sub.path)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			report(onError, fmt.Errorf("load %s: %w", sub.path, err))
			last = ""
		} else if sum, ferr := fingerprint(batch); sum != last {
			last = sum
			if ferr != nil {
				report(onError, fmt.Errorf("fingerprint %s: %w", sub.path, ferr))
			}
			if onBatch != nil {
				onBatch(batch)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-sub.kick:
		}
	}
}

func (h *PollHandle) Get(ctx context.Context, path Path) (Batch, error) {
	return h.loader.LoadCollection(ctx, path)
}

// Touch triggers an immediate reload of every subscription covering path.
func (h *PollHandle) Touch(_ context.Context, path Path) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.path.Covers(path) {
			continue
		}
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// fingerprint hashes the JSON form of batch. Batches that do not marshal
// are hashed from their Go syntax representation instead, and the marshal
// error is returned alongside a usable sum.
func fingerprint(batch Batch) (string, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		payload = []byte(fmt.Sprintf("%#v", batch))
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:]), err
}
