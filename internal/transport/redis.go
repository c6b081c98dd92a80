package transport

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter implements Adapter over a single *redis.Client connection.
// go-redis manages reconnection transparently; RedisAdapter only needs to
// translate its errors into ConnectionError and fan incoming messages out
// to per-channel handlers.
type RedisAdapter struct {
	client *redis.Client
	debug  bool

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// RedisOptions mirrors the configuration options the RPC fabric's own
// Config (§6) recognizes: ConnectionString and Database.
type RedisOptions struct {
	ConnectionString string
	Database         int
	Debug            bool
}

// NewRedisAdapter dials a Redis server and returns a ready-to-use Adapter.
// Connection errors at dial time are wrapped as ConnectionError.
func NewRedisAdapter(opts RedisOptions) (*RedisAdapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: opts.ConnectionString,
		DB:   opts.Database,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	return &RedisAdapter{
		client: client,
		debug:  opts.Debug,
		subs:   make(map[string]*subscription),
	}, nil
}

// Publish implements Adapter.
func (a *RedisAdapter) Publish(ctx context.Context, channel string, data []byte) error {
	if err := a.client.Publish(ctx, channel, data).Err(); err != nil {
		return &ConnectionError{Op: fmt.Sprintf("publish to %s", channel), Err: err}
	}
	return nil
}

// Subscribe implements Adapter. It starts one goroutine per channel that
// drains the underlying *redis.PubSub's Channel() and invokes handler for
// each message; the goroutine exits when Unsubscribe or Close tears the
// subscription down.
func (a *RedisAdapter) Subscribe(ctx context.Context, channel string, handler MessageHandler) error {
	a.mu.Lock()
	if _, exists := a.subs[channel]; exists {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	pubsub := a.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return &ConnectionError{Op: fmt.Sprintf("subscribe to %s", channel), Err: err}
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{pubsub: pubsub, cancel: cancel}

	a.mu.Lock()
	a.subs[channel] = sub
	a.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()

	if a.debug {
		log.Printf("transport: subscribed to %s", channel)
	}
	return nil
}

// Unsubscribe implements Adapter.
func (a *RedisAdapter) Unsubscribe(ctx context.Context, channel string) error {
	a.mu.Lock()
	sub, exists := a.subs[channel]
	if exists {
		delete(a.subs, channel)
	}
	a.mu.Unlock()

	if !exists {
		return nil
	}

	sub.cancel()
	if err := sub.pubsub.Unsubscribe(ctx, channel); err != nil {
		return &ConnectionError{Op: fmt.Sprintf("unsubscribe from %s", channel), Err: err}
	}
	return sub.pubsub.Close()
}

// Close implements Adapter.
func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	subs := a.subs
	a.subs = make(map[string]*subscription)
	a.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		sub.pubsub.Close()
	}
	return a.client.Close()
}
