// Package redisbus carries radar channels over Redis PUBLISH/SUBSCRIBE so
// vessels on different networks share one online channel.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"singrar/internal/radar"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces channel names, e.g. "singrar:".
	Prefix string
	Logger zerolog.Logger
}

// envelope tags each message with the sending membership so Redis' echo to
// our own subscription can be dropped.
type envelope struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

type bus interface {
	publish(ctx context.Context, channel string, payload []byte) error
	subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func() error, error)
}

type redisBus struct {
	rdb *redis.Client
}

func (b redisBus) publish(ctx context.Context, channel string, payload []byte) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}

func (b redisBus) subscribe(ctx context.Context, channel string) (<-chan *redis.Message, func() error, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so Join fails fast.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	return ps.Channel(), ps.Close, nil
}

// Transport implements radar.Transport on Redis.
type Transport struct {
	cfg Config
	bus bus
	rdb *redis.Client
	log zerolog.Logger
}

func NewTransport(cfg Config) *Transport {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Transport{
		cfg: cfg,
		bus: redisBus{rdb: rdb},
		rdb: rdb,
		log: cfg.Logger.With().Str("component", "redisbus").Logger(),
	}
}

// Ping checks connectivity.
func (t *Transport) Ping(ctx context.Context) error {
	if t.rdb == nil {
		return nil
	}
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	if t.rdb == nil {
		return nil
	}
	return t.rdb.Close()
}

type channel struct {
	name      string
	member    string
	bus       bus
	unsub     func() error
	onMessage func([]byte)

	once    sync.Once
	leaveMu sync.Mutex
	left    bool
	done    chan struct{}
}

func (t *Transport) Join(ctx context.Context, name string, onMessage func([]byte)) (radar.Channel, error) {
	full := t.cfg.Prefix + name
	msgs, unsub, err := t.bus.subscribe(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("redis subscribe %s: %w", full, err)
	}
	c := &channel{
		name:      full,
		member:    uuid.NewString(),
		bus:       t.bus,
		unsub:     unsub,
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
	go c.receive(msgs, t.log)
	t.log.Info().Str("channel", full).Str("addr", t.cfg.Addr).Msg("joined")
	return c, nil
}

func (c *channel) receive(msgs <-chan *redis.Message, log zerolog.Logger) {
	defer c.close()
	for m := range msgs {
		var env envelope
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			log.Debug().Err(err).Msg("ignoring malformed message")
			continue
		}
		if env.From == c.member {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(append([]byte(nil), env.Data...))
		}
	}
	c.leaveMu.Lock()
	left := c.left
	c.leaveMu.Unlock()
	if !left {
		log.Warn().Str("channel", c.name).Msg("redis subscription ended")
	}
}

func (c *channel) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return errors.New("redisbus: channel closed")
	default:
	}
	b, err := json.Marshal(envelope{From: c.member, Data: payload})
	if err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return c.bus.publish(ctx, c.name, b)
}

func (c *channel) Leave() error {
	c.leaveMu.Lock()
	if c.left {
		c.leaveMu.Unlock()
		return nil
	}
	c.left = true
	c.leaveMu.Unlock()

	err := c.unsub()
	<-c.done
	return err
}

func (c *channel) Done() <-chan struct{} { return c.done }

func (c *channel) close() {
	c.once.Do(func() { close(c.done) })
}
