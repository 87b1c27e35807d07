package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultRedisChannel = "neuroscribe.patients"

type RedisConfig struct {
	URL     string
	Channel string
}

type redisBus struct {
	logger  zerolog.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedis connects to cfg.URL and returns a Bus relaying through
// cfg.Channel. It fails if the server does not answer a ping.
func NewRedis(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (Bus, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("eventbus: redis url required")
	}
	opts, err := goredis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	ch := strings.TrimSpace(cfg.Channel)
	if ch == "" {
		ch = DefaultRedisChannel
	}

	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisBus{
		logger:  logger.With().Str("component", "redis_bus").Str("channel", ch).Logger(),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *redisBus) Publish(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

func (b *redisBus) StartForwarder(ctx context.Context, onMsg func(m Message)) error {
	if onMsg == nil {
		return errors.New("eventbus: onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// Wait for the subscription confirmation so no message published after
	// this call returns is missed.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Warn().Err(err).Msg("bad event payload on redis channel")
					continue
				}
				onMsg(msg)
			}
		}
	}()

	return nil
}

func (b *redisBus) Close() error {
	return b.rdb.Close()
}
