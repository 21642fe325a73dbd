package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Endpoints names the brokers. An empty URL or address disables that side.
type Endpoints struct {
	NATSURL   string
	RedisAddr string
	Config
}

// Dial connects to the configured brokers and returns a sink plus a func
// that flushes the sink and closes both connections.
func Dial(ctx context.Context, ep Endpoints) (*Sink, func(), error) {
	var (
		nc  *nats.Conn
		rdb *redis.Client
	)
	closeConns := func() {
		if nc != nil {
			nc.Close()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	if url := strings.TrimSpace(ep.NATSURL); url != "" {
		conn, err := nats.Connect(url, nats.Name("codecctl"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, nil, fmt.Errorf("fanout: connect nats %s: %w", url, err)
		}
		nc = conn
		log.Info().Str("url", url).Msg("fanout: connected to nats")
	}
	if addr := strings.TrimSpace(ep.RedisAddr); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, DB: 0})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			closeConns()
			return nil, nil, fmt.Errorf("fanout: connect redis %s: %w", addr, err)
		}
		log.Info().Str("addr", addr).Msg("fanout: connected to redis")
	}

	var (
		pub   Publisher
		store StateStore
	)
	if nc != nil {
		pub = nc
	}
	if rdb != nil {
		store = rdb
	}
	sink := NewSink(ep.Config, pub, store)
	return sink, func() {
		sink.Close()
		closeConns()
	}, nil
}
