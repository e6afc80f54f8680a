package changefeed

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/config"
)

// Module provides the configured Feed.
var Module = fx.Provide(New)

// New selects the local or redis feed from configuration.
func New(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Feed, error) {
	switch cfg.Feed.Driver {
	case "local":
		feed := NewLocal()
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			feed.Close()
			return nil
		}})
		return feed, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		feed := NewRedis(client, cfg.Feed.Channel, cfg.Observability.InstanceID, logger)
		lc.Append(fx.Hook{
			OnStart: feed.Start,
			OnStop: func(ctx context.Context) error {
				_ = feed.Stop(ctx)
				return client.Close()
			},
		})
		return feed, nil
	default:
		return nil, fmt.Errorf("unsupported feed driver: %s", cfg.Feed.Driver)
	}
}
