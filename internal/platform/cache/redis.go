package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options describes the redis endpoint shared by locks, the demand cache and asynq.
type Options struct {
	Addr     string
	Password string
	DB       int
}

func (o Options) validate() error {
	if o.Addr == "" {
		return errors.New("platform/cache: redis address required")
	}
	return nil
}

// New connects and pings redis.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", opts.Addr, err)
	}

	return client, nil
}
