package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ajaymehta/quotewire/pkg/models"
)

const (
	quoteKeyPrefix = "quote:"
	barsKeyPrefix  = "bars:"
)

// Compile-time check to ensure RedisStore implements QuoteProvider
var _ QuoteProvider = (*RedisStore)(nil)

// RedisStore reads quotes and bars maintained by the feed pipeline:
// latest quotes as JSON strings under quote:<SYMBOL>, bars as lists
// under bars:<SYMBOL>:<timeframe> with the newest bar at the head.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Latest(ctx context.Context, symbol string) (models.Quote, error) {
	raw, err := r.client.Get(ctx, quoteKeyPrefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return models.Quote{}, ErrUnavailable
	}
	if err != nil {
		return models.Quote{}, fmt.Errorf("get quote %s: %w", symbol, err)
	}

	var q models.Quote
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return models.Quote{}, fmt.Errorf("decode quote %s: %w", symbol, err)
	}
	return q, nil
}

func (r *RedisStore) History(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	key := fmt.Sprintf("%s%s:%s", barsKeyPrefix, symbol, timeframe)
	raws, err := r.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("range bars %s: %w", key, err)
	}

	bars := make([]models.Bar, 0, len(raws))
	for _, raw := range raws {
		var b models.Bar
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode bar %s: %w", key, err)
		}
		bars = append(bars, b)
	}

	// Stored newest-first; callers expect chronological order.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
