package feeder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajaymehta/quotewire/pkg/models"
)

const quoteTTL = time.Hour

// RedisQuoteStore writes quotes and bars in the layout the gateway's
// provider reads: quote:<SYMBOL> strings and bars:<SYMBOL>:<timeframe>
// lists with the newest bar at the head.
type RedisQuoteStore struct {
	client *redis.Client
}

func NewRedisQuoteStore(client *redis.Client) *RedisQuoteStore {
	return &RedisQuoteStore{client: client}
}

func (s *RedisQuoteStore) StoreQuote(ctx context.Context, q models.Quote, payload []byte) error {
	return s.client.Set(ctx, "quote:"+q.Symbol, payload, quoteTTL).Err()
}

func (s *RedisQuoteStore) AppendBar(ctx context.Context, symbol, timeframe string, bar models.Bar, retention int) error {
	payload, err := json.Marshal(bar)
	if err != nil {
		return fmt.Errorf("marshal bar: %w", err)
	}

	key := fmt.Sprintf("bars:%s:%s", symbol, timeframe)
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(retention)-1)
	_, err = pipe.Exec(ctx)
	return err
}
