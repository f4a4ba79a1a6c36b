package stream

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/protocol"
	"github.com/ajaymehta/quotewire/pkg/models"
)

// Broadcaster fans published quotes out to the current subscribers of a
// symbol. It is also the single issuer of per-symbol sequence numbers:
// both the poller and the external bridge draw from the same counter, so
// a delayed poll result racing a pushed event is detected and dropped by
// the last-accepted check in Publish.
type Broadcaster struct {
	index    *SubscriptionIndex
	registry *ConnectionRegistry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	nextSeq  map[string]int64
	accepted map[string]int64
}

func NewBroadcaster(index *SubscriptionIndex, registry *ConnectionRegistry, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		index:    index,
		registry: registry,
		metrics:  m,
		logger:   logger,
		nextSeq:  make(map[string]int64),
		accepted: make(map[string]int64),
	}
}

// NextSequence issues the next sequence number for symbol. Every update
// path must stamp its quote here before calling Publish.
func (b *Broadcaster) NextSequence(symbol string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq[symbol]++
	return b.nextSeq[symbol]
}

// Publish delivers the quote to every connection currently subscribed to
// symbol. Quotes whose sequence number is not strictly greater than the
// last accepted one for that symbol are discarded. Delivery is
// best-effort per recipient: one full queue or closed connection never
// stops the rest of the fan-out.
//
// The mutex is held from the staleness check through the enqueues, so
// two racing publishes for the same symbol cannot pass the gate in
// order and then enqueue reversed. Send never blocks, so nothing slow
// happens under the lock.
func (b *Broadcaster) Publish(symbol string, q models.Quote) {
	payload, err := json.Marshal(protocol.NewPriceUpdate(q))
	if err != nil {
		b.logger.Error("marshal price update", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	b.mu.Lock()
	if q.Sequence <= b.accepted[symbol] {
		last := b.accepted[symbol]
		b.mu.Unlock()
		b.metrics.StaleDropped.Inc()
		b.logger.Debug("dropping stale quote",
			zap.String("symbol", symbol),
			zap.Int64("sequence", q.Sequence),
			zap.Int64("last_accepted", last))
		return
	}
	b.accepted[symbol] = q.Sequence

	for _, id := range b.index.SubscribersOf(symbol) {
		if !b.registry.IsOpen(id) {
			continue
		}
		if err := b.registry.Send(id, payload); err != nil {
			b.logger.Debug("skipping dead subscriber",
				zap.String("conn_id", id), zap.String("symbol", symbol))
		}
	}
	b.mu.Unlock()

	source := q.Source
	if source == "" {
		source = "unknown"
	}
	b.metrics.QuotesPublished.WithLabelValues(source).Inc()
}
