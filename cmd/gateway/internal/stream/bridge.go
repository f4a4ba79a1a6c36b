package stream

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
	"github.com/ajaymehta/quotewire/pkg/models"
)

// EventBus is the push-style event source outside this subsystem's
// control. ReadEvent blocks until an event arrives, ctx is canceled, or
// the underlying transport fails.
type EventBus interface {
	ReadEvent(ctx context.Context) ([]byte, error)
}

// ExternalEventBridge consumes raw events from the external bus and
// feeds them to the broadcaster, giving producers a push path that skips
// polling latency. Bus failures trigger exponential backoff with a
// capped delay; a single malformed event is dropped and logged without
// affecting the ones after it.
type ExternalEventBridge struct {
	bus        EventBus
	bc         *Broadcaster
	clock      clockwork.Clock
	maxBackoff time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewExternalEventBridge(bus EventBus, bc *Broadcaster, clock clockwork.Clock,
	maxBackoff time.Duration, m *metrics.Metrics, logger *zap.Logger) *ExternalEventBridge {
	return &ExternalEventBridge{
		bus:        bus,
		bc:         bc,
		clock:      clock,
		maxBackoff: maxBackoff,
		metrics:    m,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled.
func (b *ExternalEventBridge) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = b.maxBackoff
	bo.MaxElapsedTime = 0 // never give up, shutdown happens via ctx

	b.logger.Info("external event bridge started")
	for {
		raw, err := b.bus.ReadEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("external event bridge stopped")
				return
			}
			wait := bo.NextBackOff()
			b.metrics.BridgeRetries.Inc()
			b.logger.Warn("external bus read failed",
				zap.Error(err), zap.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				b.logger.Info("external event bridge stopped")
				return
			case <-b.clock.After(wait):
			}
			continue
		}
		bo.Reset()
		b.consume(raw)
	}
}

func (b *ExternalEventBridge) consume(raw []byte) {
	var q models.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		b.metrics.MalformedEvents.Inc()
		b.logger.Warn("dropping malformed bus event", zap.Error(err))
		return
	}

	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		b.metrics.MalformedEvents.Inc()
		b.logger.Warn("dropping bus event without symbol")
		return
	}
	if q.Source == "" {
		q.Source = "bus"
	}
	if q.Timestamp == 0 {
		q.Timestamp = b.clock.Now().UnixMicro()
	}

	// Sequence issuance is centralized in the broadcaster so pushed
	// events and poll results share one per-symbol counter.
	q.Sequence = b.bc.NextSequence(q.Symbol)
	b.bc.Publish(q.Symbol, q)
}
