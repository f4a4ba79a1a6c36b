package stream

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
	"github.com/ajaymehta/quotewire/pkg/models"
)

// QuoteSource yields the latest quote for a symbol. Implemented by the
// repository; the poller only needs this one method.
type QuoteSource interface {
	Latest(ctx context.Context, symbol string) (models.Quote, error)
}

// PollingScheduler periodically fetches the latest quote for every
// symbol that currently has at least one subscriber and hands the
// results to the broadcaster. Symbols nobody watches are never polled.
type PollingScheduler struct {
	interval time.Duration
	clock    clockwork.Clock
	index    *SubscriptionIndex
	source   QuoteSource
	bc       *Broadcaster
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewPollingScheduler(interval time.Duration, clock clockwork.Clock, index *SubscriptionIndex,
	source QuoteSource, bc *Broadcaster, m *metrics.Metrics, logger *zap.Logger) *PollingScheduler {
	return &PollingScheduler{
		interval: interval,
		clock:    clock,
		index:    index,
		source:   source,
		bc:       bc,
		metrics:  m,
		logger:   logger,
	}
}

// Run blocks until ctx is canceled, polling once per interval.
func (p *PollingScheduler) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("polling scheduler started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling scheduler stopped")
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

func (p *PollingScheduler) tick(ctx context.Context) {
	for _, symbol := range p.index.ActiveSymbols() {
		q, err := p.source.Latest(ctx, symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			// One failing symbol never aborts the rest of the tick.
			p.metrics.ProviderErrors.Inc()
			p.logger.Warn("quote fetch failed", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		q.Symbol = symbol
		q.Sequence = p.bc.NextSequence(symbol)
		if q.Source == "" {
			q.Source = "poll"
		}
		if q.Timestamp == 0 {
			q.Timestamp = p.clock.Now().UnixMicro()
		}
		p.bc.Publish(symbol, q)
	}
}
