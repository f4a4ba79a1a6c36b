package feeder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/pkg/models"
)

// Feeder simulates a market feed: random-walk ticks per symbol, written
// to Kafka (the gateway's external bus) and mirrored into the quote
// store so one-shot lookups and history queries have data to serve.
type Feeder struct {
	logger       *zap.Logger
	writer       KafkaWriter
	store        QuoteStore
	symbols      []string
	basePrices   map[string]float64
	rand         Rand
	clock        Clock
	tickInterval time.Duration
	barTimeframe string
	barRetention int

	seqCounters map[string]int64
	openBars    map[string]*models.Bar
}

func NewFeeder(logger *zap.Logger, writer KafkaWriter, store QuoteStore, symbols []string,
	basePrices map[string]float64, rnd Rand, clock Clock,
	tickInterval time.Duration, barTimeframe string, barRetention int) *Feeder {
	return &Feeder{
		logger:       logger,
		writer:       writer,
		store:        store,
		symbols:      symbols,
		basePrices:   basePrices,
		rand:         rnd,
		clock:        clock,
		tickInterval: tickInterval,
		barTimeframe: barTimeframe,
		barRetention: barRetention,
		seqCounters:  make(map[string]int64),
		openBars:     make(map[string]*models.Bar),
	}
}

func (f *Feeder) Run(ctx context.Context) {
	f.logger.Info("Feeder started", zap.Strings("symbols", f.symbols))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(f.symbols) == 0 {
				f.clock.Sleep(time.Second)
				continue
			}
			f.tick(ctx)
			f.clock.Sleep(f.tickInterval)
		}
	}
}

func (f *Feeder) tick(ctx context.Context) {
	symbol := f.symbols[f.rand.Intn(len(f.symbols))]
	base := f.basePrices[symbol]
	fluctuation := (f.rand.Float64() * 10) - 5
	price := base + fluctuation
	volume := int64(f.rand.Intn(100_000))
	f.seqCounters[symbol]++

	change := price - base
	q := models.Quote{
		Symbol:        symbol,
		Price:         price,
		Change:        change,
		ChangePercent: change / base * 100,
		Volume:        volume,
		Source:        "feeder",
		Sequence:      f.seqCounters[symbol],
		Timestamp:     f.clock.Now().UnixMicro(),
	}

	payload, err := json.Marshal(q)
	if err != nil {
		f.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	// Key by symbol so the bus preserves per-symbol ordering.
	if err := f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(symbol),
		Value: payload,
	}); err != nil {
		f.logger.Error("Kafka Write Error", zap.Error(err))
	}

	if err := f.store.StoreQuote(ctx, q, payload); err != nil {
		f.logger.Error("Quote store error", zap.String("symbol", symbol), zap.Error(err))
	}

	f.updateBar(ctx, q)
}

// updateBar folds the tick into the symbol's open candle and flushes the
// candle when the clock crosses into the next minute bucket.
func (f *Feeder) updateBar(ctx context.Context, q models.Quote) {
	bucket := f.clock.Now().Truncate(time.Minute).UnixMicro()

	open := f.openBars[q.Symbol]
	if open != nil && open.Timestamp != bucket {
		if err := f.store.AppendBar(ctx, q.Symbol, f.barTimeframe, *open, f.barRetention); err != nil {
			f.logger.Error("Bar store error", zap.String("symbol", q.Symbol), zap.Error(err))
		}
		open = nil
	}

	if open == nil {
		f.openBars[q.Symbol] = &models.Bar{
			Timestamp: bucket,
			Open:      q.Price,
			High:      q.Price,
			Low:       q.Price,
			Close:     q.Price,
			Volume:    q.Volume,
		}
		return
	}

	if q.Price > open.High {
		open.High = q.Price
	}
	if q.Price < open.Low {
		open.Low = q.Price
	}
	open.Close = q.Price
	open.Volume += q.Volume
}
