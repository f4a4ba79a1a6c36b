package feeder

import (
	"context"
	"math/rand"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ajaymehta/quotewire/pkg/models"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// for deterministic values
type Rand interface {
	Intn(n int) int
	Float64() float64
}

// KafkaWriter abstracts the tick output stream
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// QuoteStore persists the latest quote and historical bars the gateway
// serves through its provider.
type QuoteStore interface {
	StoreQuote(ctx context.Context, q models.Quote, payload []byte) error
	AppendBar(ctx context.Context, symbol, timeframe string, bar models.Bar, retention int) error
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }
