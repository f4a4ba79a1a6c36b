package repository

import (
	"context"
	"errors"

	"github.com/ajaymehta/quotewire/pkg/models"
)

// ErrUnavailable means the provider holds no quote for the symbol.
var ErrUnavailable = errors.New("quote unavailable")

// QuoteProvider supplies current quotes and historical bars. Quote
// computation itself lives outside this service; we only read what the
// upstream pipeline has stored.
type QuoteProvider interface {
	// Latest returns the most recent quote for symbol, or ErrUnavailable.
	Latest(ctx context.Context, symbol string) (models.Quote, error)
	// History returns up to limit bars for the given timeframe, oldest first.
	History(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error)
}
