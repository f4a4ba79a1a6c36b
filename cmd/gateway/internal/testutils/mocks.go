package testutils

import (
	"context"
	"sync"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/repository"
	"github.com/ajaymehta/quotewire/pkg/models"
)

// MockProvider is a configurable in-memory QuoteProvider.
type MockProvider struct {
	Mu      sync.Mutex
	Quotes  map[string]models.Quote
	Errs    map[string]error
	Bars    map[string][]models.Bar
	Fetched []string // symbols passed to Latest, in call order
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Quotes: make(map[string]models.Quote),
		Errs:   make(map[string]error),
		Bars:   make(map[string][]models.Bar),
	}
}

func (m *MockProvider) Latest(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Fetched = append(m.Fetched, symbol)

	if err, ok := m.Errs[symbol]; ok {
		return models.Quote{}, err
	}
	if q, ok := m.Quotes[symbol]; ok {
		return q, nil
	}
	return models.Quote{}, repository.ErrUnavailable
}

func (m *MockProvider) History(ctx context.Context, symbol, timeframe string, limit int) ([]models.Bar, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if err, ok := m.Errs[symbol]; ok {
		return nil, err
	}
	bars := m.Bars[symbol]
	if len(bars) > limit {
		bars = bars[:limit]
	}
	return bars, nil
}

// MockBus feeds the bridge from test-controlled channels.
type MockBus struct {
	Events chan []byte
	Errs   chan error
}

func NewMockBus() *MockBus {
	return &MockBus{
		Events: make(chan []byte, 16),
		Errs:   make(chan error, 16),
	}
}

func (m *MockBus) ReadEvent(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-m.Errs:
		return nil, err
	case ev := <-m.Events:
		return ev, nil
	}
}
