package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ajaymehta/quotewire/cmd/feeder/internal/feeder"
	"github.com/ajaymehta/quotewire/pkg/models"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

type StoredBar struct {
	Symbol    string
	Timeframe string
	Bar       models.Bar
}

// MockQuoteStore records what the feeder would have written to Redis.
type MockQuoteStore struct {
	Mu     sync.Mutex
	Quotes map[string]models.Quote
	Bars   []StoredBar
}

func NewMockQuoteStore() *MockQuoteStore {
	return &MockQuoteStore{Quotes: make(map[string]models.Quote)}
}

func (m *MockQuoteStore) StoreQuote(ctx context.Context, q models.Quote, payload []byte) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Quotes[q.Symbol] = q
	return nil
}

func (m *MockQuoteStore) AppendBar(ctx context.Context, symbol, timeframe string, bar models.Bar, retention int) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Bars = append(m.Bars, StoredBar{Symbol: symbol, Timeframe: timeframe, Bar: bar})
	return nil
}

type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time        { return m.CurrentTime }
func (m *MockClock) Sleep(d time.Duration) { m.CurrentTime = m.CurrentTime.Add(d) }

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockBrokerConn reports a ready topic after NotReadyReads failed
// metadata polls.
type MockBrokerConn struct {
	CreatedTopics []string
	NotReadyReads int
	Reads         int
}

func (m *MockBrokerConn) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}
func (m *MockBrokerConn) Close() error { return nil }
func (m *MockBrokerConn) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}
func (m *MockBrokerConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	m.Reads++
	if m.Reads <= m.NotReadyReads {
		return nil, nil
	}
	return []kafka.Partition{{ID: 0}}, nil
}

type MockBrokerDialer struct {
	ConnSpy *MockBrokerConn
	DialErr error
	Dialed  []string
}

func (m *MockBrokerDialer) DialContext(ctx context.Context, network, address string) (feeder.BrokerConn, error) {
	m.Dialed = append(m.Dialed, address)
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	if m.ConnSpy == nil {
		m.ConnSpy = &MockBrokerConn{}
	}
	return m.ConnSpy, nil
}
