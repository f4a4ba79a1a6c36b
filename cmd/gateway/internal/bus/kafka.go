package bus

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ajaymehta/quotewire/pkg/config"
)

// KafkaBus adapts a Kafka consumer group to the bridge's EventBus seam.
// The reader handles broker reconnects internally; errors it does
// surface are retried by the bridge with backoff.
type KafkaBus struct {
	reader *kafka.Reader
}

func NewKafkaBus(cfg config.KafkaConfig) *KafkaBus {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 200,
		MaxBytes: 10e6,
		MaxWait:  200 * time.Millisecond,
		// Auto-commit for throughput; duplicates are handled downstream
		// by the broadcaster's sequence check.
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
	return &KafkaBus{reader: reader}
}

// ReadEvent blocks for the next raw event payload.
func (b *KafkaBus) ReadEvent(ctx context.Context) ([]byte, error) {
	m, err := b.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return m.Value, nil
}

func (b *KafkaBus) Close() error {
	return b.reader.Close()
}
