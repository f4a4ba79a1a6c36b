package feeder

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const tickTopicPartitions = 4

// BrokerConn is the slice of *kafka.Conn the topic setup needs.
type BrokerConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// BrokerDialer opens broker connections. The kafka-go dialer satisfies
// it through the adapter below.
type BrokerDialer interface {
	DialContext(ctx context.Context, network, address string) (BrokerConn, error)
}

type brokerConn struct{ *kafka.Conn }

func (c brokerConn) Controller() (kafka.Broker, error) { return c.Conn.Controller() }
func (c brokerConn) CreateTopics(topics ...kafka.TopicConfig) error {
	return c.Conn.CreateTopics(topics...)
}
func (c brokerConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	return c.Conn.ReadPartitions(topics...)
}

// KafkaBrokerDialer adapts *kafka.Dialer to the BrokerDialer seam.
type KafkaBrokerDialer struct{ *kafka.Dialer }

func (d KafkaBrokerDialer) DialContext(ctx context.Context, network, address string) (BrokerConn, error) {
	conn, err := d.Dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return brokerConn{Conn: conn}, nil
}

// EnsureTopic creates the tick topic if it does not exist and waits
// until its partitions are visible, so the first produced batch is not
// rejected by a broker that has not converged yet. Creation conflicts
// are tolerated: another feeder instance may have won the race, or the
// broker may auto-create topics. Only a fully unreachable cluster is an
// error.
func EnsureTopic(ctx context.Context, logger *zap.Logger, dialer BrokerDialer, clock Clock, brokers []string, topic string) error {
	conn, err := dialAny(ctx, dialer, brokers)
	if err != nil {
		return fmt.Errorf("no broker reachable: %w", err)
	}
	defer conn.Close()

	if err := createViaController(ctx, dialer, conn, topic); err != nil {
		logger.Info("topic create returned", zap.String("topic", topic), zap.Error(err))
	}

	// Poll with a doubling delay; metadata usually converges well
	// within the first retry or two.
	delay := 100 * time.Millisecond
	for attempt := 0; attempt < 6; attempt++ {
		parts, err := conn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			logger.Info("topic ready",
				zap.String("topic", topic), zap.Int("partitions", len(parts)))
			return nil
		}
		clock.Sleep(delay)
		delay *= 2
	}

	logger.Warn("topic not visible yet, producing anyway", zap.String("topic", topic))
	return nil
}

func dialAny(ctx context.Context, dialer BrokerDialer, brokers []string) (BrokerConn, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return nil, lastErr
}

// Topic creation must go through the cluster controller, which is not
// necessarily the broker we first dialed.
func createViaController(ctx context.Context, dialer BrokerDialer, conn BrokerConn, topic string) error {
	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("resolve controller: %w", err)
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	return ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     tickTopicPartitions,
		ReplicationFactor: 1,
	})
}
