package stream

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
)

// Options tunes the streaming service.
type Options struct {
	PollInterval     time.Duration
	SendBuffer       int
	ShutdownGrace    time.Duration
	BridgeMaxBackoff time.Duration
	Clock            clockwork.Clock // nil means the real clock
}

// Service owns the whole distribution subsystem: the subscription index,
// the connection registry, the broadcaster, and the two background
// tasks. It is constructed once at process start and passed by handle to
// everything that needs it; there is no ambient global state.
type Service struct {
	Index       *SubscriptionIndex
	Registry    *ConnectionRegistry
	Broadcaster *Broadcaster

	poller *PollingScheduler
	bridge *ExternalEventBridge
	logger *zap.Logger
	grace  time.Duration
	clock  clockwork.Clock

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the subsystem. bus may be nil, in which case the
// external bridge is not started and all updates come from polling.
func NewService(source QuoteSource, bus EventBus, m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	index := NewSubscriptionIndex()
	registry := NewConnectionRegistry(index, m, logger, opts.SendBuffer)
	bc := NewBroadcaster(index, registry, m, logger)

	s := &Service{
		Index:       index,
		Registry:    registry,
		Broadcaster: bc,
		logger:      logger,
		grace:       opts.ShutdownGrace,
		clock:       clock,
	}
	s.poller = NewPollingScheduler(opts.PollInterval, clock, index, source, bc, m, logger)
	if bus != nil {
		s.bridge = NewExternalEventBridge(bus, bc, clock, opts.BridgeMaxBackoff, m, logger)
	}
	return s
}

// Start launches the poller and, when a bus is configured, the bridge.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poller.Run(ctx)
	}()

	if s.bridge != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.bridge.Run(ctx)
		}()
	}
}

// Stop cancels the background tasks, then closes every outbound channel
// so write pumps flush what is already queued. Connections that have not
// unregistered within the grace period are abandoned; their remaining
// messages are discarded with them.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.Registry.CloseAll()
	deadline := s.clock.Now().Add(s.grace)
	for s.Registry.Len() > 0 && s.clock.Now().Before(deadline) {
		s.clock.Sleep(20 * time.Millisecond)
	}
	if n := s.Registry.Len(); n > 0 {
		s.logger.Warn("connections still draining after grace period", zap.Int("remaining", n))
	}
	s.logger.Info("stream service stopped")
}
