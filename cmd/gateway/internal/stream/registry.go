package stream

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
)

// ErrConnClosed is returned by Send when the target connection is
// unknown or already closed.
var ErrConnClosed = errors.New("connection closed")

// Connection is a registered client: an opaque id and a bounded outbound
// channel. The registry owns the connection; the write pump on the other
// side of the channel is the only reader.
type Connection struct {
	id     string
	out    chan []byte
	closed bool // guarded by the registry mutex
}

func (c *Connection) ID() string { return c.id }

// Outbound is consumed by the connection's write pump. The channel is
// closed when the connection is removed; buffered messages can still be
// drained after close.
func (c *Connection) Outbound() <-chan []byte { return c.out }

// ConnectionRegistry tracks live connections and their delivery channels.
// Removal also releases the connection's subscriptions, so no
// subscription can outlive its owning connection.
type ConnectionRegistry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	index   *SubscriptionIndex
	metrics *metrics.Metrics
	logger  *zap.Logger
	bufSize int
}

func NewConnectionRegistry(index *SubscriptionIndex, m *metrics.Metrics, logger *zap.Logger, bufSize int) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:   make(map[string]*Connection),
		index:   index,
		metrics: m,
		logger:  logger,
		bufSize: bufSize,
	}
}

// Add registers a connection id and allocates its outbound channel.
func (r *ConnectionRegistry) Add(id string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return nil, errors.New("connection id already registered")
	}
	c := &Connection{id: id, out: make(chan []byte, r.bufSize)}
	r.conns[id] = c
	r.metrics.ConnectionsOpen.Inc()
	return c, nil
}

// Remove closes the connection's channel, forgets it, and releases all
// of its subscriptions. Safe to call more than once.
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		if !c.closed {
			c.closed = true
			close(c.out)
		}
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.index.RemoveConnection(id)
	r.metrics.ConnectionsOpen.Dec()
	r.logger.Debug("connection removed", zap.String("conn_id", id))
}

// Send enqueues a message without ever blocking the caller. When the
// buffer is full the oldest queued message is evicted so the newest
// survives, bounding staleness for slow consumers.
func (r *ConnectionRegistry) Send(id string, msg []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[id]
	if !ok || c.closed {
		return ErrConnClosed
	}

	for {
		select {
		case c.out <- msg:
			return nil
		default:
		}
		// Buffer full: drop the oldest, keep the newest. A concurrent
		// sender may steal the freed slot, in which case we evict again
		// rather than lose the new message.
		select {
		case <-c.out:
			r.metrics.DeliveryDropped.Inc()
		default:
		}
	}
}

// IsOpen reports whether the connection is registered and not yet closed.
func (r *ConnectionRegistry) IsOpen(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return ok && !c.closed
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every outbound channel so write pumps flush what is
// already queued and exit. Entries stay registered until each handler
// calls Remove on its way out.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if !c.closed {
			c.closed = true
			close(c.out)
		}
	}
}
