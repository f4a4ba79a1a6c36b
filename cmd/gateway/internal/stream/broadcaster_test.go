package stream_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/protocol"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/stream"
	"github.com/ajaymehta/quotewire/pkg/models"
)

type fanoutFixture struct {
	index    *stream.SubscriptionIndex
	registry *stream.ConnectionRegistry
	bc       *stream.Broadcaster
}

func newFanout(t *testing.T) *fanoutFixture {
	t.Helper()
	ix := stream.NewSubscriptionIndex()
	m := metrics.New(prometheus.NewRegistry())
	reg := stream.NewConnectionRegistry(ix, m, zap.NewNop(), 16)
	return &fanoutFixture{
		index:    ix,
		registry: reg,
		bc:       stream.NewBroadcaster(ix, reg, m, zap.NewNop()),
	}
}

func (f *fanoutFixture) connect(t *testing.T, id string, symbols ...string) *stream.Connection {
	t.Helper()
	conn, err := f.registry.Add(id)
	require.NoError(t, err)
	for _, s := range symbols {
		f.index.Subscribe(id, s)
	}
	return conn
}

func recvUpdate(t *testing.T, conn *stream.Connection) protocol.PriceUpdate {
	t.Helper()
	select {
	case raw := <-conn.Outbound():
		var u protocol.PriceUpdate
		require.NoError(t, json.Unmarshal(raw, &u))
		return u
	default:
		t.Fatal("expected a queued price update")
		return protocol.PriceUpdate{}
	}
}

func TestBroadcaster_DeliversToSubscribersOnly(t *testing.T) {
	f := newFanout(t)
	sub := f.connect(t, "sub", "BBCA")
	other := f.connect(t, "other", "TLKM")

	q := models.Quote{Symbol: "BBCA", Price: 9100, Volume: 120000, Source: "poll"}
	q.Sequence = f.bc.NextSequence("BBCA")
	f.bc.Publish("BBCA", q)

	u := recvUpdate(t, sub)
	assert.Equal(t, protocol.TypePriceUpdate, u.Type)
	assert.Equal(t, "BBCA", u.Symbol)
	assert.Equal(t, 9100.0, u.Price)
	assert.Equal(t, int64(120000), u.Volume)

	assert.Empty(t, other.Outbound(), "unrelated subscriber must receive nothing")
}

// Two quotes for the same symbol arriving with sequences 5 then 3: the
// second is stale and subscribers only ever see sequence 5.
func TestBroadcaster_DropsStaleSequence(t *testing.T) {
	f := newFanout(t)
	sub := f.connect(t, "sub", "TLKM")

	f.bc.Publish("TLKM", models.Quote{Symbol: "TLKM", Price: 3950, Sequence: 5})
	f.bc.Publish("TLKM", models.Quote{Symbol: "TLKM", Price: 3940, Sequence: 3})

	u := recvUpdate(t, sub)
	assert.Equal(t, int64(5), u.Sequence)
	assert.Empty(t, sub.Outbound(), "stale update must not be delivered")
}

func TestBroadcaster_DuplicateSequenceDropped(t *testing.T) {
	f := newFanout(t)
	sub := f.connect(t, "sub", "BBRI")

	f.bc.Publish("BBRI", models.Quote{Symbol: "BBRI", Price: 4560, Sequence: 1})
	f.bc.Publish("BBRI", models.Quote{Symbol: "BBRI", Price: 4560, Sequence: 1})

	recvUpdate(t, sub)
	assert.Empty(t, sub.Outbound())
}

// Scenario: two clients subscribe, one unsubscribes, the next publish
// reaches exactly one client.
func TestBroadcaster_UnsubscribedClientExcluded(t *testing.T) {
	f := newFanout(t)
	keep := f.connect(t, "keep", "TLKM")
	leave := f.connect(t, "leave", "TLKM")

	f.index.Unsubscribe("leave", "TLKM")
	f.bc.Publish("TLKM", models.Quote{Symbol: "TLKM", Price: 3950, Sequence: 1})

	recvUpdate(t, keep)
	assert.Empty(t, leave.Outbound())
}

func TestBroadcaster_ClosedConnectionSkipped(t *testing.T) {
	f := newFanout(t)
	alive := f.connect(t, "alive", "BBCA")
	f.connect(t, "dead", "BBCA")

	// Simulate a connection that died without index cleanup finishing.
	f.registry.Remove("dead")
	f.index.Subscribe("dead", "BBCA")

	f.bc.Publish("BBCA", models.Quote{Symbol: "BBCA", Price: 9100, Sequence: 1})

	u := recvUpdate(t, alive)
	assert.Equal(t, "BBCA", u.Symbol)
}

// The poll path and the push path publish for the same symbol from
// different goroutines. Subscribers must still see strictly increasing
// sequence numbers: a quote that passed the staleness gate first must
// also be enqueued first.
func TestBroadcaster_ConcurrentPublishersKeepOrder(t *testing.T) {
	ix := stream.NewSubscriptionIndex()
	m := metrics.New(prometheus.NewRegistry())
	reg := stream.NewConnectionRegistry(ix, m, zap.NewNop(), 64)
	bc := stream.NewBroadcaster(ix, reg, m, zap.NewNop())

	conn, err := reg.Add("sub")
	require.NoError(t, err)
	ix.Subscribe("sub", "BBCA")

	violations := make(chan string, 1)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		var last int64
		for raw := range conn.Outbound() {
			var u protocol.PriceUpdate
			if json.Unmarshal(raw, &u) != nil {
				continue
			}
			// Drop-oldest eviction may skip sequences but never
			// reorders them.
			if u.Sequence <= last {
				select {
				case violations <- fmt.Sprintf("delivered seq %d after seq %d", u.Sequence, last):
				default:
				}
				return
			}
			last = u.Sequence
		}
	}()

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				q := models.Quote{Symbol: "BBCA", Price: 9100}
				q.Sequence = bc.NextSequence("BBCA")
				bc.Publish("BBCA", q)
			}
		}()
	}
	wg.Wait()
	reg.Remove("sub")
	<-drained

	select {
	case v := <-violations:
		t.Fatal(v)
	default:
	}
}

func TestBroadcaster_SequencesAreMonotonicPerSymbol(t *testing.T) {
	f := newFanout(t)

	assert.Equal(t, int64(1), f.bc.NextSequence("BBCA"))
	assert.Equal(t, int64(2), f.bc.NextSequence("BBCA"))
	// Independent counter per symbol.
	assert.Equal(t, int64(1), f.bc.NextSequence("TLKM"))
}
