package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket" // gorilla as the test CLIENT only
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajaymehta/quotewire/cmd/gateway/internal/gateway"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/metrics"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/repository"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/stream"
	"github.com/ajaymehta/quotewire/cmd/gateway/internal/testutils"
	"github.com/ajaymehta/quotewire/pkg/models"
)

type testEnv struct {
	server *httptest.Server
	mr     *miniredis.Miniredis
	bus    *testutils.MockBus
	svc    *stream.Service
}

func startServer(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := repository.NewRedisStore(rdb)
	bus := testutils.NewMockBus()
	logger := zap.NewNop()

	svc := stream.NewService(store, bus, metrics.New(prometheus.NewRegistry()), logger, stream.Options{
		PollInterval:     50 * time.Millisecond,
		SendBuffer:       64,
		ShutdownGrace:    time.Second,
		BridgeMaxBackoff: time.Second,
	})
	svc.Start(context.Background())
	t.Cleanup(svc.Stop)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		gateway.NewClient(conn, svc, store, logger).Start()
	}))
	t.Cleanup(server.Close)

	return &testEnv{server: server, mr: mr, bus: bus, svc: svc}
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http")
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { wsConn.Close() })

	// First frame is always the connected greeting.
	var hello map[string]any
	require.NoError(t, readJSON(t, wsConn, &hello))
	require.Equal(t, "connected", hello["type"])
	return wsConn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) error {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}

// readUntilType skips unrelated frames (e.g. poll-driven price updates)
// until one with the wanted type arrives.
func readUntilType(t *testing.T, conn *websocket.Conn, wanted string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg map[string]any
		require.NoError(t, readJSON(t, conn, &msg))
		if msg["type"] == wanted {
			return msg
		}
	}
	t.Fatalf("never received a %q frame", wanted)
	return nil
}

func seedQuote(t *testing.T, mr *miniredis.Miniredis, q models.Quote) {
	t.Helper()
	payload, err := json.Marshal(q)
	require.NoError(t, err)
	require.NoError(t, mr.Set("quote:"+q.Symbol, string(payload)))
}

func TestEndToEnd_SubscribeFlow(t *testing.T) {
	env := startServer(t)
	seedQuote(t, env.mr, models.Quote{Symbol: "BBCA", Price: 9100, Volume: 120000, Sequence: 3, Source: "feeder"})

	conn := connectWS(t, env.server.URL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","symbol":"bbca"}`)))

	// Snapshot first, then the confirmation.
	snap := readUntilType(t, conn, "price_update")
	assert.Equal(t, "BBCA", snap["symbol"])
	assert.Equal(t, 9100.0, snap["price"])

	ack := readUntilType(t, conn, "subscription_confirmed")
	assert.Equal(t, "BBCA", ack["symbol"])

	// The poller keeps delivering while subscribed.
	update := readUntilType(t, conn, "price_update")
	assert.Equal(t, "BBCA", update["symbol"])
}

func TestEndToEnd_BusEventReachesSubscriber(t *testing.T) {
	env := startServer(t)

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","symbol":"TLKM"}`)))
	readUntilType(t, conn, "subscription_confirmed")

	env.bus.Events <- []byte(`{"symbol":"TLKM","price":3975,"volume":900,"source":"bus"}`)

	update := readUntilType(t, conn, "price_update")
	assert.Equal(t, "TLKM", update["symbol"])
	assert.Equal(t, 3975.0, update["price"])
}

func TestEndToEnd_UnsubscribeStopsDelivery(t *testing.T) {
	env := startServer(t)

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","symbol":"BBRI"}`)))
	readUntilType(t, conn, "subscription_confirmed")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"unsubscribe","symbol":"BBRI"}`)))
	ack := readUntilType(t, conn, "unsubscription_confirmed")
	assert.Equal(t, "BBRI", ack["symbol"])

	env.bus.Events <- []byte(`{"symbol":"BBRI","price":4570}`)

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no frame should arrive after unsubscribing")
}

func TestEndToEnd_GetPrice(t *testing.T) {
	env := startServer(t)
	seedQuote(t, env.mr, models.Quote{Symbol: "ASII", Price: 5200, Sequence: 1})

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"get_price","symbol":"ASII"}`)))

	reply := readUntilType(t, conn, "price_update")
	assert.Equal(t, "ASII", reply["symbol"])
	assert.Equal(t, 5200.0, reply["price"])

	// get_price must not subscribe.
	env.bus.Events <- []byte(`{"symbol":"ASII","price":5300}`)
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestEndToEnd_GetPriceUnknownSymbol(t *testing.T) {
	env := startServer(t)

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"get_price","symbol":"NOPE"}`)))

	reply := readUntilType(t, conn, "error")
	assert.Contains(t, reply["message"], "NOPE")
}

func TestEndToEnd_GetHistory(t *testing.T) {
	env := startServer(t)

	for i := 3; i >= 1; i-- {
		payload, err := json.Marshal(models.Bar{Timestamp: int64(i), Close: float64(i * 10)})
		require.NoError(t, err)
		_, err = env.mr.Push("bars:GOTO:1m", string(payload))
		require.NoError(t, err)
	}

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"get_history","symbol":"GOTO","timeframe":"1m","limit":10}`)))

	reply := readUntilType(t, conn, "historical_data")
	assert.Equal(t, "GOTO", reply["symbol"])
	assert.Equal(t, "1m", reply["timeframe"])
	data, ok := reply["data"].([]any)
	require.True(t, ok)
	assert.Len(t, data, 3)
}

func TestEndToEnd_MalformedRequestKeepsConnectionOpen(t *testing.T) {
	env := startServer(t)

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{ "type": "subsc`)))

	reply := readUntilType(t, conn, "error")
	assert.Contains(t, reply["message"], "JSON")

	// The same connection still serves requests.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"bogus_op","symbol":"X"}`)))
	reply = readUntilType(t, conn, "error")
	assert.Contains(t, reply["message"], "bogus_op")
}

func TestEndToEnd_DisconnectReleasesSubscriptions(t *testing.T) {
	env := startServer(t)

	conn := connectWS(t, env.server.URL)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","symbol":"BBCA"}`)))
	readUntilType(t, conn, "subscription_confirmed")

	require.Eventually(t, func() bool {
		return len(env.svc.Index.ActiveSymbols()) == 1
	}, time.Second, 10*time.Millisecond)

	conn.Close()

	// Registry removal must purge the index so nobody polls for BBCA.
	require.Eventually(t, func() bool {
		return len(env.svc.Index.ActiveSymbols()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
