package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"peerchat/config"
	"peerchat/pkg/logger"
	"peerchat/services/dispatcher"
	"peerchat/services/guard"
	"peerchat/services/relay"
	"peerchat/services/store"

	fastws "github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Node:  config.NodeConfig{Identity: "alice.os", AdvertiseURL: "http://127.0.0.1"},
		Store: config.StoreConfig{Backend: config.StoreBadger, KeyPrefix: "t:"},
		Live: config.LiveConfig{
			QueueSize:         32,
			SessionBufferSize: 16,
			PingInterval:      time.Second,
		},
		RateLimit: config.RateLimitConfig{Capacity: 1000, RefillRate: 100, RefillPeriod: time.Second},
	}
}

// startNode runs a full node on a loopback listener and returns its address
func startNode(t *testing.T) string {
	t.Helper()
	cfg := testConfig()

	kv, err := store.OpenBadger("")
	require.NoError(t, err)
	st := store.New(kv, cfg.Store.KeyPrefix)

	directory := relay.StaticDirectory{"bob.os": "http://127.0.0.1:1"}
	relayClient := relay.NewClient(cfg.Node.Identity, directory, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	d := dispatcher.New(dispatcher.Config{Identity: cfg.Node.Identity}, st, guard.New(st), relayClient, nil)
	go d.Run(ctx)

	srv := NewServer(cfg, logger.GetDefault(), Deps{
		Dispatcher: d,
		Peers:      directory,
		Breakers:   relayClient,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.App.Listener(ln) }()

	t.Cleanup(func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
		st.Close()
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string) *fastws.Conn {
	t.Helper()
	conn, _, err := fastws.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *fastws.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(fastws.TextMessage, []byte(frame)))
}

func readFrame(t *testing.T, conn *fastws.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	require.Len(t, frame, 1)
	return frame
}

// attached waits until the dispatcher has registered conn by asking it a question
func attached(t *testing.T, conn *fastws.Conn) {
	t.Helper()
	send(t, conn, `{"GetContacts":null}`)
	assert.Contains(t, readFrame(t, conn), "Contacts")
}

func TestLiveChannelFanOut(t *testing.T) {
	addr := startNode(t)
	a, b := dial(t, addr), dial(t, addr)
	attached(t, a)
	attached(t, b)

	send(t, a, `{"Send":{"target":"alice.os","message":"note to self"}}`)

	var frames []string
	for _, conn := range []*fastws.Conn{a, b} {
		frame := readFrame(t, conn)
		require.Contains(t, frame, "NewMessage")
		frames = append(frames, string(frame["NewMessage"]))

		var ev struct {
			Counterparty string `json:"counterparty"`
			Author       string `json:"author"`
			Content      string `json:"content"`
			Timestamp    uint64 `json:"timestamp"`
		}
		require.NoError(t, json.Unmarshal(frame["NewMessage"], &ev))
		assert.Equal(t, "alice.os", ev.Counterparty)
		assert.Equal(t, "alice.os", ev.Author)
		assert.Equal(t, "note to self", ev.Content)
		assert.NotZero(t, ev.Timestamp)
	}
	assert.Equal(t, frames[0], frames[1])
}

func TestLiveQueryAnswersOnlyAsker(t *testing.T) {
	addr := startNode(t)
	asker, other := dial(t, addr), dial(t, addr)
	attached(t, asker)
	attached(t, other)

	send(t, asker, `{"GetGroups":{}}`)
	frame := readFrame(t, asker)
	assert.JSONEq(t, `[]`, string(frame["Groups"]))

	require.NoError(t, other.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err)
}

func TestLiveChannelSurvivesBadFrames(t *testing.T) {
	addr := startNode(t)
	conn := dial(t, addr)

	send(t, conn, `not json at all`)
	send(t, conn, `{"GroupMessage":{"group_id":"group_missing","message":"x"}}`)
	attached(t, conn)
}

func TestRootWithoutUpgrade(t *testing.T) {
	addr := startNode(t)

	resp, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	addr := startNode(t)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string            `json:"status"`
		Node   string            `json:"node"`
		Store  string            `json:"store"`
		Peers  map[string]string `json:"peers"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "alice.os", health.Node)
	assert.Equal(t, config.StoreBadger, health.Store)
	assert.Equal(t, map[string]string{"bob.os": "http://127.0.0.1:1"}, health.Peers)

	metricsResp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "http_requests_total")
}
