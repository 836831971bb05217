package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicebridge/internal/adapters/stream"
	"github.com/dkeye/voicebridge/internal/app"
	"github.com/dkeye/voicebridge/internal/app/call"
	"github.com/dkeye/voicebridge/internal/codec"
	"github.com/dkeye/voicebridge/internal/config"
	"github.com/dkeye/voicebridge/internal/core"
	"github.com/dkeye/voicebridge/internal/domain"
	"github.com/dkeye/voicebridge/internal/metrics"
	"github.com/dkeye/voicebridge/internal/protocol"
)

type stubRoom struct {
	mu          sync.Mutex
	published   int
	audio       func(codec.RoomFrame)
	disconnects int
}

func (r *stubRoom) Publish(codec.RoomFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published++
	return nil
}

func (r *stubRoom) OnRemoteAudio(fn func(codec.RoomFrame)) core.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio = fn
	return core.SubscriptionFunc(func() {})
}

func (r *stubRoom) OnDisconnect(func(error)) core.Subscription {
	return core.SubscriptionFunc(func() {})
}

func (r *stubRoom) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
}

func (r *stubRoom) snapshot() (published, disconnects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published, r.disconnects
}

func (r *stubRoom) emit(f codec.RoomFrame) {
	r.mu.Lock()
	fn := r.audio
	r.mu.Unlock()
	fn(f)
}

type stubConnector struct {
	room *stubRoom
}

func (c stubConnector) Connect(context.Context, domain.RoomName, domain.Identity) (core.RoomClient, error) {
	return c.room, nil
}

type testServer struct {
	srv  *httptest.Server
	reg  *app.Registry
	room *stubRoom
	prom *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Mode: "test",
		Stream: config.StreamConfig{
			Path:       "/media-stream",
			SendBuffer: 8,
			Greeting:   "Hello there",
		},
	}
	prom := prometheus.NewRegistry()
	reg := app.NewRegistry()
	room := &stubRoom{}
	opts := call.Options{ConnectAttempts: 1, SendTimeout: time.Second, Metrics: metrics.New(prom)}
	ctl := stream.NewStreamWSController(cfg.Stream, stubConnector{room: room}, reg, opts)

	r := SetupRouter(context.Background(), cfg, Deps{Stream: ctl, Registry: reg, Gatherer: prom})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	return &testServer{srv: srv, reg: reg, room: room, prom: prom}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "voicebridge", body["service"])
	assert.EqualValues(t, 0, body["active_calls"])
}

func TestTwilioStreamTwiML(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"CallSid": {"CA123"}, "From": {"+15550100"}}
	resp, err := http.PostForm(ts.srv.URL+"/twilio-stream", form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/xml")

	var doc twimlResponse
	require.NoError(t, xml.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, "Hello there", doc.Say.Text)
	assert.Equal(t, 1, doc.Pause.Length)
	assert.True(t, strings.HasPrefix(doc.Connect.Stream.URL, "ws://"))
	assert.True(t, strings.HasSuffix(doc.Connect.Stream.URL, "/media-stream"))
	assert.Equal(t, []twimlParameter{
		{Name: "callSid", Value: "CA123"},
		{Name: "from", Value: "+15550100"},
	}, doc.Connect.Stream.Parameters)
}

func TestCallStatus(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.PostForm(ts.srv.URL+"/call-status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamBridgesBothDirections(t *testing.T) {
	ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/media-stream"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteJSON(protocol.Message{Event: protocol.EventConnected, Protocol: "Call", Version: "1.0.0"}))
	require.NoError(t, ws.WriteJSON(protocol.Message{
		Event: protocol.EventStart,
		Start: &protocol.Start{StreamSID: "MZe2e", CallSID: "CAe2e00000"},
	}))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	require.Eventually(t, func() bool {
		_ = ws.WriteJSON(protocol.Message{Event: protocol.EventMedia, StreamSID: "MZe2e", Media: &protocol.Media{Payload: payload}})
		published, _ := ts.room.snapshot()
		return published > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, ts.reg.Count())

	ts.room.emit(codec.RoomFrame{Samples: make([]int16, 320), SampleRate: codec.RoomRate, Channels: 1})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var out protocol.Message
	require.NoError(t, ws.ReadJSON(&out))
	assert.Equal(t, protocol.EventMedia, out.Event)
	assert.Equal(t, "MZe2e", out.StreamSID)
	ulaw, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	require.NoError(t, err)
	assert.Len(t, ulaw, 160)

	require.NoError(t, ws.WriteJSON(protocol.Message{Event: protocol.EventStop, StreamSID: "MZe2e"}))
	require.Eventually(t, func() bool { return ts.reg.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	_, disconnects := ts.room.snapshot()
	assert.Equal(t, 1, disconnects)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
