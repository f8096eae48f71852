package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotside-studios/davi-nfc-reader/buildinfo"
	"github.com/dotside-studios/davi-nfc-reader/nfc"
)

type testEnv struct {
	server  *Server
	reader  *nfc.Reader
	adapter *nfc.MockRemovalAdapter
	http    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	discard := log.New(io.Discard, "", 0)

	adapter := nfc.NewMockRemovalAdapter()
	cfg := nfc.DefaultConfig(nfc.NewHostRef(adapter.Host()))
	cfg.Logger = discard
	plugin, err := nfc.NewPlugin(cfg)
	require.NoError(t, err)
	r := plugin.Reader()
	require.NoError(t, r.ActivateProtocol(nfc.ProtocolISO14443_4))
	require.NoError(t, r.OnStartDetection())

	s, err := New(Config{Reader: r, Logger: discard})
	require.NoError(t, err)
	r.SetCallback(s)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(s.Stop)
	return &testEnv{server: s, reader: r, adapter: adapter, http: ts}
}

func isoTag() (*nfc.MockTag, *nfc.MockIsoDep) {
	iso := nfc.NewMockIsoDep(nil, []byte{0x80, 0x31})
	return nfc.NewMockTag([]byte{0x04, 0xA1, 0xB2, 0xC3}, iso, nfc.NewMockNfcA([]byte{0x44, 0x03}, 0x20)), iso
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	hello := readJSON(t, conn)
	require.Equal(t, WSMessageTypeHello, hello["type"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func request(t *testing.T, conn *websocket.Conn, id, typ string, payload map[string]any) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(WebsocketRequest{ID: id, Type: typ, Payload: payload}))
	resp := readJSON(t, conn)
	require.Equal(t, id, resp["id"])
	return resp
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	env := newTestEnv(t)
	_, err = New(Config{Reader: env.reader, Port: 70000})
	assert.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, CORSAllowOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, buildinfo.FullVersion(), body["version"])

	post, err := http.Post(env.http.URL+"/api/v1/health", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)

	req, _ := http.NewRequest(http.MethodOptions, env.http.URL+"/api/v1/reader", nil)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	preflight.Body.Close()
	assert.Equal(t, http.StatusOK, preflight.StatusCode)
	assert.Equal(t, CORSAllowMethods, preflight.Header.Get("Access-Control-Allow-Methods"))
}

func TestReaderStatus(t *testing.T) {
	env := newTestEnv(t)

	get := func() ReaderStatus {
		resp, err := http.Get(env.http.URL + "/api/v1/reader")
		require.NoError(t, err)
		defer resp.Body.Close()
		var status ReaderStatus
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		return status
	}

	status := get()
	assert.Equal(t, nfc.ReaderName, status.Name)
	assert.False(t, status.CardInserted)
	assert.Empty(t, status.TechnicalData)

	tag, _ := isoTag()
	require.True(t, env.adapter.Discover(tag))
	require.NoError(t, env.reader.OpenPhysicalChannel())

	status = get()
	assert.True(t, status.CardInserted)
	assert.True(t, status.CardPresent)
	assert.True(t, status.ChannelOpen)
	assert.Equal(t, string(nfc.ProtocolISO14443_4), status.Protocol)
	assert.Equal(t, "8031", status.PowerOnData)

	var td map[string]any
	require.NoError(t, json.Unmarshal(status.TechnicalData, &td))
	assert.Equal(t, "04A1B2C3", td["uid"])
}

func TestWebSocket_CardInsertedAndRemoved(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	tag, _ := isoTag()
	require.True(t, env.adapter.Discover(tag))

	inserted := readJSON(t, conn)
	assert.Equal(t, WSMessageTypeCardInserted, inserted["type"])
	assert.NotEmpty(t, inserted["id"])
	payload := inserted["payload"].(map[string]any)
	assert.Equal(t, string(nfc.ProtocolISO14443_4), payload["protocol"])
	assert.Equal(t, "8031", payload["powerOnData"])
	assert.Equal(t, "04A1B2C3", payload["technicalData"].(map[string]any)["uid"])

	require.Eventually(t, func() bool { return env.adapter.IgnoredCount() == 1 }, 2*time.Second, time.Millisecond)
	env.adapter.Remove()

	removed := readJSON(t, conn)
	assert.Equal(t, WSMessageTypeCardRemoved, removed["type"])
	assert.Equal(t, "8031", removed["payload"].(map[string]any)["powerOnData"])
}

func TestWebSocket_NewCardReplacesPendingWait(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	first, _ := isoTag()
	require.True(t, env.adapter.Discover(first))
	assert.Equal(t, WSMessageTypeCardInserted, readJSON(t, conn)["type"])
	require.Eventually(t, func() bool { return env.adapter.IgnoredCount() == 1 }, 2*time.Second, time.Millisecond)

	second, _ := isoTag()
	second.UID = []byte{0x08, 0x11, 0x22, 0x33}
	require.True(t, env.adapter.Discover(second))
	assert.Equal(t, WSMessageTypeCardInserted, readJSON(t, conn)["type"])
	require.Eventually(t, func() bool { return env.adapter.IgnoredCount() == 2 }, 2*time.Second, time.Millisecond)

	env.adapter.Remove()
	assert.Equal(t, WSMessageTypeCardRemoved, readJSON(t, conn)["type"])

	// The stale registration of the first card must not produce a second event.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var extra map[string]any
	assert.Error(t, conn.ReadJSON(&extra))
}

func TestWebSocket_Requests(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	tag, iso := isoTag()
	iso.TransceiveResponse = []byte{0x6F, 0x00, 0x90, 0x00}
	require.True(t, env.adapter.Discover(tag))
	require.Equal(t, WSMessageTypeCardInserted, readJSON(t, conn)["type"])

	resp := request(t, conn, "1", WSRequestTransmitAPDU, map[string]any{"apdu": "00A4040000"})
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, ErrCodeReader, resp["code"])

	resp = request(t, conn, "2", WSRequestOpenChannel, nil)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, true, resp["payload"].(map[string]any)["channelOpen"])

	resp = request(t, conn, "3", WSRequestTransmitAPDU, map[string]any{"apdu": "00 A4 04 00 00"})
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, "6F009000", resp["payload"].(map[string]any)["response"])
	assert.Equal(t, []byte{0x00, 0xA4, 0x04, 0x00, 0x00}, iso.Sent[len(iso.Sent)-1])

	resp = request(t, conn, "4", WSRequestTransmitAPDU, map[string]any{"apdu": "zz"})
	assert.Equal(t, ErrCodeBadRequest, resp["code"])

	resp = request(t, conn, "5", WSRequestCloseChannel, nil)
	assert.Equal(t, false, resp["payload"].(map[string]any)["channelOpen"])

	resp = request(t, conn, "6", WSRequestReaderStatus, nil)
	assert.Equal(t, "8031", resp["payload"].(map[string]any)["powerOnData"])

	resp = request(t, conn, "7", "formatCard", nil)
	assert.Equal(t, ErrCodeUnknownType, resp["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	parseErr := readJSON(t, conn)
	assert.Equal(t, WSMessageTypeError, parseErr["type"])
	assert.Equal(t, ErrCodeParse, parseErr["code"])
}

func TestBroadcast_DropsFailingClients(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t)
	env.dial(t)
	require.Equal(t, 2, env.server.clients.Count())

	env.server.clients.mu.RLock()
	for _, c := range env.server.clients.clients {
		c.close()
	}
	env.server.clients.mu.RUnlock()

	env.server.clients.Broadcast(newMessage(WSMessageTypeCardRemoved, nil))
	require.Eventually(t, func() bool { return env.server.clients.Count() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerRegistry(t *testing.T) {
	reg := NewHandlerRegistry()
	noop := func(_ context.Context, _ *Client, _ WebsocketRequest) error { return nil }

	assert.NoError(t, reg.Handle("b", noop))
	assert.NoError(t, reg.Handle("a", noop))
	assert.Error(t, reg.Handle("a", noop), "duplicate")
	assert.Error(t, reg.Handle("", noop))
	assert.Error(t, reg.Handle("c", nil))

	_, ok := reg.Get("a")
	assert.True(t, ok)
	_, ok = reg.Get("c")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, reg.MessageTypes())
}

func TestMDNSTXT(t *testing.T) {
	env := newTestEnv(t)
	assert.Contains(t, env.server.mdnsTXT(), "path=/ws")
	assert.Contains(t, env.server.mdnsTXT(), "reader="+nfc.ReaderName)
}
