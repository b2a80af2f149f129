package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/protocol"
	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap/zaptest"
)

type testGateway struct {
	listener *Listener
	server   *httptest.Server
}

func newTestGateway(t *testing.T, config *ListenerConfig) *testGateway {
	t.Helper()

	listener, err := config.WithLogger(zaptest.NewLogger(t)).Build()
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", listener.ServeWebsocket)
	mux.HandleFunc("/debug/sessions", listener.ServeSessions)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testGateway{listener: listener, server: srv}
}

func (g *testGateway) url(query string) string {
	u := "ws" + strings.TrimPrefix(g.server.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

// expectClose reads until the server closes the connection and returns the close frame.
func expectClose(t *testing.T, conn *websocket.Conn) websocket.CloseError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		_, _, err := conn.Read(ctx)
		if err == nil {
			continue
		}
		var ce websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce
	}
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(text)))
}

func TestHelloAdvertisesHeartbeatInterval(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))

	env := readEnvelope(t, conn)
	assert.Equal(t, protocol.OpHello, env.Op)
	assert.JSONEq(t, `{"heartbeat_interval":30000}`, string(env.D))
}

func TestHeartbeatIsAcknowledged(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	for i := 0; i < 3; i++ {
		sendText(t, conn, `{"op":1,"d":null}`)
		env := readEnvelope(t, conn)
		assert.Equal(t, protocol.OpHeartbeatAck, env.Op)
		assert.Empty(t, env.D)
	}
}

func TestIdentifyAndResumeKeepSessionOpen(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	sendText(t, conn, `{"op":2,"d":{"token":"abc"}}`)
	sendText(t, conn, `{"op":6,"d":{"session_id":"x","seq":4}}`)
	sendText(t, conn, `{"op":1}`)

	assert.Equal(t, protocol.OpHeartbeatAck, readEnvelope(t, conn).Op)
}

func TestUnknownOpcodeClosesSession(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	sendText(t, conn, `{"op":99,"d":{}}`)

	ce := expectClose(t, conn)
	assert.EqualValues(t, 4001, ce.Code)
	assert.Equal(t, "unknown opcode 99", ce.Reason)
}

func TestServerOpcodeFromClientIsUnknown(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	sendText(t, conn, `{"op":10}`)

	ce := expectClose(t, conn)
	assert.EqualValues(t, 4001, ce.Code)
	assert.Equal(t, "unknown opcode 10", ce.Reason)
}

func TestMalformedTextClosesWithDecodeError(t *testing.T) {
	for _, text := range []string{"not json", `{"d":{}}`, `[1]`} {
		t.Run(text, func(t *testing.T) {
			g := newTestGateway(t, NewListenerConfig())
			conn := dial(t, g.url(""))
			readEnvelope(t, conn)

			sendText(t, conn, text)

			ce := expectClose(t, conn)
			assert.EqualValues(t, 4002, ce.Code)
			assert.Equal(t, "decode error", ce.Reason)
		})
	}
}

func TestBinaryFrameClosesWithDecodeError(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}))

	ce := expectClose(t, conn)
	assert.EqualValues(t, 4002, ce.Code)
}

func TestSilentSessionTimesOut(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig().WithReadTimeout(200*time.Millisecond))
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	ce := expectClose(t, conn)
	assert.EqualValues(t, 4009, ce.Code)
	assert.Equal(t, "session timed out", ce.Reason)

	assert.Eventually(t, func() bool { return g.listener.Registry().Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHeartbeatsKeepSessionAlive(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig().WithReadTimeout(300*time.Millisecond))
	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		sendText(t, conn, `{"op":1}`)
		assert.Equal(t, protocol.OpHeartbeatAck, readEnvelope(t, conn).Op)
	}
	assert.Equal(t, 1, g.listener.Registry().Count())
}

func TestRegistryTracksSessions(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())
	registry := g.listener.Registry()

	a := dial(t, g.url("shard=0,2"))
	readEnvelope(t, a)
	b := dial(t, g.url("shard=bogus"))
	readEnvelope(t, b)

	// Hello is written after the session is registered.
	assert.Equal(t, 2, registry.Count())
	assert.Equal(t, map[session.Shard]int{{ID: 0, Count: 2}: 1}, registry.CountByShard())

	a.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return registry.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.Close(websocket.StatusNormalClosure, "bye")
	assert.Eventually(t, func() bool { return registry.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.listener.ConnectionCount())
}

func TestProtocolErrorOnlyEndsItsOwnSession(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())

	good := dial(t, g.url(""))
	readEnvelope(t, good)
	bad := dial(t, g.url(""))
	readEnvelope(t, bad)

	sendText(t, bad, `{"op":42}`)
	expectClose(t, bad)

	sendText(t, good, `{"op":1}`)
	assert.Equal(t, protocol.OpHeartbeatAck, readEnvelope(t, good).Op)
	assert.Eventually(t, func() bool { return g.listener.Registry().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSharedRegistry(t *testing.T) {
	registry := session.NewRegistry()
	g := newTestGateway(t, NewListenerConfig().WithRegistry(registry))

	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	assert.Same(t, registry, g.listener.Registry())
	assert.Equal(t, 1, registry.Count())
}

func TestServeSessions(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())

	conn := dial(t, g.url("shard=1,4"))
	readEnvelope(t, conn)

	resp, err := http.Get(g.server.URL + "/debug/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var report SessionsReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))

	assert.Equal(t, 1, report.Count)
	require.Len(t, report.Sessions, 1)
	assert.Equal(t, &session.Shard{ID: 1, Count: 4}, report.Sessions[0].Shard)
	require.Len(t, report.Shards, 1)
	assert.Equal(t, 1, report.Shards[0].Sessions)
	assert.EqualValues(t, 4, report.Shards[0].Count)
}

func TestShutdownClosesSessionsAndRejectsNewOnes(t *testing.T) {
	g := newTestGateway(t, NewListenerConfig())

	conn := dial(t, g.url(""))
	readEnvelope(t, conn)

	closed := make(chan websocket.CloseError, 1)
	go func() {
		_, _, err := conn.Read(context.Background())
		var ce websocket.CloseError
		errors.As(err, &ce)
		closed <- ce
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.listener.Shutdown(ctx))

	select {
	case ce := <-closed:
		assert.Equal(t, websocket.StatusGoingAway, ce.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not see the close frame")
	}
	assert.Equal(t, 0, g.listener.Registry().Count())

	late := dial(t, g.url(""))
	ce := expectClose(t, late)
	assert.Equal(t, websocket.StatusServiceRestart, ce.Code)
}

func TestListenerConfig(t *testing.T) {
	_, err := NewListenerConfig().Build()
	assert.Error(t, err, "logger is required")

	config := NewListenerConfig().WithLogger(zaptest.NewLogger(t))
	assert.Equal(t, 60*time.Second, config.ReadTimeout())

	config.WithHeartbeatInterval(10 * time.Second)
	assert.Equal(t, 20*time.Second, config.ReadTimeout())

	config.WithHeartbeatInterval(-time.Second)
	assert.Equal(t, 10*time.Second, config.heartbeatInterval)

	config.WithReadTimeout(0)
	assert.Equal(t, time.Duration(0), config.ReadTimeout())

	config.WithWriteTimeout(0).WithReadLimit(0)
	assert.Equal(t, DefaultWriteTimeout, config.writeTimeout)
	assert.EqualValues(t, DefaultReadLimit, config.readLimit)

	_, err = config.Build()
	assert.NoError(t, err)
}
