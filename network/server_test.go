package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hookflow-io/hookflow/config"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubListener returns canned verdicts and records which kinds it saw.
type stubListener struct {
	mu       sync.Mutex
	kinds    []traffic.Kind
	payloads []string

	requestBody  []byte
	responseBody []byte

	onRequest  *traffic.Verdict
	onResponse *traffic.Verdict
	onTLS      *traffic.Verdict
	onMessage  *traffic.Verdict
}

func (l *stubListener) record(kind traffic.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, kind)
}

func (l *stubListener) seen() []traffic.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]traffic.Kind(nil), l.kinds...)
}

func (l *stubListener) seenPayloads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.payloads...)
}

func orContinue(verdict *traffic.Verdict) *traffic.Verdict {
	if verdict == nil {
		return traffic.NewVerdict()
	}
	return verdict
}

func (l *stubListener) RequestReceived(
	_ context.Context, _ *Flow, _ http.Header, body []byte,
) *traffic.Verdict {
	l.record(traffic.KindRequestReceived)
	l.mu.Lock()
	l.requestBody = body
	l.mu.Unlock()
	return orContinue(l.onRequest)
}

func (l *stubListener) ResponseReceived(
	_ context.Context, _ *Flow, _ int, _ http.Header, body []byte,
) *traffic.Verdict {
	l.record(traffic.KindResponseReceived)
	l.mu.Lock()
	l.responseBody = body
	l.mu.Unlock()
	return orContinue(l.onResponse)
}

func (l *stubListener) TLSEstablished(_ context.Context, _ *Flow) *traffic.Verdict {
	l.record(traffic.KindTLSEstablished)
	return orContinue(l.onTLS)
}

func (l *stubListener) WebsocketMessage(
	_ context.Context, _ *Flow, _ traffic.Direction, payload []byte,
) *traffic.Verdict {
	l.record(traffic.KindWebsocketMessage)
	l.mu.Lock()
	l.payloads = append(l.payloads, string(payload))
	l.mu.Unlock()
	return orContinue(l.onMessage)
}

func (l *stubListener) ConnectionClosed(_ context.Context, _ *Flow) {
	l.record(traffic.KindConnectionClosed)
}

// startServer runs a proxy server on a loopback port and waits for it
// to come up. The zero retry count keeps dial failures fast.
func startServer(t *testing.T, proxyConfig config.Proxy, listener Listener) *Server {
	t.Helper()

	if proxyConfig.Network == "" {
		proxyConfig.Network = "tcp"
	}
	if proxyConfig.Address == "" {
		proxyConfig.Address = "127.0.0.1:0"
	}

	server, err := NewServer(context.Background(), proxyConfig, listener, zerolog.Nop())
	require.Nil(t, err)

	go func() {
		if runErr := server.Run(); runErr != nil {
			t.Error(runErr)
		}
	}()
	require.Eventually(t, server.IsRunning, time.Second, 10*time.Millisecond)
	t.Cleanup(func() { server.Shutdown(context.Background()) })
	return server
}

func reverseConfig(upstream string) config.Proxy {
	return config.Proxy{Mode: "reverse", Upstream: upstream}
}

func TestNewServer_BadUpstream(t *testing.T) {
	_, err := NewServer(
		context.Background(),
		config.Proxy{Mode: "reverse", Upstream: "://not-a-url"},
		&stubListener{},
		zerolog.Nop(),
	)
	require.NotNil(t, err)
}

func TestServer_ReverseProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("X-Upstream", "yes")
			writer.Header().Set("X-Saw-Forwarded-For", request.Header.Get("X-Forwarded-For"))
			fmt.Fprint(writer, "pong")
		}))
	defer upstream.Close()

	listener := &stubListener{}
	server := startServer(t, reverseConfig(upstream.URL), listener)

	response, err := http.Get("http://" + server.Addr() + "/ping")
	require.NoError(t, err)
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, "yes", response.Header.Get("X-Upstream"))
	assert.NotEmpty(t, response.Header.Get("X-Saw-Forwarded-For"))

	require.Eventually(t, func() bool {
		return len(listener.seen()) == 3
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []traffic.Kind{
		traffic.KindRequestReceived,
		traffic.KindResponseReceived,
		traffic.KindConnectionClosed,
	}, listener.seen())
}

func TestServer_ForwardProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(writer http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(writer, "direct")
		}))
	defer upstream.Close()

	server := startServer(t, config.Proxy{Mode: "forward"}, &stubListener{})

	proxyURL, err := url.Parse("http://" + server.Addr())
	require.NoError(t, err)
	client := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)}}

	response, err := client.Get(upstream.URL + "/anything")
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "direct", string(body))

	// Origin-form requests have nowhere to go in forward mode.
	direct, err := http.Get("http://" + server.Addr() + "/anything")
	require.NoError(t, err)
	defer direct.Body.Close()
	assert.Equal(t, http.StatusBadRequest, direct.StatusCode)
}

func TestServer_BlockRequest(t *testing.T) {
	var upstreamHit atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) { upstreamHit.Store(true) }))
	defer upstream.Close()

	listener := &stubListener{
		onRequest: &traffic.Verdict{
			Decision:    traffic.DecisionBlock,
			StatusCode:  http.StatusUnavailableForLegalReasons,
			BlockReason: "denied by policy",
		},
	}
	server := startServer(t, reverseConfig(upstream.URL), listener)

	response, err := http.Get("http://" + server.Addr() + "/blocked")
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnavailableForLegalReasons, response.StatusCode)
	assert.Contains(t, string(body), "denied by policy")
	assert.False(t, upstreamHit.Load())
	require.Eventually(t, func() bool {
		return len(listener.seen()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []traffic.Kind{
		traffic.KindRequestReceived,
		traffic.KindConnectionClosed,
	}, listener.seen())
}

func TestServer_ModifyRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("X-Saw-Injected", request.Header.Get("X-Injected"))
			writer.Header().Set("X-Saw-Secret", request.Header.Get("X-Secret"))
			body, _ := io.ReadAll(request.Body)
			writer.Write(body)
		}))
	defer upstream.Close()

	listener := &stubListener{
		onRequest: &traffic.Verdict{
			Decision:   traffic.DecisionModify,
			SetHeaders: map[string]string{"X-Injected": "1"},
			DelHeaders: []string{"X-Secret"},
			Body:       []byte("rewritten"),
		},
	}
	server := startServer(t, reverseConfig(upstream.URL), listener)

	request, err := http.NewRequest(
		http.MethodPost, "http://"+server.Addr()+"/submit", strings.NewReader("original"))
	require.NoError(t, err)
	request.Header.Set("X-Secret", "hunter2")

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	echoed, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, "1", response.Header.Get("X-Saw-Injected"))
	assert.Empty(t, response.Header.Get("X-Saw-Secret"))
	assert.Equal(t, "rewritten", string(echoed))

	// The hooks saw the original body, not the rewritten one.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, []byte("original"), listener.requestBody)
}

func TestServer_ModifyResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(
		func(writer http.ResponseWriter, _ *http.Request) {
			writer.Header().Set("X-Version", "v1")
			fmt.Fprint(writer, `{"ok":true}`)
		}))
	defer upstream.Close()

	listener := &stubListener{
		onResponse: &traffic.Verdict{
			Decision:   traffic.DecisionModify,
			SetHeaders: map[string]string{"X-Patched": "yes"},
			DelHeaders: []string{"X-Version"},
			Body:       []byte(`{"ok":false}`),
			StatusCode: http.StatusAccepted,
		},
	}
	server := startServer(t, reverseConfig(upstream.URL), listener)

	response, err := http.Get("http://" + server.Addr() + "/api")
	require.NoError(t, err)
	defer response.Body.Close()
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, response.StatusCode)
	assert.Equal(t, "yes", response.Header.Get("X-Patched"))
	assert.Empty(t, response.Header.Get("X-Version"))
	assert.JSONEq(t, `{"ok":false}`, string(body))

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Equal(t, []byte(`{"ok":true}`), listener.responseBody)
}

func TestServer_UpstreamUnreachable(t *testing.T) {
	listener := &stubListener{}
	// A port nothing listens on.
	server := startServer(t, reverseConfig("http://127.0.0.1:1"), listener)

	response, err := http.Get("http://" + server.Addr() + "/x")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusBadGateway, response.StatusCode)
	require.Eventually(t, func() bool {
		kinds := listener.seen()
		return len(kinds) > 0 && kinds[len(kinds)-1] == traffic.KindConnectionClosed
	}, time.Second, 10*time.Millisecond)
}

// tcpEcho starts a raw echo listener for tunnel tests.
func tcpEcho(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, acceptErr := listener.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				_, _ = io.Copy(conn, conn)
				conn.Close()
			}()
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return listener
}

func TestServer_ConnectTunnel(t *testing.T) {
	echo := tcpEcho(t)
	listener := &stubListener{}
	server := startServer(t, config.Proxy{Mode: "forward"}, listener)

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", echo.Addr(), echo.Addr())
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "200")

	// Drain the rest of the response header.
	for {
		line, readErr := reader.ReadString('\n')
		require.NoError(t, readErr)
		if line == "\r\n" {
			break
		}
	}

	fmt.Fprint(conn, "tunneled bytes")
	buffer := make([]byte, len("tunneled bytes"))
	_, err = io.ReadFull(reader, buffer)
	require.NoError(t, err)
	assert.Equal(t, "tunneled bytes", string(buffer))

	conn.Close()
	require.Eventually(t, func() bool {
		return len(listener.seen()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []traffic.Kind{
		traffic.KindTLSEstablished,
		traffic.KindConnectionClosed,
	}, listener.seen())
}

func TestServer_ConnectBlocked(t *testing.T) {
	listener := &stubListener{
		onTLS: &traffic.Verdict{Decision: traffic.DecisionBlock, BlockReason: "no tunnels"},
	}
	server := startServer(t, config.Proxy{Mode: "forward"}, listener)

	conn, err := net.Dial("tcp", server.Addr())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprint(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	statusLine, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "403")
}

// wsEcho starts a websocket echo upstream.
func wsEcho(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(
		func(writer http.ResponseWriter, request *http.Request) {
			conn, err := upgrader.Upgrade(writer, request, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				messageType, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := conn.WriteMessage(messageType, payload); err != nil {
					return
				}
			}
		}))
}

func dialWebsocket(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	conn, response, err := websocket.DefaultDialer.Dial("ws://"+server.Addr()+"/socket", nil)
	require.NoError(t, err)
	if response != nil {
		response.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServer_WebsocketRelay(t *testing.T) {
	upstream := wsEcho(t)
	defer upstream.Close()

	listener := &stubListener{}
	server := startServer(t, reverseConfig(upstream.URL), listener)
	conn := dialWebsocket(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(payload))

	// One frame each way went through the engine.
	assert.Equal(t, []string{"hello", "hello"}, listener.seenPayloads())
}

func TestServer_WebsocketRewrite(t *testing.T) {
	upstream := wsEcho(t)
	defer upstream.Close()

	listener := &stubListener{
		onMessage: &traffic.Verdict{Decision: traffic.DecisionModify, Body: []byte("redacted")},
	}
	server := startServer(t, reverseConfig(upstream.URL), listener)
	conn := dialWebsocket(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("secret")))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "redacted", string(payload))
}

func TestServer_WebsocketBlocked(t *testing.T) {
	upstream := wsEcho(t)
	defer upstream.Close()

	listener := &stubListener{
		onMessage: &traffic.Verdict{Decision: traffic.DecisionBlock, BlockReason: "no chatter"},
	}
	server := startServer(t, reverseConfig(upstream.URL), listener)
	conn := dialWebsocket(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "no chatter", closeErr.Text)
}

func TestServer_Shutdown(t *testing.T) {
	server := startServer(t, config.Proxy{Mode: "forward"}, &stubListener{})
	assert.True(t, server.IsRunning())
	server.Shutdown(context.Background())
	assert.False(t, server.IsRunning())
}
