package network

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/logging"
	"github.com/hookflow-io/hookflow/metrics"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

// Server is the bundled proxy host. It serves plain HTTP exchanges in
// forward (absolute-form) or reverse (fixed upstream) mode, CONNECT
// tunnels and websocket relays, and runs every occurrence through the
// listener before letting traffic continue.
type Server struct {
	ctx      context.Context //nolint:containedctx
	logger   zerolog.Logger
	listener Listener

	mode            config.ProxyMode
	upstream        *url.URL
	maxCaptureSize  int
	shutdownTimeout time.Duration

	httpServer *http.Server
	transport  http.RoundTripper
	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer
	retry      *Retry

	mu     sync.RWMutex
	status config.Status

	Network string
	Address string
}

// NewServer creates the proxy host for one proxies config entry.
func NewServer(
	ctx context.Context,
	proxyConfig config.Proxy,
	listener Listener,
	logger zerolog.Logger,
) (*Server, *gerr.HookFlowError) {
	serverCtx, span := otel.Tracer(config.TracerName).Start(ctx, "New proxy server")
	defer span.End()

	server := Server{
		ctx:             serverCtx,
		logger:          logger,
		listener:        listener,
		mode:            proxyConfig.GetMode(),
		maxCaptureSize:  proxyConfig.GetMaxCaptureSize(),
		shutdownTimeout: proxyConfig.GetShutdownTimeout(),
		status:          config.Stopped,
		Network:         proxyConfig.Network,
		Address:         proxyConfig.Address,
	}
	if server.Network == "" {
		server.Network = config.DefaultListenNetwork
	}

	if server.mode == config.Reverse {
		upstream, err := url.Parse(proxyConfig.Upstream)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			span.RecordError(err)
			logger.Error().Err(err).Str("upstream", proxyConfig.Upstream).Msg(
				"Upstream is not a valid URL")
			return nil, gerr.ErrValidationFailed.Wrap(err)
		}
		server.upstream = upstream
	}

	server.retry = NewRetry(
		proxyConfig.Retries,
		proxyConfig.Backoff,
		proxyConfig.BackoffMultiplier,
		proxyConfig.DisableBackoffCaps,
		logger,
	)

	// The transport negotiates its own compression and transparently
	// decodes it, so hooks see plaintext bodies.
	server.transport = &http.Transport{
		DialContext:         server.dialUpstream,
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	server.dialer = &websocket.Dialer{
		NetDialContext:   server.dialUpstream,
		HandshakeTimeout: 10 * time.Second,
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// The engine's rules decide what is allowed, not the origin.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	server.httpServer = &http.Server{
		Handler:           &server,
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
		ErrorLog:          logging.NewStandardLogger(logger, "proxy"),
	}

	return &server, nil
}

// dialUpstream dials with retry so a restarting upstream does not turn
// into an immediate client-visible failure.
func (s *Server) dialUpstream(ctx context.Context, network, address string) (net.Conn, error) {
	object, err := s.retry.Retry(func() (any, error) {
		dialer := net.Dialer{Timeout: 10 * time.Second}
		return dialer.DialContext(ctx, network, address)
	})
	if err != nil {
		return nil, err
	}
	conn, ok := object.(net.Conn)
	if !ok {
		return nil, gerr.ErrCastFailed
	}
	return conn, nil
}

// Run starts the proxy server and blocks until it is shut down.
func (s *Server) Run() *gerr.HookFlowError {
	_, span := otel.Tracer(config.TracerName).Start(s.ctx, "Run proxy server")
	defer span.End()

	listener, err := net.Listen(s.Network, s.Address)
	if err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("Failed to start proxy server")
		return gerr.ErrFailedToStartServer.Wrap(err)
	}

	s.mu.Lock()
	s.Address = listener.Addr().String()
	s.status = config.Running
	s.mu.Unlock()

	s.logger.Info().Fields(
		map[string]any{
			"address": s.Address,
			"mode":    string(s.mode),
		},
	).Msg("Proxy server is listening")

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("Failed to start proxy server")
		return gerr.ErrFailedToStartServer.Wrap(err)
	}

	return nil
}

// Shutdown stops the proxy server, waiting up to the shutdown timeout for
// in-flight exchanges.
func (s *Server) Shutdown(ctx context.Context) {
	_, span := otel.Tracer(config.TracerName).Start(s.ctx, "Shutdown proxy server")
	defer span.End()

	s.mu.Lock()
	s.status = config.Stopped
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Msg("Failed to shut down proxy server gracefully")
		_ = s.httpServer.Close()
	}
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == config.Running
}

// Addr returns the bound listen address once the server is running,
// which resolves ":0" style addresses.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Address
}

func (s *Server) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	metrics.ProxiedFlows.Inc()
	defer metrics.ProxiedFlows.Dec()

	flow := s.newFlow(request)
	s.logger.Debug().Fields(
		map[string]any{
			"flow":   flow.ID,
			"method": flow.Method,
			"host":   flow.Host,
			"path":   flow.Path,
		},
	).Msg("Incoming exchange")

	switch {
	case request.Method == http.MethodConnect:
		s.handleConnect(writer, request, flow)
	case websocket.IsWebSocketUpgrade(request):
		s.handleWebsocket(writer, request, flow)
	default:
		s.handleHTTP(writer, request, flow)
	}
}

// newFlow derives the flow attributes from the incoming request.
func (s *Server) newFlow(request *http.Request) *Flow {
	scheme := "http"
	if request.TLS != nil {
		scheme = "https"
	}
	hostport := request.Host
	if request.URL.IsAbs() {
		hostport = request.URL.Host
		scheme = request.URL.Scheme
	}
	if request.Method == http.MethodConnect {
		// CONNECT targets are authority-form, always a TLS endpoint.
		hostport = request.URL.Host
		scheme = "https"
	}
	host, port := splitHostPort(hostport, schemeDefaultPort(scheme))

	return &Flow{
		ID:         uuid.New().String(),
		ClientAddr: request.RemoteAddr,
		Host:       host,
		Port:       port,
		Path:       request.URL.Path,
		Method:     request.Method,
		Scheme:     scheme,
	}
}

// targetURL resolves where the exchange is forwarded. Forward mode
// requires absolute-form request URIs; reverse mode rewrites every
// request onto the configured upstream.
func (s *Server) targetURL(request *http.Request) *url.URL {
	if s.mode == config.Reverse {
		target := *s.upstream
		target.Path = strings.TrimSuffix(target.Path, "/") + request.URL.Path
		target.RawQuery = request.URL.RawQuery
		return &target
	}
	if !request.URL.IsAbs() {
		return nil
	}
	return request.URL
}

func (s *Server) handleHTTP(writer http.ResponseWriter, request *http.Request, flow *Flow) {
	ctx := request.Context()
	defer s.listener.ConnectionClosed(s.ctx, flow)

	target := s.targetURL(request)
	if target == nil {
		http.Error(writer, "proxy requires absolute-form request URIs", http.StatusBadRequest)
		return
	}

	captured, err := captureBody(request.Body, s.maxCaptureSize)
	if err != nil {
		s.logger.Error().Err(err).Str("flow", flow.ID).Msg("Failed to read the request body")
		http.Error(writer, "failed to read request body", http.StatusBadRequest)
		return
	}

	verdict := s.listener.RequestReceived(ctx, flow, request.Header, captured)
	if verdict.Decision == traffic.DecisionBlock {
		writeBlock(writer, verdict)
		return
	}

	outbound, reqErr := s.outboundRequest(ctx, request, target, captured, verdict)
	if reqErr != nil {
		s.logger.Error().Err(reqErr).Str("flow", flow.ID).Msg("Failed to build the upstream request")
		http.Error(writer, "failed to build upstream request", http.StatusInternalServerError)
		return
	}

	response, roundTripErr := s.transport.RoundTrip(outbound)
	if roundTripErr != nil {
		s.logger.Error().Err(roundTripErr).Fields(
			map[string]any{
				"flow":     flow.ID,
				"upstream": target.Host,
			},
		).Msg("Upstream request failed")
		http.Error(writer, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer func() { _ = response.Body.Close() }()

	respCaptured, err := captureBody(response.Body, s.maxCaptureSize)
	if err != nil {
		s.logger.Error().Err(err).Str("flow", flow.ID).Msg("Failed to read the response body")
		http.Error(writer, "failed to read upstream response", http.StatusBadGateway)
		return
	}

	respVerdict := s.listener.ResponseReceived(
		ctx, flow, response.StatusCode, response.Header, respCaptured)
	if respVerdict.Decision == traffic.DecisionBlock {
		writeBlock(writer, respVerdict)
		return
	}

	s.writeResponse(writer, response, respCaptured, respVerdict)
}

// outboundRequest builds the upstream request, with the request verdict
// already applied to its headers and body.
func (s *Server) outboundRequest(
	ctx context.Context,
	request *http.Request,
	target *url.URL,
	captured []byte,
	verdict *traffic.Verdict,
) (*http.Request, error) {
	// The captured prefix is stitched back onto whatever is left of the
	// original stream.
	body := io.MultiReader(bytes.NewReader(captured), request.Body)

	outbound, err := http.NewRequestWithContext(ctx, request.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	outbound.ContentLength = request.ContentLength
	outbound.Header = request.Header.Clone()
	removeHopByHopHeaders(outbound.Header)
	// Let the transport negotiate compression it can transparently decode.
	outbound.Header.Del("Accept-Encoding")
	appendXForwardedFor(outbound.Header, request.RemoteAddr)

	applyVerdictHeaders(outbound.Header, verdict)
	if verdict.Body != nil {
		// A replaced body supersedes the original stream entirely.
		outbound.Body = io.NopCloser(bytes.NewReader(verdict.Body))
		outbound.ContentLength = int64(len(verdict.Body))
		outbound.Header.Del("Content-Encoding")
	}

	return outbound, nil
}

// writeResponse relays the upstream response to the client with the
// response verdict applied.
func (s *Server) writeResponse(
	writer http.ResponseWriter,
	response *http.Response,
	captured []byte,
	verdict *traffic.Verdict,
) {
	removeHopByHopHeaders(response.Header)
	applyVerdictHeaders(response.Header, verdict)

	status := response.StatusCode
	if verdict.StatusCode != 0 {
		status = verdict.StatusCode
	}

	if verdict.Body != nil {
		response.Header.Del("Content-Encoding")
		response.Header.Set("Content-Length", strconv.Itoa(len(verdict.Body)))
		copyHeader(writer.Header(), response.Header)
		writer.WriteHeader(status)
		_, _ = writer.Write(verdict.Body)
		return
	}

	copyHeader(writer.Header(), response.Header)
	writer.WriteHeader(status)
	_, _ = io.Copy(writer, io.MultiReader(bytes.NewReader(captured), response.Body))
}

// handleConnect establishes an opaque tunnel. The engine sees the
// endpoint, not the bytes: the only decision point is tls-established.
func (s *Server) handleConnect(writer http.ResponseWriter, request *http.Request, flow *Flow) {
	verdict := s.listener.TLSEstablished(request.Context(), flow)
	if verdict.Decision == traffic.DecisionBlock {
		writeBlock(writer, verdict)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	upstream, err := s.dialUpstream(
		request.Context(), "tcp", net.JoinHostPort(flow.Host, strconv.Itoa(flow.Port)))
	if err != nil {
		s.logger.Error().Err(err).Str("flow", flow.ID).Msg("Failed to dial the tunnel target")
		http.Error(writer, "upstream unreachable", http.StatusBadGateway)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	hijacker, ok := writer.(http.Hijacker)
	if !ok {
		_ = upstream.Close()
		http.Error(writer, "tunneling is not supported", http.StatusInternalServerError)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}
	client, buffered, err := hijacker.Hijack()
	if err != nil {
		_ = upstream.Close()
		s.logger.Error().Err(err).Str("flow", flow.ID).Msg("Failed to hijack the client connection")
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	if _, err := client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = client.Close()
		_ = upstream.Close()
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	metrics.ProxiedTunnels.Inc()
	s.logger.Debug().Fields(
		map[string]any{
			"flow": flow.ID,
			"host": flow.Host,
			"port": flow.Port,
		},
	).Msg("Tunnel established")

	// Copy both directions until either side closes; closing both
	// connections unblocks the surviving copier.
	stopTunnel := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, buffered)
		stopTunnel <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, upstream)
		stopTunnel <- struct{}{}
	}()
	<-stopTunnel
	_ = client.Close()
	_ = upstream.Close()

	// The request context died at hijack, so close events dispatch on the
	// server context.
	s.listener.ConnectionClosed(s.ctx, flow)
}

// handleWebsocket relays frames between the client and the upstream,
// running every data frame through the engine.
func (s *Server) handleWebsocket(writer http.ResponseWriter, request *http.Request, flow *Flow) {
	ctx := request.Context()

	verdict := s.listener.RequestReceived(ctx, flow, request.Header, nil)
	if verdict.Decision == traffic.DecisionBlock {
		writeBlock(writer, verdict)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	target := s.targetURL(request)
	if target == nil {
		http.Error(writer, "proxy requires absolute-form request URIs", http.StatusBadRequest)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}
	wsTarget := *target
	switch wsTarget.Scheme {
	case "https":
		wsTarget.Scheme = "wss"
	default:
		wsTarget.Scheme = "ws"
	}

	// The dialer supplies its own websocket handshake headers.
	header := request.Header.Clone()
	removeHopByHopHeaders(header)
	header.Del("Sec-Websocket-Key")
	header.Del("Sec-Websocket-Version")
	header.Del("Sec-Websocket-Extensions")
	header.Del("Sec-Websocket-Protocol")

	upstream, response, err := s.dialer.DialContext(ctx, wsTarget.String(), header)
	if err != nil {
		status := http.StatusBadGateway
		if response != nil {
			status = response.StatusCode
		}
		s.logger.Error().Err(err).Fields(
			map[string]any{
				"flow":     flow.ID,
				"upstream": wsTarget.Host,
			},
		).Msg("Failed to dial the websocket upstream")
		http.Error(writer, "websocket upstream unreachable", status)
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}
	if response != nil {
		_ = response.Body.Close()
	}

	client, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade already answered the client.
		_ = upstream.Close()
		s.logger.Error().Err(err).Str("flow", flow.ID).Msg("Failed to upgrade the client connection")
		s.listener.ConnectionClosed(s.ctx, flow)
		return
	}

	s.logger.Debug().Str("flow", flow.ID).Msg("Websocket relay established")

	stopRelay := make(chan struct{}, 2)
	go func() {
		s.relay(client, upstream, flow, traffic.DirectionClientToServer)
		stopRelay <- struct{}{}
	}()
	go func() {
		s.relay(upstream, client, flow, traffic.DirectionServerToClient)
		stopRelay <- struct{}{}
	}()
	<-stopRelay
	_ = client.Close()
	_ = upstream.Close()

	s.listener.ConnectionClosed(s.ctx, flow)
}

// relay pumps data frames one way until the source closes or a hook
// blocks the socket.
func (s *Server) relay(
	src, dst *websocket.Conn, flow *Flow, direction traffic.Direction,
) {
	for {
		messageType, payload, err := src.ReadMessage()
		if err != nil {
			// Hand a close frame through so the peer sees the same
			// close code.
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				message := websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
				_ = dst.WriteControl(
					websocket.CloseMessage, message, time.Now().Add(time.Second))
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		metrics.WebsocketMessages.WithLabelValues(string(direction)).Inc()
		verdict := s.listener.WebsocketMessage(
			s.ctx, flow, direction, capPayload(payload, s.maxCaptureSize))
		if verdict.Decision == traffic.DecisionBlock {
			reason := verdict.BlockReason
			if reason == "" {
				reason = "blocked by policy"
			}
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
			deadline := time.Now().Add(time.Second)
			_ = src.WriteControl(websocket.CloseMessage, message, deadline)
			_ = dst.WriteControl(websocket.CloseMessage, message, deadline)
			return
		}
		if verdict.Body != nil {
			payload = verdict.Body
		}

		if err := dst.WriteMessage(messageType, payload); err != nil {
			return
		}
	}
}
