package network

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/hookflow-io/hookflow/traffic"
)

// Hop-by-hop headers are consumed by each proxy leg and never forwarded.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// removeHopByHopHeaders drops the connection headers, including the ones
// the Connection header names.
func removeHopByHopHeaders(header http.Header) {
	for _, field := range strings.Split(header.Get("Connection"), ",") {
		if field = strings.TrimSpace(field); field != "" {
			header.Del(field)
		}
	}
	for _, name := range hopByHopHeaders {
		header.Del(name)
	}
}

// copyHeader copies every header field from src to dst.
func copyHeader(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// applyVerdictHeaders applies the verdict's header modifications. Set and
// delete never overlap: Verdict.Apply resolves conflicts as contributions
// merge.
func applyVerdictHeaders(header http.Header, verdict *traffic.Verdict) {
	for key, value := range verdict.SetHeaders {
		header.Set(key, value)
	}
	for _, key := range verdict.DelHeaders {
		header.Del(key)
	}
}

// appendXForwardedFor records the client address for the upstream, behind
// any addresses an earlier proxy recorded.
func appendXForwardedFor(header http.Header, remoteAddr string) {
	clientIP, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return
	}
	if prior := header.Get("X-Forwarded-For"); prior != "" {
		clientIP = prior + ", " + clientIP
	}
	header.Set("X-Forwarded-For", clientIP)
}

// captureBody reads at most limit bytes from the body. The caller keeps
// forwarding the full stream by concatenating the captured bytes with the
// rest of the reader.
func captureBody(body io.Reader, limit int) ([]byte, error) {
	if body == nil || limit <= 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, body, int64(limit)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, nil
	}
	return buf.Bytes(), nil
}

// capPayload returns a view of at most limit bytes, for event bodies built
// from an already materialized payload.
func capPayload(payload []byte, limit int) []byte {
	if limit > 0 && len(payload) > limit {
		return payload[:limit]
	}
	return payload
}

// splitHostPort splits "host:port", falling back to the given port when
// none is present.
func splitHostPort(hostport string, fallback int) (string, int) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, fallback
	}
	if number, err := strconv.Atoi(port); err == nil {
		return host, number
	}
	return host, fallback
}

// schemeDefaultPort returns the well-known port for the scheme.
func schemeDefaultPort(scheme string) int {
	switch scheme {
	case "https", "wss":
		return 443
	default:
		return 80
	}
}

// writeBlock answers the client for a blocked exchange. The verdict's
// status code wins when a hook set one.
func writeBlock(writer http.ResponseWriter, verdict *traffic.Verdict) {
	status := verdict.StatusCode
	if status == 0 {
		status = http.StatusForbidden
	}
	reason := verdict.BlockReason
	if reason == "" {
		reason = "blocked by policy"
	}
	http.Error(writer, reason, status)
}
