package network

import (
	"context"
	"net/http"
	"time"

	"github.com/hookflow-io/hookflow/dispatch"
	"github.com/hookflow-io/hookflow/traffic"
	"github.com/rs/zerolog"
)

// Flow identifies one proxied exchange. Every event the exchange emits
// carries the same flow id, so hooks and logs can correlate the request,
// its response and the close.
type Flow struct {
	ID         string
	ClientAddr string
	Host       string
	Port       int
	Path       string
	Method     string
	Scheme     string
}

// Listener is the boundary between the proxy host and the engine. The
// host calls one method per occurrence and acts on the returned verdict
// before letting the exchange continue.
type Listener interface {
	RequestReceived(ctx context.Context, flow *Flow, header http.Header, body []byte) *traffic.Verdict
	ResponseReceived(ctx context.Context, flow *Flow, statusCode int, header http.Header, body []byte) *traffic.Verdict
	TLSEstablished(ctx context.Context, flow *Flow) *traffic.Verdict
	WebsocketMessage(ctx context.Context, flow *Flow, direction traffic.Direction, payload []byte) *traffic.Verdict
	ConnectionClosed(ctx context.Context, flow *Flow)
}

// Adapter translates proxy occurrences into traffic events and runs each
// one through the dispatcher. It holds no state of its own.
type Adapter struct {
	dispatcher dispatch.IDispatcher
	logger     zerolog.Logger
}

var _ Listener = (*Adapter)(nil)

func NewAdapter(dispatcher dispatch.IDispatcher, logger zerolog.Logger) *Adapter {
	return &Adapter{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// event builds the common attribute view shared by every kind.
func (a *Adapter) event(kind traffic.Kind, flow *Flow) *traffic.Event {
	return &traffic.Event{
		Kind:       kind,
		FlowID:     flow.ID,
		Host:       flow.Host,
		Port:       flow.Port,
		Path:       flow.Path,
		Method:     flow.Method,
		Scheme:     flow.Scheme,
		ClientAddr: flow.ClientAddr,
		CreatedAt:  time.Now(),
	}
}

func (a *Adapter) RequestReceived(
	ctx context.Context, flow *Flow, header http.Header, body []byte,
) *traffic.Verdict {
	event := a.event(traffic.KindRequestReceived, flow)
	event.Header = header
	event.ContentType = header.Get("Content-Type")
	event.Body = body
	return a.dispatcher.Handle(ctx, event)
}

func (a *Adapter) ResponseReceived(
	ctx context.Context, flow *Flow, statusCode int, header http.Header, body []byte,
) *traffic.Verdict {
	event := a.event(traffic.KindResponseReceived, flow)
	event.StatusCode = statusCode
	event.Header = header
	event.ContentType = header.Get("Content-Type")
	event.Body = body
	return a.dispatcher.Handle(ctx, event)
}

func (a *Adapter) TLSEstablished(ctx context.Context, flow *Flow) *traffic.Verdict {
	return a.dispatcher.Handle(ctx, a.event(traffic.KindTLSEstablished, flow))
}

func (a *Adapter) WebsocketMessage(
	ctx context.Context, flow *Flow, direction traffic.Direction, payload []byte,
) *traffic.Verdict {
	event := a.event(traffic.KindWebsocketMessage, flow)
	event.Direction = direction
	event.Body = payload
	return a.dispatcher.Handle(ctx, event)
}

// ConnectionClosed notifies observers that the flow ended. The verdict is
// discarded: there is nothing left to modify or block.
func (a *Adapter) ConnectionClosed(ctx context.Context, flow *Flow) {
	verdict := a.dispatcher.Handle(ctx, a.event(traffic.KindConnectionClosed, flow))
	if verdict.Decision != traffic.DecisionContinue {
		a.logger.Trace().Str("flow", flow.ID).Msg(
			"Verdict on a closed connection has no effect")
	}
}
