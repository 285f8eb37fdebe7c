package traffic

import (
	"mime"
	"net/http"
	"strings"
	"time"
)

type Kind string

const (
	KindRequestReceived  Kind = "request-received"
	KindResponseReceived Kind = "response-received"
	KindTLSEstablished   Kind = "tls-established"
	KindWebsocketMessage Kind = "websocket-message"
	KindConnectionClosed Kind = "connection-closed"
)

// Kinds returns all event kinds in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindRequestReceived,
		KindResponseReceived,
		KindTLSEstablished,
		KindWebsocketMessage,
		KindConnectionClosed,
	}
}

// Valid reports whether the kind is one of the known event kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRequestReceived, KindResponseReceived, KindTLSEstablished,
		KindWebsocketMessage, KindConnectionClosed:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}

// Direction tells which way a websocket message was traveling.
type Direction string

const (
	DirectionClientToServer Direction = "client-to-server"
	DirectionServerToClient Direction = "server-to-client"
)

// Event is one normalized proxy occurrence flowing through a dispatch cycle.
// The attribute fields are a read-only view: they are populated once by the
// event adapter and never written afterwards. Hooks influence the outcome
// only through contributions, never by editing the event.
type Event struct {
	Kind   Kind
	FlowID string

	Host        string
	Port        int
	Path        string
	Method      string
	Scheme      string
	ContentType string
	ClientAddr  string
	Header      http.Header

	// StatusCode is set on response-received events.
	StatusCode int

	// Body holds the capped request/response body view, or the websocket
	// message payload on websocket-message events.
	Body []byte

	// Direction is set on websocket-message events.
	Direction Direction

	CreatedAt time.Time
}

// Attr resolves a rule field name against the event. The second return
// reports presence: absent attributes never match a predicate.
// Header values are addressed as "header.<Name>".
func (e *Event) Attr(field string) (string, bool) {
	switch field {
	case FieldHost:
		return e.Host, e.Host != ""
	case FieldPath:
		return e.Path, e.Path != ""
	case FieldMethod:
		return e.Method, e.Method != ""
	case FieldScheme:
		return e.Scheme, e.Scheme != ""
	case FieldContentType:
		if e.ContentType == "" {
			return "", false
		}
		return NormalizeContentType(e.ContentType), true
	}

	if name, found := strings.CutPrefix(field, FieldHeaderPrefix); found {
		if e.Header == nil {
			return "", false
		}
		if values := e.Header.Values(name); len(values) > 0 {
			return values[0], true
		}
		return "", false
	}

	return "", false
}

// NumericAttr resolves a numeric rule field. Only the port is numeric today.
func (e *Event) NumericAttr(field string) (int, bool) {
	if field == FieldPort {
		return e.Port, e.Port != 0
	}
	return 0, false
}

// Rule field names understood by Attr and NumericAttr.
const (
	FieldHost         = "host"
	FieldPath         = "path"
	FieldMethod       = "method"
	FieldScheme       = "scheme"
	FieldContentType  = "content-type"
	FieldPort         = "port"
	FieldHeaderPrefix = "header."
)

// NormalizeContentType strips media type parameters and lowercases the
// result, so "application/JSON; charset=utf-8" compares as "application/json".
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
		mediaType = strings.TrimSpace(mediaType)
	}
	return strings.ToLower(mediaType)
}
