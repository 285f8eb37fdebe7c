package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var eventsUpgrader = websocket.Upgrader{
	// The API listener is an operator surface; origin policy is left to
	// whatever sits in front of it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// events streams lifecycle state changes to the client as JSON frames,
// one per change, until either side goes away.
func (s *HTTPServer) events(writer http.ResponseWriter, request *http.Request) {
	s.record(request)

	changes, unsubscribe := s.api.Registry.Subscribe()
	defer unsubscribe()

	conn, err := eventsUpgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade events stream")
		return
	}
	defer conn.Close()

	// The read pump only exists to notice the client closing; the stream
	// is write-only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if err := conn.WriteJSON(change); err != nil {
				s.logger.Debug().Err(err).Msg("Events stream client went away")
				return
			}
		}
	}
}
