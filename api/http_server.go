package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/NYTimes/gziphandler"
	"github.com/hookflow-io/hookflow/config"
	gerr "github.com/hookflow-io/hookflow/errors"
	"github.com/hookflow-io/hookflow/logging"
	"github.com/hookflow-io/hookflow/metrics"
	"github.com/rs/zerolog"
)

// HTTPServer serves the JSON management API.
type HTTPServer struct {
	api        *API
	logger     zerolog.Logger
	httpServer *http.Server
}

var _ IAPIServer = (*HTTPServer)(nil)

func NewHTTPServer(api *API) *HTTPServer {
	server := &HTTPServer{
		api:    api,
		logger: api.Options.Logger,
	}
	server.httpServer = &http.Server{
		Addr:              api.Options.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: config.DefaultReadHeaderTimeout,
		ErrorLog:          logging.NewStandardLogger(server.logger, "api"),
	}
	return server
}

// Handler builds the route table. The events endpoint hangs off the root
// mux because the gzip wrapper cannot hijack connections.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /v1/version", s.version)
	mux.HandleFunc("GET /v1/addons", s.listAddons)
	mux.HandleFunc("POST /v1/addons", s.installAddon)
	mux.HandleFunc("GET /v1/addons/{id}", s.getAddon)
	mux.HandleFunc("DELETE /v1/addons/{id}", s.uninstallAddon)
	mux.HandleFunc("POST /v1/addons/{id}/load", s.lifecycle(s.api.LoadAddon))
	mux.HandleFunc("POST /v1/addons/{id}/enable", s.lifecycle(s.api.EnableAddon))
	mux.HandleFunc("POST /v1/addons/{id}/disable", s.lifecycle(s.api.DisableAddon))
	mux.HandleFunc("POST /v1/addons/{id}/upgrade", s.upgradeAddon)
	mux.HandleFunc("GET /v1/snapshot", s.snapshot)

	root := http.NewServeMux()
	root.HandleFunc("GET /v1/events", s.events)
	root.Handle("/", gziphandler.GzipHandler(mux))
	return root
}

// Start serves the API until Shutdown. It blocks, so callers run it on
// its own goroutine.
func (s *HTTPServer) Start() {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("API server is listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error().Err(err).Msg("Failed to start API server")
	}
}

func (s *HTTPServer) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to shut down API server")
		s.httpServer.Close()
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// statusFromCode maps the error taxonomy onto HTTP statuses: malformed
// input is 400, unknown ids 404, state conflicts 409, well-formed but
// unusable addons 422, everything else 500.
func statusFromCode(code gerr.ErrCode) int {
	switch code {
	case gerr.ErrCodeInvalidRule, gerr.ErrCodeConfigParseError:
		return http.StatusBadRequest
	case gerr.ErrCodeAddonNotFound:
		return http.StatusNotFound
	case gerr.ErrCodeLifecycleConflict, gerr.ErrCodeAddonExists:
		return http.StatusConflict
	case gerr.ErrCodeManifestInvalid, gerr.ErrCodeAddonInitFailed,
		gerr.ErrCodeIncompatibleVersion, gerr.ErrCodeHandlerNotFound,
		gerr.ErrCodeChecksumMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func endpointLabel(request *http.Request) string {
	if _, pattern, found := strings.Cut(request.Pattern, " "); found {
		return pattern
	}
	return request.Pattern
}

func (s *HTTPServer) record(request *http.Request) {
	metrics.APIRequests.WithLabelValues(request.Method, endpointLabel(request)).Inc()
}

func (s *HTTPServer) writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(value); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode API response")
	}
}

func (s *HTTPServer) writeError(
	writer http.ResponseWriter, request *http.Request, apiErr *gerr.HookFlowError,
) {
	metrics.APIRequestsErrors.WithLabelValues(
		request.Method, endpointLabel(request), apiErr.Code.String()).Inc()

	response := errorResponse{
		Code:    apiErr.Code.String(),
		Message: apiErr.Message,
	}
	if apiErr.OriginalError != nil {
		response.Detail = apiErr.OriginalError.Error()
	}
	s.writeJSON(writer, statusFromCode(apiErr.Code), response)
}

func (s *HTTPServer) healthz(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	if liveness(s.api) {
		s.writeJSON(writer, http.StatusOK, map[string]string{"status": "SERVING"})
		return
	}
	s.writeJSON(writer, http.StatusServiceUnavailable, map[string]string{"status": "NOT_SERVING"})
}

func (s *HTTPServer) version(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	s.writeJSON(writer, http.StatusOK, s.api.Version())
}

func (s *HTTPServer) listAddons(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	s.writeJSON(writer, http.StatusOK, s.api.ListAddons())
}

func (s *HTTPServer) getAddon(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	status, err := s.api.GetAddon(request.PathValue("id"))
	if err != nil {
		s.writeError(writer, request, err)
		return
	}
	s.writeJSON(writer, http.StatusOK, status)
}

func (s *HTTPServer) installAddon(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	var installRequest InstallRequest
	if err := json.NewDecoder(request.Body).Decode(&installRequest); err != nil {
		s.writeError(writer, request, gerr.ErrConfigParseError.Wrap(err))
		return
	}

	status, apiErr := s.api.InstallAddon(request.Context(), installRequest)
	if apiErr != nil {
		s.writeError(writer, request, apiErr)
		return
	}
	s.writeJSON(writer, http.StatusCreated, status)
}

func (s *HTTPServer) upgradeAddon(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	var upgradeRequest UpgradeRequest
	if err := json.NewDecoder(request.Body).Decode(&upgradeRequest); err != nil {
		s.writeError(writer, request, gerr.ErrConfigParseError.Wrap(err))
		return
	}

	status, apiErr := s.api.UpgradeAddon(
		request.Context(), request.PathValue("id"), upgradeRequest)
	if apiErr != nil {
		s.writeError(writer, request, apiErr)
		return
	}
	s.writeJSON(writer, http.StatusOK, status)
}

// lifecycle adapts the single-id registry operations into handlers that
// answer with the addon's state after the transition.
func (s *HTTPServer) lifecycle(
	action func(ctx context.Context, addonID string) *gerr.HookFlowError,
) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		s.record(request)
		addonID := request.PathValue("id")
		if err := action(request.Context(), addonID); err != nil {
			s.writeError(writer, request, err)
			return
		}

		status, err := s.api.GetAddon(addonID)
		if err != nil {
			s.writeError(writer, request, err)
			return
		}
		s.writeJSON(writer, http.StatusOK, status)
	}
}

func (s *HTTPServer) uninstallAddon(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	if err := s.api.UninstallAddon(request.Context(), request.PathValue("id")); err != nil {
		s.writeError(writer, request, err)
		return
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) snapshot(writer http.ResponseWriter, request *http.Request) {
	s.record(request)
	s.writeJSON(writer, http.StatusOK, s.api.SnapshotInfo())
}
