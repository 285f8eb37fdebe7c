package logging

import (
	"log"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// StandardLogWriter implements io.Writer to capture standard log output and
// redirect it to zerolog. Used to feed http.Server.ErrorLog into the
// structured logger.
type StandardLogWriter struct {
	logger    zerolog.Logger
	component string
}

// stdlibLogTimestampRegex matches Go stdlib log timestamp format:
// "2009/01/23 01:23:23 ".
var stdlibLogTimestampRegex = regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2}(\.\d{6})?\s`)

// NewStandardLogWriter creates a new StandardLogWriter that
// redirects standard log output to zerolog.
func NewStandardLogWriter(logger zerolog.Logger, component string) *StandardLogWriter {
	return &StandardLogWriter{
		logger:    logger,
		component: component,
	}
}

// Write implements io.Writer and redirects log output to zerolog.
// Stdlib servers log operational noise, so everything lands at debug level.
func (w *StandardLogWriter) Write(p []byte) (int, error) {
	message := string(p)

	// Strip any stdlib log timestamp; zerolog adds its own.
	message = stdlibLogTimestampRegex.ReplaceAllString(message, "")

	message = strings.TrimSpace(message)
	if message == "" {
		return len(p), nil
	}

	w.logger.Debug().Str("component", w.component).Msg(message)

	return len(p), nil
}

// NewStandardLogger returns a *log.Logger whose output is redirected to
// the given zerolog logger, tagged with the component name.
func NewStandardLogger(logger zerolog.Logger, component string) *log.Logger {
	return log.New(NewStandardLogWriter(logger, component), "", 0)
}
