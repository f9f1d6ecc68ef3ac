package httpcore

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured-logging seam Client and ConnectionPool log
// through. Grounded on the rs/zerolog event-builder style used throughout
// always-cache-always-cache (Trace/Debug/Error chained with Str/Err/Msg), kept
// behind a small interface so callers can substitute their own zerolog.Logger
// or a no-op for tests.
type Logger interface {
	Debug() *zerolog.Event
	Trace() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

// zerologLogger adapts a zerolog.Logger to Logger.
type zerologLogger struct {
	logger zerolog.Logger
}

func (l zerologLogger) Debug() *zerolog.Event { return l.logger.Debug() }
func (l zerologLogger) Trace() *zerolog.Event { return l.logger.Trace() }
func (l zerologLogger) Info() *zerolog.Event  { return l.logger.Info() }
func (l zerologLogger) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l zerologLogger) Error() *zerolog.Event { return l.logger.Error() }

// NewSimpleLogger builds a Logger writing a plain console format to stderr at
// debug level, the quick-start counterpart to NewLogger for WithSimpleLogger.
func NewSimpleLogger() Logger {
	return NewLogger(os.Stderr, zerolog.DebugLevel)
}

// NewLogger builds a Logger writing a human-readable console format to w at the
// given level, the same NewConsoleWriter pattern always-cache-always-cache uses
// for its default logger.
func NewLogger(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	writer := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return zerologLogger{logger: logger}
}

// NewJSONLogger builds a Logger writing structured JSON to w, for production
// deployments that ship logs to an aggregator rather than a terminal.
func NewJSONLogger(w *os.File, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return zerologLogger{logger: logger}
}

// noopLogger discards everything; used as Client's zero-value default so
// logging is opt-in via WithLogger.
type noopLogger struct{}

func (noopLogger) Debug() *zerolog.Event { return disabledEvent }
func (noopLogger) Trace() *zerolog.Event { return disabledEvent }
func (noopLogger) Info() *zerolog.Event  { return disabledEvent }
func (noopLogger) Warn() *zerolog.Event  { return disabledEvent }
func (noopLogger) Error() *zerolog.Event { return disabledEvent }

var disabledEventLogger = zerolog.New(zerolog.Nop())
var disabledEvent = disabledEventLogger.Debug()

// logRequest emits a Debug-level line describing an outbound attempt, the
// logging counterpart to MetricsCollector.RecordRequest.
func logRequest(log Logger, req *http.Request, attempt int) {
	log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("attempt", attempt).
		Msg("sending request")
}

// logResponse emits a Debug-level line describing a completed attempt.
func logResponse(log Logger, req *http.Request, resp *http.Response, err error, duration time.Duration) {
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Dur("duration", duration)
	if resp != nil {
		event.Int("status", resp.StatusCode)
	}
	event.Msg("request finished")
}
