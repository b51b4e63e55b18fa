package events

import (
	"github.com/rs/zerolog"
)

// LogObserver writes scheduler events to a zerolog logger. Credential
// headers are redacted.
type LogObserver struct {
	logger zerolog.Logger

	// LogHeaders includes (redacted) request headers on debug events.
	LogHeaders bool
}

// NewLogObserver returns a LogObserver writing to logger.
func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (l *LogObserver) OnRequest(e RequestEvent) {
	ev := l.logger.Debug().
		Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("url", e.URL)
	if l.LogHeaders {
		ev = ev.Interface("headers", Redact(e.Headers))
	}
	ev.Msg("Dispatching request")
}

func (l *LogObserver) OnQueued(e QueuedEvent) {
	l.logger.Debug().
		Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("url", e.URL).
		Int("depth", e.Depth).
		Msg("Request queued")
}

func (l *LogObserver) OnRateLimited(e RateLimitedEvent) {
	l.logger.Warn().
		Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("url", e.URL).
		Dur("delay", e.Delay).
		Msg("Rate limited, retrying after delay")
}

func (l *LogObserver) OnResponse(e ResponseEvent) {
	if e.Err != nil {
		l.logger.Debug().
			Err(e.Err).
			Str("request_id", e.RequestID).
			Str("method", e.Method).
			Str("url", e.URL).
			Dur("duration", e.Duration).
			Msg("Request failed")
		return
	}
	l.logger.Debug().
		Str("request_id", e.RequestID).
		Str("method", e.Method).
		Str("url", e.URL).
		Int("status", e.Status).
		Dur("duration", e.Duration).
		Msg("Response received")
}
