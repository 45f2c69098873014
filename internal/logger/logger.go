package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	dinghttp "github.com/wolfeidau/ding/internal/http"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// HTTPRequests attaches a request scoped logger to each request context and logs the
// outcome once the handler returns. Handlers log through zerolog.Ctx(r.Context()).
func HTTPRequests(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()

			reqLogger := logger.With().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("addr", dinghttp.ExtractClientIP(r)).
				Logger()

			sw := dinghttp.NewStatusWriter(w)
			next.ServeHTTP(sw, r.WithContext(reqLogger.WithContext(r.Context())))

			evt := reqLogger.Info()
			if sw.Status >= http.StatusInternalServerError {
				evt = reqLogger.Error()
			}

			evt.Int("status", sw.Status).
				Int("bytes", sw.Bytes).
				Dur("duration", time.Since(started)).
				Msg("http request")
		})
	}
}
