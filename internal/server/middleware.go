package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// apiHandler returns an error instead of writing one
type apiHandler func(w http.ResponseWriter, r *http.Request) error

type loggerKey struct{}

// requestLogger returns the correlation-scoped logger stored by wrap
func requestLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return logger.Get()
}

// wrap assigns a correlation id, logs the request and maps returned errors to responses.
// Client errors get an empty 400 body.
func (s *Server) wrap(next apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		log := logger.WithCorrelationID(id)
		w.Header().Set(requestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), loggerKey{}, log))

		start := time.Now()
		err := next(w, r)
		if err == nil {
			log.Debug("Request handled",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", time.Since(start)),
			)
			return
		}

		status := kaperrors.StatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("Request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Error(err),
			)
			writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
			return
		}

		log.Warn("Request rejected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
		w.WriteHeader(status)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
