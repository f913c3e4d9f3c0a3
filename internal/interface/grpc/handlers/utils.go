package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hero-dungeon/dungeond/internal/core/domain"
	log "github.com/sirupsen/logrus"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{domain.ErrSessionBusy, http.StatusConflict},
	{domain.ErrNoHero, http.StatusPreconditionFailed},
	{domain.ErrUserRejected, http.StatusForbidden},
	{domain.ErrReverted, http.StatusUnprocessableEntity},
	{domain.ErrOracleUnavailable, http.StatusBadGateway},
	{domain.ErrFeeQueryFailed, http.StatusBadGateway},
	{domain.ErrSubmissionFailed, http.StatusBadGateway},
	{domain.ErrOutcomeTimeout, http.StatusGatewayTimeout},
}

func statusFromError(err error) int {
	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFromError(err), errorResponse{
		Error: err.Error(),
		Kind:  domain.ErrorKind(err),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}
