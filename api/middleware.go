package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/pborman/uuid"
	metrics "github.com/rcrowley/go-metrics"
	log "github.com/sirupsen/logrus"
)

const transactionIDHeader = "X-Request-Id"

func (h *Handler) EnforceDataLoaded(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.service.IsDataLoaded() {
			writeJSONMessageWithStatus(w, "Data not loaded", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// EnforceVersion rejects requests naming a version that is not in the
// current version list. Requests without a version pass through and get the
// default alias.
func (h *Handler) EnforceVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := r.URL.Query().Get(versionParameter)
		if version == "" {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := h.service.ResolveVersion(version); err != nil {
			writeJSONMessageWithStatus(w, err.Error(), statusFor(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// TransactionAwareRequestLogging tags each request with a transaction id,
// logs it once served and times it in registry.
func TransactionAwareRequestLogging(registry metrics.Registry, next http.Handler) http.Handler {
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	timer := metrics.GetOrRegisterTimer("http.requests", registry)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get(transactionIDHeader)
		if tid == "" {
			tid = "tid_" + uuid.New()
			r.Header.Set(transactionIDHeader, tid)
		}
		w.Header().Set(transactionIDHeader, tid)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		timer.UpdateSince(start)
		log.WithFields(log.Fields{
			"transaction_id": tid,
			"method":         r.Method,
			"uri":            r.URL.RequestURI(),
			"status":         rec.status,
			"responsetime":   time.Since(start).Milliseconds(),
		}).Info("Request served")
	})
}

// Monitored wraps the service router with panic recovery and request
// logging.
func Monitored(router http.Handler, registry metrics.Registry) http.Handler {
	var h http.Handler = router
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(log.StandardLogger()), handlers.PrintRecoveryStack(true))(h)
	h = TransactionAwareRequestLogging(registry, h)
	return h
}
