package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs each request with the given logger.
func requestLogger(logger *zap.SugaredLogger) func(next http.Handler) http.Handler {
	logger = logger.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar().Named("api")
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			t1 := time.Now()
			next.ServeHTTP(ww, r)

			logger.Infow("Got request",
				"status", ww.Status(),
				"method", r.Method,
				"url", r.URL.String(),
				"reqIp", r.RemoteAddr,
				"size", ww.BytesWritten(),
				"latency", time.Since(t1).String(),
				"reqId", middleware.GetReqID(r.Context()),
			)
		}
		return http.HandlerFunc(fn)
	}
}
