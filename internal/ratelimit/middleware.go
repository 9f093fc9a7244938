package ratelimit

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/utils"
	"pixelmint-ledger/lib/api/response"
	"pixelmint-ledger/lib/sl"
)

// Middleware refuses registrations from addresses over the limit and records
// every registration the wrapped handler answers with a 2xx. Forwarding
// headers are honoured only from trustedProxies.
func Middleware(l *Limiter, trustedProxies []string, log *slog.Logger) func(next http.Handler) http.Handler {
	log = log.With(sl.Module("middleware.ratelimit"))

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustedProxies)
			logger := log.With(slog.String("ip", ip))

			ok, err := l.CanRegister(r.Context(), ip)
			if err != nil {
				logger.Error("check registration limit", sl.Err(err))
				render.Status(r, apperr.HTTPStatus(err))
				render.JSON(w, r, response.Error("Registration temporarily unavailable"))
				return
			}
			if !ok {
				logger.Info("registration refused")
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error(apperr.ErrRegistrationLimited.Error()))
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if status := ww.Status(); status >= 200 && status < 300 {
				if err := l.Record(r.Context(), ip); err != nil {
					logger.Error("record registration", sl.Err(err))
				}
			}
		}
		return http.HandlerFunc(fn)
	}
}
