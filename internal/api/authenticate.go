package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/utils"
	"pixelmint-ledger/lib/api/cont"
	"pixelmint-ledger/lib/api/response"
	"pixelmint-ledger/lib/sl"
)

type Authenticator interface {
	AuthenticateByToken(ctx context.Context, token string) (*models.User, error)
}

func authenticate(log *slog.Logger, auth Authenticator, trustedProxies []string) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.authenticate")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			id := middleware.GetReqID(r.Context())
			logger := log.With(
				mod,
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", utils.ClientIP(r, trustedProxies)),
				slog.String("request_id", id),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			t1 := time.Now()
			defer func() {
				logger.With(
					slog.Int("status", ww.Status()),
					slog.Int("size", ww.BytesWritten()),
					slog.Float64("duration", time.Since(t1).Seconds()),
				).Info("incoming request")
			}()

			header := r.Header.Get("Authorization")
			if header == "" {
				authFailed(ww, r, "Authorization header not found")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				authFailed(ww, r, "Token not found")
				return
			}
			logger = logger.With(sl.Secret("token", token))

			user, err := auth.AuthenticateByToken(r.Context(), token)
			if err != nil {
				logger = logger.With(sl.Err(err))
				if errors.Is(err, apperr.ErrUnavailable) {
					render.Status(r, http.StatusServiceUnavailable)
					render.JSON(ww, r, response.Error("Authentication temporarily unavailable"))
					return
				}
				authFailed(ww, r, "Unauthorized: token not found")
				return
			}
			logger = logger.With(sl.User(user.ID))

			ww.Header().Set("X-Request-ID", id)
			next.ServeHTTP(ww, r.WithContext(cont.PutUser(r.Context(), user)))
		}
		return http.HandlerFunc(fn)
	}
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := cont.GetUser(r.Context())
		if user == nil || !user.IsAdmin {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, response.Error("Forbidden"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authFailed(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, response.Error(message))
}
