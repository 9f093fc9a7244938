package admission

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/lib/api/cont"
	"pixelmint-ledger/lib/api/response"
	"pixelmint-ledger/lib/sl"
)

// Middleware holds an admission slot for the duration of the wrapped
// handler. Requests must be authenticated.
func Middleware(c *Controller, limit int, log *slog.Logger) func(next http.Handler) http.Handler {
	log = log.With(sl.Module("middleware.admission"))

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			user := cont.GetUser(r.Context())
			if user == nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("Unauthorized"))
				return
			}

			slotID, ok := c.TryStart(user.ID, limit)
			if !ok {
				log.Debug("admission refused", sl.User(user.ID), slog.Int("limit", limit))
				render.Status(r, http.StatusTooManyRequests)
				render.JSON(w, r, response.Error(apperr.ErrAdmissionLimited.Error()))
				return
			}
			defer c.End(slotID)

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
