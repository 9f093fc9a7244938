package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/lib/api/response"
	"pixelmint-ledger/lib/sl"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bind decodes a JSON body into v and runs its validate tags.
func bind(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return apperr.Invalid("decode body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return apperr.Invalid("invalid fields: %s", strings.Join(fields, ", "))
		}
		return apperr.Invalid("%v", err)
	}
	return nil
}

// fail renders err with the status its kind maps to. Storage failures are
// logged and hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	render.Status(r, status)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", sl.Err(err))
		render.JSON(w, r, response.Error("Service temporarily unavailable"))
		return
	}
	render.JSON(w, r, response.Error(err.Error()))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, response.Error("Requested resource not found"))
}

func notAllowed(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusMethodNotAllowed)
	render.JSON(w, r, response.Error("Method not allowed"))
}
