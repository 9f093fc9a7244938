package api

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pixelmint-ledger/internal/account"
	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/models"
	"pixelmint-ledger/internal/settlement"
	"pixelmint-ledger/internal/utils"
	"pixelmint-ledger/lib/api/cont"
	"pixelmint-ledger/lib/api/response"
	"pixelmint-ledger/lib/sl"
)

type balanceResponse struct {
	UserID  uint                `json:"user_id"`
	Balance int64               `json:"balance"`
	History []models.PointEntry `json:"history,omitempty"`
}

type checkinResponse struct {
	Awarded bool  `json:"awarded"`
	Balance int64 `json:"balance"`
}

type redeemRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type jobRequest struct {
	Points int64 `json:"points" validate:"min=1,max=1000000"`
}

type jobResponse struct {
	Kind    string `json:"kind"`
	Spent   int64  `json:"spent"`
	Balance int64  `json:"balance"`
}

var jobKind = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

func (s *Server) logger(r *http.Request, mod string) *slog.Logger {
	logger := s.log.With(
		sl.Module(mod),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
	if user := cont.GetUser(r.Context()); user != nil {
		logger = logger.With(sl.User(user.ID))
	}
	return logger
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.account")

	var req account.RegisterRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	user, err := s.svc.Accounts.Register(r.Context(), req, utils.ClientIP(r, s.opts.TrustedProxies))
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Ok(map[string]interface{}{
		"user_id":   user.ID,
		"username":  user.Username,
		"api_token": user.APIToken,
	}))
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.ledger")
	user := cont.GetUser(r.Context())

	balance, err := s.svc.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		fail(w, r, logger, apperr.Unavailable(err))
		return
	}
	resp := balanceResponse{UserID: user.ID, Balance: balance}
	if r.URL.Query().Get("history") != "" {
		resp.History, err = s.svc.Ledger.History(r.Context(), user.ID, 50)
		if err != nil {
			fail(w, r, logger, apperr.Unavailable(err))
			return
		}
	}
	render.JSON(w, r, response.Ok(resp))
}

func (s *Server) checkin(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.ledger")
	user := cont.GetUser(r.Context())

	awarded, err := s.svc.Ledger.AwardDaily(r.Context(), user.ID)
	if err != nil {
		// the award is best effort; the balance is still worth returning
		logger.Warn("daily award failed", sl.Err(err))
	}
	balance, err := s.svc.Ledger.Balance(r.Context(), user.ID)
	if err != nil {
		fail(w, r, logger, apperr.Unavailable(err))
		return
	}
	render.JSON(w, r, response.Ok(checkinResponse{Awarded: awarded, Balance: balance}))
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.redeem")
	user := cont.GetUser(r.Context())

	var req redeemRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	ent, err := s.svc.Redemption.Redeem(r.Context(), req.Code, user.ID, utils.ClientIP(r, s.opts.TrustedProxies))
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.JSON(w, r, response.Ok(ent))
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.order")
	user := cont.GetUser(r.Context())

	var req settlement.CreateOrderRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	order, err := s.svc.Settlement.CreateOrder(r.Context(), user.ID, req)
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Ok(order))
}

func (s *Server) pollOrder(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.order")
	user := cont.GetUser(r.Context())

	result, err := s.svc.Settlement.Poll(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.JSON(w, r, response.Ok(result))
}

// runJob charges the job's points. The admission middleware holds the slot
// until it returns.
func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.job")
	user := cont.GetUser(r.Context())

	kind := chi.URLParam(r, "kind")
	if !jobKind.MatchString(kind) {
		fail(w, r, logger, apperr.Invalid("unknown job kind %q", kind))
		return
	}
	var req jobRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}

	balance, err := s.svc.Ledger.Spend(r.Context(), user.ID, req.Points, "job:"+kind)
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	logger.Info("job charged", slog.String("kind", kind), slog.Int64("points", req.Points))

	render.JSON(w, r, response.Ok(jobResponse{Kind: kind, Spent: req.Points, Balance: balance}))
}
