package api

import (
	"net/http"

	"github.com/go-chi/render"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/redemption"
	"pixelmint-ledger/lib/api/cont"
	"pixelmint-ledger/lib/api/response"
)

func (s *Server) generateCodes(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.admin")

	var req redemption.GenerateRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	req.CreatedBy = cont.GetUser(r.Context()).ID

	codes, err := s.svc.Redemption.Generate(r.Context(), req)
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.Ok(codes))
}

func (s *Server) compensate(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.admin")

	var req entitlement.CompensationRequest
	if err := bind(r, &req); err != nil {
		fail(w, r, logger, err)
		return
	}
	req.AdminID = cont.GetUser(r.Context()).ID

	ent, err := s.svc.Granter.Compensate(r.Context(), req)
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.JSON(w, r, response.Ok(ent))
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.admin")

	removed, err := s.svc.Ledger.SweepExpired(r.Context())
	if err != nil {
		fail(w, r, logger, apperr.Unavailable(err))
		return
	}
	render.JSON(w, r, response.Ok(map[string]int64{"removed": removed}))
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	logger := s.logger(r, "http.handlers.admin")

	report, err := s.svc.Settlement.Reconcile(r.Context())
	if err != nil {
		fail(w, r, logger, err)
		return
	}
	render.JSON(w, r, response.Ok(report))
}
