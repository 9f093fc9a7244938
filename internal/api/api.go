// Package api exposes the ledger, redemption and settlement operations over
// HTTP.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pixelmint-ledger/internal/account"
	"pixelmint-ledger/internal/admission"
	"pixelmint-ledger/internal/entitlement"
	"pixelmint-ledger/internal/ledger"
	"pixelmint-ledger/internal/notify"
	"pixelmint-ledger/internal/ratelimit"
	"pixelmint-ledger/internal/redemption"
	"pixelmint-ledger/internal/settlement"
	"pixelmint-ledger/lib/sl"
)

type Options struct {
	Addr              string
	AdmissionLimit    int
	GatewayKey        string
	GatewayAllowedIPs []string
	TrustedProxies    []string
	RequestTimeout    time.Duration
}

// Services are the engines behind the handlers.
type Services struct {
	Accounts   *account.Service
	Ledger     *ledger.Store
	Redemption *redemption.Manager
	Settlement *settlement.Engine
	Granter    *entitlement.Granter
	Admission  *admission.Controller
	Limiter    *ratelimit.Limiter
	Notifier   notify.Notifier
}

type Server struct {
	opts       Options
	svc        Services
	httpServer *http.Server
	log        *slog.Logger
}

func New(opts Options, svc Services, log *slog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	s := &Server{
		opts: opts,
		svc:  svc,
		log:  log.With(sl.Module("api.server")),
	}
	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.Routes(),
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	log := s.log

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(s.opts.RequestTimeout))

	router.NotFound(notFound)
	router.MethodNotAllowed(notAllowed)

	router.Route("/v1", func(v1 chi.Router) {
		v1.Use(render.SetContentType(render.ContentTypeJSON))

		v1.With(ratelimit.Middleware(s.svc.Limiter, s.opts.TrustedProxies, log)).Post("/accounts", s.register)

		v1.Group(func(authed chi.Router) {
			authed.Use(authenticate(log, s.svc.Accounts, s.opts.TrustedProxies))
			authed.Get("/balance", s.balance)
			authed.Post("/checkin", s.checkin)
			authed.Post("/redeem", s.redeem)
			authed.Post("/orders", s.createOrder)
			authed.Get("/orders/{id}", s.pollOrder)
			authed.Route("/jobs", func(jobs chi.Router) {
				jobs.Use(admission.Middleware(s.svc.Admission, s.opts.AdmissionLimit, log))
				jobs.Post("/{kind}", s.runJob)
			})
		})
	})

	router.Route("/admin", func(admin chi.Router) {
		admin.Use(render.SetContentType(render.ContentTypeJSON))
		admin.Use(authenticate(log, s.svc.Accounts, s.opts.TrustedProxies))
		admin.Use(requireAdmin)
		admin.Post("/codes", s.generateCodes)
		admin.Post("/compensate", s.compensate)
		admin.Post("/sweep", s.sweep)
		admin.Post("/reconcile", s.reconcile)
	})

	router.Post("/webhook/payment", s.paymentWebhook)

	return router
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.log.Info("starting api server", slog.String("address", s.opts.Addr))
	err = s.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
