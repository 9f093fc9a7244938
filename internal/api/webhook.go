package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/shopspring/decimal"

	"pixelmint-ledger/internal/apperr"
	"pixelmint-ledger/internal/payment"
	"pixelmint-ledger/internal/utils"
	"pixelmint-ledger/lib/sl"
)

// paymentWebhook settles orders on the gateway's asynchronous callback. The
// gateway retries until it reads a plain "success", so only transient
// failures answer "fail"; terminal ones are acknowledged and alerted.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ip := utils.ClientIP(r, s.opts.TrustedProxies)
	logger := s.logger(r, "http.handlers.webhook").With(slog.String("ip", ip))

	if len(s.opts.GatewayAllowedIPs) > 0 && !utils.IsAllowedIP(ip, s.opts.GatewayAllowedIPs) {
		logger.Warn("webhook from unexpected address")
		reply(w, r, http.StatusForbidden, "fail")
		return
	}

	n, err := payment.ParseNotification(r, s.opts.GatewayKey)
	if err != nil {
		logger.Warn("rejected notification", sl.Err(err))
		reply(w, r, http.StatusBadRequest, "fail")
		return
	}
	logger = logger.With(sl.Order(n.OrderID), slog.String("trade_status", n.TradeStatus))

	if n.TradeStatus != payment.TradeSuccess {
		logger.Info("notification ignored")
		reply(w, r, http.StatusOK, "success")
		return
	}

	var amount *decimal.Decimal
	if n.TotalAmount != "" {
		parsed, err := decimal.NewFromString(n.TotalAmount)
		if err != nil {
			logger.Warn("bad amount in notification", slog.String("amount", n.TotalAmount))
			reply(w, r, http.StatusBadRequest, "fail")
			return
		}
		amount = &parsed
	}

	result, err := s.svc.Settlement.SettleOrder(r.Context(), n.OrderID, n.TradeNo, amount)
	if err != nil {
		logger.Error("settle from webhook", sl.Err(err))
		if !apperr.IsTerminal(err) {
			reply(w, r, apperr.HTTPStatus(err), "fail")
			return
		}
		// a redelivery can't change the outcome, so stop the gateway retrying
		if s.svc.Notifier != nil {
			s.svc.Notifier.Alert(r.Context(), fmt.Sprintf("payment notification for order %s (trade %s, amount %s) not settled: %v",
				n.OrderID, n.TradeNo, n.TotalAmount, err))
		}
		reply(w, r, http.StatusOK, "success")
		return
	}
	logger.Info("webhook settled", slog.String("status", result.Status), slog.Bool("entitled", result.Entitled))
	reply(w, r, http.StatusOK, "success")
}

func reply(w http.ResponseWriter, r *http.Request, status int, body string) {
	render.Status(r, status)
	render.PlainText(w, r, body)
}
