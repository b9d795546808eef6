package webhook

import (
	"net/http"

	"marketplace-be/internal/apperr"
	"marketplace-be/internal/logger"
	"marketplace-be/internal/payment"
	"marketplace-be/internal/transport"
	"marketplace-be/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler accepts payment-confirmed callbacks from the payment provider.
type Handler struct {
	Orders   payment.Confirmer
	Verifier *payment.TokenVerifier
}

func NewHandler(orders payment.Confirmer, verifier *payment.TokenVerifier) *Handler {
	return &Handler{Orders: orders, Verifier: verifier}
}

type ackResponse struct {
	Status string `json:"status"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context()).With(zap.String("layer", "webhook"))

	if err := h.Verifier.Verify(r); err != nil {
		log.Warn("payment webhook rejected", zap.Error(err))
		transport.WriteError(w, r, apperr.ErrUnauthorized)
		return
	}

	var c payment.Confirmation
	if err := transport.DecodeJSON(w, r, &c); err != nil {
		transport.WriteError(w, r, err)
		return
	}
	if c.OrderID == uuid.Nil {
		transport.WriteError(w, r, apperr.Validation("order_id", "is required"))
		return
	}

	log = log.With(
		zap.String("order_id", c.OrderID.String()),
		zap.String("payment_status", c.Status),
	)

	ctx := utils.WithInternalRequest(r.Context())

	switch {
	case c.Settled():
		if _, err := h.Orders.MarkAsPaid(ctx, c.OrderID, c.Reference); err != nil {
			log.Warn("failed to apply payment", zap.Error(err))
			transport.WriteError(w, r, err)
			return
		}
		log.Info("payment applied")
	case c.Failed():
		if _, err := h.Orders.MarkPaymentFailed(ctx, c.OrderID, c.Reference); err != nil {
			log.Warn("failed to record payment failure", zap.Error(err))
			transport.WriteError(w, r, err)
			return
		}
		log.Info("payment failure recorded")
	default:
		log.Info("payment webhook ignored")
		transport.WriteJSON(w, http.StatusOK, ackResponse{Status: "ignored"})
		return
	}

	transport.WriteJSON(w, http.StatusOK, ackResponse{Status: "ok"})
}
