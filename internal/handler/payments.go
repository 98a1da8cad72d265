package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/payment"
	"github.com/mmeshcher/orderflow/internal/service"
)

// CreatePixCharge создаёт PIX-платёж по заказу.
func (h *Handler) CreatePixCharge(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req pixChargeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "create pix charge", err)
		return
	}
	amount, err := cents("amount", req.Amount)
	if err != nil {
		h.writeError(w, r, "create pix charge", err)
		return
	}

	charge, err := h.service.CreatePixCharge(r.Context(), scope, id, amount)
	if err != nil {
		h.writeError(w, r, "create pix charge", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, pixChargeResponse{
		PaymentID:         charge.PaymentID,
		Provider:          string(charge.Provider),
		ProviderPaymentID: charge.ProviderPaymentID,
		QRCode:            charge.QRCode,
		QRCodeBase64:      charge.QRCodeBase64,
		Amount:            money(charge.Amount),
		ExpiresAt:         formatTime(charge.ExpiresAt),
	})
}

// AdvanceOrder подтверждает заказ по оплаченному платежу.
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}

	res, err := h.service.AdvanceOrderForPayment(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, "advance order", err)
		return
	}
	h.writeJSON(w, http.StatusOK, advanceResponse{
		Advanced: res.Advanced,
		Order:    newOrderResponse(res.Order),
		Warnings: warnings(res.SideEffects),
	})
}

// UpsertGatewayConfig сохраняет настройки платёжного шлюза арендатора.
func (h *Handler) UpsertGatewayConfig(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFrom(w, r)
	if !ok {
		return
	}
	var req gatewayConfigRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "upsert gateway config", err)
		return
	}

	cfg, err := h.service.UpsertGatewayConfig(r.Context(), scope, service.GatewayConfigInput{
		Provider:      req.Provider,
		Method:        model.PaymentMethod(req.Method),
		AccessToken:   req.AccessToken,
		WebhookSecret: req.WebhookSecret,
		Sandbox:       req.Sandbox,
		Active:        req.Active,
	})
	if err != nil {
		h.writeError(w, r, "upsert gateway config", err)
		return
	}
	h.writeJSON(w, http.StatusOK, gatewayConfigResponse{
		ID:        cfg.ID,
		Provider:  string(cfg.Provider),
		Method:    string(cfg.Method),
		Sandbox:   cfg.Sandbox,
		Active:    cfg.Active,
		UpdatedAt: formatTime(cfg.UpdatedAt),
	})
}

// GetLoyaltyBalance возвращает баланс баллов клиента.
func (h *Handler) GetLoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetLoyaltyBalance(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, "get loyalty balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, loyaltyBalanceResponse{
		CustomerID:    balance.CustomerID,
		Balance:       balance.Balance,
		TotalEarned:   balance.TotalEarned,
		TotalRedeemed: balance.TotalRedeemed,
	})
}

// Webhook принимает уведомление платёжного провайдера. Заголовки и параметры запроса
// передаются провайдеру целиком: из них собирается проверяемая подпись.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathUUID(r, "tenantID")
	if err != nil {
		h.writeError(w, r, "webhook", err)
		return
	}
	providerName := chi.URLParam(r, "provider")

	defer r.Body.Close()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, r, "webhook", apperr.Validation("read webhook body: %v", err))
		return
	}

	res, err := h.service.ReconcileWebhook(r.Context(), tenantID, providerName, payment.WebhookRequest{
		Payload: payload,
		Header:  r.Header,
		Query:   r.URL.Query(),
	})
	if err != nil {
		h.writeError(w, r, "webhook", err)
		return
	}

	resp := webhookResponse{Applied: res.Applied, EventID: res.EventID}
	if res.Payment != nil {
		resp.Status = string(res.Payment.Status)
		if res.Applied && res.Payment.Status == model.PaymentStatusPaid && h.opts.AutoConfirmPaidOrders {
			h.autoConfirm(r, tenantID, res.Payment)
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// autoConfirm продвигает заказ после оплаты. Ошибка не влияет на ответ провайдеру.
func (h *Handler) autoConfirm(r *http.Request, tenantID uuid.UUID, p *model.Payment) {
	scope := model.Scope{TenantID: tenantID, Role: model.RoleStaff}
	if _, err := h.service.AdvanceOrderForPayment(r.Context(), scope, p.ID); err != nil {
		h.logger.Warn("auto confirm failed",
			zap.Error(err),
			zap.String("payment_id", p.ID.String()),
			zap.String("order_id", p.OrderID.String()),
		)
	}
}
