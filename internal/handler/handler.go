// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/middleware"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/payment"
	"github.com/mmeshcher/orderflow/internal/service"
)

// maxBodySize ограничивает размер тела запроса, включая вебхуки.
const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Checkout(ctx context.Context, scope model.Scope, req service.CheckoutRequest) (*service.CheckoutResult, error)
	GetOrder(ctx context.Context, scope model.Scope, orderID uuid.UUID) (*model.Order, error)
	Accept(ctx context.Context, scope model.Scope, orderID uuid.UUID, prepMinutes int, notes *string) (*service.TransitionResult, error)
	Reject(ctx context.Context, scope model.Scope, orderID uuid.UUID, reason string, notes *string, rejectedBy *uuid.UUID) (*service.TransitionResult, error)
	Cancel(ctx context.Context, scope model.Scope, orderID uuid.UUID, reason string) (*service.TransitionResult, error)
	ChangeStatus(ctx context.Context, scope model.Scope, orderID uuid.UUID, to model.OrderStatus, notes *string) (*service.TransitionResult, error)
	AddItems(ctx context.Context, scope model.Scope, orderID uuid.UUID, items []service.LineInput) (*model.Order, error)
	Delete(ctx context.Context, scope model.Scope, orderID uuid.UUID) error

	CreatePixCharge(ctx context.Context, scope model.Scope, orderID uuid.UUID, amount int64) (*service.PixCharge, error)
	AdvanceOrderForPayment(ctx context.Context, scope model.Scope, paymentID uuid.UUID) (*service.AdvanceResult, error)
	UpsertGatewayConfig(ctx context.Context, scope model.Scope, in service.GatewayConfigInput) (*model.GatewayConfig, error)
	ReconcileWebhook(ctx context.Context, tenantID uuid.UUID, providerName string, req payment.WebhookRequest) (*service.ReconcileResult, error)

	GetLoyaltyBalance(ctx context.Context, scope model.Scope, customerID uuid.UUID) (*model.CustomerLoyaltyBalance, error)
}

// Pinger проверяет доступность зависимостей для /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options задаёт поведение обработчиков.
type Options struct {
	AutoConfirmPaidOrders bool
	Health                Pinger
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	opts           Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts Options) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		opts:           opts,
	}
}

// Health отвечает 200, если зависимости доступны.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.opts.Health != nil {
		if err := h.opts.Health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func statusFor(err error) int {
	switch apperr.Kind(err) {
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict, apperr.ErrInvalidState:
		return http.StatusConflict
	case apperr.ErrExternalProvider:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError отвечает статусом, соответствующим классу ошибки.
// Внутренние ошибки логируются, а клиент получает только текст статуса.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error(op+" error", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, http.StatusText(status), status)
		return
	case http.StatusBadGateway:
		h.logger.Warn(op+" provider error", zap.Error(err), zap.String("path", r.URL.Path))
	}
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response error", zap.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func scopeFrom(w http.ResponseWriter, r *http.Request) (model.Scope, bool) {
	scope, ok := middleware.ScopeFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return scope, ok
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid %s", name)
	}
	return id, nil
}

// requestTarget извлекает область доступа и идентификатор из пути.
func (h *Handler) requestTarget(w http.ResponseWriter, r *http.Request) (model.Scope, uuid.UUID, bool) {
	scope, ok := scopeFrom(w, r)
	if !ok {
		return model.Scope{}, uuid.Nil, false
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.writeError(w, r, "parse id", err)
		return model.Scope{}, uuid.Nil, false
	}
	return scope, id, true
}
