package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/orderflow/internal/apperr"
	"github.com/mmeshcher/orderflow/internal/metrics"
	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/notify"
	"github.com/mmeshcher/orderflow/internal/repository"
)

// deliveryLeadTime добавляется к времени приготовления для заказов с доставкой.
const deliveryLeadTime = 30 * time.Minute

// TransitionResult содержит результат смены статуса заказа.
type TransitionResult struct {
	Order       *model.Order
	SideEffects SideEffects
}

type transitionInput struct {
	to        model.OrderStatus
	notes     *string
	eta       *time.Time
	rejection *model.RejectionRecord
}

// GetOrder возвращает заказ арендатора с позициями, историей и отказом.
func (s *Service) GetOrder(ctx context.Context, scope model.Scope, orderID uuid.UUID) (*model.Order, error) {
	return s.loadOrder(ctx, scope, orderID)
}

// loadOrder читает заказ арендатора. Клиенту доступны только его собственные заказы,
// чужой заказ для него не существует.
func (s *Service) loadOrder(ctx context.Context, scope model.Scope, orderID uuid.UUID) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, scope.TenantID, orderID)
	if err != nil {
		return nil, classify("get order", err)
	}
	if scope.Role == model.RoleCustomer && (scope.UserID == nil || *scope.UserID != order.CustomerID) {
		return nil, apperr.NotFound("order")
	}
	return order, nil
}

// Accept подтверждает ожидающий заказ и рассчитывает ожидаемое время готовности.
func (s *Service) Accept(ctx context.Context, scope model.Scope, orderID uuid.UUID, prepMinutes int, notes *string) (*TransitionResult, error) {
	if prepMinutes < 0 {
		return nil, apperr.Validation("estimated prep minutes must not be negative")
	}
	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPending {
		return nil, apperr.InvalidState("only pending orders can be accepted, order is %s", order.Status)
	}
	return s.confirm(ctx, scope, order, prepMinutes, notes, notify.OrderAccepted)
}

func (s *Service) confirm(ctx context.Context, scope model.Scope, order *model.Order, prepMinutes int, notes *string, events ...notify.EventType) (*TransitionResult, error) {
	eta := s.now().UTC().Add(time.Duration(prepMinutes) * time.Minute)
	if order.Type == model.OrderTypeDelivery {
		eta = eta.Add(deliveryLeadTime)
	}
	return s.transition(ctx, scope, order, transitionInput{
		to:    model.OrderStatusConfirmed,
		notes: notes,
		eta:   &eta,
	}, events...)
}

// Reject отклоняет заказ. У заказа может быть не больше одной записи об отказе.
func (s *Service) Reject(ctx context.Context, scope model.Scope, orderID uuid.UUID, reason string, notes *string, rejectedBy *uuid.UUID) (*TransitionResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required")
	}
	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}
	return s.reject(ctx, scope, order, reason, notes, rejectedBy, notify.OrderRejected)
}

func (s *Service) reject(ctx context.Context, scope model.Scope, order *model.Order, reason string, notes *string, rejectedBy *uuid.UUID, events ...notify.EventType) (*TransitionResult, error) {
	if order.Rejection != nil {
		return nil, apperr.Conflict("order %s is already rejected", order.ID)
	}
	if rejectedBy == nil {
		rejectedBy = scope.UserID
	}
	return s.transition(ctx, scope, order, transitionInput{
		to:    model.OrderStatusRejected,
		notes: &reason,
		rejection: &model.RejectionRecord{
			Reason:     reason,
			Notes:      notes,
			RejectedBy: rejectedBy,
			RejectedAt: s.now().UTC(),
		},
	}, events...)
}

// Cancel отменяет заказ. Клиент может отменить только ожидающий заказ.
func (s *Service) Cancel(ctx context.Context, scope model.Scope, orderID uuid.UUID, reason string) (*TransitionResult, error) {
	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, scope, order, optional(reason), notify.OrderCancelled)
}

func (s *Service) cancel(ctx context.Context, scope model.Scope, order *model.Order, reason *string, events ...notify.EventType) (*TransitionResult, error) {
	if !scope.IsStaff() && order.Status != model.OrderStatusPending {
		return nil, apperr.InvalidState("customers can only cancel pending orders, order is %s", order.Status)
	}
	return s.transition(ctx, scope, order, transitionInput{
		to:    model.OrderStatusCancelled,
		notes: reason,
	}, events...)
}

// ChangeStatus переводит заказ в указанный статус по таблице переходов.
// Отказ и подтверждение выполняются теми же путями, что Reject и Accept.
func (s *Service) ChangeStatus(ctx context.Context, scope model.Scope, orderID uuid.UUID, to model.OrderStatus, notes *string) (*TransitionResult, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown order status %q", to)
	}
	var reason string
	if to == model.OrderStatusRejected {
		if notes != nil {
			reason = strings.TrimSpace(*notes)
		}
		if reason == "" {
			return nil, apperr.Validation("rejection reason is required")
		}
	}

	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}

	switch to {
	case model.OrderStatusRejected:
		return s.reject(ctx, scope, order, reason, nil, nil, notify.OrderStatusChanged, notify.OrderRejected)
	case model.OrderStatusConfirmed:
		return s.confirm(ctx, scope, order, 0, notes, notify.OrderStatusChanged, notify.OrderAccepted)
	case model.OrderStatusCancelled:
		return s.cancel(ctx, scope, order, notes, notify.OrderStatusChanged, notify.OrderCancelled)
	}

	events := []notify.EventType{notify.OrderStatusChanged}
	switch to {
	case model.OrderStatusReady:
		events = append(events, notify.OrderReady)
	case model.OrderStatusDelivered:
		events = append(events, notify.OrderDelivered)
	}
	return s.transition(ctx, scope, order, transitionInput{to: to, notes: notes}, events...)
}

// transition выполняет условную смену статуса и рассылает уведомления.
// Недопустимый переход не меняет заказ и не пишет историю.
func (s *Service) transition(ctx context.Context, scope model.Scope, order *model.Order, in transitionInput, events ...notify.EventType) (*TransitionResult, error) {
	if !order.Status.CanTransition(in.to) {
		return nil, apperr.InvalidState("cannot move order from %s to %s", order.Status, in.to)
	}

	now := s.now().UTC()
	err := s.repo.TransitionOrder(ctx, repository.OrderTransition{
		TenantID: order.TenantID,
		OrderID:  order.ID,
		From:     order.Status,
		Entry: model.StatusHistoryEntry{
			Status:    in.to,
			ChangedAt: now,
			ActorID:   scope.UserID,
			Notes:     in.notes,
		},
		EstimatedDeliveryAt: in.eta,
		Rejection:           in.rejection,
	})
	if err != nil {
		return nil, classify("transition order", err)
	}
	metrics.OrderTransition(string(order.Status), string(in.to))
	s.logger.Info("order status changed",
		zap.String("order_id", order.ID.String()),
		zap.String("tenant_id", order.TenantID.String()),
		zap.String("from", string(order.Status)),
		zap.String("to", string(in.to)),
	)

	updated, err := s.repo.GetOrder(ctx, order.TenantID, order.ID)
	if err != nil {
		return nil, classify("reload order", err)
	}

	res := &TransitionResult{Order: updated}
	evs := make([]notify.Event, 0, len(events))
	for _, t := range events {
		evs = append(evs, notify.NewOrderEvent(t, updated, now))
	}
	res.SideEffects.Notification = s.notify(ctx, evs...)
	return res, nil
}

// AddItems добавляет позиции к незавершённому заказу. Цены берутся из каталога.
func (s *Service) AddItems(ctx context.Context, scope model.Scope, orderID uuid.UUID, items []LineInput) (*model.Order, error) {
	if len(items) == 0 {
		return nil, apperr.Validation("at least one item is required")
	}
	if err := validateLines(items); err != nil {
		return nil, err
	}

	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, apperr.InvalidState("cannot add items to %s order", order.Status)
	}

	lines, err := s.priceLines(ctx, scope.TenantID, items)
	if err != nil {
		return nil, err
	}
	order.Lines = append(order.Lines, lines...)
	order.Recalculate()
	if order.Subtotal > maxOrderAmount {
		return nil, errOrderAmount
	}

	err = s.repo.AppendOrderLines(ctx, repository.LinesAppend{
		TenantID:        order.TenantID,
		OrderID:         order.ID,
		ExpectedVersion: order.Version,
		Lines:           lines,
		Subtotal:        order.Subtotal,
		Total:           order.Total,
		At:              s.now().UTC(),
	})
	if err != nil {
		return nil, classify("append order lines", err)
	}
	return s.loadOrder(ctx, scope, orderID)
}

// Delete мягко удаляет ожидающий или отменённый заказ.
func (s *Service) Delete(ctx context.Context, scope model.Scope, orderID uuid.UUID) error {
	order, err := s.loadOrder(ctx, scope, orderID)
	if err != nil {
		return err
	}
	if order.Status != model.OrderStatusPending && order.Status != model.OrderStatusCancelled {
		return apperr.InvalidState("only pending or cancelled orders can be deleted, order is %s", order.Status)
	}
	if err := s.repo.SoftDeleteOrder(ctx, scope.TenantID, orderID, order.Status); err != nil {
		return classify("delete order", err)
	}
	s.logger.Info("order deleted", zap.String("order_id", orderID.String()), zap.String("tenant_id", scope.TenantID.String()))
	return nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
