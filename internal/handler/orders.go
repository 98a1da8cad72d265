package handler

import (
	"net/http"
	"strings"

	"github.com/mmeshcher/orderflow/internal/model"
	"github.com/mmeshcher/orderflow/internal/service"
)

// Checkout оформляет новый заказ.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	scope, ok := scopeFrom(w, r)
	if !ok {
		return
	}

	var body checkoutRequest
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}
	req, err := body.toService()
	if err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}

	res, err := h.service.Checkout(r.Context(), scope, req)
	if err != nil {
		h.writeError(w, r, "checkout", err)
		return
	}

	points := res.PointsEarned
	h.writeJSON(w, http.StatusCreated, orderEnvelope{
		Order:        newOrderResponse(res.Order),
		PointsEarned: &points,
		Warnings:     warnings(res.SideEffects),
	})
}

// GetOrder возвращает заказ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), scope, id)
	if err != nil {
		h.writeError(w, r, "get order", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handler) writeTransition(w http.ResponseWriter, r *http.Request, op string, res *service.TransitionResult, err error) {
	if err != nil {
		h.writeError(w, r, op, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderEnvelope{
		Order:    newOrderResponse(res.Order),
		Warnings: warnings(res.SideEffects),
	})
}

// Accept подтверждает заказ.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req acceptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "accept order", err)
		return
	}

	res, err := h.service.Accept(r.Context(), scope, id, req.EstimatedPrepMinutes, req.Notes)
	h.writeTransition(w, r, "accept order", res, err)
}

// Reject отклоняет заказ.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "reject order", err)
		return
	}

	res, err := h.service.Reject(r.Context(), scope, id, req.Reason, req.Notes, scope.UserID)
	h.writeTransition(w, r, "reject order", res, err)
}

// Cancel отменяет заказ. Тело запроса необязательно.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, "cancel order", err)
			return
		}
	}

	res, err := h.service.Cancel(r.Context(), scope, id, req.Reason)
	h.writeTransition(w, r, "cancel order", res, err)
}

// ChangeStatus переводит заказ в новый статус.
func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "change order status", err)
		return
	}

	to := model.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	res, err := h.service.ChangeStatus(r.Context(), scope, id, to, req.Notes)
	h.writeTransition(w, r, "change order status", res, err)
}

// AddItems добавляет позиции к заказу.
func (h *Handler) AddItems(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	var req addItemsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, "add order items", err)
		return
	}

	order, err := h.service.AddItems(r.Context(), scope, id, toLineInputs(req.Items))
	if err != nil {
		h.writeError(w, r, "add order items", err)
		return
	}
	h.writeJSON(w, http.StatusOK, newOrderResponse(order))
}

// DeleteOrder удаляет заказ.
func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	scope, id, ok := h.requestTarget(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), scope, id); err != nil {
		h.writeError(w, r, "delete order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
