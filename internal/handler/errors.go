package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/apperr"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		switch {
		case errors.Is(err, apperr.ErrInsufficientPayment):
			return http.StatusPaymentRequired
		case errors.Is(err, apperr.ErrVelocityLimit):
			return http.StatusTooManyRequests
		case errors.Is(err, apperr.ErrEmptyCart), errors.Is(err, apperr.ErrInvalidLine), errors.Is(err, apperr.ErrInvalidPayment):
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case apperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	case apperr.KindOwnership:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidTransition, apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает клиенту по классу ошибки. Подробности нарушений целостности
// и инфраструктурных сбоев остаются только в журнале.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	kind := apperr.KindOf(err)

	resp := errorResponse{Message: apperr.PublicMessage(err)}
	var e *apperr.Error
	if kind != apperr.KindInfra && kind != apperr.KindIntegrity && errors.As(err, &e) {
		resp.Error = e.Code
		resp.Message = e.Message
	} else if kind == apperr.KindIntegrity {
		resp.Error = "order_rejected"
	} else {
		resp.Error = "internal"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.String("kind", kind.String()), zap.Error(err))
	}

	writeJSON(w, status, resp)
}
