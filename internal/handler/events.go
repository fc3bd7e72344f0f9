package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/stallorder/internal/model"
)

const keepAliveInterval = 25 * time.Second

// OrderEvents отдаёт поток снимков заказа (text/event-stream).
// Первым событием идёт текущее состояние; поток закрывается после терминального статуса.
func (h *Handler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrFail(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDOrFail(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	current, ch, cancel, err := h.service.Subscribe(r.Context(), actor, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	if current.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case o, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, o); err != nil {
				h.logger.Debug("event stream closed", zap.String("orderID", orderID), zap.Error(err))
				return
			}
			flusher.Flush()
			if o.Status.Terminal() {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, o *model.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: order\ndata: %s\n\n", data)
	return err
}
