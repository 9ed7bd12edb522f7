package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/stridecampus/internal/dispatch"
	"github.com/stridecampus/internal/model"
)

// NotifyHandler is the internal dispatch surface of the push service. Other
// services call it; it is never exposed to end users.
type NotifyHandler struct {
	dispatcher *dispatch.Dispatcher
}

func NewNotifyHandler(dispatcher *dispatch.Dispatcher) *NotifyHandler {
	return &NotifyHandler{dispatcher: dispatcher}
}

type notifyPayload struct {
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Kind     model.NotificationKind `json:"kind"`
	SenderID string                 `json:"sender_id"`
	Data     map[string]string      `json:"data"`
}

func (p notifyPayload) toPayload() dispatch.Payload {
	return dispatch.Payload{
		Title:    p.Title,
		Body:     p.Body,
		Kind:     p.Kind,
		SenderID: p.SenderID,
		Data:     p.Data,
	}
}

type notifyRequest struct {
	RecipientID string `json:"recipient_id"`
	notifyPayload
}

type notifyBatchRequest struct {
	RecipientIDs []string `json:"recipient_ids"`
	notifyPayload
}

type notifyCampusRequest struct {
	Domain string `json:"domain"`
	notifyPayload
}

// writeDispatchError maps dispatcher errors: a validation failure lists
// every violation in one 400; total delivery failure is a 502 so the caller
// retries against another instance.
func writeDispatchError(w http.ResponseWriter, err error) {
	var ve *dispatch.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": ve.Violations})
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// Send delivers one notification to one recipient across all channels.
func (h *NotifyHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "recipient_id required")
		return
	}
	res, err := h.dispatcher.Send(r.Context(), req.RecipientID, req.toPayload())
	if err != nil && res == nil {
		writeDispatchError(w, err)
		return
	}
	if err != nil {
		// Partial result exists even when every channel failed.
		writeJSON(w, http.StatusBadGateway, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SendBatch delivers to a recipient list; per-recipient outcomes come back
// in input order.
func (h *NotifyHandler) SendBatch(w http.ResponseWriter, r *http.Request) {
	var req notifyBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(req.RecipientIDs) == 0 {
		writeError(w, http.StatusBadRequest, "recipient_ids required")
		return
	}
	results, err := h.dispatcher.SendBatch(r.Context(), req.RecipientIDs, req.toPayload())
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// SendCampus resolves recipients by institution email domain.
func (h *NotifyHandler) SendCampus(w http.ResponseWriter, r *http.Request) {
	var req notifyCampusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Domain == "" {
		writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	results, err := h.dispatcher.SendCampus(r.Context(), req.Domain, req.toPayload())
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
