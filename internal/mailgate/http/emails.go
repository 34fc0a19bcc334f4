package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/relaypost/mailgate/internal/mailgate/mail"
	"github.com/relaypost/mailgate/internal/mailgate/service"
	"github.com/relaypost/mailgate/pkg/httpx"
	"github.com/relaypost/mailgate/pkg/slogx"
)

// EmailsHandler handles the mail endpoints.
type EmailsHandler struct {
	EmailService *service.EmailService
}

type sendEmailRequest struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HTMLBody string   `json:"html_body,omitempty"`
}

type batchReadStateRequest struct {
	MessageIDs []string `json:"message_ids"`
	Read       bool     `json:"read"`
}

// HandleSend handles POST /v1/emails.
func (h *EmailsHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	grant, ok := GrantFromContext(ctx)
	if !ok {
		writeServerError(w, "Missing authorization grant")
		return
	}

	var req sendEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}

	err := h.EmailService.Send(ctx, grant.Key, grant.Account, mail.Message{
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  req.Subject,
		TextBody: req.TextBody,
		HTMLBody: req.HTMLBody,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			writeInvalidRequest(w, err)
		case errors.Is(err, mail.ErrTransport):
			httpx.WriteJSON(w, http.StatusBadGateway, httpx.ErrorResponse{
				Error:            "upstream_error",
				ErrorDescription: "Mail provider rejected the message",
			})
		default:
			slogx.FromContext(ctx).Error("send failed", "error", err)
			writeServerError(w, "Failed to send email")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleListUnread handles GET /v1/emails/unread. The filter defaults
// to today's messages; scope=all or scope=date_range with start/end
// widen it. mark_read=true flags the returned messages as read.
func (h *EmailsHandler) HandleListUnread(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter, err := service.ParseListFilter(q.Get("scope"), q.Get("start"), q.Get("end"))
	if err != nil {
		writeInvalidRequest(w, err)
		return
	}

	msgs, err := h.EmailService.ListUnread(ctx, filter)
	if err != nil {
		if errors.Is(err, mail.ErrUnsupported) {
			httpx.WriteJSON(w, http.StatusNotImplemented, httpx.ErrorResponse{
				Error:            "unsupported",
				ErrorDescription: "The configured mail provider cannot read mailboxes",
			})
			return
		}
		slogx.FromContext(ctx).Error("list unread failed", "error", err)
		writeServerError(w, "Failed to list unread emails")
		return
	}

	if markRead, _ := strconv.ParseBool(q.Get("mark_read")); markRead && len(msgs) > 0 {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		for _, res := range h.EmailService.SetReadStateBatch(ctx, ids, true) {
			if !res.OK {
				slogx.FromContext(ctx).Warn("mark read failed", "message_id", res.ID, "error", res.Error)
			}
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// HandleMarkRead handles POST /v1/emails/{message_id}/read.
func (h *EmailsHandler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	h.setReadState(w, r, true)
}

// HandleMarkUnread handles POST /v1/emails/{message_id}/unread.
func (h *EmailsHandler) HandleMarkUnread(w http.ResponseWriter, r *http.Request) {
	h.setReadState(w, r, false)
}

func (h *EmailsHandler) setReadState(w http.ResponseWriter, r *http.Request, read bool) {
	ctx := r.Context()
	messageID := r.PathValue("message_id")

	if err := h.EmailService.SetReadState(ctx, messageID, read); err != nil {
		switch {
		case errors.Is(err, service.ErrMessageNotFound):
			writeNotFound(w, "No such message")
		case errors.Is(err, mail.ErrUnsupported):
			httpx.WriteJSON(w, http.StatusNotImplemented, httpx.ErrorResponse{
				Error:            "unsupported",
				ErrorDescription: "The configured mail provider cannot read mailboxes",
			})
		default:
			slogx.FromContext(ctx).Error("set read state failed", "error", err, "message_id", messageID)
			writeServerError(w, "Failed to update message")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"id":   messageID,
		"read": read,
	})
}

// HandleBatchReadState handles POST /v1/emails/read-state.
func (h *EmailsHandler) HandleBatchReadState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req batchReadStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidJSON(w)
		return
	}
	if len(req.MessageIDs) == 0 {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "message_ids must not be empty",
		})
		return
	}

	results := h.EmailService.SetReadStateBatch(ctx, req.MessageIDs, req.Read)
	succeeded := 0
	for _, res := range results {
		if res.OK {
			succeeded++
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}
