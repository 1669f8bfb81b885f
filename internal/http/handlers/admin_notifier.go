package handlers

import (
	"context"
	"net/http"

	"github.com/wolfman30/proposal-wizard/internal/http/middleware"
	"github.com/wolfman30/proposal-wizard/internal/notify"
	"github.com/wolfman30/proposal-wizard/internal/wizard"
	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

// BotInspector reports the identity of the configured bot.
type BotInspector interface {
	Identity(ctx context.Context) (notify.BotIdentity, error)
}

// AdminNotifierHandler lets operators check the notification channel.
type AdminNotifierHandler struct {
	notifier  wizard.Notifier
	inspector BotInspector
	logger    *logging.Logger
}

// NewAdminNotifierHandler creates the handler. inspector may be nil when the
// notifier is not Telegram backed.
func NewAdminNotifierHandler(notifier wizard.Notifier, inspector BotInspector, logger *logging.Logger) *AdminNotifierHandler {
	if notifier == nil {
		panic("handlers: notifier cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminNotifierHandler{notifier: notifier, inspector: inspector, logger: logger}
}

// GetIdentity returns the bot account behind the configured token.
// GET /admin/notifier
func (h *AdminNotifierHandler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		jsonError(w, CodeNotFound, "notifier has no bot identity", http.StatusNotFound)
		return
	}
	id, err := h.inspector.Identity(r.Context())
	if err != nil {
		h.logger.Warn("bot identity check failed", "error", err)
		jsonError(w, CodeTransportFailed, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// SendTest posts the fixed test message to the notification chat.
// POST /admin/notifier/test
func (h *AdminNotifierHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
		subject = claims.Subject
	}
	if err := h.notifier.Send(r.Context(), wizard.TestMessage); err != nil {
		h.logger.Warn("test notification failed", "admin", subject, "error", err)
		jsonError(w, CodeTransportFailed, err.Error(), http.StatusBadGateway)
		return
	}
	h.logger.Info("test notification sent", "admin", subject)
	writeJSON(w, http.StatusOK, map[string]bool{"sent": true})
}
