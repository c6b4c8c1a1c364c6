package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/zapflowhq/zapflow/internal/models"
)

// webhookResponse is the envelope the gateway expects back. It differs from
// the management API envelope on purpose: handled outcomes answer
// {success, message}, internal failures {success:false, error}.
type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// webhookHandler receives inbound message events from the gateway and drives
// the flow engine. Two payload shapes are accepted: the vendor-native
// envelope and the legacy flat token/from/body shape.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing webhook", "path", r.URL.Path)

	var env models.WebhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		slog.Warn("Server.webhookHandler: malformed JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, webhookResponse{Success: false, Error: "malformed JSON payload"})
		return
	}

	msg, errMsg := normalizeEnvelope(&env)
	if errMsg != "" {
		slog.Warn("Server.webhookHandler: invalid payload", "reason", errMsg)
		writeJSONResponse(w, http.StatusBadRequest, webhookResponse{Success: false, Error: errMsg})
		return
	}

	conn, err := s.connectionByToken(msg.Token)
	if err != nil {
		slog.Error("Server.webhookHandler: connection lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, webhookResponse{Success: false, Error: "internal error"})
		return
	}
	if conn == nil {
		slog.Warn("Server.webhookHandler: unknown instance token")
		writeJSONResponse(w, http.StatusNotFound, webhookResponse{Success: false, Error: "no connection for token"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()
	summary, err := s.engine.HandleInbound(ctx, conn, msg.From, msg.Text)
	if err != nil {
		slog.Error("Server.webhookHandler: flow execution failed", "connectionID", conn.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, webhookResponse{Success: false, Error: "flow execution failed"})
		return
	}

	slog.Debug("Server.webhookHandler: handled", "connectionID", conn.ID, "outcome", summary)
	writeJSONResponse(w, http.StatusOK, webhookResponse{Success: true, Message: summary})
}

// normalizeEnvelope flattens either webhook payload shape into an
// InboundMessage. A non-empty second return describes the validation failure.
func normalizeEnvelope(env *models.WebhookEnvelope) (models.InboundMessage, string) {
	token := env.Token
	if token == "" {
		token = env.InstanceName
	}
	if token == "" {
		return models.InboundMessage{}, "missing instance token"
	}

	var from, text string
	if env.Event != nil {
		from = env.Event.Info.Sender
		if env.Event.Info.IsGroup {
			from = env.Event.Info.Chat
		}
		from = normalizeSender(from)
		text = env.Event.Message.Conversation
		if text == "" && env.Event.Message.ExtendedText != nil {
			text = env.Event.Message.ExtendedText.Text
		}
	} else {
		from = normalizeSender(env.From)
		text = env.Message
		if text == "" && len(env.Body) > 0 {
			text = legacyBodyText(env.Body)
		}
	}

	if from == "" || text == "" {
		return models.InboundMessage{}, "missing sender or message text"
	}
	return models.InboundMessage{Token: token, From: from, Text: text}, ""
}

// normalizeSender strips the JID server and device suffix from a user
// address, keeping group JIDs intact.
func normalizeSender(sender string) string {
	if sender == "" || strings.HasSuffix(sender, "@g.us") {
		return sender
	}
	user := sender
	if at := strings.Index(user, "@"); at >= 0 {
		user = user[:at]
	}
	if colon := strings.Index(user, ":"); colon >= 0 {
		user = user[:colon]
	}
	return user
}

// legacyBodyText extracts the message text from the legacy body field, which
// arrives either as a bare string or as an object with a message/text key.
func legacyBodyText(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Message string `json:"message"`
		Text    string `json:"text"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil {
		if asObject.Message != "" {
			return asObject.Message
		}
		return asObject.Text
	}
	return ""
}
