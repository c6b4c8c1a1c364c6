// Package api provides HTTP handlers for ZapFlow management endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/zapflowhq/zapflow/internal/models"
)

// sendRequest is the payload of the manual send endpoint.
type sendRequest struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	Body         string `json:"body"`
	MediaURL     string `json:"media_url,omitempty"`
	Kind         string `json:"kind,omitempty"` // text (default), image, video, audio, document
	Caption      string `json:"caption,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.sendHandler: processing send request", "method", r.Method, "path", r.URL.Path)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.sendHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.To == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyRecipient.Error()))
		return
	}

	conn, err := s.store.GetConnection(req.ConnectionID)
	if err != nil {
		slog.Error("Server.sendHandler: connection lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load connection"))
		return
	}
	if conn == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Connection not found"))
		return
	}

	ctx := r.Context()
	switch models.MessageKind(req.Kind) {
	case models.MessageKindImage:
		err = s.sender.SendImage(ctx, conn, req.To, req.MediaURL, req.Caption)
	case models.MessageKindVideo:
		err = s.sender.SendVideo(ctx, conn, req.To, req.MediaURL, req.Caption)
	case models.MessageKindAudio:
		err = s.sender.SendAudio(ctx, conn, req.To, req.MediaURL)
	case models.MessageKindDocument:
		err = s.sender.SendDocument(ctx, conn, req.To, req.MediaURL, req.Filename)
	default:
		err = s.sender.SendText(ctx, conn, req.To, req.Body)
	}
	if err != nil {
		slog.Error("Server.sendHandler: failed to send message", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to send message"))
		return
	}

	slog.Info("Server.sendHandler: message sent successfully", "connectionID", conn.ID, "to", req.To)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent successfully", nil))
}

// loadConnection resolves the {id} path value, writing the error response
// itself when the connection cannot be served.
func (s *Server) loadConnection(w http.ResponseWriter, r *http.Request) *models.Connection {
	id := r.PathValue("id")
	conn, err := s.store.GetConnection(id)
	if err != nil {
		slog.Error("Server.loadConnection: lookup failed", "connectionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load connection"))
		return nil
	}
	if conn == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Connection not found"))
		return nil
	}
	return conn
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if s.session == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Gateway session client not configured"))
		return false
	}
	return true
}

func (s *Server) connectionConnectHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	conn := s.loadConnection(w, r)
	if conn == nil {
		return
	}
	if err := s.session.Connect(r.Context(), conn, nil); err != nil {
		slog.Error("Server.connectionConnectHandler: connect failed", "connectionID", conn.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to connect session"))
		return
	}
	if err := s.store.UpdateConnectionStatus(conn.ID, models.ConnectionStatusConnecting); err != nil {
		slog.Error("Server.connectionConnectHandler: status update failed", "connectionID", conn.ID, "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session connecting", nil))
}

func (s *Server) connectionDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	conn := s.loadConnection(w, r)
	if conn == nil {
		return
	}
	if err := s.session.Disconnect(r.Context(), conn); err != nil {
		slog.Error("Server.connectionDisconnectHandler: disconnect failed", "connectionID", conn.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to disconnect session"))
		return
	}
	if err := s.store.UpdateConnectionStatus(conn.ID, models.ConnectionStatusDisconnected); err != nil {
		slog.Error("Server.connectionDisconnectHandler: status update failed", "connectionID", conn.ID, "error", err)
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session disconnected", nil))
}

func (s *Server) connectionQRHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	conn := s.loadConnection(w, r)
	if conn == nil {
		return
	}
	code, err := s.session.QRCode(r.Context(), conn)
	if err != nil {
		slog.Error("Server.connectionQRHandler: QR fetch failed", "connectionID", conn.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch QR code"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"qr": code}))
}

func (s *Server) connectionStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	conn := s.loadConnection(w, r)
	if conn == nil {
		return
	}
	status, err := s.session.Status(r.Context(), conn)
	if err != nil {
		slog.Error("Server.connectionStatusHandler: status poll failed", "connectionID", conn.ID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to poll session status"))
		return
	}
	if status != conn.Status {
		if err := s.store.UpdateConnectionStatus(conn.ID, status); err != nil {
			slog.Error("Server.connectionStatusHandler: status update failed", "connectionID", conn.ID, "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": string(status)}))
}

func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	phone := r.URL.Query().Get("phone")
	if connectionID == "" || phone == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("connection_id and phone query parameters are required"))
		return
	}

	conv, err := s.store.GetActiveConversation(connectionID, phone)
	if err != nil {
		slog.Error("Server.conversationsHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	if conv == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id query parameter is required"))
		return
	}
	notifications, err := s.store.ListNotifications(userID)
	if err != nil {
		slog.Error("Server.notificationsHandler: lookup failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load notifications"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(notifications))
}

// campaignRequest is the payload of the campaign enqueue endpoint.
type campaignRequest struct {
	UserID       string             `json:"user_id"`
	ConnectionID string             `json:"connection_id"`
	Name         string             `json:"name"`
	Body         string             `json:"body"`
	MediaKind    models.MessageKind `json:"media_kind,omitempty"`
	MediaPayload string             `json:"media_payload,omitempty"`
	ScheduledFor *time.Time         `json:"scheduled_for,omitempty"`
	Recipients   []struct {
		Phone     string            `json:"phone"`
		Variables map[string]string `json:"variables,omitempty"`
	} `json:"recipients"`
}

func (s *Server) campaignsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if s.dispatcher == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Campaign dispatcher not configured"))
		return
	}

	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.campaignsHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	c := models.Campaign{
		UserID:       req.UserID,
		ConnectionID: req.ConnectionID,
		Name:         req.Name,
		Body:         req.Body,
		MediaKind:    req.MediaKind,
		MediaPayload: req.MediaPayload,
		ScheduledFor: req.ScheduledFor,
	}
	recipients := make([]models.CampaignRecipient, 0, len(req.Recipients))
	for _, rec := range req.Recipients {
		recipients = append(recipients, models.CampaignRecipient{Phone: rec.Phone, Variables: rec.Variables})
	}

	id, err := s.dispatcher.Enqueue(r.Context(), c, recipients)
	if err != nil {
		slog.Warn("Server.campaignsHandler: enqueue rejected", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	slog.Info("Server.campaignsHandler: campaign enqueued", "campaignID", id, "recipients", len(recipients))
	response := models.NewAPIResponseBuilder().
		WithStatus(models.APIStatusQueued).
		WithMessage("Campaign scheduled").
		WithResult(map[string]string{"campaign_id": id}).
		Build()
	writeJSONResponse(w, http.StatusAccepted, response)
}
