package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/sse"
)

// AdminHandler exposes operational introspection for the stream layer.
type AdminHandler struct {
	hub *sse.Hub
}

func NewAdminHandler(hub *sse.Hub) *AdminHandler {
	return &AdminHandler{hub: hub}
}

// GET /admin/sse/connections
func (h *AdminHandler) Connections(c *gin.Context) {
	RespondOK(c, gin.H{
		"total":    h.hub.TotalConnections(),
		"channels": h.hub.ConnectionCounts(),
	})
}

type broadcastRequest struct {
	Channel string         `json:"channel"`
	Type    string         `json:"type"`
	DeckID  *uuid.UUID     `json:"deck_id"`
	Data    map[string]any `json:"data"`
}

// POST /admin/sse/broadcast
// Injects a message into a channel. Used for operational announcements and
// smoke-testing fan-out in staging.
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	if req.Channel == "" || req.Type == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body", errMissingField)
		return
	}
	msg := sse.Message{
		Channel: req.Channel,
		Type:    req.Type,
		Data:    req.Data,
	}
	if req.DeckID != nil {
		msg.DeckID = *req.DeckID
	}
	h.hub.Broadcast(msg)
	RespondOK(c, gin.H{"sent": true})
}

var errMissingField = &fieldError{}

type fieldError struct{}

func (e *fieldError) Error() string { return "channel and type are required" }
