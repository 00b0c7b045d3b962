package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/services"
)

// EventsHandler serves the polling view of the event log. SSE clients use the
// same versions to resume; see SSEHandler.
type EventsHandler struct {
	events services.EventService
}

func NewEventsHandler(events services.EventService) *EventsHandler {
	return &EventsHandler{events: events}
}

// GET /api/decks/:id/events?since_version=<version>&limit=<n>
func (h *EventsHandler) ListEvents(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}

	since, _ := strconv.ParseInt(c.DefaultQuery("since_version", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	events, err := h.events.ReplaySince(c.Request.Context(), deckID, since, limit)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	latest := since
	if n := len(events); n > 0 {
		latest = events[n-1].Version
	}
	RespondOK(c, gin.H{
		"events":         events,
		"latest_version": latest,
	})
}
