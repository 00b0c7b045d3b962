package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/middleware"
	"github.com/slidesmith/slidesmith-backend/internal/services"
	"github.com/slidesmith/slidesmith-backend/internal/sse"
)

// SSEHandler attaches a client to the live stream. The client subscribes
// before the replay query runs, so an event landing in the gap is delivered
// by the live path and suppressed from double-delivery by version.
type SSEHandler struct {
	hub    *sse.Hub
	events services.EventService
}

func NewSSEHandler(hub *sse.Hub, events services.EventService) *SSEHandler {
	return &SSEHandler{hub: hub, events: events}
}

// replayPageSize bounds one replay query; the handler pages until the log is
// drained so a long-disconnected client misses nothing.
const replayPageSize = 500

// GET /sse/stream?deck_id=<id>&last_version=<n>
func (h *SSEHandler) Stream(c *gin.Context) {
	userID := middleware.RequestUserID(c)

	client := h.hub.NewClient(userID)
	defer h.hub.CloseClient(client)
	h.hub.AddChannel(client, sse.UserChannel(userID))

	var replay []sse.Message
	if rawDeck := c.Query("deck_id"); rawDeck != "" {
		deckID, err := uuid.Parse(rawDeck)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
			return
		}
		h.hub.AddChannel(client, sse.DeckChannel(deckID))

		cursor, _ := strconv.ParseInt(c.Query("last_version"), 10, 64)
		for {
			missed, err := h.events.ReplaySince(c.Request.Context(), deckID, cursor, replayPageSize)
			if err != nil {
				RespondAppError(c, err)
				return
			}
			for _, ev := range missed {
				replay = append(replay, sse.Message{
					Channel:   sse.DeckChannel(deckID),
					Type:      string(ev.Type),
					DeckID:    ev.DeckID,
					Data:      json.RawMessage(ev.Data),
					Version:   ev.Version,
					Timestamp: ev.CreatedAt,
				})
			}
			if len(missed) < replayPageSize {
				break
			}
			cursor = missed[len(missed)-1].Version
		}
	}

	h.hub.ServeHTTP(c.Writer, c.Request, client, replay)
}
