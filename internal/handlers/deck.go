package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/middleware"
	"github.com/slidesmith/slidesmith-backend/internal/services"
)

type DeckHandler struct {
	state services.DeckStateService
	jobs  services.JobService
}

func NewDeckHandler(state services.DeckStateService, jobs services.JobService) *DeckHandler {
	return &DeckHandler{state: state, jobs: jobs}
}

type createDeckRequest struct {
	Prompt           string         `json:"prompt"`
	StylePreferences map[string]any `json:"style_preferences"`
}

// POST /api/decks
// Creates the deck and enqueues the planning job. The enqueue is best-effort
// after the deck commit; a lost job is recovered by re-posting generation.
func (h *DeckHandler) CreateDeck(c *gin.Context) {
	userID := middleware.RequestUserID(c)

	var req createDeckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	deck, err := h.state.Start(c.Request.Context(), userID, req.Prompt, req.StylePreferences)
	if err != nil {
		RespondAppError(c, err)
		return
	}

	job, err := h.jobs.EnqueuePlan(c.Request.Context(), userID, deck.ID, nil)
	if err != nil {
		// Deck row exists; report it with the enqueue failure attached.
		c.JSON(http.StatusAccepted, gin.H{"deck": deck, "enqueue_error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"deck": deck, "job": job})
}

// GET /api/decks
func (h *DeckHandler) ListDecks(c *gin.Context) {
	userID := middleware.RequestUserID(c)
	decks, err := h.state.ListByUser(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"decks": decks})
}

// GET /api/decks/:id
func (h *DeckHandler) GetDeck(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	deck, err := h.state.Get(c.Request.Context(), deckID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deck": deck})
}

// POST /api/decks/:id/cancel
func (h *DeckHandler) CancelDeck(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	userID := middleware.RequestUserID(c)
	deck, err := h.state.Cancel(c.Request.Context(), deckID, userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deck": deck})
}
