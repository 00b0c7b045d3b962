package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/slidesmith/slidesmith-backend/internal/middleware"
	"github.com/slidesmith/slidesmith-backend/internal/services"
)

type SlideHandler struct {
	slides   services.SlideService
	versions services.VersionService
}

func NewSlideHandler(slides services.SlideService, versions services.VersionService) *SlideHandler {
	return &SlideHandler{slides: slides, versions: versions}
}

func parseDeckSlideIDs(c *gin.Context) (deckID, slideID uuid.UUID, ok bool) {
	var err error
	deckID, err = uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	slideID, err = uuid.Parse(c.Param("slide_id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_slide_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return deckID, slideID, true
}

// GET /api/decks/:id/slides
func (h *SlideHandler) ListSlides(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	slides, err := h.slides.ListByDeck(c.Request.Context(), deckID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"slides": slides})
}

type editSlideRequest struct {
	Title          *string `json:"title"`
	ContentOutline *string `json:"content_outline"`
	HTMLContent    *string `json:"html_content"`
	PresenterNotes *string `json:"presenter_notes"`
	BaseVersion    int     `json:"base_version"`
}

// PATCH /api/decks/:id/slides/:slide_id
func (h *SlideHandler) EditSlide(c *gin.Context) {
	deckID, slideID, ok := parseDeckSlideIDs(c)
	if !ok {
		return
	}
	var req editSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	slide, err := h.slides.Edit(c.Request.Context(), deckID, slideID, middleware.RequestUserID(c), services.EditInput{
		Title:          req.Title,
		ContentOutline: req.ContentOutline,
		HTMLContent:    req.HTMLContent,
		PresenterNotes: req.PresenterNotes,
		BaseVersion:    req.BaseVersion,
	})
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"slide": slide})
}

type insertSlideRequest struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
}

// POST /api/decks/:id/slides
func (h *SlideHandler) InsertSlide(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	var req insertSlideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	slide, err := h.slides.Insert(c.Request.Context(), deckID, middleware.RequestUserID(c), req.Position, req.Title)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"slide": slide})
}

// DELETE /api/decks/:id/slides/:slide_id
func (h *SlideHandler) DeleteSlide(c *gin.Context) {
	deckID, slideID, ok := parseDeckSlideIDs(c)
	if !ok {
		return
	}
	if err := h.slides.Delete(c.Request.Context(), deckID, slideID, middleware.RequestUserID(c)); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": slideID})
}

type reorderRequest struct {
	SlideIDs []uuid.UUID `json:"slide_ids"`
}

// PUT /api/decks/:id/slides/order
func (h *SlideHandler) ReorderSlides(c *gin.Context) {
	deckID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_deck_id", err)
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	slides, err := h.slides.Reorder(c.Request.Context(), deckID, middleware.RequestUserID(c), req.SlideIDs)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"slides": slides})
}

type changeTemplateRequest struct {
	TemplateFilename string `json:"template_filename"`
}

// PUT /api/decks/:id/slides/:slide_id/template
func (h *SlideHandler) ChangeTemplate(c *gin.Context) {
	deckID, slideID, ok := parseDeckSlideIDs(c)
	if !ok {
		return
	}
	var req changeTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	slide, err := h.slides.ChangeTemplate(c.Request.Context(), deckID, slideID, middleware.RequestUserID(c), req.TemplateFilename)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"slide": slide})
}

// GET /api/decks/:id/slides/:slide_id/versions
func (h *SlideHandler) SlideHistory(c *gin.Context) {
	_, slideID, ok := parseDeckSlideIDs(c)
	if !ok {
		return
	}
	history, err := h.versions.History(c.Request.Context(), slideID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"versions": history})
}

type rollbackRequest struct {
	Version int `json:"version"`
}

// POST /api/decks/:id/slides/:slide_id/rollback
func (h *SlideHandler) RollbackSlide(c *gin.Context) {
	deckID, slideID, ok := parseDeckSlideIDs(c)
	if !ok {
		return
	}
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	slide, err := h.versions.Rollback(c.Request.Context(), deckID, slideID, req.Version, middleware.RequestUserID(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"slide": slide})
}
