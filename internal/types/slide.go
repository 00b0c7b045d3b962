package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Slide order values within a deck form a contiguous 1..N range after any
// insert, delete, or reorder. CurrentVersion matches the highest version_no
// in the slide's version ledger.
type Slide struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DeckID           uuid.UUID `gorm:"type:uuid;not null;index:idx_slide_deck_order" json:"deck_id"`
	Deck             *Deck     `gorm:"constraint:OnDelete:CASCADE;foreignKey:DeckID;references:ID" json:"deck,omitempty"`
	Order            int       `gorm:"column:slide_order;not null;index:idx_slide_deck_order" json:"order"`
	Title            string    `gorm:"column:title;not null" json:"title"`
	ContentOutline   string    `gorm:"column:content_outline;not null" json:"content_outline"`
	HTMLContent      *string   `gorm:"column:html_content" json:"html_content,omitempty"`
	PresenterNotes   string    `gorm:"column:presenter_notes" json:"presenter_notes"`
	TemplateFilename string    `gorm:"column:template_filename;type:varchar(100)" json:"template_filename"`
	CurrentVersion   int       `gorm:"column:current_version;not null;default:0" json:"current_version"`
	CreatedAt        time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt        time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Slide) TableName() string { return "slide" }

// Complete means rendered markup exists and is non-blank.
func (s *Slide) Complete() bool {
	return s != nil && s.HTMLContent != nil && strings.TrimSpace(*s.HTMLContent) != ""
}
