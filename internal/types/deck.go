package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxSlidesPerDeck caps planning output and user insertions alike.
const MaxSlidesPerDeck = 50

// DeckStatus is a closed set. Legal transitions live in deckTransitions;
// anything else is rejected at the state-machine boundary.
type DeckStatus string

const (
	DeckStatusPending    DeckStatus = "pending"
	DeckStatusPlanning   DeckStatus = "planning"
	DeckStatusGenerating DeckStatus = "generating"
	DeckStatusEditing    DeckStatus = "editing"
	DeckStatusCompleted  DeckStatus = "completed"
	DeckStatusFailed     DeckStatus = "failed"
	DeckStatusCancelled  DeckStatus = "cancelled"
)

// Editing is reachable from every pre-terminal state: a user edit while the
// pipeline runs takes the deck over, and a completed deck re-opens when a
// user touches a slide. Failed and cancelled decks never leave their state.
var deckTransitions = map[DeckStatus][]DeckStatus{
	DeckStatusPending:    {DeckStatusPlanning, DeckStatusEditing, DeckStatusFailed, DeckStatusCancelled},
	DeckStatusPlanning:   {DeckStatusGenerating, DeckStatusEditing, DeckStatusFailed, DeckStatusCancelled},
	DeckStatusGenerating: {DeckStatusCompleted, DeckStatusEditing, DeckStatusFailed, DeckStatusCancelled},
	DeckStatusEditing:    {DeckStatusCompleted, DeckStatusFailed},
	DeckStatusCompleted:  {DeckStatusEditing},
	DeckStatusFailed:     {},
	DeckStatusCancelled:  {},
}

func (s DeckStatus) Valid() bool {
	_, ok := deckTransitions[s]
	return ok
}

func (s DeckStatus) Terminal() bool {
	switch s {
	case DeckStatusCompleted, DeckStatusFailed, DeckStatusCancelled:
		return true
	}
	return false
}

func (s DeckStatus) CanTransitionTo(next DeckStatus) bool {
	for _, allowed := range deckTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Deck is the current-state projection; the event log is the authoritative
// history. Rows are never physically deleted while events reference them.
type Deck struct {
	ID               uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User             *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Prompt           string         `gorm:"column:prompt;not null" json:"prompt"`
	Status           DeckStatus     `gorm:"column:status;type:varchar(20);not null;index;default:pending" json:"status"`
	StylePreferences datatypes.JSON `gorm:"column:style_preferences;type:jsonb" json:"style_preferences,omitempty"`
	TemplateFamily   *string        `gorm:"column:template_family;type:varchar(50)" json:"template_family,omitempty"`
	SlideCount       int            `gorm:"column:slide_count;not null;default:0" json:"slide_count"`
	CreatedAt        time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt      *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Deck) TableName() string { return "deck" }
