package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EventType tags the append-only deck history entries.
type EventType string

const (
	EventDeckStarted           EventType = "DeckStarted"
	EventDeckStatusChanged     EventType = "DeckStatusChanged"
	EventTemplatesSelected     EventType = "TemplatesSelected"
	EventSlideAdded            EventType = "SlideAdded"
	EventSlideCompleted        EventType = "SlideCompleted"
	EventSlideGenerationFailed EventType = "SlideGenerationFailed"
	EventSlideUpdated          EventType = "SlideUpdated"
	EventSlideDeleted          EventType = "SlideDeleted"
	EventSlideReordered        EventType = "SlideReordered"
	EventSlideRolledBack       EventType = "SlideRolledBack"
	EventDeckCompleted         EventType = "DeckCompleted"
	EventDeckFailed            EventType = "DeckFailed"
	EventDeckCancelled         EventType = "DeckCancelled"
)

// DeckEvent rows are append-only: never mutated, never deleted. Version is
// assigned per deck, gap-free and strictly increasing from 1, serialized by
// the deck row lock held while appending.
type DeckEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DeckID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_deck_event_version,unique" json:"deck_id"`
	Deck      *Deck          `gorm:"constraint:OnDelete:CASCADE;foreignKey:DeckID;references:ID" json:"deck,omitempty"`
	Type      EventType      `gorm:"column:type;type:varchar(50);not null;index" json:"type"`
	Version   int64          `gorm:"column:version;not null;index:idx_deck_event_version,unique" json:"version"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (DeckEvent) TableName() string { return "deck_event" }
