package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// VersionReason records why a slide snapshot was taken.
type VersionReason string

const (
	ReasonAIGenerated    VersionReason = "ai_generated"
	ReasonAIRegenerated  VersionReason = "ai_regenerated"
	ReasonUserEdit       VersionReason = "user_edit"
	ReasonTemplateChange VersionReason = "template_change"
	ReasonReorder        VersionReason = "reorder"
	ReasonInsert         VersionReason = "insert"
	ReasonDelete         VersionReason = "delete"
	ReasonCollaboration  VersionReason = "collaboration"
	ReasonRollback       VersionReason = "rollback"
)

func (r VersionReason) Valid() bool {
	switch r {
	case ReasonAIGenerated, ReasonAIRegenerated, ReasonUserEdit, ReasonTemplateChange,
		ReasonReorder, ReasonInsert, ReasonDelete, ReasonCollaboration, ReasonRollback:
		return true
	}
	return false
}

// SlideSnapshot is the full content state captured by a version. It is what
// rollback restores; version counters themselves only ever advance.
type SlideSnapshot struct {
	Title            string  `json:"title"`
	ContentOutline   string  `json:"content_outline"`
	HTMLContent      *string `json:"html_content"`
	PresenterNotes   string  `json:"presenter_notes"`
	TemplateFilename string  `json:"template_filename"`
	Order            int     `json:"order"`
}

// SlideVersion rows are immutable history. VersionNo is sequential per slide
// starting at 1 and equals the slide's current_version at creation time.
type SlideVersion struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SlideID           uuid.UUID      `gorm:"type:uuid;not null;index:idx_slide_version_no,unique" json:"slide_id"`
	DeckID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"deck_id"`
	VersionNo         int            `gorm:"column:version_no;not null;index:idx_slide_version_no,unique" json:"version_no"`
	Reason            VersionReason  `gorm:"column:reason;type:varchar(50);not null;index" json:"reason"`
	Snapshot          datatypes.JSON `gorm:"column:snapshot;type:jsonb;not null" json:"snapshot"`
	CreatedBy         *uuid.UUID     `gorm:"type:uuid;column:created_by;index" json:"created_by,omitempty"`
	ChangeDescription string         `gorm:"column:change_description" json:"change_description,omitempty"`
	ParentVersion     *int           `gorm:"column:parent_version" json:"parent_version,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (SlideVersion) TableName() string { return "slide_version" }
