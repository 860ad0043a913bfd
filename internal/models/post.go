package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusScheduled PostStatus = "scheduled"
	StatusPublished PostStatus = "published"
	StatusFailed    PostStatus = "failed"
)

// MediaKind is the type of a media attachment.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaAnimation MediaKind = "animation"
)

// SupportsAlbum reports whether this media kind can be part of a media group.
func (k MediaKind) SupportsAlbum() bool {
	return k == MediaPhoto || k == MediaVideo
}

// TextEntity describes one formatting/link/emoji span over the post text.
// Offsets and lengths are kept exactly as the transport delivered them.
type TextEntity struct {
	Type          string `json:"type"`
	Offset        int    `json:"offset"`
	Length        int    `json:"length"`
	URL           string `json:"url,omitempty"`
	UserID        int64  `json:"user_id,omitempty"`
	Language      string `json:"language,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

// EntityList stores text entities as a JSON column.
type EntityList []TextEntity

// Scan implements the sql.Scanner interface
func (e *EntityList) Scan(value interface{}) error {
	if value == nil {
		*e = EntityList{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			*e = EntityList{}
			return nil
		}
		return json.Unmarshal(v, e)
	case string:
		if v == "" {
			*e = EntityList{}
			return nil
		}
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("cannot scan %T into EntityList", value)
	}
}

// Value implements the driver.Valuer interface
func (e EntityList) Value() (driver.Value, error) {
	if len(e) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Post is a channel post in any lifecycle state. A post exclusively owns its
// media and button collections; deleting a post deletes both.
type Post struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	AuthorID       int64  `gorm:"not null;index" json:"author_id"`
	AuthorUsername string `gorm:"size:255" json:"author_username"`

	Text     string     `gorm:"type:text" json:"text"`
	Entities EntityList `gorm:"type:text" json:"entities"`

	Status      PostStatus `gorm:"size:20;default:'draft';not null;index" json:"status"`
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at"`

	PublishedMessageID *int       `json:"published_message_id"`
	PublishedAt        *time.Time `json:"published_at"`

	// SchedulerJobID is set iff status is scheduled and a live timer exists.
	SchedulerJobID string `gorm:"size:255" json:"scheduler_job_id"`

	DisableLinkPreview  bool `gorm:"default:true;not null" json:"disable_link_preview"`
	DisableNotification bool `gorm:"not null" json:"disable_notification"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Media   []Media  `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"media"`
	Buttons []Button `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"buttons"`
}

// Media is one attachment of a post. Position is 0-based and dense; array
// order equals position order.
type Media struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	PostID uint `gorm:"not null;index" json:"post_id"`

	// FileID is the transient delivery handle, FileUniqueID the stable
	// content-identity handle.
	FileID       string    `gorm:"size:255;not null" json:"file_id"`
	FileUniqueID string    `gorm:"size:255;not null" json:"file_unique_id"`
	Kind         MediaKind `gorm:"size:20;not null" json:"kind"`

	// Caption is only used when this is the sole media item of the post.
	Caption  string `gorm:"type:text" json:"caption"`
	Position int    `gorm:"not null;default:0" json:"position"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Button is one inline URL button of a post's keyboard. Buttons sharing a row
// render on one keyboard line in position order; rows render top to bottom.
type Button struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	PostID uint `gorm:"not null;index" json:"post_id"`

	Text string `gorm:"size:255;not null" json:"text"`
	URL  string `gorm:"size:2048;not null" json:"url"`

	Row      int `gorm:"not null;default:0" json:"row"`
	Position int `gorm:"not null;default:0" json:"position"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
