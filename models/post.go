package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ImageFit controls how the cover image is scaled into its frame.
type ImageFit string

const (
	ImageFitContain ImageFit = "contain"
	ImageFitCover   ImageFit = "cover"
)

// Valid reports whether f is one of the supported fit modes.
func (f ImageFit) Valid() bool {
	return f == ImageFitContain || f == ImageFitCover
}

// CropRect is a crop rectangle in source-image pixel space.
type CropRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Post represents a blog article.
type Post struct {
	ID        string                      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title     string                      `gorm:"size:255;not null" json:"title"`
	Excerpt   string                      `gorm:"type:text" json:"excerpt"`
	Content   string                      `gorm:"type:text" json:"content,omitempty"`
	Image     string                      `gorm:"size:1024" json:"image"`
	ImageFit  ImageFit                    `gorm:"size:16;not null;default:contain" json:"image_fit"`
	CropData  *CropRect                   `gorm:"serializer:json" json:"crop_data,omitempty"`
	Category  string                      `gorm:"size:64;index" json:"category"`
	Tags      datatypes.JSONSlice[string] `json:"tags"`
	IsDraft   bool                        `gorm:"not null;default:false;index" json:"is_draft"`
	IsPinned  bool                        `gorm:"not null;default:false;index" json:"is_pinned"`
	PinnedAt  *time.Time                  `json:"pinned_at"`
	ViewCount int64                       `gorm:"not null;default:0" json:"view_count"`
	Likes     int64                       `gorm:"not null;default:0" json:"likes"`
	CreatedAt time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// TagList returns the tags as a plain string slice.
func (p *Post) TagList() []string {
	return []string(p.Tags)
}

// Summary returns a copy without the content body, the shape used by list indexes.
func (p Post) Summary() Post {
	p.Content = ""
	return p
}

// PostInput is the write shape accepted by create and update. Every field is optional so
// update can distinguish "absent" from "set to zero"; server-controlled fields are not
// represented at all.
type PostInput struct {
	Title    *string         `json:"title"`
	Excerpt  *string         `json:"excerpt"`
	Content  *string         `json:"content"`
	Image    *string         `json:"image"`
	ImageFit *ImageFit       `json:"image_fit" binding:"omitempty,oneof=contain cover"`
	CropData json.RawMessage `json:"crop_data"`
	Category *string         `json:"category"`
	Tags     json.RawMessage `json:"tags"`
	IsDraft  *bool           `json:"is_draft"`
	IsPinned *bool           `json:"is_pinned"`
}

// BlogStats aggregates counts across the whole blog.
type BlogStats struct {
	PostCount    int64 `json:"post_count"`
	CommentCount int64 `json:"comment_count"`
	TotalViews   int64 `json:"total_views"`
	TotalLikes   int64 `json:"total_likes"`
}
