package models

import "time"

// Comment is a reader reply to a post. ParentID links replies into a tree.
type Comment struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	PostID      string    `gorm:"type:varchar(36);index;not null" json:"post_id"`
	ParentID    *string   `gorm:"type:varchar(36);index" json:"parent_id,omitempty"`
	AuthorName  string    `gorm:"size:128;not null" json:"author_name"`
	AuthorEmail string    `gorm:"size:255;not null" json:"author_email"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
}

// CommentNode is a comment with its direct replies, used by the tree response.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}

// CommentInput is the write shape for creating a comment.
type CommentInput struct {
	PostID      string  `json:"post_id" binding:"required"`
	ParentID    *string `json:"parent_id"`
	AuthorName  string  `json:"author_name" binding:"required"`
	AuthorEmail string  `json:"author_email" binding:"required"`
	Content     string  `json:"content" binding:"required"`
}
