package models

import "time"

// Post represents a blog post created by a user. Thumbnail holds the
// generated filename of the image stored under the uploads directory;
// CreatorID references the authoring user but is not enforced by a
// foreign-key constraint.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatorID   uint      `gorm:"index;not null" json:"creator"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Category    string    `gorm:"size:64;index" json:"category"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Thumbnail   string    `gorm:"size:255;not null" json:"thumbnail"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
