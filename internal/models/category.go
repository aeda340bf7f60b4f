package models

import "time"

// MaxCategoryLevel bounds how deep the category tree may grow
const MaxCategoryLevel = 3

// Category groups products; roots have level 1 and no parent
type Category struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	ParentID  *int64    `db:"parent_id" json:"parent_id,omitempty"`
	Level     int       `db:"level" json:"level"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	Icon      string    `db:"icon" json:"icon,omitempty"`
	Image     string    `db:"image" json:"image,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
