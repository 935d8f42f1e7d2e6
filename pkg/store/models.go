package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string
	Permission   int       `gorm:"not null;default:0"`
	Status       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

// BookModel keeps OPF metadata (creators, language, identifier) and the authorized user
// list as JSON columns.
type BookModel struct {
	ID               string         `gorm:"primaryKey"`
	Title            string         `gorm:"not null"`
	OriginalFilename string         `gorm:"not null"`
	StorageKey       string         `gorm:"not null"`
	SizeBytes        int64          `gorm:"not null"`
	UploadedBy       string         `gorm:"index"`
	Metadata         datatypes.JSON `gorm:"type:jsonb"`
	AuthorizedUsers  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}

type CollectionModel struct {
	ID        string      `gorm:"primaryKey"`
	Name      string      `gorm:"not null"`
	Books     []BookModel `gorm:"many2many:collection_books;"`
	CreatedAt time.Time   `gorm:"not null"`
}

type ProgressModel struct {
	UserID      string  `gorm:"primaryKey"`
	BookID      string  `gorm:"primaryKey;index"`
	Progress    float64 `gorm:"not null"`
	ProgressStr string
	UpdatedAt   time.Time `gorm:"not null"`
}

type bookMetadata struct {
	Creators []string `json:"creators,omitempty"`
	Language   string   `json:"language,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
}
