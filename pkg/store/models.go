package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Name         string
	Active       bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	ChildName     string `gorm:"not null"`
	AdventureType string `gorm:"not null"`
	Status        string `gorm:"not null;index"`

	PhotoKeys    datatypes.JSON `gorm:"type:jsonb"`
	PDFKey       string
	ThumbnailKey string

	DownloadURL          string
	ThumbnailURL         string
	DownloadURLMintedAt  *time.Time
	ThumbnailURLMintedAt *time.Time

	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null;index"`
	CompletedAt  *time.Time
}
