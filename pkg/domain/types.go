package domain

import "time"

type BookStatus string

const (
	StatusProcessing BookStatus = "processing"
	StatusCompleted  BookStatus = "completed"
	StatusFailed     BookStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s BookStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Book is one personalized-book creation request and its outcome.
// Storage keys and URL mint times are internal bookkeeping and never
// serialized to clients.
type Book struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	ChildName     string        `json:"childName"`
	AdventureType AdventureType `json:"adventureType"`
	Status        BookStatus    `json:"status"`

	PhotoKeys    []string `json:"-"`
	PDFKey       string   `json:"-"`
	ThumbnailKey string   `json:"-"`

	DownloadURL          string    `json:"downloadUrl,omitempty"`
	ThumbnailURL         string    `json:"thumbnailUrl,omitempty"`
	DownloadURLMintedAt  time.Time `json:"-"`
	ThumbnailURLMintedAt time.Time `json:"-"`

	ErrorMessage string     `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GenerationRequest is the outbound event handed to the book generator.
// The generator reports its outcome exclusively through the completion
// webhook; nothing in this process waits on it.
type GenerationRequest struct {
	BookID        string   `json:"bookId"`
	ChildName     string   `json:"childName"`
	AdventureType string   `json:"adventureType"`
	PhotoKeys     []string `json:"photoKeys"`
}
