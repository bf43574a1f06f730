package store

import (
	"errors"
	"time"

	"littlehero/pkg/domain"
)

// ErrNotFound is returned by UpdateBook when no record matches the id.
var ErrNotFound = errors.New("record not found")

// BookPatch is a field-level partial update. Nil fields are left untouched.
// Callers are responsible for invariant consistency across fields.
type BookPatch struct {
	Status               *domain.BookStatus
	PhotoKeys            *[]string
	PDFKey               *string
	ThumbnailKey         *string
	DownloadURL          *string
	ThumbnailURL         *string
	DownloadURLMintedAt  *time.Time
	ThumbnailURLMintedAt *time.Time
	ErrorMessage         *string
	CompletedAt          *time.Time
}

// Store defines persistence operations for users and books.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	// DeleteUser removes the user and every book they own. Object storage
	// cleanup is the caller's concern.
	DeleteUser(id string) error

	// books
	SaveBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	// ListBooksByOwner pages through one owner's books, newest first.
	// The returned total counts all of the owner's books regardless of
	// the pagination window.
	ListBooksByOwner(ownerID string, page, pageSize int) (int64, []domain.Book, error)
	UpdateBook(id string, patch BookPatch) (domain.Book, error)
	// UpdateBooks applies all patches in a single commit.
	UpdateBooks(patches map[string]BookPatch) error
	DeleteBook(id string) error
}
