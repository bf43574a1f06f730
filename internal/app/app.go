package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"littlehero/internal/util"
	"littlehero/pkg/auth"
	"littlehero/pkg/domain"
	"littlehero/pkg/storage"
	"littlehero/pkg/store"
)

const (
	maxChildNameLength = 100
	maxPhotoSizeBytes  = 5 << 20

	downloadURLTTL  = time.Hour
	thumbnailURLTTL = 24 * time.Hour

	defaultPageSize = 10
	maxPageSize     = 100
)

var allowedPhotoTypes = []string{"image/jpeg", "image/png"}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	Objects        storage.ObjectStore
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	Notifier Notifier
	Tokens   *auth.TokenProvider
}

// App is the core application service wiring together storage, persistence,
// and the book lifecycle.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	notifier Notifier
	tokens   *auth.TokenProvider
}

// New constructs the application with database-backed metadata storage and
// object-backed asset storage.
func New(cfg Config) (*App, error) {
	objects := cfg.Objects
	if objects == nil {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
		objects = minioStore
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore = gormStore
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("generation notifier required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token provider required")
	}

	// Bucket retention is declarative; a failure here should not block
	// startup when the store is otherwise reachable.
	if err := objects.EnsureRetention(context.Background(), storage.DefaultRetentionRules()); err != nil {
		slog.Warn("apply retention rules", "error", err)
	}

	return &App{
		store:    dataStore,
		objects:  objects,
		notifier: cfg.Notifier,
		tokens:   cfg.Tokens,
	}, nil
}

func photoPrefix(bookID string) string {
	return "books/" + bookID + "/photos"
}

// CreateBook registers a new book, uploads its source photos, and notifies
// the generator. The record is created before the uploads so a failed upload
// still leaves a traceable book in processing state.
func (a *App) CreateBook(ctx context.Context, owner domain.User, childName string, adventureType string, photos []storage.File) (domain.Book, error) {
	childName = strings.TrimSpace(childName)
	if childName == "" {
		return domain.Book{}, ErrChildNameRequired
	}
	if len(childName) > maxChildNameLength {
		return domain.Book{}, ErrChildNameTooLong
	}
	adventure, ok := domain.ParseAdventureType(adventureType)
	if !ok {
		return domain.Book{}, ErrInvalidAdventureType
	}
	if len(photos) == 0 {
		return domain.Book{}, ErrPhotosRequired
	}

	book := domain.Book{
		ID:            util.NewID(),
		OwnerID:       owner.ID,
		ChildName:     childName,
		AdventureType: adventure,
		Status:        domain.StatusProcessing,
		CreatedAt:     time.Now().UTC(),
	}
	if err := a.store.SaveBook(book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}

	keys, err := a.objects.PutMany(ctx, photoPrefix(book.ID), photos, storage.Constraints{
		AllowedTypes: allowedPhotoTypes,
		MaxBytes:     maxPhotoSizeBytes,
	})
	if err != nil {
		return domain.Book{}, err
	}
	book, err = a.store.UpdateBook(book.ID, store.BookPatch{PhotoKeys: &keys})
	if err != nil {
		return domain.Book{}, fmt.Errorf("attach photos: %w", err)
	}

	if err := a.notifier.NotifyGeneration(ctx, domain.GenerationRequest{
		BookID:        book.ID,
		ChildName:     book.ChildName,
		AdventureType: string(book.AdventureType),
		PhotoKeys:     book.PhotoKeys,
	}); err != nil {
		// The book stays in processing; the generator can be re-driven
		// from the stored record.
		util.LoggerFromContext(ctx).Warn("notify generator", "book_id", book.ID, "error", err)
	}
	return book, nil
}

// CompletionRequest is the generator's report on one book.
type CompletionRequest struct {
	BookID       string
	Status       domain.BookStatus
	PDFKey       string
	ThumbnailKey string
	ErrorMessage string
}

// CompleteBook applies the generator's outcome to a book. A book that
// already reached a final status rejects further reports.
func (a *App) CompleteBook(ctx context.Context, req CompletionRequest) (domain.Book, error) {
	if !req.Status.Terminal() {
		return domain.Book{}, ErrInvalidStatus
	}
	book, ok, err := a.store.GetBook(req.BookID)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, ErrBookNotFound
	}
	if book.Status.Terminal() {
		return domain.Book{}, ErrBookAlreadyFinal
	}

	now := time.Now().UTC()
	patch := store.BookPatch{Status: &req.Status}
	switch req.Status {
	case domain.StatusCompleted:
		// completedAt marks successful generation only; failures keep it
		// empty alongside the asset fields.
		patch.CompletedAt = &now
		patch.PDFKey = &req.PDFKey
		patch.ThumbnailKey = &req.ThumbnailKey
		if req.PDFKey != "" {
			url, err := a.objects.PresignGet(ctx, req.PDFKey, downloadURLTTL)
			if err != nil {
				return domain.Book{}, err
			}
			patch.DownloadURL = &url
			patch.DownloadURLMintedAt = &now
		}
		if req.ThumbnailKey != "" {
			url, err := a.objects.PresignGet(ctx, req.ThumbnailKey, thumbnailURLTTL)
			if err != nil {
				return domain.Book{}, err
			}
			patch.ThumbnailURL = &url
			patch.ThumbnailURLMintedAt = &now
		}
	case domain.StatusFailed:
		patch.ErrorMessage = &req.ErrorMessage
	}

	updated, err := a.store.UpdateBook(book.ID, patch)
	if err != nil {
		return domain.Book{}, fmt.Errorf("apply completion: %w", err)
	}
	return updated, nil
}

// GetBookStatus returns one book for its owner, with asset URLs refreshed
// when their signatures are near expiry.
func (a *App) GetBookStatus(ctx context.Context, id, requesterID string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, err
	}
	// Not-found and not-owned are indistinguishable to the caller.
	if !ok || book.OwnerID != requesterID {
		return domain.Book{}, ErrBookNotFound
	}

	patch, refreshed, err := a.refreshURLs(ctx, &book)
	if err != nil {
		return domain.Book{}, err
	}
	if refreshed {
		if book, err = a.store.UpdateBook(book.ID, patch); err != nil {
			return domain.Book{}, fmt.Errorf("persist refreshed urls: %w", err)
		}
	}
	return book, nil
}

// BookPage is one page of an owner's books, newest first.
type BookPage struct {
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Books []domain.Book `json:"books"`
}

// ListBooks pages through the requester's books, refreshing expiring asset
// URLs across the page in one commit.
func (a *App) ListBooks(ctx context.Context, requesterID string, page, pageSize int) (BookPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	total, books, err := a.store.ListBooksByOwner(requesterID, page, pageSize)
	if err != nil {
		return BookPage{}, err
	}

	patches := make(map[string]store.BookPatch)
	for i := range books {
		patch, refreshed, err := a.refreshURLs(ctx, &books[i])
		if err != nil {
			return BookPage{}, err
		}
		if refreshed {
			patches[books[i].ID] = patch
		}
	}
	if len(patches) > 0 {
		if err := a.store.UpdateBooks(patches); err != nil {
			return BookPage{}, fmt.Errorf("persist refreshed urls: %w", err)
		}
	}

	return BookPage{Total: total, Page: page, Limit: pageSize, Books: books}, nil
}

// RequestDownload mints a fresh download URL for a completed book.
func (a *App) RequestDownload(ctx context.Context, id, requesterID string) (string, error) {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return "", err
	}
	if !ok || book.OwnerID != requesterID {
		return "", ErrBookNotFound
	}
	if book.Status != domain.StatusCompleted {
		return "", ErrBookNotReady
	}
	if strings.TrimSpace(book.PDFKey) == "" {
		return "", ErrBookPDFMissing
	}

	url, err := a.objects.PresignGet(ctx, book.PDFKey, downloadURLTTL)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	if _, err := a.store.UpdateBook(book.ID, store.BookPatch{
		DownloadURL:         &url,
		DownloadURLMintedAt: &now,
	}); err != nil {
		return "", fmt.Errorf("persist download url: %w", err)
	}
	return url, nil
}

// DeleteBook removes a book record and best-effort deletes its blobs.
func (a *App) DeleteBook(ctx context.Context, id, requesterID string) error {
	book, ok, err := a.store.GetBook(id)
	if err != nil {
		return err
	}
	if !ok || book.OwnerID != requesterID {
		return ErrBookNotFound
	}
	if err := a.store.DeleteBook(book.ID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}

	keys := bookObjectKeys(book)
	if len(keys) > 0 {
		if err := a.objects.DeleteMany(ctx, keys); err != nil {
			// Retention rules and orphan sweeps catch leftovers; the
			// record is already gone.
			util.LoggerFromContext(ctx).Warn("delete book objects", "book_id", book.ID, "error", err)
		}
	}
	return nil
}

// refreshURLs re-mints any asset URL whose signature is missing or past its
// TTL. It mutates book in place and returns the patch to persist.
func (a *App) refreshURLs(ctx context.Context, book *domain.Book) (store.BookPatch, bool, error) {
	if book.Status != domain.StatusCompleted {
		return store.BookPatch{}, false, nil
	}
	now := time.Now().UTC()
	var patch store.BookPatch
	refreshed := false

	if book.PDFKey != "" && urlStale(book.DownloadURL, book.DownloadURLMintedAt, now, downloadURLTTL) {
		url, err := a.objects.PresignGet(ctx, book.PDFKey, downloadURLTTL)
		if err != nil {
			return store.BookPatch{}, false, err
		}
		book.DownloadURL = url
		book.DownloadURLMintedAt = now
		patch.DownloadURL = &book.DownloadURL
		patch.DownloadURLMintedAt = &book.DownloadURLMintedAt
		refreshed = true
	}
	if book.ThumbnailKey != "" && urlStale(book.ThumbnailURL, book.ThumbnailURLMintedAt, now, thumbnailURLTTL) {
		url, err := a.objects.PresignGet(ctx, book.ThumbnailKey, thumbnailURLTTL)
		if err != nil {
			return store.BookPatch{}, false, err
		}
		book.ThumbnailURL = url
		book.ThumbnailURLMintedAt = now
		patch.ThumbnailURL = &book.ThumbnailURL
		patch.ThumbnailURLMintedAt = &book.ThumbnailURLMintedAt
		refreshed = true
	}
	return patch, refreshed, nil
}

func urlStale(url string, mintedAt, now time.Time, ttl time.Duration) bool {
	if url == "" || mintedAt.IsZero() {
		return true
	}
	return now.Sub(mintedAt) > ttl
}

func bookObjectKeys(book domain.Book) []string {
	keys := make([]string, 0, len(book.PhotoKeys)+2)
	keys = append(keys, book.PhotoKeys...)
	if book.PDFKey != "" {
		keys = append(keys, book.PDFKey)
	}
	if book.ThumbnailKey != "" {
		keys = append(keys, book.ThumbnailKey)
	}
	return keys
}
