package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"littlehero/pkg/auth"
	"littlehero/pkg/domain"
	"littlehero/pkg/storage"
	"littlehero/pkg/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	fail     bool
}

func (n *recordingNotifier) NotifyGeneration(_ context.Context, req domain.GenerationRequest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("generator unreachable")
	}
	n.requests = append(n.requests, req)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) domain.GenerationRequest {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.requests) == 0 {
		t.Fatalf("no generation request recorded")
	}
	return n.requests[len(n.requests)-1]
}

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	objects  *storage.MemoryStore
	notifier *recordingNotifier
	owner    domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataStore := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	notifier := &recordingNotifier{}
	tokens, err := auth.NewTokenProvider(auth.TokenConfig{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("new token provider: %v", err)
	}
	a, err := New(Config{
		Store:    dataStore,
		Objects:  objects,
		Notifier: notifier,
		Tokens:   tokens,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	owner := domain.User{ID: "owner-1", Email: "owner@example.com", Active: true}
	if err := dataStore.SaveUser(owner); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return &testEnv{app: a, store: dataStore, objects: objects, notifier: notifier, owner: owner}
}

func jpegPhoto(name string) storage.File {
	return storage.File{Name: name, ContentType: "image/jpeg", Data: []byte("jpeg-bytes-" + name)}
}

// putGenerated simulates the generator dropping its artifacts into object
// storage before reporting completion.
func (e *testEnv) putGenerated(t *testing.T, bookID, name string) string {
	t.Helper()
	key, err := e.objects.Put(context.Background(), "processing/"+bookID, storage.File{
		Name:        name,
		ContentType: "application/pdf",
		Data:        []byte("generated-" + name),
	}, storage.Constraints{})
	if err != nil {
		t.Fatalf("put generated asset: %v", err)
	}
	return key
}

func TestCreateBook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg"), jpegPhoto("b.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want processing", book.Status)
	}
	if book.PDFKey != "" || book.ThumbnailKey != "" || book.DownloadURL != "" || book.ErrorMessage != "" {
		t.Fatalf("fresh book carries output fields: %+v", book)
	}
	if book.CompletedAt != nil {
		t.Fatalf("fresh book has completedAt")
	}
	if len(book.PhotoKeys) != 2 {
		t.Fatalf("got %d photo keys, want 2", len(book.PhotoKeys))
	}
	for _, key := range book.PhotoKeys {
		if !env.objects.Has(key) {
			t.Fatalf("photo %q missing from object store", key)
		}
	}

	req := env.notifier.last(t)
	if req.BookID != book.ID || req.ChildName != "Mika" || req.AdventureType != "space" {
		t.Fatalf("unexpected generation request: %+v", req)
	}
	if len(req.PhotoKeys) != 2 {
		t.Fatalf("generation request has %d photo keys, want 2", len(req.PhotoKeys))
	}
}

func TestCreateBookValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	photos := []storage.File{jpegPhoto("a.jpg")}

	if _, err := env.app.CreateBook(ctx, env.owner, "  ", "space", photos); !errors.Is(err, ErrChildNameRequired) {
		t.Fatalf("expected ErrChildNameRequired, got %v", err)
	}
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := env.app.CreateBook(ctx, env.owner, string(long), "space", photos); !errors.Is(err, ErrChildNameTooLong) {
		t.Fatalf("expected ErrChildNameTooLong, got %v", err)
	}
	if _, err := env.app.CreateBook(ctx, env.owner, "Mika", "pirates", photos); !errors.Is(err, ErrInvalidAdventureType) {
		t.Fatalf("expected ErrInvalidAdventureType, got %v", err)
	}
	if _, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", nil); !errors.Is(err, ErrPhotosRequired) {
		t.Fatalf("expected ErrPhotosRequired, got %v", err)
	}
}

func TestCreateBookRejectedUploadKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{
		{Name: "note.txt", ContentType: "text/plain", Data: []byte("x")},
	})
	if !errors.Is(err, storage.ErrInvalidContentType) {
		t.Fatalf("expected ErrInvalidContentType, got %v", err)
	}

	// The record was created before the upload attempt, still processing
	// and without photos.
	page, err := env.app.ListBooks(ctx, env.owner.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("total = %d, want 1", page.Total)
	}
	if page.Books[0].Status != domain.StatusProcessing || len(page.Books[0].PhotoKeys) != 0 {
		t.Fatalf("leftover record in unexpected state: %+v", page.Books[0])
	}
}

func TestCreateBookOversizedPhoto(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.CreateBook(context.Background(), env.owner, "Mika", "space", []storage.File{
		{Name: "huge.jpg", ContentType: "image/jpeg", Data: make([]byte, (5<<20)+1)},
	})
	if !errors.Is(err, storage.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestCreateBookSurvivesNotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.fail = true

	book, err := env.app.CreateBook(context.Background(), env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if book.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want processing despite notifier failure", book.Status)
	}
}

func TestCompleteBookSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "underwater", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	pdfKey := env.putGenerated(t, book.ID, "book.pdf")
	thumbKey := env.putGenerated(t, book.ID, "thumb.jpg")

	updated, err := env.app.CompleteBook(ctx, CompletionRequest{
		BookID:       book.ID,
		Status:       domain.StatusCompleted,
		PDFKey:       pdfKey,
		ThumbnailKey: thumbKey,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("completedAt not set")
	}
	if key, ok := env.objects.ResolveURL(updated.DownloadURL); !ok || key != pdfKey {
		t.Fatalf("download url %q does not address the pdf", updated.DownloadURL)
	}
	if key, ok := env.objects.ResolveURL(updated.ThumbnailURL); !ok || key != thumbKey {
		t.Fatalf("thumbnail url %q does not address the thumbnail", updated.ThumbnailURL)
	}
}

func TestCompleteBookFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "jungle", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	updated, err := env.app.CompleteBook(ctx, CompletionRequest{
		BookID:       book.ID,
		Status:       domain.StatusFailed,
		ErrorMessage: "face detection failed",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != domain.StatusFailed {
		t.Fatalf("status = %s, want failed", updated.Status)
	}
	if updated.ErrorMessage != "face detection failed" {
		t.Fatalf("errorMessage = %q", updated.ErrorMessage)
	}
	if updated.DownloadURL != "" || updated.ThumbnailURL != "" {
		t.Fatalf("failed book should carry no asset urls: %+v", updated)
	}
	if updated.PDFKey != "" || updated.ThumbnailKey != "" {
		t.Fatalf("failed book should carry no asset keys: %+v", updated)
	}
	if updated.CompletedAt != nil {
		t.Fatalf("failed book has completedAt %v, want nil", updated.CompletedAt)
	}
}

func TestCompleteBookGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "fantasy", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusProcessing}); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: "missing", Status: domain.StatusFailed}); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}

	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusFailed, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	_, err = env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusCompleted})
	if !errors.Is(err, ErrBookAlreadyFinal) {
		t.Fatalf("second completion should conflict, got %v", err)
	}
	// The first outcome sticks.
	got, err := env.app.GetBookStatus(ctx, book.ID, env.owner.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.Status != domain.StatusFailed || got.ErrorMessage != "boom" {
		t.Fatalf("terminal outcome changed: %+v", got)
	}
}

func TestGetBookStatusOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if _, err := env.app.GetBookStatus(ctx, book.ID, "stranger"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("foreign reader should see not-found, got %v", err)
	}
	if _, err := env.app.GetBookStatus(ctx, "missing", env.owner.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got %v", err)
	}
	if _, err := env.app.RequestDownload(ctx, book.ID, "stranger"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("foreign download should see not-found, got %v", err)
	}
	if err := env.app.DeleteBook(ctx, book.ID, "stranger"); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("foreign delete should see not-found, got %v", err)
	}
}

func TestRequestDownload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}

	if _, err := env.app.RequestDownload(ctx, book.ID, env.owner.ID); !errors.Is(err, ErrBookNotReady) {
		t.Fatalf("processing book should not be downloadable, got %v", err)
	}

	pdfKey := env.putGenerated(t, book.ID, "book.pdf")
	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusCompleted, PDFKey: pdfKey}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	first, err := env.app.RequestDownload(ctx, book.ID, env.owner.ID)
	if err != nil {
		t.Fatalf("request download: %v", err)
	}
	second, err := env.app.RequestDownload(ctx, book.ID, env.owner.ID)
	if err != nil {
		t.Fatalf("repeat request download: %v", err)
	}
	// Every mint addresses the same object even when the URL differs.
	keyFirst, ok := env.objects.ResolveURL(first)
	if !ok {
		t.Fatalf("first url %q does not resolve", first)
	}
	keySecond, ok := env.objects.ResolveURL(second)
	if !ok {
		t.Fatalf("second url %q does not resolve", second)
	}
	if keyFirst != pdfKey || keySecond != pdfKey {
		t.Fatalf("urls address %q and %q, want %q", keyFirst, keySecond, pdfKey)
	}
}

func TestRequestDownloadMissingPDF(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := env.app.RequestDownload(ctx, book.ID, env.owner.ID); !errors.Is(err, ErrBookPDFMissing) {
		t.Fatalf("expected ErrBookPDFMissing, got %v", err)
	}
}

func TestGetBookStatusRefreshesExpiredURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	pdfKey := env.putGenerated(t, book.ID, "book.pdf")
	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusCompleted, PDFKey: pdfKey}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Age the mint past the TTL so the next read must re-sign.
	stale := time.Now().UTC().Add(-2 * downloadURLTTL)
	if _, err := env.store.UpdateBook(book.ID, store.BookPatch{DownloadURLMintedAt: &stale}); err != nil {
		t.Fatalf("age mint: %v", err)
	}

	got, err := env.app.GetBookStatus(ctx, book.ID, env.owner.ID)
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if got.DownloadURL == "" {
		t.Fatalf("expired url not refreshed")
	}
	if key, ok := env.objects.ResolveURL(got.DownloadURL); !ok || key != pdfKey {
		t.Fatalf("refreshed url %q does not address the pdf", got.DownloadURL)
	}
	if time.Since(got.DownloadURLMintedAt) > time.Minute {
		t.Fatalf("mint time not updated: %v", got.DownloadURLMintedAt)
	}

	// The refresh is persisted, not just returned.
	persisted, _, err := env.store.GetBook(book.ID)
	if err != nil {
		t.Fatalf("get persisted: %v", err)
	}
	if persisted.DownloadURL != got.DownloadURL {
		t.Fatalf("refreshed url not persisted")
	}
}

func TestListBooksPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		if _, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg")}); err != nil {
			t.Fatalf("create book %d: %v", i, err)
		}
	}

	page, err := env.app.ListBooks(ctx, env.owner.ID, 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 12 || page.Page != 1 || page.Limit != 10 || len(page.Books) != 10 {
		t.Fatalf("page 1: %+v", page)
	}

	page2, err := env.app.ListBooks(ctx, env.owner.ID, 2, 10)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if page2.Total != 12 || len(page2.Books) != 2 {
		t.Fatalf("page 2: total=%d len=%d", page2.Total, len(page2.Books))
	}

	// Out-of-range inputs clamp instead of failing.
	clamped, err := env.app.ListBooks(ctx, env.owner.ID, 0, 500)
	if err != nil {
		t.Fatalf("list clamped: %v", err)
	}
	if clamped.Page != 1 || clamped.Limit != maxPageSize {
		t.Fatalf("clamp: page=%d limit=%d", clamped.Page, clamped.Limit)
	}
}

func TestDeleteBookRemovesObjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	book, err := env.app.CreateBook(ctx, env.owner, "Mika", "space", []storage.File{jpegPhoto("a.jpg"), jpegPhoto("b.jpg")})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	pdfKey := env.putGenerated(t, book.ID, "book.pdf")
	if _, err := env.app.CompleteBook(ctx, CompletionRequest{BookID: book.ID, Status: domain.StatusCompleted, PDFKey: pdfKey}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := env.app.DeleteBook(ctx, book.ID, env.owner.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.app.GetBookStatus(ctx, book.ID, env.owner.ID); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("deleted book still readable, err=%v", err)
	}
	for _, key := range append(book.PhotoKeys, pdfKey) {
		if env.objects.Has(key) {
			t.Fatalf("object %q survived book delete", key)
		}
	}
}
