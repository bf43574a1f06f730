package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"littlehero/pkg/domain"
)

func seedBooks(t *testing.T, m *MemoryStore, ownerID string, n int) []domain.Book {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	books := make([]domain.Book, 0, n)
	for i := 0; i < n; i++ {
		b := domain.Book{
			ID:            fmt.Sprintf("%s-book-%02d", ownerID, i),
			OwnerID:       ownerID,
			ChildName:     "Mika",
			AdventureType: domain.AdventureSpace,
			Status:        domain.StatusProcessing,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := m.SaveBook(b); err != nil {
			t.Fatalf("save book: %v", err)
		}
		books = append(books, b)
	}
	return books
}

func TestListBooksByOwnerPagination(t *testing.T) {
	m := NewMemoryStore()
	seedBooks(t, m, "owner-1", 15)
	seedBooks(t, m, "owner-2", 3)

	total, page1, err := m.ListBooksByOwner("owner-1", 1, 10)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 15 {
		t.Fatalf("total = %d, want 15", total)
	}
	if len(page1) != 10 {
		t.Fatalf("page 1 has %d books, want 10", len(page1))
	}
	if page1[0].ID != "owner-1-book-14" {
		t.Fatalf("page 1 should start with the newest book, got %s", page1[0].ID)
	}
	for i := 1; i < len(page1); i++ {
		if page1[i].CreatedAt.After(page1[i-1].CreatedAt) {
			t.Fatalf("books out of order at index %d", i)
		}
	}

	total, page2, err := m.ListBooksByOwner("owner-1", 2, 10)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if total != 15 || len(page2) != 5 {
		t.Fatalf("page 2: total=%d len=%d, want 15 and 5", total, len(page2))
	}
	if page2[len(page2)-1].ID != "owner-1-book-00" {
		t.Fatalf("page 2 should end with the oldest book, got %s", page2[len(page2)-1].ID)
	}

	total, empty, err := m.ListBooksByOwner("owner-1", 3, 10)
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if total != 15 || len(empty) != 0 {
		t.Fatalf("page past the end should be empty, got %d", len(empty))
	}
}

func TestListBooksByOwnerScoping(t *testing.T) {
	m := NewMemoryStore()
	seedBooks(t, m, "owner-1", 2)
	seedBooks(t, m, "owner-2", 4)

	total, books, err := m.ListBooksByOwner("owner-2", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(books) != 4 {
		t.Fatalf("owner-2: total=%d len=%d, want 4 and 4", total, len(books))
	}
	for _, b := range books {
		if b.OwnerID != "owner-2" {
			t.Fatalf("foreign book %s leaked into listing", b.ID)
		}
	}
}

func TestUpdateBookPatch(t *testing.T) {
	m := NewMemoryStore()
	seedBooks(t, m, "owner-1", 1)

	status := domain.StatusCompleted
	pdfKey := "books/owner-1-book-00/book.pdf"
	url := "https://blob.test/" + pdfKey
	now := time.Now().UTC()
	updated, err := m.UpdateBook("owner-1-book-00", BookPatch{
		Status:              &status,
		PDFKey:              &pdfKey,
		DownloadURL:         &url,
		DownloadURLMintedAt: &now,
		CompletedAt:         &now,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.StatusCompleted || updated.PDFKey != pdfKey || updated.DownloadURL != url {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(now) {
		t.Fatalf("completedAt not applied: %v", updated.CompletedAt)
	}
	if updated.ChildName != "Mika" {
		t.Fatalf("unpatched field changed: %q", updated.ChildName)
	}

	if _, err := m.UpdateBook("missing", BookPatch{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateBooksBatch(t *testing.T) {
	m := NewMemoryStore()
	seedBooks(t, m, "owner-1", 2)

	urlA := "https://blob.test/a"
	urlB := "https://blob.test/b"
	err := m.UpdateBooks(map[string]BookPatch{
		"owner-1-book-00": {DownloadURL: &urlA},
		"owner-1-book-01": {DownloadURL: &urlB},
	})
	if err != nil {
		t.Fatalf("update books: %v", err)
	}
	a, _, _ := m.GetBook("owner-1-book-00")
	b, _, _ := m.GetBook("owner-1-book-01")
	if a.DownloadURL != urlA || b.DownloadURL != urlB {
		t.Fatalf("batch patches not applied: %q %q", a.DownloadURL, b.DownloadURL)
	}
}

func TestDeleteUserCascadesBooks(t *testing.T) {
	m := NewMemoryStore()
	if err := m.SaveUser(domain.User{ID: "owner-1", Email: "owner@example.com", Active: true}); err != nil {
		t.Fatalf("save user: %v", err)
	}
	seedBooks(t, m, "owner-1", 3)
	seedBooks(t, m, "owner-2", 1)

	if err := m.DeleteUser("owner-1"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, ok, _ := m.GetUserByID("owner-1"); ok {
		t.Fatalf("user still present after delete")
	}
	if ok, _ := m.HasUserEmail("owner@example.com"); ok {
		t.Fatalf("email still reserved after delete")
	}
	total, _, err := m.ListBooksByOwner("owner-1", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 0 {
		t.Fatalf("owned books survived user delete: %d", total)
	}
	if total, _, _ := m.ListBooksByOwner("owner-2", 1, 10); total != 1 {
		t.Fatalf("other owner's books affected: %d", total)
	}
}

func TestDeleteBook(t *testing.T) {
	m := NewMemoryStore()
	seedBooks(t, m, "owner-1", 2)

	if err := m.DeleteBook("owner-1-book-00"); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if _, ok, _ := m.GetBook("owner-1-book-00"); ok {
		t.Fatalf("book still present after delete")
	}
	if total, _, _ := m.ListBooksByOwner("owner-1", 1, 10); total != 1 {
		t.Fatalf("total = %d after delete, want 1", total)
	}
	if err := m.DeleteBook("owner-1-book-00"); err != nil {
		t.Fatalf("deleting a missing book should not error: %v", err)
	}
}
