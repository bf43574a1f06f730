package store

import (
	"sort"
	"sync"

	"littlehero/pkg/domain"
)

// MemoryStore keeps records in-process. Tests substitute it for Postgres.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]domain.User
	email  map[string]string // email -> user ID
	books  map[string]domain.Book
	orders []string // book insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]domain.User),
		email: make(map[string]string),
		books: make(map[string]domain.Book),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// DeleteUser removes a user and every book they own.
func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		delete(m.email, u.Email)
		delete(m.users, id)
	}
	filtered := m.orders[:0]
	for _, bookID := range m.orders {
		if b, ok := m.books[bookID]; ok && b.OwnerID == id {
			delete(m.books, bookID)
			continue
		}
		filtered = append(filtered, bookID)
	}
	m.orders = filtered
	return nil
}

// SaveBook stores or replaces a book record.
func (m *MemoryStore) SaveBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.books[b.ID]; !exists {
		m.orders = append(m.orders, b.ID)
	}
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooksByOwner pages through an owner's books newest first.
func (m *MemoryStore) ListBooksByOwner(ownerID string, page, pageSize int) (int64, []domain.Book, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	m.mu.RLock()
	owned := make([]domain.Book, 0, len(m.orders))
	// Walk insertion order backwards so books created at the same instant
	// still come out newest first after the stable sort.
	for i := len(m.orders) - 1; i >= 0; i-- {
		if b, ok := m.books[m.orders[i]]; ok && b.OwnerID == ownerID {
			owned = append(owned, b)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	total := int64(len(owned))
	start := (page - 1) * pageSize
	if start >= len(owned) {
		return total, []domain.Book{}, nil
	}
	end := start + pageSize
	if end > len(owned) {
		end = len(owned)
	}
	return total, owned[start:end], nil
}

// UpdateBook applies a field-level patch.
func (m *MemoryStore) UpdateBook(id string, patch BookPatch) (domain.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyPatch(id, patch)
}

// UpdateBooks applies all patches under one lock.
func (m *MemoryStore) UpdateBooks(patches map[string]BookPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, patch := range patches {
		if _, err := m.applyPatch(id, patch); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) applyPatch(id string, patch BookPatch) (domain.Book, error) {
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, ErrNotFound
	}
	if patch.Status != nil {
		b.Status = *patch.Status
	}
	if patch.PhotoKeys != nil {
		b.PhotoKeys = append([]string(nil), (*patch.PhotoKeys)...)
	}
	if patch.PDFKey != nil {
		b.PDFKey = *patch.PDFKey
	}
	if patch.ThumbnailKey != nil {
		b.ThumbnailKey = *patch.ThumbnailKey
	}
	if patch.DownloadURL != nil {
		b.DownloadURL = *patch.DownloadURL
	}
	if patch.ThumbnailURL != nil {
		b.ThumbnailURL = *patch.ThumbnailURL
	}
	if patch.DownloadURLMintedAt != nil {
		b.DownloadURLMintedAt = *patch.DownloadURLMintedAt
	}
	if patch.ThumbnailURLMintedAt != nil {
		b.ThumbnailURLMintedAt = *patch.ThumbnailURLMintedAt
	}
	if patch.ErrorMessage != nil {
		b.ErrorMessage = *patch.ErrorMessage
	}
	if patch.CompletedAt != nil {
		value := *patch.CompletedAt
		b.CompletedAt = &value
	}
	m.books[id] = b
	return b, nil
}

// DeleteBook removes a book record.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.orders[:0]
	for _, item := range m.orders {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.orders = filtered
	return nil
}
