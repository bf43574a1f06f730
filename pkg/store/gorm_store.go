package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"littlehero/pkg/domain"
)

const migrateLockID int64 = 48150815

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas don't race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "name", "active", "updated_at"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteUser removes a user and cascades to their books.
func (s *GormStore) DeleteUser(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&BookModel{}, "owner_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&UserModel{}, "id = ?", id).Error
	})
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "child_name", "adventure_type", "status", "photo_keys",
			"pdf_key", "thumbnail_key", "download_url", "thumbnail_url",
			"download_url_minted_at", "thumbnail_url_minted_at",
			"error_message", "completed_at",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooksByOwner pages through an owner's books newest first, returning
// the full count alongside the page.
func (s *GormStore) ListBooksByOwner(ownerID string, page, pageSize int) (int64, []domain.Book, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	var total int64
	if err := s.db.Model(&BookModel{}).Where("owner_id = ?", ownerID).Count(&total).Error; err != nil {
		return 0, nil, err
	}
	var models []BookModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error; err != nil {
		return 0, nil, err
	}
	items := make([]domain.Book, 0, len(models))
	for _, m := range models {
		items = append(items, bookFromModel(m))
	}
	return total, items, nil
}

// UpdateBook applies a field-level patch and returns the updated record.
func (s *GormStore) UpdateBook(id string, patch BookPatch) (domain.Book, error) {
	var book domain.Book
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		book, err = updateBookTx(tx, id, patch)
		return err
	})
	return book, err
}

// UpdateBooks applies all patches in one transaction.
func (s *GormStore) UpdateBooks(patches map[string]BookPatch) error {
	if len(patches) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		for id, patch := range patches {
			if _, err := updateBookTx(tx, id, patch); err != nil {
				return err
			}
		}
		return nil
	})
}

func updateBookTx(tx *gorm.DB, id string, patch BookPatch) (domain.Book, error) {
	updates, err := patchToUpdates(patch)
	if err != nil {
		return domain.Book{}, err
	}
	if len(updates) > 0 {
		res := tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return domain.Book{}, res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Book{}, ErrNotFound
		}
	}
	var model BookModel
	if err := tx.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Book{}, ErrNotFound
		}
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

func patchToUpdates(patch BookPatch) (map[string]any, error) {
	updates := map[string]any{}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.PhotoKeys != nil {
		raw, err := json.Marshal(*patch.PhotoKeys)
		if err != nil {
			return nil, fmt.Errorf("marshal photo keys: %w", err)
		}
		updates["photo_keys"] = datatypes.JSON(raw)
	}
	if patch.PDFKey != nil {
		updates["pdf_key"] = *patch.PDFKey
	}
	if patch.ThumbnailKey != nil {
		updates["thumbnail_key"] = *patch.ThumbnailKey
	}
	if patch.DownloadURL != nil {
		updates["download_url"] = *patch.DownloadURL
	}
	if patch.ThumbnailURL != nil {
		updates["thumbnail_url"] = *patch.ThumbnailURL
	}
	if patch.DownloadURLMintedAt != nil {
		updates["download_url_minted_at"] = *patch.DownloadURLMintedAt
	}
	if patch.ThumbnailURLMintedAt != nil {
		updates["thumbnail_url_minted_at"] = *patch.ThumbnailURLMintedAt
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	return updates, nil
}

// DeleteBook removes a book record.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Delete(&BookModel{}, "id = ?", id).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Name:         u.Name,
		Active:       u.Active,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Name:         m.Name,
		Active:       m.Active,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) (BookModel, error) {
	keys, err := json.Marshal(b.PhotoKeys)
	if err != nil {
		return BookModel{}, fmt.Errorf("marshal photo keys: %w", err)
	}
	return BookModel{
		ID:                   b.ID,
		OwnerID:              b.OwnerID,
		ChildName:            b.ChildName,
		AdventureType:        string(b.AdventureType),
		Status:               string(b.Status),
		PhotoKeys:            keys,
		PDFKey:               b.PDFKey,
		ThumbnailKey:         b.ThumbnailKey,
		DownloadURL:          b.DownloadURL,
		ThumbnailURL:         b.ThumbnailURL,
		DownloadURLMintedAt:  timePtrOrNil(b.DownloadURLMintedAt),
		ThumbnailURLMintedAt: timePtrOrNil(b.ThumbnailURLMintedAt),
		ErrorMessage:         b.ErrorMessage,
		CreatedAt:            b.CreatedAt,
		CompletedAt:          b.CompletedAt,
	}, nil
}

func bookFromModel(m BookModel) domain.Book {
	var keys []string
	if len(m.PhotoKeys) > 0 {
		_ = json.Unmarshal(m.PhotoKeys, &keys)
	}
	return domain.Book{
		ID:                   m.ID,
		OwnerID:              m.OwnerID,
		ChildName:            m.ChildName,
		AdventureType:        domain.AdventureType(m.AdventureType),
		Status:               domain.BookStatus(m.Status),
		PhotoKeys:            keys,
		PDFKey:               m.PDFKey,
		ThumbnailKey:         m.ThumbnailKey,
		DownloadURL:          m.DownloadURL,
		ThumbnailURL:         m.ThumbnailURL,
		DownloadURLMintedAt:  timeOrZero(m.DownloadURLMintedAt),
		ThumbnailURLMintedAt: timeOrZero(m.ThumbnailURLMintedAt),
		ErrorMessage:         m.ErrorMessage,
		CreatedAt:            m.CreatedAt,
		CompletedAt:          m.CompletedAt,
	}
}

func timePtrOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	value := t
	return &value
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
