package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"littlehero/internal/util"
	"littlehero/pkg/auth"
	"littlehero/pkg/domain"
)

// Register creates a user account. Emails are normalized to lower case.
func (a *App) Register(email, password, name string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, ErrEmailAndPasswordRequired
	}
	if len(password) < auth.MinPasswordLength {
		return domain.User{}, ErrPasswordTooShort
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if exists {
		return domain.User{}, ErrEmailAlreadyExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and issues a bearer token. Unknown email and
// wrong password return the same error.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.Active {
		return domain.User{}, "", ErrUserDisabled
	}
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a bearer token to its active account.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	userID, err := a.tokens.Verify(token)
	if err != nil {
		return domain.User{}, false
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil || !ok || !user.Active {
		return domain.User{}, false
	}
	return user, true
}

// GetUser returns a user by ID.
func (a *App) GetUser(id string) (domain.User, bool, error) {
	return a.store.GetUserByID(id)
}

// DeleteAccount removes the user, their books, and best-effort their blobs.
func (a *App) DeleteAccount(ctx context.Context, userID string) error {
	_, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var keys []string
	for page := 1; ; page++ {
		_, books, err := a.store.ListBooksByOwner(userID, page, maxPageSize)
		if err != nil {
			return err
		}
		if len(books) == 0 {
			break
		}
		for _, book := range books {
			keys = append(keys, bookObjectKeys(book)...)
		}
		if len(books) < maxPageSize {
			break
		}
	}

	if err := a.store.DeleteUser(userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if len(keys) > 0 {
		if err := a.objects.DeleteMany(ctx, keys); err != nil {
			util.LoggerFromContext(ctx).Warn("delete account objects", "user_id", userID, "error", err)
		}
	}
	return nil
}
