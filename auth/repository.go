package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"contractflow/kyc"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	AccountType  kyc.AccountType
}

// MemoryRepository keeps users for the lifetime of the process. Emails are
// unique case-insensitively.
type MemoryRepository struct {
	mu      sync.RWMutex
	byEmail map[string]string
	byID    map[string]User
	newID   func() string
	now     func() time.Time
}

// NewRepository creates an empty in-memory auth repository.
func NewRepository() *MemoryRepository {
	return &MemoryRepository{
		byEmail: make(map[string]string),
		byID:    make(map[string]User),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// CreateUser stores a new user with an already hashed password.
func (r *MemoryRepository) CreateUser(_ context.Context, params CreateUserParams) (User, error) {
	key := strings.ToLower(strings.TrimSpace(params.Email))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[key]; exists {
		return User{}, ErrDuplicateEmail
	}
	now := r.now().UTC()
	user := User{
		ID:           r.newID(),
		Email:        strings.TrimSpace(params.Email),
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		AccountType:  params.AccountType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byEmail[key] = user.ID
	r.byID[user.ID] = user
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return r.byID[id], nil
}

// GetUserByID retrieves a user by ID.
func (r *MemoryRepository) GetUserByID(_ context.Context, userID string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
