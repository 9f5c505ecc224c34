package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"pigeon/internal/content"
	"pigeon/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
	UserID      string `json:"userId,omitempty"`
}

// UserCredentials is a user profile plus the secret material that never
// leaves this package and the storage layer.
type UserCredentials struct {
	models.User
	PasswordHash string `json:"-"`

	// Counter for consecutive failed login attempts to throttle brute force
	// attacks. Kept in memory only.
	FailedLoginAttempts int64 `json:"-"`
	LastAttemptTime     int64 `json:"-"`
}

func (uc *UserCredentials) resetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) incrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

// Storage persists user credentials across restarts. Live tokens are not
// persisted; every user starts logged off after a process restart.
type Storage interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type AuthService struct {
	Config
	storage    Storage
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, storage Storage) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:     config,
		storage:    storage,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	credentials, err := storage.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	for i := range credentials {
		c := credentials[i]
		tx.Set(c.UserName, &c)
	}

	return as, nil
}

// AddUser creates a user with the given password and persists it.
func (as *AuthService) AddUser(username, displayName, password string) (models.User, error) {
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, fmt.Errorf("%w: %s", models.ErrValidation, err)
	}
	if displayName == "" {
		displayName = username
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	creds := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: content.Sanitize(displayName),
			CreatedAt:   as.now().Unix(),
		},
		PasswordHash: string(hash),
	}

	if err := as.storage.UpsertCredentials(*creds); err != nil {
		return models.User{}, fmt.Errorf("failed to persist user: %w", err)
	}
	tx.Set(username, creds)

	return creds.User, nil
}

func (as *AuthService) Login(req LoginRequest) LoginResponse {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	// Check failed login attempts
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.incrementFailedLoginAttempts(now)
		return LoginResponse{Success: false, Message: loginFailedMessage}
	}

	token, err := as.generateToken()
	if err != nil {
		return LoginResponse{Success: false, Message: "internal error"}
	}

	as.liveTokens.Set(token, user.ID)
	user.resetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
		UserID:      user.ID,
	}
}

func (as *AuthService) Logoff(token string) error {
	return as.liveTokens.Del(token)
}

// GetUserID resolves a live token to the user id it was issued for.
func (as *AuthService) GetUserID(token string) (string, error) {
	return as.liveTokens.Get(token)
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
