package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sync"
	"time"

	"huddle/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const DefaultTokenExpiry = 12 * time.Hour

var (
	ErrUserExists = errors.New("user already exists")
)

// UserCredentials is the persisted account record: public profile plus
// the password hash and brute-force throttling counters.
type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialStore persists accounts and live tokens across restarts.
// Implemented by the bbolt storage layer.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListAllCredentials() ([]UserCredentials, error)
	UpsertToken(userID string, tokenHash string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

// PrincipalEvent notifies listeners that a token was issued or revoked.
type PrincipalEvent struct {
	UserID   string
	Token    string
	SignedIn bool
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// AuthService is the identity provider: it owns accounts, verifies
// credentials and issues opaque bearer tokens kept in a TTL cache.
type AuthService struct {
	Config
	store CredentialStore
	// email -> credentials
	users *geche.Locker[string, *UserCredentials]
	// token hash -> userID
	liveTokens geche.Geche[string, string]
	now        func() time.Time

	mu sync.RWMutex
	// userID -> email, for lookups by ID (the cache is keyed by email)
	byID      map[string]string
	listeners map[int]func(PrincipalEvent)
	nextID    int
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
		byID:       make(map[string]string),
		listeners:  make(map[int]func(PrincipalEvent)),
	}

	credentials, err := store.ListAllCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for _, c := range credentials {
		cred := c
		tx.Set(cred.Email, &cred)
		as.byID[cred.ID] = cred.Email
	}
	tx.Unlock()

	// Persisted tokens survive a restart; they get a fresh TTL here.
	tokens, err := store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	for hash, userID := range tokens {
		as.liveTokens.Set(hash, userID)
	}

	return as, nil
}

// CreateAccount registers a new account with the given email, display name
// and password.
func (as *AuthService) CreateAccount(email, userName, password string) (models.User, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return models.User{}, fmt.Errorf("invalid email: %w", err)
	}
	if len(password) < 6 {
		return models.User{}, errors.New("password must be at least 6 characters")
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(addr.Address); err == nil {
		return models.User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &UserCredentials{
		User: models.User{
			ID:       uuid.NewString(),
			Email:    addr.Address,
			UserName: userName,
			Presence: models.StatusOffline,
			Status:   models.UserStatusActive,
		},
		PasswordHash: string(hash),
	}
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return models.User{}, fmt.Errorf("failed to persist credentials: %w", err)
	}
	tx.Set(cred.Email, cred)
	as.mu.Lock()
	as.byID[cred.ID] = cred.Email
	as.mu.Unlock()

	return cred.User, nil
}

// Authenticate verifies email and password and issues a bearer token.
// Bad credentials surface as models.ErrInvalidCredentials with no state
// change beyond the throttling counters.
func (as *AuthService) Authenticate(email, password string) (models.User, string, error) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(email)
	if err != nil || user.Status != models.UserStatusActive {
		return models.User{}, "", models.ErrInvalidCredentials
	}

	// Quadratic backoff after repeated failures.
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return models.User{}, "", fmt.Errorf("too many failed login attempts, next attempt in %d seconds: %w",
				nextAttempt-now.Unix(), models.ErrInvalidCredentials)
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		as.persist(user)
		return models.User{}, "", models.ErrInvalidCredentials
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("token generation failed", "user_id", user.ID, "error", err)
		return models.User{}, "", fmt.Errorf("failed to issue token: %w", err)
	}

	hash := as.hashToken(token)
	as.liveTokens.Set(hash, user.ID)
	if err := as.store.UpsertToken(user.ID, hash); err != nil {
		slog.Error("failed to persist token", "user_id", user.ID, "error", err)
	}
	user.ResetFailedLoginAttempts(now)
	user.LastSeen = now.Unix()
	as.persist(user)

	as.notify(PrincipalEvent{UserID: user.ID, Token: token, SignedIn: true})

	return user.User, token, nil
}

// SignOut revokes a single bearer token.
func (as *AuthService) SignOut(token string) error {
	hash := as.hashToken(token)
	userID, err := as.liveTokens.Get(hash)
	if err != nil {
		return nil // already gone
	}
	if err := as.liveTokens.Del(hash); err != nil {
		return err
	}
	if err := as.store.DeleteToken(hash); err != nil {
		slog.Error("failed to delete persisted token", "error", err)
	}
	as.notify(PrincipalEvent{UserID: userID, Token: token, SignedIn: false})
	return nil
}

// GetUserID resolves a bearer token to the account it belongs to.
func (as *AuthService) GetUserID(token string) (string, error) {
	return as.liveTokens.Get(as.hashToken(token))
}

// CurrentPrincipal returns the account behind a bearer token, or
// models.ErrNotFound if the token is not live.
func (as *AuthService) CurrentPrincipal(token string) (models.User, error) {
	userID, err := as.GetUserID(token)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return as.GetUser(userID)
}

// OnPrincipalChanged registers a callback invoked on every token issue and
// revocation. Returns a disposer.
func (as *AuthService) OnPrincipalChanged(fn func(PrincipalEvent)) func() {
	as.mu.Lock()
	id := as.nextID
	as.nextID++
	as.listeners[id] = fn
	as.mu.Unlock()
	return func() {
		as.mu.Lock()
		delete(as.listeners, id)
		as.mu.Unlock()
	}
}

func (as *AuthService) notify(ev PrincipalEvent) {
	as.mu.RLock()
	fns := make([]func(PrincipalEvent), 0, len(as.listeners))
	for _, fn := range as.listeners {
		fns = append(fns, fn)
	}
	as.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// GetUsers returns the public profiles of all active accounts.
func (as *AuthService) GetUsers() ([]models.User, error) {
	as.mu.RLock()
	emails := make([]string, 0, len(as.byID))
	for _, email := range as.byID {
		emails = append(emails, email)
	}
	as.mu.RUnlock()

	tx := as.users.Lock()
	defer tx.Unlock()

	var users []models.User
	for _, email := range emails {
		cred, err := tx.Get(email)
		if err != nil || cred.Status != models.UserStatusActive {
			continue
		}
		users = append(users, cred.User)
	}
	return users, nil
}

// GetUser returns the public profile of one account by ID.
func (as *AuthService) GetUser(id string) (models.User, error) {
	as.mu.RLock()
	email, ok := as.byID[id]
	as.mu.RUnlock()
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(email)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return cred.User, nil
}

// UpdateProfile changes display name and/or avatar for the account.
// Empty fields are left untouched.
func (as *AuthService) UpdateProfile(userID, userName, avatarURL string) (models.User, error) {
	as.mu.RLock()
	email, ok := as.byID[userID]
	as.mu.RUnlock()
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(email)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	if userName != "" {
		cred.UserName = userName
	}
	if avatarURL != "" {
		cred.AvatarURL = avatarURL
	}
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return models.User{}, fmt.Errorf("failed to persist profile: %w", err)
	}
	return cred.User, nil
}

// DeactivateUser marks the account deleted. The record is kept so old
// messages still resolve the sender; the account can no longer sign in.
func (as *AuthService) DeactivateUser(userID string) error {
	as.mu.RLock()
	email, ok := as.byID[userID]
	as.mu.RUnlock()
	if !ok {
		return models.ErrNotFound
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(email)
	if err != nil {
		return models.ErrNotFound
	}
	cred.Status = models.UserStatusDeleted
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return fmt.Errorf("failed to persist credentials: %w", err)
	}

	// Revoke whatever tokens the account still holds.
	tokens, err := as.store.ListTokens()
	if err != nil {
		return nil
	}
	for hash, id := range tokens {
		if id != userID {
			continue
		}
		_ = as.liveTokens.Del(hash)
		if err := as.store.DeleteToken(hash); err != nil {
			slog.Error("failed to delete persisted token", "user_id", userID, "error", err)
		}
	}
	as.notify(PrincipalEvent{UserID: userID, SignedIn: false})
	return nil
}

// ResetPassword replaces the account's password with a generated one and
// returns it. Meant for the admin surface; the user changes it on next
// login.
func (as *AuthService) ResetPassword(userID string) (string, error) {
	as.mu.RLock()
	email, ok := as.byID[userID]
	as.mu.RUnlock()
	if !ok {
		return "", models.ErrNotFound
	}

	raw := make([]byte, 12)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	password := base64.RawURLEncoding.EncodeToString(raw)

	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(email)
	if err != nil {
		return "", models.ErrNotFound
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	cred.PasswordHash = string(hash)
	cred.ResetFailedLoginAttempts(as.now())
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return "", fmt.Errorf("failed to persist credentials: %w", err)
	}
	return password, nil
}

func (as *AuthService) persist(cred *UserCredentials) {
	if err := as.store.UpsertCredentials(*cred); err != nil {
		slog.Error("failed to persist credentials", "user_id", cred.ID, "error", err)
	}
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Tokens are stored hashed so a leaked database does not leak live sessions.
func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha256.New, as.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
