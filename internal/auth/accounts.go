package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength matches the registration form's minimum.
const MinPasswordLength = 6

// Account is a stored login.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountStore persists accounts and refresh tokens.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct Account) error
	AccountByEmail(ctx context.Context, email string) (Account, error)
	SaveRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	RefreshTokenActive(ctx context.Context, token string) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
}

// ErrAccountNotFound is returned by AccountStore lookups that match nothing.
var ErrAccountNotFound = errors.New("account not found")

// TokenConfig controls how sessions are signed.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Accounts implements sign-up, sign-in, sign-out and session refresh.
type Accounts struct {
	store  AccountStore
	tokens TokenConfig
	logger *slog.Logger
}

// NewAccounts builds the account service.
func NewAccounts(store AccountStore, tokens TokenConfig, logger *slog.Logger) *Accounts {
	return &Accounts{
		store:  store,
		tokens: tokens,
		logger: logger.With(slog.String("component", "accounts")),
	}
}

// SignUp registers a new account and returns its identity.
func (a *Accounts) SignUp(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	if _, err := a.store.AccountByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	acct := Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	a.logger.Info("account registered", slog.String("user_id", acct.ID))
	return &Identity{ID: acct.ID, Email: acct.Email}, nil
}

// SignIn checks a password and returns the matching identity.
func (a *Accounts) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	acct, err := a.store.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Identity{ID: acct.ID, Email: acct.Email}, nil
}

// IssueSession signs a token pair for id and records the refresh token.
func (a *Accounts) IssueSession(ctx context.Context, id Identity) (TokenPair, error) {
	pair, err := Issue(id, a.tokens.Issuer, a.tokens.SigningKey, a.tokens.AccessTTL, a.tokens.RefreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	if err := a.store.SaveRefreshToken(ctx, id.ID, pair.RefreshToken, pair.RefreshExp); err != nil {
		return TokenPair{}, fmt.Errorf("save refresh token: %w", err)
	}
	return pair, nil
}

// Refresh rotates a refresh token: the old one is revoked and a new pair issued.
func (a *Accounts) Refresh(ctx context.Context, refreshToken string) (TokenPair, *Identity, error) {
	claims, err := Parse(refreshToken, KindRefresh, a.tokens.SigningKey, a.tokens.Issuer)
	if err != nil {
		return TokenPair{}, nil, ErrNotAuthenticated
	}
	active, err := a.store.RefreshTokenActive(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("check refresh token: %w", err)
	}
	if !active {
		return TokenPair{}, nil, ErrTokenRevoked
	}
	if err := a.store.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return TokenPair{}, nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	id := claims.Identity()
	pair, err := a.IssueSession(ctx, *id)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, id, nil
}

// SignOut revokes the refresh token if one is presented. Unknown tokens are ignored.
func (a *Accounts) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	if err := a.store.RevokeRefreshToken(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return email, nil
}
