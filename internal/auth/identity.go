// Package auth resolves who is calling: password accounts, session tokens
// and the gate that keeps anonymous visitors out of protected pages.
package auth

import "errors"

// Identity is an authenticated account reference.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

var (
	// ErrNotAuthenticated means no valid identity is attached to the request.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidCredentials is returned by SignIn for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrEmailTaken is returned by SignUp when the email already has an account.
	ErrEmailTaken = errors.New("user already registered")
	// ErrWeakPassword is returned by SignUp when the password is shorter than MinPasswordLength.
	ErrWeakPassword = errors.New("password should be at least 6 characters")
	// ErrTokenRevoked is returned when a refresh token was revoked or is unknown.
	ErrTokenRevoked = errors.New("refresh token revoked")
)
