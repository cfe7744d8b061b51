package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"bookhaven/internal/usertoken"
	"bookhaven/pkg/auth"
	"bookhaven/pkg/domain"
	"bookhaven/pkg/store"
)

// Register creates a USER account (ADMIN for configured admin emails) and
// issues a short-lived token.
func (a *App) Register(ctx context.Context, username, email, password string) (domain.User, string, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	switch {
	case username == "":
		return domain.User{}, "", newError(ErrValidation, "Username is required")
	case email == "":
		return domain.User{}, "", newError(ErrValidation, "Email is required")
	case password == "":
		return domain.User{}, "", newError(ErrValidation, "Password is required")
	}
	if !validEmail(email) {
		return domain.User{}, "", newError(ErrValidation, "Invalid email format")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", wrapError(ErrValidation, err, "Invalid password")
	}
	if allDigits(username) {
		return domain.User{}, "", newError(ErrValidation, "Username cannot consist only of numbers")
	}

	role := domain.RoleUser
	if _, ok := a.admins[email]; ok {
		role = domain.RoleAdmin
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           newID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    a.clock(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, "", wrapError(ErrConflict, err, "Email already exists")
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.tokens.Issue(user.Email, string(user.Role), false)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login checks credentials and issues a token; rememberMe selects the long lifetime.
func (a *App) Login(ctx context.Context, email, password string, rememberMe bool) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" {
		return domain.User{}, "", newError(ErrValidation, "Email is required")
	}
	if password == "" {
		return domain.User{}, "", newError(ErrValidation, "Password is required")
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.Email, string(user.Role), rememberMe)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to the identity of a stored user.
// The role comes from the stored user, not from the token.
func (a *App) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	subject, err := a.tokens.SubjectOf(token)
	if err != nil {
		return auth.Identity{}, err
	}
	user, ok, err := a.store.GetUserByEmail(ctx, normalizeEmail(subject))
	if err != nil {
		return auth.Identity{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return auth.Identity{}, newError(ErrNotFound, "User not found with email: %s", subject)
	}
	if !a.tokens.Validate(token, user.Email) {
		if _, err := a.tokens.Parse(token); err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{}, usertoken.ErrMalformedToken
	}
	return auth.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Roles:  []domain.UserRole{user.Role},
	}, nil
}

// resolveUser loads the stored user behind id.
func (a *App) resolveUser(ctx context.Context, s store.Store, id auth.Identity) (domain.User, error) {
	user, ok, err := s.GetUserByEmail(ctx, id.Email)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, newError(ErrNotFound, "User not found with email: %s", id.Email)
	}
	return user, nil
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && strings.Contains(email, "@")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
