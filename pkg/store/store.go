package store

import (
	"context"
	"errors"

	"bookhaven/pkg/catalog"
	"bookhaven/pkg/domain"
)

var (
	// ErrDuplicateEmail is returned when a user with the same email exists.
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrDuplicateCartLine is returned when a (user, book) line already exists.
	ErrDuplicateCartLine = errors.New("cart line already exists")
	// ErrStaleCartLine is returned when a cart line changed since it was read.
	ErrStaleCartLine = errors.New("cart line version mismatch")
	// ErrCartLineNotFound is returned when updating a line that no longer exists.
	ErrCartLineNotFound = errors.New("cart line not found")
)

// Store defines persistence operations for users, books, and cart lines.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// books
	SaveBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	// ListBooks returns matching books in creation order.
	ListBooks(ctx context.Context, filter catalog.Filter) ([]domain.Book, error)
	ListBooksByAddedBy(ctx context.Context, email string) ([]domain.Book, error)
	ListNewestBooks(ctx context.Context, limit int) ([]domain.Book, error)
	ListTopRatedBooks(ctx context.Context, limit int) ([]domain.Book, error)
	ListRelatedBooks(ctx context.Context, genre, excludeID string, limit int) ([]domain.Book, error)
	ListGenres(ctx context.Context) ([]string, error)
	// DeleteBook removes the book and its cart lines.
	DeleteBook(ctx context.Context, id string) error

	// cart lines
	// ListCartLines returns the user's lines joined with books, newest first.
	// Inside a transaction the rows are locked for update.
	ListCartLines(ctx context.Context, userID string) ([]domain.CartLine, error)
	GetCartLine(ctx context.Context, userID, bookID string) (domain.CartLine, bool, error)
	InsertCartLine(ctx context.Context, line domain.CartLine) error
	// UpdateCartLineQuantity sets quantity if line.Version is still current and
	// returns the line with its bumped version.
	UpdateCartLineQuantity(ctx context.Context, line domain.CartLine, quantity int) (domain.CartLine, error)
	DeleteCartLine(ctx context.Context, userID, bookID string) (bool, error)
	DeleteCartLines(ctx context.Context, userID string) (int, error)
	CartUserIDsForBook(ctx context.Context, bookID string) ([]string, error)

	// InTx runs fn inside a transaction. fn must use the Store it is given.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// CartSummaryCache memoizes per-user cart aggregates.
type CartSummaryCache interface {
	Get(ctx context.Context, userID string) (domain.CartSummary, bool, error)
	Set(ctx context.Context, userID string, summary domain.CartSummary) error
	Invalidate(ctx context.Context, userIDs ...string) error
}
