package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"bookhaven/internal/util"
	"bookhaven/pkg/auth"
	"bookhaven/pkg/catalog"
	"bookhaven/pkg/domain"
	"bookhaven/pkg/store"
)

const (
	featuredLimit = 3
	topRatedLimit = 3
	relatedLimit  = 4
)

var (
	minBookPrice = decimal.RequireFromString("0.01")
	maxBookPrice = decimal.RequireFromString("999.99")
)

// BookQuery selects and orders the catalog listing.
type BookQuery struct {
	Search    string
	Genre     string
	SortBy    string
	SortOrder string
}

// BookInput is the writable part of a book.
type BookInput struct {
	Title           string
	Author          string
	PublicationDate domain.Date
	Genre           string
	Description     string
	Price           decimal.Decimal
	Image           string
	Stock           *int
}

// ListBooks filters by search text and genre and sorts stably by the requested field.
func (a *App) ListBooks(ctx context.Context, q BookQuery) ([]domain.Book, error) {
	books, err := a.store.ListBooks(ctx, catalog.Filter{Search: q.Search, Genre: q.Genre})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	catalog.Sort(books, q.SortBy, q.SortOrder)
	return books, nil
}

// Book returns one book by id.
func (a *App) Book(ctx context.Context, id string) (domain.Book, error) {
	return a.getBook(ctx, a.store, id)
}

func (a *App) getBook(ctx context.Context, s store.Store, id string) (domain.Book, error) {
	book, ok, err := s.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("fetch book: %w", err)
	}
	if !ok {
		return domain.Book{}, newError(ErrNotFound, "Book not found with id: %s", id)
	}
	return book, nil
}

// FeaturedBooks returns the most recently added books.
func (a *App) FeaturedBooks(ctx context.Context) ([]domain.Book, error) {
	return a.store.ListNewestBooks(ctx, featuredLimit)
}

// TopRatedBooks returns the highest rated books.
func (a *App) TopRatedBooks(ctx context.Context) ([]domain.Book, error) {
	return a.store.ListTopRatedBooks(ctx, topRatedLimit)
}

// RelatedBooks returns up to four other books sharing the genre of id.
func (a *App) RelatedBooks(ctx context.Context, id string) ([]domain.Book, error) {
	book, err := a.Book(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.store.ListRelatedBooks(ctx, book.Genre, book.ID, relatedLimit)
}

// Genres lists the distinct genres in the catalog.
func (a *App) Genres(ctx context.Context) ([]string, error) {
	return a.store.ListGenres(ctx)
}

// MyBooks lists the books the caller added.
func (a *App) MyBooks(ctx context.Context, id auth.Identity) ([]domain.Book, error) {
	return a.store.ListBooksByAddedBy(ctx, id.Email)
}

// CreateBook validates in and stores a new book owned by the caller.
func (a *App) CreateBook(ctx context.Context, id auth.Identity, in BookInput) (domain.Book, error) {
	in, err := a.validateBookInput(in)
	if err != nil {
		return domain.Book{}, err
	}
	book := domain.Book{
		ID:        newID(),
		Rating:    0,
		AddedBy:   id.Email,
		CreatedAt: a.clock(),
	}
	applyBookInput(&book, in)
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book: %w", err)
	}
	return book, nil
}

// UpdateBook replaces the writable fields of a book the caller owns (or any book, for admins).
func (a *App) UpdateBook(ctx context.Context, id auth.Identity, bookID string, in BookInput) (domain.Book, error) {
	var (
		book     domain.Book
		affected []string
	)
	err := a.store.InTx(ctx, func(tx store.Store) error {
		var err error
		book, err = a.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !canManage(id, book) {
			return newError(ErrForbidden, "Not authorized to update this book")
		}
		if in, err = a.validateBookInput(in); err != nil {
			return err
		}
		applyBookInput(&book, in)
		if err := tx.SaveBook(ctx, book); err != nil {
			return fmt.Errorf("save book: %w", err)
		}
		affected, err = tx.CartUserIDsForBook(ctx, book.ID)
		return err
	})
	if err != nil {
		return domain.Book{}, err
	}
	a.invalidateSummaries(ctx, affected...)
	return book, nil
}

// DeleteBook removes a book the caller owns (or any book, for admins) along
// with every cart line referencing it.
func (a *App) DeleteBook(ctx context.Context, id auth.Identity, bookID string) error {
	var affected []string
	err := a.store.InTx(ctx, func(tx store.Store) error {
		book, err := a.getBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !canManage(id, book) {
			return newError(ErrForbidden, "Not authorized to delete this book")
		}
		if affected, err = tx.CartUserIDsForBook(ctx, book.ID); err != nil {
			return err
		}
		return tx.DeleteBook(ctx, book.ID)
	})
	if err != nil {
		return err
	}
	a.invalidateSummaries(ctx, affected...)
	util.LoggerFromContext(ctx).Info("book deleted", "book_id", bookID, "by", id.Email, "carts_affected", len(affected))
	return nil
}

func canManage(id auth.Identity, book domain.Book) bool {
	return book.AddedBy == id.Email || id.IsAdmin()
}

func (a *App) validateBookInput(in BookInput) (BookInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Genre = strings.TrimSpace(in.Genre)
	in.Image = strings.TrimSpace(in.Image)
	today := domain.NewDate(a.clock())

	switch {
	case utf8.RuneCountInString(in.Title) < 2:
		return in, newError(ErrValidation, "Title must be at least 2 characters long")
	case utf8.RuneCountInString(in.Author) < 2:
		return in, newError(ErrValidation, "Author must be at least 2 characters long")
	case in.PublicationDate.IsZero():
		return in, newError(ErrValidation, "Publication date is required")
	case in.PublicationDate.After(today.Time):
		return in, newError(ErrValidation, "Publication date cannot be in the future")
	case in.Genre == "":
		return in, newError(ErrValidation, "Genre is required")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(in.Description)); n < 10 || utf8.RuneCountInString(in.Description) > 1000 {
		return in, newError(ErrValidation, "Description must be between 10 and 1000 characters")
	}
	if in.Price.LessThan(minBookPrice) || in.Price.GreaterThan(maxBookPrice) {
		return in, newError(ErrValidation, "Price must be between 0.01 and 999.99")
	}
	if !validImageURL(in.Image) {
		return in, newError(ErrValidation, "Invalid image URL")
	}
	if in.Stock == nil {
		return in, newError(ErrValidation, "Stock is required")
	}
	if *in.Stock < 0 {
		return in, newError(ErrValidation, "Stock cannot be negative")
	}
	in.Price = in.Price.Round(2)
	return in, nil
}

func applyBookInput(book *domain.Book, in BookInput) {
	book.Title = in.Title
	book.Author = in.Author
	book.PublicationDate = in.PublicationDate
	book.Genre = in.Genre
	book.Description = in.Description
	book.Price = in.Price
	book.Image = in.Image
	book.InStock = in.Stock != nil && *in.Stock > 0
}

func validImageURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
