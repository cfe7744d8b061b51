package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bookhaven/pkg/catalog"
	"bookhaven/pkg/domain"
)

func seedBook(t *testing.T, s *MemoryStore, id, title, genre, price string) domain.Book {
	t.Helper()
	b := domain.Book{
		ID:        id,
		Title:     title,
		Author:    "Author " + id,
		Genre:     genre,
		Price:     decimal.RequireFromString(price),
		InStock:   true,
		AddedBy:   "owner@x.com",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveBook(context.Background(), b); err != nil {
		t.Fatalf("save book: %v", err)
	}
	return b
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateUser(ctx, domain.User{ID: "u1", Email: "a@x.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.User{ID: "u2", Email: "a@x.com"}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	u, ok, err := s.GetUserByEmail(ctx, "a@x.com")
	if err != nil || !ok || u.ID != "u1" {
		t.Fatalf("lookup by email: %+v ok=%v err=%v", u, ok, err)
	}
}

func TestMemoryStoreListBooksKeepsInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	seedBook(t, s, "b1", "Zebra", "Fiction", "10.00")
	seedBook(t, s, "b2", "Apple", "Science", "20.00")
	seedBook(t, s, "b3", "Mango", "Fiction", "30.00")

	books, err := s.ListBooks(context.Background(), catalog.Filter{Genre: "Fiction"})
	if err != nil {
		t.Fatalf("list books: %v", err)
	}
	if len(books) != 2 || books[0].ID != "b1" || books[1].ID != "b3" {
		t.Fatalf("unexpected books: %+v", books)
	}
	genres, _ := s.ListGenres(context.Background())
	if len(genres) != 2 || genres[0] != "Fiction" || genres[1] != "Science" {
		t.Fatalf("unexpected genres: %v", genres)
	}
}

func TestMemoryStoreCartLineCompareAndSwap(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", "Go", "Tech", "12.50")

	line := domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1}
	if err := s.InsertCartLine(ctx, line); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertCartLine(ctx, domain.CartLine{ID: "l2", UserID: "u1", BookID: "b1", Quantity: 1}); !errors.Is(err, ErrDuplicateCartLine) {
		t.Fatalf("expected ErrDuplicateCartLine, got %v", err)
	}

	current, ok, err := s.GetCartLine(ctx, "u1", "b1")
	if err != nil || !ok {
		t.Fatalf("get line: ok=%v err=%v", ok, err)
	}
	if !current.Book.Price.Equal(decimal.RequireFromString("12.50")) {
		t.Fatalf("expected joined book, got %+v", current.Book)
	}
	updated, err := s.UpdateCartLineQuantity(ctx, current, 3)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 3 || updated.Version != current.Version+1 {
		t.Fatalf("unexpected updated line: %+v", updated)
	}
	if _, err := s.UpdateCartLineQuantity(ctx, current, 5); !errors.Is(err, ErrStaleCartLine) {
		t.Fatalf("expected ErrStaleCartLine, got %v", err)
	}
}

func TestMemoryStoreDeleteBookCascadesToCarts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", "Go", "Tech", "10.00")
	seedBook(t, s, "b2", "Rust", "Tech", "10.00")
	for _, line := range []domain.CartLine{
		{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1},
		{ID: "l2", UserID: "u2", BookID: "b1", Quantity: 2},
		{ID: "l3", UserID: "u2", BookID: "b2", Quantity: 1},
	} {
		if err := s.InsertCartLine(ctx, line); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	users, _ := s.CartUserIDsForBook(ctx, "b1")
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected users: %v", users)
	}
	if err := s.DeleteBook(ctx, "b1"); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	lines, _ := s.ListCartLines(ctx, "u2")
	if len(lines) != 1 || lines[0].BookID != "b2" {
		t.Fatalf("unexpected remaining lines: %+v", lines)
	}
	lines, _ = s.ListCartLines(ctx, "u1")
	if len(lines) != 0 {
		t.Fatalf("expected empty cart, got %+v", lines)
	}
}

func TestMemoryStoreListCartLinesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", "One", "Tech", "1.00")
	seedBook(t, s, "b2", "Two", "Tech", "2.00")
	_ = s.InsertCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1})
	_ = s.InsertCartLine(ctx, domain.CartLine{ID: "l2", UserID: "u1", BookID: "b2", Quantity: 1})

	lines, err := s.ListCartLines(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != 2 || lines[0].BookID != "b2" || lines[1].BookID != "b1" {
		t.Fatalf("unexpected order: %+v", lines)
	}
}

func TestMemoryStoreInTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", "Go", "Tech", "10.00")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Store) error {
		if err := tx.InsertCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1}); err != nil {
			return err
		}
		return tx.InTx(ctx, func(inner Store) error {
			if _, err := inner.DeleteCartLines(ctx, "u1"); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := s.GetCartLine(ctx, "u1", "b1"); ok {
		t.Fatalf("expected insert to be rolled back")
	}
}

func TestMemoryStoreRollbackKeepsConcurrentWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBook(t, s, "b1", "Go", "Tech", "10.00")
	boom := errors.New("boom")

	inside := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(tx Store) error {
			if err := tx.InsertCartLine(ctx, domain.CartLine{ID: "l1", UserID: "u1", BookID: "b1", Quantity: 1}); err != nil {
				return err
			}
			close(inside)
			<-release
			return boom
		})
	}()
	<-inside

	userDone := make(chan error, 1)
	go func() {
		userDone <- s.CreateUser(ctx, domain.User{ID: "u2", Email: "bob@x.com", Role: domain.RoleUser})
	}()
	select {
	case err := <-userDone:
		t.Fatalf("create user finished inside an open transaction: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-txDone; !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := <-userDone; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, ok, _ := s.GetUserByEmail(ctx, "bob@x.com"); !ok {
		t.Fatalf("expected user written beside the rolled back transaction to survive")
	}
	if _, ok, _ := s.GetCartLine(ctx, "u1", "b1"); ok {
		t.Fatalf("expected insert to be rolled back")
	}
}
