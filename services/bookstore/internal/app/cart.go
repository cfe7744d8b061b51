package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"bookhaven/internal/util"
	"bookhaven/pkg/auth"
	"bookhaven/pkg/domain"
	"bookhaven/pkg/store"
)

// Attempts for a cart write that loses a race on the line version or the
// (user, book) unique index.
const maxCartAttempts = 3

// maxLineQuantity caps a single cart line, including merged adds.
const maxLineQuantity = 999

// errBookMissing aborts an add transaction so the book can be fetched
// from the external catalog outside of it.
var errBookMissing = errors.New("book not in local catalog")

// CheckoutResult is the outcome of a successful checkout.
type CheckoutResult struct {
	Total   decimal.Decimal
	Message string
}

// Cart returns the caller's lines joined with book data, newest first.
func (a *App) Cart(ctx context.Context, id auth.Identity) ([]domain.CartItem, error) {
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return nil, err
	}
	lines, err := a.store.ListCartLines(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	items := make([]domain.CartItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.CartItemFromLine(line))
	}
	return items, nil
}

// AddToCart adds quantity (default 1) of bookID to the caller's cart, merging
// into an existing line. Books unknown locally are fetched from the external
// catalog and persisted first.
func (a *App) AddToCart(ctx context.Context, id auth.Identity, bookID string, quantity *int) (domain.CartItem, error) {
	bookID = strings.TrimSpace(bookID)
	if len(bookID) < 3 {
		return domain.CartItem{}, newError(ErrValidation, "Invalid book ID format")
	}
	qty := 1
	if quantity != nil {
		qty = *quantity
	}
	if qty < 1 {
		return domain.CartItem{}, newError(ErrValidation, "Quantity must be at least 1")
	}
	if qty > maxLineQuantity {
		return domain.CartItem{}, newError(ErrValidation, "Quantity cannot exceed %d", maxLineQuantity)
	}
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return domain.CartItem{}, err
	}

	fetched := false
	conflicts := 0
	for {
		var line domain.CartLine
		err := a.store.InTx(ctx, func(tx store.Store) error {
			existing, ok, err := tx.GetCartLine(ctx, user.ID, bookID)
			if err != nil {
				return fmt.Errorf("fetch cart line: %w", err)
			}
			if ok {
				if existing.Quantity > maxLineQuantity-qty {
					return newError(ErrValidation, "Quantity cannot exceed %d", maxLineQuantity)
				}
				line, err = tx.UpdateCartLineQuantity(ctx, existing, existing.Quantity+qty)
				return err
			}
			book, ok, err := tx.GetBook(ctx, bookID)
			if err != nil {
				return fmt.Errorf("fetch book: %w", err)
			}
			if !ok {
				return errBookMissing
			}
			if !book.InStock {
				return newError(ErrValidation, "Book '%s' is currently out of stock", book.Title)
			}
			now := a.clock()
			line = domain.CartLine{
				ID:        newID(),
				UserID:    user.ID,
				BookID:    book.ID,
				Quantity:  qty,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertCartLine(ctx, line); err != nil {
				return err
			}
			line.Book = book
			return nil
		})
		switch {
		case err == nil:
			a.invalidateSummaries(ctx, user.ID)
			return domain.CartItemFromLine(line), nil
		case errors.Is(err, errBookMissing):
			if fetched {
				return domain.CartItem{}, newError(ErrNotFound, "Book not found with id: %s", bookID)
			}
			if err := a.fetchExternalBook(ctx, bookID); err != nil {
				return domain.CartItem{}, err
			}
			fetched = true
		case retryableCartError(err):
			conflicts++
			if conflicts >= maxCartAttempts {
				return domain.CartItem{}, wrapError(ErrConflict, err, "Cart was modified concurrently, please retry")
			}
			util.LoggerFromContext(ctx).Debug("cart add retry", "book_id", bookID, "attempt", conflicts, "err", err)
		default:
			return domain.CartItem{}, err
		}
	}
}

// UpdateCartItem sets the quantity of an existing line. Quantity 0 removes the
// line and reports removed=true.
func (a *App) UpdateCartItem(ctx context.Context, id auth.Identity, bookID string, quantity int) (item domain.CartItem, removed bool, err error) {
	bookID = strings.TrimSpace(bookID)
	if quantity > maxLineQuantity {
		return domain.CartItem{}, false, newError(ErrValidation, "Quantity cannot exceed %d", maxLineQuantity)
	}
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return domain.CartItem{}, false, err
	}

	for conflicts := 0; ; {
		var line domain.CartLine
		removed = false
		err = a.store.InTx(ctx, func(tx store.Store) error {
			existing, ok, err := tx.GetCartLine(ctx, user.ID, bookID)
			if err != nil {
				return fmt.Errorf("fetch cart line: %w", err)
			}
			if !ok {
				return newError(ErrNotFound, "Cart item not found for book id: %s", bookID)
			}
			if quantity < 0 {
				return newError(ErrValidation, "Quantity cannot be negative")
			}
			if quantity == 0 {
				if _, err := tx.DeleteCartLine(ctx, user.ID, bookID); err != nil {
					return fmt.Errorf("delete cart line: %w", err)
				}
				removed = true
				return nil
			}
			if !existing.Book.InStock {
				return newError(ErrValidation, "Book '%s' is currently out of stock", existing.Book.Title)
			}
			line, err = tx.UpdateCartLineQuantity(ctx, existing, quantity)
			return err
		})
		if err == nil {
			a.invalidateSummaries(ctx, user.ID)
			if removed {
				return domain.CartItem{}, true, nil
			}
			return domain.CartItemFromLine(line), false, nil
		}
		if !retryableCartError(err) {
			return domain.CartItem{}, false, err
		}
		if errors.Is(err, store.ErrCartLineNotFound) {
			return domain.CartItem{}, false, wrapError(ErrNotFound, err, "Cart item not found for book id: %s", bookID)
		}
		if conflicts++; conflicts >= maxCartAttempts {
			return domain.CartItem{}, false, wrapError(ErrConflict, err, "Cart was modified concurrently, please retry")
		}
	}
}

// RemoveFromCart deletes the caller's line for bookID.
func (a *App) RemoveFromCart(ctx context.Context, id auth.Identity, bookID string) error {
	bookID = strings.TrimSpace(bookID)
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return err
	}
	err = a.store.InTx(ctx, func(tx store.Store) error {
		ok, err := tx.DeleteCartLine(ctx, user.ID, bookID)
		if err != nil {
			return fmt.Errorf("delete cart line: %w", err)
		}
		if !ok {
			return newError(ErrNotFound, "Cart item not found for book id: %s", bookID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.invalidateSummaries(ctx, user.ID)
	return nil
}

// ClearCart empties the caller's cart and returns the number of lines removed.
func (a *App) ClearCart(ctx context.Context, id auth.Identity) (int, error) {
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return 0, err
	}
	var removed int
	err = a.store.InTx(ctx, func(tx store.Store) error {
		removed, err = tx.DeleteCartLines(ctx, user.ID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	a.invalidateSummaries(ctx, user.ID)
	util.LoggerFromContext(ctx).Info("cart cleared", "user_id", user.ID, "removed", removed)
	return removed, nil
}

// Checkout validates every line, totals the cart and drains it in one
// transaction. Any failure leaves the cart untouched. No order is recorded.
func (a *App) Checkout(ctx context.Context, id auth.Identity) (CheckoutResult, error) {
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return CheckoutResult{}, err
	}
	var total decimal.Decimal
	err = a.store.InTx(ctx, func(tx store.Store) error {
		lines, err := tx.ListCartLines(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("list cart: %w", err)
		}
		if len(lines) == 0 {
			return newError(ErrValidation, "Cannot checkout with empty cart")
		}
		for _, line := range lines {
			if !line.Book.InStock {
				return newError(ErrValidation, "Book '%s' is no longer available", line.Book.Title)
			}
		}
		total = domain.SummarizeCart(lines).Total
		if _, err := tx.DeleteCartLines(ctx, user.ID); err != nil {
			return fmt.Errorf("drain cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}
	a.invalidateSummaries(ctx, user.ID)
	util.LoggerFromContext(ctx).Info("checkout completed", "user_id", user.ID, "total", total.StringFixed(2))
	return CheckoutResult{
		Total:   total,
		Message: fmt.Sprintf("Checkout successful. Total amount: $%s", total.StringFixed(2)),
	}, nil
}

// CartItemCount returns the number of lines in the caller's cart.
func (a *App) CartItemCount(ctx context.Context, id auth.Identity) (int, error) {
	summary, err := a.cartSummary(ctx, id)
	if err != nil {
		return 0, err
	}
	return summary.Count, nil
}

// CartTotal returns the exact sum of price times quantity over the caller's cart.
func (a *App) CartTotal(ctx context.Context, id auth.Identity) (decimal.Decimal, error) {
	summary, err := a.cartSummary(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Total, nil
}

func (a *App) cartSummary(ctx context.Context, id auth.Identity) (domain.CartSummary, error) {
	user, err := a.resolveUser(ctx, a.store, id)
	if err != nil {
		return domain.CartSummary{}, err
	}
	logger := util.LoggerFromContext(ctx)
	if summary, ok, err := a.summaries.Get(ctx, user.ID); err != nil {
		logger.Warn("cart summary cache read failed", "user_id", user.ID, "err", err)
	} else if ok {
		return summary, nil
	}
	v, err, _ := a.summaryFills.Do(user.ID, func() (any, error) {
		gen := a.summaryGeneration(user.ID)
		lines, err := a.store.ListCartLines(ctx, user.ID)
		if err != nil {
			return domain.CartSummary{}, fmt.Errorf("list cart: %w", err)
		}
		summary := domain.SummarizeCart(lines)
		// Set and Invalidate both run under summaryMu, so the write either
		// lands before a concurrent invalidation or is skipped.
		a.summaryMu.Lock()
		defer a.summaryMu.Unlock()
		if a.summaryGens[user.ID] != gen {
			return summary, nil
		}
		if err := a.summaries.Set(ctx, user.ID, summary); err != nil {
			logger.Warn("cart summary cache write failed", "user_id", user.ID, "err", err)
		}
		return summary, nil
	})
	if err != nil {
		return domain.CartSummary{}, err
	}
	return v.(domain.CartSummary), nil
}

// invalidateSummaries runs after a committed cart mutation.
func (a *App) invalidateSummaries(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	a.summaryMu.Lock()
	defer a.summaryMu.Unlock()
	for _, id := range userIDs {
		a.summaryGens[id]++
	}
	if err := a.summaries.Invalidate(ctx, userIDs...); err != nil {
		util.LoggerFromContext(ctx).Warn("cart summary invalidation failed", "user_ids", userIDs, "err", err)
	}
}

func (a *App) summaryGeneration(userID string) uint64 {
	a.summaryMu.Lock()
	defer a.summaryMu.Unlock()
	return a.summaryGens[userID]
}

func retryableCartError(err error) bool {
	return errors.Is(err, store.ErrStaleCartLine) ||
		errors.Is(err, store.ErrDuplicateCartLine) ||
		errors.Is(err, store.ErrCartLineNotFound)
}
