package app

import (
	"context"
	"time"

	"bookhaven/internal/util"
)

// externalFetchTimeout bounds a shared fetch, which outlives the caller that
// started it.
const externalFetchTimeout = 15 * time.Second

// fetchExternalBook pulls bookID from the external catalog and stores it with
// a price from the pricing policy. Concurrent fetches of one id share a call,
// so the call is detached from the first caller's cancellation.
func (a *App) fetchExternalBook(ctx context.Context, bookID string) error {
	_, err, _ := a.bookFetches.Do(bookID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), externalFetchTimeout)
		defer cancel()
		logger := util.LoggerFromContext(ctx)
		logger.Info("book not in local catalog, fetching from external catalog", "book_id", bookID)
		book, err := a.lookup.Lookup(ctx, bookID)
		if err != nil {
			logger.Warn("external catalog lookup failed", "book_id", bookID, "err", err)
			return nil, wrapError(ErrUpstreamFetch, err, "Failed to fetch book %s from external catalog", bookID)
		}
		book.ID = bookID
		book.Price = a.pricing.Price(book)
		if book.CreatedAt.IsZero() {
			book.CreatedAt = a.clock()
		}
		if err := a.store.SaveBook(ctx, book); err != nil {
			return nil, wrapError(ErrUpstreamFetch, err, "Failed to store book %s from external catalog", bookID)
		}
		return nil, nil
	})
	return err
}
