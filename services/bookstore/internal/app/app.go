package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bookhaven/internal/usertoken"
	"bookhaven/pkg/domain"
	"bookhaven/pkg/store"
)

// BookLookup fetches catalog metadata for ids unknown to the local store.
type BookLookup interface {
	Lookup(ctx context.Context, id string) (domain.Book, error)
}

// Config holds runtime dependencies for the application.
type Config struct {
	DatabaseURL    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	Store     store.Store
	Summaries store.CartSummaryCache
	Tokens    *usertoken.Service
	Lookup    BookLookup
	Pricing   PricingPolicy

	// AdminEmails register with role ADMIN.
	AdminEmails []string
	Now         func() time.Time
}

// App is the bookstore service: accounts, catalog and carts.
type App struct {
	store     store.Store
	summaries store.CartSummaryCache
	tokens    *usertoken.Service
	lookup    BookLookup
	pricing   PricingPolicy
	admins    map[string]struct{}
	now       func() time.Time

	summaryFills singleflight.Group
	bookFetches  singleflight.Group

	// summaryGens counts invalidations per user so a fill that raced one
	// does not write its stale result back.
	summaryMu   sync.Mutex
	summaryGens map[string]uint64
}

// New constructs the application. A Postgres store is opened when cfg.Store is nil.
func New(cfg Config) (*App, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service required")
	}
	if cfg.Lookup == nil {
		return nil, fmt.Errorf("book lookup required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithPoolSize(cfg.DBMaxOpenConns, cfg.DBMaxIdleConns))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	summaries := cfg.Summaries
	if summaries == nil {
		summaries = store.NewMemoryCartSummaryCache()
	}
	pricing := cfg.Pricing
	if pricing == nil {
		pricing = NewRandomPricing(0)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			admins[email] = struct{}{}
		}
	}
	return &App{
		store:     dataStore,
		summaries: summaries,
		tokens:    cfg.Tokens,
		lookup:    cfg.Lookup,
		pricing:   pricing,
		admins:    admins,
		now:       now,

		summaryGens: make(map[string]uint64),
	}, nil
}

func (a *App) clock() time.Time {
	return a.now().UTC()
}

func newID() string {
	return uuid.NewString()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
