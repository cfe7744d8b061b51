package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"bookhaven/internal/usertoken"
	"bookhaven/pkg/domain"
	"bookhaven/pkg/store"
	"bookhaven/services/bookstore/internal/app"
)

type stubLookup struct {
	err error
}

func (l stubLookup) Lookup(_ context.Context, id string) (domain.Book, error) {
	if l.err != nil {
		return domain.Book{}, l.err
	}
	return domain.Book{}, errors.New("volume " + id + " not found")
}

type testEnv struct {
	handler http.Handler
	store   *store.MemoryStore
}

func newTestEnv(t *testing.T, lookup app.BookLookup, opts ...func(*Config)) *testEnv {
	t.Helper()
	tokens, err := usertoken.NewService(usertoken.Config{Secret: strings.Repeat("k", 64), TTL: time.Hour})
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	mem := store.NewMemoryStore()
	if lookup == nil {
		lookup = stubLookup{}
	}
	a, err := app.New(app.Config{
		Store:       mem,
		Tokens:      tokens,
		Lookup:      lookup,
		Pricing:     app.FixedPricing{Amount: decimal.RequireFromString("12.50")},
		AdminEmails: []string{"root@example.com"},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{handler: srv.Router(), store: mem}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, username, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    email,
		"password": "secret-pw",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: expected 201, got %d: %s", email, rec.Code, rec.Body.String())
	}
	var resp authResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" {
		t.Fatalf("register %s: empty token", email)
	}
	return resp.Token
}

func (e *testEnv) seedBook(t *testing.T, id, title, price string, inStock bool) {
	t.Helper()
	err := e.store.SaveBook(context.Background(), domain.Book{
		ID:          id,
		Title:       title,
		Author:      "Frank Herbert",
		Genre:       "Science Fiction",
		Description: "Desert planet politics.",
		Price:       decimal.RequireFromString(price),
		Image:       "https://img.example/" + id + ".png",
		InStock:     inStock,
		AddedBy:     "owner@example.com",
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestRegisterLoginAndCheckoutFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBook(t, "dune-1965", "Dune", "19.99", true)
	env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"email":      "alice@example.com",
		"password":   "secret-pw",
		"rememberMe": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var login authResponse
	decodeBody(t, rec, &login)
	if login.Role != domain.RoleUser || login.Username != "alice" {
		t.Fatalf("unexpected login response: %+v", login)
	}
	token := login.Token

	rec = env.do(t, http.MethodGet, "/auth/validate-token", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate-token: expected 200, got %d", rec.Code)
	}

	for _, qty := range []int{2, 3} {
		rec = env.do(t, http.MethodPost, "/cart/add", token, map[string]any{"bookId": "dune-1965", "quantity": qty})
		if rec.Code != http.StatusCreated {
			t.Fatalf("add: expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	var item domain.CartItem
	decodeBody(t, rec, &item)
	if item.Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %d", item.Quantity)
	}

	rec = env.do(t, http.MethodGet, "/cart/count", token, nil)
	var count map[string]int
	decodeBody(t, rec, &count)
	if count["count"] != 1 {
		t.Fatalf("expected 1 line, got %v", count)
	}

	rec = env.do(t, http.MethodGet, "/cart/total", token, nil)
	var total map[string]string
	decodeBody(t, rec, &total)
	if total["total"] != "99.95" {
		t.Fatalf("expected total 99.95, got %v", total)
	}

	rec = env.do(t, http.MethodPost, "/cart/checkout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var checkout map[string]string
	decodeBody(t, rec, &checkout)
	if checkout["message"] != "Checkout successful. Total amount: $99.95" {
		t.Fatalf("unexpected checkout message %q", checkout["message"])
	}

	rec = env.do(t, http.MethodGet, "/cart", token, nil)
	var items []domain.CartItem
	decodeBody(t, rec, &items)
	if len(items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d items", len(items))
	}
}

func TestGateFailsOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBook(t, "dune-1965", "Dune", "19.99", true)

	rec := env.do(t, http.MethodGet, "/books", "not-a-jwt", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("public route with bad token: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/books/dune-1965", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("book by id: expected 200, got %d", rec.Code)
	}

	for _, token := range []string{"", "not-a-jwt"} {
		rec = env.do(t, http.MethodGet, "/cart", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("cart with token %q: expected 401, got %d", token, rec.Code)
		}
		var resp errorResponse
		decodeBody(t, rec, &resp)
		if resp.Code != "UNAUTHORIZED" || resp.RequestID == "" {
			t.Fatalf("unexpected error body: %+v", resp)
		}
	}

	rec = env.do(t, http.MethodGet, "/books/mine", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("books/mine without token: expected 401, got %d", rec.Code)
	}
}

func TestMeReportsStoredRole(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.register(t, "root", "root@example.com")

	rec := env.do(t, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var me struct {
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	decodeBody(t, rec, &me)
	if me.Email != "root@example.com" || len(me.Roles) != 1 || me.Roles[0] != "ADMIN" {
		t.Fatalf("unexpected me response: %+v", me)
	}
}

func TestCartErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBook(t, "dune-1965", "Dune", "19.99", true)
	env.seedBook(t, "gone-1", "Gone", "5.00", false)
	token := env.register(t, "alice", "alice@example.com")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"short id", http.MethodPost, "/cart/add", map[string]any{"bookId": "ab"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"out of stock", http.MethodPost, "/cart/add", map[string]any{"bookId": "gone-1"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown external", http.MethodPost, "/cart/add", map[string]any{"bookId": "nowhere"}, http.StatusBadGateway, "UPSTREAM_FETCH_FAILED"},
		{"update missing line", http.MethodPut, "/cart/dune-1965?quantity=2", nil, http.StatusNotFound, "NOT_FOUND"},
		{"bad quantity", http.MethodPut, "/cart/dune-1965?quantity=two", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"remove missing line", http.MethodDelete, "/cart/dune-1965", nil, http.StatusNotFound, "NOT_FOUND"},
		{"empty checkout", http.MethodPost, "/cart/checkout", nil, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, token, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			var resp errorResponse
			decodeBody(t, rec, &resp)
			if resp.Code != tc.code || resp.Error == "" {
				t.Fatalf("unexpected error body: %+v", resp)
			}
		})
	}
}

func TestUpdateCartItemToZeroReturnsNoContent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBook(t, "dune-1965", "Dune", "19.99", true)
	token := env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/cart/add", token, map[string]any{"bookId": "dune-1965"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/cart/dune-1965?quantity=4", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/cart/dune-1965?quantity=0", token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("update to zero: expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPut, "/cart/dune-1965?quantity=0", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second update: expected 404, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/cart", token, nil)
	var cleared map[string]int
	decodeBody(t, rec, &cleared)
	if rec.Code != http.StatusOK || cleared["removed"] != 0 {
		t.Fatalf("clear: unexpected %d %v", rec.Code, cleared)
	}
}

func TestBookWritesEnforceOwnership(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.register(t, "alice", "alice@example.com")
	bob := env.register(t, "bob", "bob@example.com")

	payload := map[string]any{
		"title":           "The Go Programming Language",
		"author":          "Alan Donovan",
		"publicationDate": "2015-10-26",
		"genre":           "Programming",
		"description":     "The authoritative resource for Go.",
		"price":           "34.99",
		"image":           "https://img.example/gopl.png",
		"stock":           3,
	}
	rec := env.do(t, http.MethodPost, "/books", alice, payload)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var book domain.Book
	decodeBody(t, rec, &book)
	if book.AddedBy != "alice@example.com" || !book.InStock {
		t.Fatalf("unexpected book: %+v", book)
	}

	rec = env.do(t, http.MethodPost, "/books", "", payload)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous create: expected 401, got %d", rec.Code)
	}

	payload["title"] = "Hijacked"
	rec = env.do(t, http.MethodPut, "/books/"+book.ID, bob, payload)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign update: expected 403, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/books/"+book.ID, bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign delete: expected 403, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/books/mine", alice, nil)
	var mine []domain.Book
	decodeBody(t, rec, &mine)
	if len(mine) != 1 {
		t.Fatalf("expected 1 book of mine, got %d", len(mine))
	}

	rec = env.do(t, http.MethodDelete, "/books/"+book.ID, alice, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("owner delete: expected 204, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/books/"+book.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted book: expected 404, got %d", rec.Code)
	}
}

func TestListBooksQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seedBook(t, "b-1", "Alpha", "10.00", true)
	env.seedBook(t, "b-2", "Bravo", "25.00", true)
	env.seedBook(t, "b-3", "Charlie", "10.00", true)

	rec := env.do(t, http.MethodGet, "/books?sortBy=price&sortOrder=desc", "", nil)
	var books []domain.Book
	decodeBody(t, rec, &books)
	if len(books) != 3 || books[0].ID != "b-2" || books[1].ID != "b-1" || books[2].ID != "b-3" {
		t.Fatalf("unexpected order: %+v", books)
	}

	rec = env.do(t, http.MethodGet, "/books?search=ARL", "", nil)
	books = nil
	decodeBody(t, rec, &books)
	if len(books) != 1 || books[0].Title != "Charlie" {
		t.Fatalf("unexpected search result: %+v", books)
	}

	rec = env.do(t, http.MethodGet, "/books/related/missing", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("related of unknown book: expected 404, got %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, nil, func(cfg *Config) {
		cfg.Redis = client
		cfg.LoginRateLimitPerMinute = 1
	})
	env.register(t, "alice", "alice@example.com")

	body := map[string]string{"email": "alice@example.com", "password": "secret-pw"}
	rec := env.do(t, http.MethodPost, "/auth/login", "", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("first login: expected 200, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestLoginRateLimitFailsClosedWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := newTestEnv(t, nil, func(cfg *Config) { cfg.Redis = client })
	mr.Close()

	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@example.com", "password": "x"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 with redis down, got %d", rec.Code)
	}
}

func TestBadCredentialsAreUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error != "Invalid email or password" {
		t.Fatalf("unexpected message %q", resp.Error)
	}

	rec = env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice2", "email": "alice@example.com", "password": "pw",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", rec.Code)
	}
}
