package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bookhaven/pkg/catalog"
	"bookhaven/pkg/domain"
)

type cartKey struct {
	userID string
	bookID string
}

type memoryLine struct {
	line domain.CartLine
	seq  int64
}

// MemoryStore keeps all records in-process. It backs tests.
//
// Writes outside InTx also take txMu, so a transaction never observes or
// rolls back a write it did not make.
type MemoryStore struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	users     map[string]domain.User // key: user ID
	emails    map[string]string      // email -> user ID
	books     map[string]domain.Book
	bookOrder []string
	lines     map[cartKey]memoryLine
	seq       int64
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]domain.User),
		emails: make(map[string]string),
		books:  make(map[string]domain.Book),
		lines:  make(map[cartKey]memoryLine),
	}
}

type memorySnapshot struct {
	users     map[string]domain.User
	emails    map[string]string
	books     map[string]domain.Book
	bookOrder []string
	lines     map[cartKey]memoryLine
	seq       int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		users:     make(map[string]domain.User, len(m.users)),
		emails:    make(map[string]string, len(m.emails)),
		books:     make(map[string]domain.Book, len(m.books)),
		bookOrder: append([]string(nil), m.bookOrder...),
		lines:     make(map[cartKey]memoryLine, len(m.lines)),
		seq:       m.seq,
	}
	for k, v := range m.users {
		snap.users[k] = v
	}
	for k, v := range m.emails {
		snap.emails[k] = v
	}
	for k, v := range m.books {
		snap.books[k] = v
	}
	for k, v := range m.lines {
		snap.lines[k] = v
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.emails = snap.emails
	m.books = snap.books
	m.bookOrder = snap.bookOrder
	m.lines = snap.lines
	m.seq = snap.seq
}

// InTx serializes transactions and restores the previous state when fn fails.
func (m *MemoryStore) InTx(_ context.Context, fn func(tx Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(memoryTx{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// memoryTx is the Store handed to transaction bodies. It already holds txMu;
// nested InTx calls join the enclosing transaction.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) InTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t memoryTx) CreateUser(_ context.Context, u domain.User) error {
	return t.createUser(u)
}

func (t memoryTx) SaveBook(_ context.Context, b domain.Book) error {
	t.saveBook(b)
	return nil
}

func (t memoryTx) DeleteBook(_ context.Context, id string) error {
	t.deleteBook(id)
	return nil
}

func (t memoryTx) InsertCartLine(_ context.Context, line domain.CartLine) error {
	return t.insertCartLine(line)
}

func (t memoryTx) UpdateCartLineQuantity(_ context.Context, line domain.CartLine, quantity int) (domain.CartLine, error) {
	return t.updateCartLineQuantity(line, quantity)
}

func (t memoryTx) DeleteCartLine(_ context.Context, userID, bookID string) (bool, error) {
	return t.deleteCartLine(userID, bookID), nil
}

func (t memoryTx) DeleteCartLines(_ context.Context, userID string) (int, error) {
	return t.deleteCartLines(userID), nil
}

// CreateUser registers a user; emails are unique.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.createUser(u)
}

func (m *MemoryStore) createUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.emails[u.Email]; exists {
		return ErrDuplicateEmail
	}
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.emails[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveBook stores or replaces a book record and tracks insertion order.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.saveBook(b)
	return nil
}

func (m *MemoryStore) saveBook(b domain.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, exists := m.books[b.ID]; exists {
		b.AddedBy = existing.AddedBy
		b.CreatedAt = existing.CreatedAt
	} else {
		m.bookOrder = append(m.bookOrder, b.ID)
	}
	m.books[b.ID] = b
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(_ context.Context, id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns matching books in insertion order.
func (m *MemoryStore) ListBooks(_ context.Context, filter catalog.Filter) ([]domain.Book, error) {
	return filter.Apply(m.orderedBooks()), nil
}

// ListBooksByAddedBy returns books created by email.
func (m *MemoryStore) ListBooksByAddedBy(_ context.Context, email string) ([]domain.Book, error) {
	res := make([]domain.Book, 0)
	for _, b := range m.orderedBooks() {
		if b.AddedBy == email {
			res = append(res, b)
		}
	}
	return res, nil
}

// ListNewestBooks returns the most recently created books.
func (m *MemoryStore) ListNewestBooks(_ context.Context, limit int) ([]domain.Book, error) {
	books := m.orderedBooks()
	sort.SliceStable(books, func(i, j int) bool { return books[i].CreatedAt.After(books[j].CreatedAt) })
	return truncateBooks(books, limit), nil
}

// ListTopRatedBooks returns the highest rated books.
func (m *MemoryStore) ListTopRatedBooks(_ context.Context, limit int) ([]domain.Book, error) {
	books := m.orderedBooks()
	sort.SliceStable(books, func(i, j int) bool { return books[i].Rating > books[j].Rating })
	return truncateBooks(books, limit), nil
}

// ListRelatedBooks returns other books of the same genre.
func (m *MemoryStore) ListRelatedBooks(_ context.Context, genre, excludeID string, limit int) ([]domain.Book, error) {
	res := make([]domain.Book, 0)
	for _, b := range m.orderedBooks() {
		if b.Genre == genre && b.ID != excludeID {
			res = append(res, b)
		}
	}
	return truncateBooks(res, limit), nil
}

// ListGenres returns distinct non-empty genres in alphabetical order.
func (m *MemoryStore) ListGenres(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	genres := make([]string, 0)
	for _, b := range m.books {
		if strings.TrimSpace(b.Genre) == "" {
			continue
		}
		if _, ok := seen[b.Genre]; ok {
			continue
		}
		seen[b.Genre] = struct{}{}
		genres = append(genres, b.Genre)
	}
	sort.Strings(genres)
	return genres, nil
}

// DeleteBook removes a book and the cart lines referencing it.
func (m *MemoryStore) DeleteBook(_ context.Context, id string) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.deleteBook(id)
	return nil
}

func (m *MemoryStore) deleteBook(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	filtered := m.bookOrder[:0]
	for _, item := range m.bookOrder {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.bookOrder = filtered
	for key := range m.lines {
		if key.bookID == id {
			delete(m.lines, key)
		}
	}
}

func (m *MemoryStore) orderedBooks() []domain.Book {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.bookOrder))
	for _, id := range m.bookOrder {
		if b, ok := m.books[id]; ok {
			res = append(res, b)
		}
	}
	return res
}

func truncateBooks(books []domain.Book, limit int) []domain.Book {
	if limit > 0 && len(books) > limit {
		return books[:limit]
	}
	return books
}

// ListCartLines returns the user's lines joined with books, newest first.
func (m *MemoryStore) ListCartLines(_ context.Context, userID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]memoryLine, 0)
	for key, entry := range m.lines {
		if key.userID == userID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq > entries[j].seq })
	res := make([]domain.CartLine, 0, len(entries))
	for _, entry := range entries {
		res = append(res, m.joinLocked(entry.line))
	}
	return res, nil
}

// GetCartLine returns the line for (userID, bookID).
func (m *MemoryStore) GetCartLine(_ context.Context, userID, bookID string) (domain.CartLine, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.lines[cartKey{userID: userID, bookID: bookID}]
	if !ok {
		return domain.CartLine{}, false, nil
	}
	return m.joinLocked(entry.line), true, nil
}

func (m *MemoryStore) joinLocked(line domain.CartLine) domain.CartLine {
	line.Book = m.books[line.BookID]
	return line
}

// InsertCartLine creates a line; one line per (user, book).
func (m *MemoryStore) InsertCartLine(_ context.Context, line domain.CartLine) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.insertCartLine(line)
}

func (m *MemoryStore) insertCartLine(line domain.CartLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cartKey{userID: line.UserID, bookID: line.BookID}
	if _, exists := m.lines[key]; exists {
		return ErrDuplicateCartLine
	}
	m.seq++
	line.Book = domain.Book{}
	m.lines[key] = memoryLine{line: line, seq: m.seq}
	return nil
}

// UpdateCartLineQuantity is a compare-and-swap on the line version.
func (m *MemoryStore) UpdateCartLineQuantity(_ context.Context, line domain.CartLine, quantity int) (domain.CartLine, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.updateCartLineQuantity(line, quantity)
}

func (m *MemoryStore) updateCartLineQuantity(line domain.CartLine, quantity int) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cartKey{userID: line.UserID, bookID: line.BookID}
	entry, ok := m.lines[key]
	if !ok || entry.line.ID != line.ID {
		return domain.CartLine{}, ErrCartLineNotFound
	}
	if entry.line.Version != line.Version {
		return domain.CartLine{}, ErrStaleCartLine
	}
	entry.line.Quantity = quantity
	entry.line.Version++
	entry.line.UpdatedAt = time.Now().UTC()
	m.lines[key] = entry
	return m.joinLocked(entry.line), nil
}

// DeleteCartLine removes one line and reports whether it existed.
func (m *MemoryStore) DeleteCartLine(_ context.Context, userID, bookID string) (bool, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.deleteCartLine(userID, bookID), nil
}

func (m *MemoryStore) deleteCartLine(userID, bookID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cartKey{userID: userID, bookID: bookID}
	if _, ok := m.lines[key]; !ok {
		return false
	}
	delete(m.lines, key)
	return true
}

// DeleteCartLines removes all of a user's lines and returns the count.
func (m *MemoryStore) DeleteCartLines(_ context.Context, userID string) (int, error) {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return m.deleteCartLines(userID), nil
}

func (m *MemoryStore) deleteCartLines(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key := range m.lines {
		if key.userID == userID {
			delete(m.lines, key)
			removed++
		}
	}
	return removed
}

// CartUserIDsForBook lists users whose carts reference bookID.
func (m *MemoryStore) CartUserIDsForBook(_ context.Context, bookID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for key := range m.lines {
		if key.bookID == bookID {
			ids = append(ids, key.userID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
