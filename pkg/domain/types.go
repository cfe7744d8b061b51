package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// SystemUser is recorded as AddedBy for books fetched from the external catalog.
const SystemUser = "System"

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Book struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Author          string          `json:"author"`
	PublicationDate Date            `json:"publicationDate"`
	Genre           string          `json:"genre"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image"`
	Rating          float64         `json:"rating"`
	InStock         bool            `json:"inStock"`
	AddedBy         string          `json:"addedBy"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CartLine is one (user, book) row of a cart. Book is populated on reads.
type CartLine struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	Quantity  int       `json:"quantity"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Book      Book      `json:"-"`
}

// Subtotal returns unit price times quantity.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Book.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartItem is the client-facing view of a cart line.
type CartItem struct {
	ID       string          `json:"id"`
	BookID   string          `json:"bookId"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	Genre    string          `json:"genre"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// CartItemFromLine flattens a cart line joined with its book.
func CartItemFromLine(l CartLine) CartItem {
	return CartItem{
		ID:       l.ID,
		BookID:   l.BookID,
		Title:    l.Book.Title,
		Author:   l.Book.Author,
		Genre:    l.Book.Genre,
		Image:    l.Book.Image,
		Price:    l.Book.Price,
		Quantity: l.Quantity,
	}
}

// CartSummary holds the memoized per-user cart aggregates.
type CartSummary struct {
	Count    int             `json:"count"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// SummarizeCart computes aggregates over lines using exact decimal arithmetic.
func SummarizeCart(lines []CartLine) CartSummary {
	summary := CartSummary{Total: decimal.Zero}
	for _, l := range lines {
		summary.Count++
		summary.Quantity += l.Quantity
		summary.Total = summary.Total.Add(l.Subtotal())
	}
	return summary
}

const dateLayout = "2006-01-02"

// Date is a calendar date serialized as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to midnight UTC of its calendar day.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(dateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
