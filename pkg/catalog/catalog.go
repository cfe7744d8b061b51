// Package catalog holds the book search and ordering rules shared by the
// stores and the application layer.
package catalog

import (
	"sort"
	"strings"

	"bookhaven/pkg/domain"
)

const (
	SortTitle           = "title"
	SortAuthor          = "author"
	SortPrice           = "price"
	SortRating          = "rating"
	SortPublicationDate = "publicationdate"

	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Filter narrows a book listing. Empty fields match everything.
type Filter struct {
	Search string
	Genre  string
}

// Matches reports whether b satisfies the filter: a case-insensitive substring
// match on title, author or genre AND an exact genre match.
func (f Filter) Matches(b domain.Book) bool {
	if genre := strings.TrimSpace(f.Genre); genre != "" && b.Genre != genre {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(b.Title), search) ||
		strings.Contains(strings.ToLower(b.Author), search) ||
		strings.Contains(strings.ToLower(b.Genre), search)
}

// Apply returns the books matching the filter, preserving input order.
func (f Filter) Apply(books []domain.Book) []domain.Book {
	out := make([]domain.Book, 0, len(books))
	for _, b := range books {
		if f.Matches(b) {
			out = append(out, b)
		}
	}
	return out
}

// NormalizeSort maps request parameters to a supported field and direction.
// Only "desc" (any case) sorts descending; empty or unknown orders sort
// ascending. Unknown fields fall back to title ascending.
func NormalizeSort(sortBy, sortOrder string) (string, bool) {
	field := strings.ToLower(strings.TrimSpace(sortBy))
	desc := strings.EqualFold(strings.TrimSpace(sortOrder), OrderDesc)
	switch field {
	case SortTitle, SortAuthor, SortPrice, SortRating, SortPublicationDate:
		return field, desc
	case "":
		return SortTitle, desc
	default:
		return SortTitle, false
	}
}

// Sort orders books in place by the given field. The sort is stable so
// ties keep their prior relative order.
func Sort(books []domain.Book, sortBy, sortOrder string) {
	field, desc := NormalizeSort(sortBy, sortOrder)
	cmp := comparator(field)
	sort.SliceStable(books, func(i, j int) bool {
		c := cmp(books[i], books[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func comparator(field string) func(a, b domain.Book) int {
	switch field {
	case SortAuthor:
		return func(a, b domain.Book) int { return compareFold(a.Author, b.Author) }
	case SortPrice:
		return func(a, b domain.Book) int { return a.Price.Cmp(b.Price) }
	case SortRating:
		return func(a, b domain.Book) int {
			switch {
			case a.Rating < b.Rating:
				return -1
			case a.Rating > b.Rating:
				return 1
			default:
				return 0
			}
		}
	case SortPublicationDate:
		return func(a, b domain.Book) int { return a.PublicationDate.Compare(b.PublicationDate.Time) }
	default:
		return func(a, b domain.Book) int { return compareFold(a.Title, b.Title) }
	}
}

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
