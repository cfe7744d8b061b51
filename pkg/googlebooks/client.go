package googlebooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"bookhaven/pkg/domain"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/books/v1"
	defaultTimeout = 5 * time.Second
	maxAttempts    = 2

	defaultTitle       = "Unknown Title"
	defaultAuthor      = "Unknown Author"
	defaultGenre       = "General"
	defaultDescription = "No description available"
	defaultThumbnail   = "https://via.placeholder.com/150"
	defaultRating      = 3.5
)

var (
	yearPattern      = regexp.MustCompile(`^\d{4}$`)
	yearMonthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)
)

// Client fetches volume metadata from the Google Books API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// APIError represents a non-2xx response from the volumes endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google books: %d %s", e.Status, e.Message)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock overrides the clock used for defaulted publication dates.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a client. timeout bounds each attempt.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: &http.Client{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Volume mirrors the subset of the volumes resource we read.
type Volume struct {
	ID         string     `json:"id"`
	VolumeInfo VolumeInfo `json:"volumeInfo"`
}

type VolumeInfo struct {
	Title         string     `json:"title"`
	Authors       []string   `json:"authors"`
	Categories    []string   `json:"categories"`
	Description   string     `json:"description"`
	PublishedDate string     `json:"publishedDate"`
	AverageRating *float64   `json:"averageRating"`
	ImageLinks    ImageLinks `json:"imageLinks"`
}

type ImageLinks struct {
	Thumbnail string `json:"thumbnail"`
}

// Volume fetches one volume, retrying once on transport errors, 429 and 5xx.
func (c *Client) Volume(ctx context.Context, id string) (Volume, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Volume{}, errors.New("google books: volume id is required")
	}
	endpoint := c.baseURL + "/volumes/" + url.PathEscape(id)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		vol, err := c.fetch(ctx, endpoint)
		if err == nil {
			return vol, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return Volume{}, lastErr
}

// Lookup fetches a volume and maps it to a catalog book. Price is left zero.
func (c *Client) Lookup(ctx context.Context, id string) (domain.Book, error) {
	vol, err := c.Volume(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	return c.toBook(strings.TrimSpace(id), vol), nil
}

func (c *Client) fetch(ctx context.Context, endpoint string) (Volume, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Volume{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Volume{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp)
		msg := strings.TrimSpace(errResp.Error.Message)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Volume{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var vol Volume
	if err := json.NewDecoder(resp.Body).Decode(&vol); err != nil {
		return Volume{}, fmt.Errorf("decode volume: %w", err)
	}
	return vol, nil
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	return true
}

func (c *Client) toBook(id string, vol Volume) domain.Book {
	info := vol.VolumeInfo
	rating := defaultRating
	if info.AverageRating != nil {
		rating = *info.AverageRating
	}
	description := StripHTML(info.Description)
	if description == "" {
		description = defaultDescription
	}
	return domain.Book{
		ID:              id,
		Title:           orDefault(info.Title, defaultTitle),
		Author:          firstOrDefault(info.Authors, defaultAuthor),
		Genre:           firstOrDefault(info.Categories, defaultGenre),
		Description:     description,
		Image:           orDefault(info.ImageLinks.Thumbnail, defaultThumbnail),
		Rating:          rating,
		PublicationDate: ParsePublishedDate(info.PublishedDate, c.now()),
		InStock:         true,
		AddedBy:         domain.SystemUser,
		CreatedAt:       c.now().UTC(),
	}
}

// ParsePublishedDate accepts YYYY, YYYY-MM and YYYY-MM-DD. Anything else
// falls back to the calendar day of now.
func ParsePublishedDate(raw string, now time.Time) domain.Date {
	raw = strings.TrimSpace(raw)
	switch {
	case yearPattern.MatchString(raw):
		year, _ := strconv.Atoi(raw)
		return domain.NewDate(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC))
	case yearMonthPattern.MatchString(raw):
		if t, err := time.Parse("2006-01", raw); err == nil {
			return domain.NewDate(t)
		}
	default:
		if d, err := domain.ParseDate(raw); err == nil {
			return d
		}
	}
	return domain.NewDate(now)
}

// StripHTML returns the text content of an HTML fragment with whitespace
// collapsed.
func StripHTML(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func firstOrDefault(values []string, def string) string {
	if len(values) == 0 {
		return def
	}
	return orDefault(values[0], def)
}
