package usertoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer        = "bookhaven"
	defaultTTL           = time.Hour
	defaultRememberMeTTL = 7 * 24 * time.Hour

	// HS512 needs a key at least as long as its output.
	minSecretBytes = 64
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWeakSecret     = fmt.Errorf("token secret must be at least %d bytes", minSecretBytes)
)

// Config configures user token issuance and validation.
type Config struct {
	Secret        string
	Issuer        string
	TTL           time.Duration
	RememberMeTTL time.Duration
	Leeway        time.Duration
	Now           func() time.Time
}

// Claims are the JWT claims carried by user tokens.
type Claims struct {
	Authorities []string `json:"authorities"`
	jwt.RegisteredClaims
}

// Service issues and validates HS512 user tokens.
// Tokens are valid until natural expiry; there is no revocation list.
type Service struct {
	secret        []byte
	issuer        string
	ttl           time.Duration
	rememberMeTTL time.Duration
	leeway        time.Duration
	now           func() time.Time
}

// NewService creates a token service from cfg.
func NewService(cfg Config) (*Service, error) {
	if len(cfg.Secret) < minSecretBytes {
		return nil, ErrWeakSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	rememberMeTTL := cfg.RememberMeTTL
	if rememberMeTTL <= 0 {
		rememberMeTTL = defaultRememberMeTTL
	}
	if rememberMeTTL < ttl {
		return nil, errors.New("remember-me ttl must not be shorter than ttl")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	leeway := cfg.Leeway
	if leeway < 0 {
		leeway = 0
	}
	return &Service{
		secret:        []byte(cfg.Secret),
		issuer:        issuer,
		ttl:           ttl,
		rememberMeTTL: rememberMeTTL,
		leeway:        leeway,
		now:           now,
	}, nil
}

// TTL returns the lifetime of a token issued with or without remember-me.
func (s *Service) TTL(extended bool) time.Duration {
	if extended {
		return s.rememberMeTTL
	}
	return s.ttl
}

// Issue signs a token for subject with a single-element authorities claim.
func (s *Service) Issue(subject, role string, extended bool) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", errors.New("token subject required")
	}
	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		Authorities: []string{role},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL(extended))),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(s.secret)
}

// Parse fully validates token and returns its claims.
// Errors are ErrTokenExpired or ErrMalformedToken.
func (s *Service) Parse(token string) (Claims, error) {
	return s.parse(token, true)
}

// Validate reports whether token is authentic, unexpired and issued to expectedSubject.
func (s *Service) Validate(token, expectedSubject string) bool {
	claims, err := s.parse(token, true)
	if err != nil {
		return false
	}
	expectedSubject = strings.TrimSpace(expectedSubject)
	return expectedSubject != "" && claims.Subject == expectedSubject
}

// SubjectOf returns the subject of a correctly signed token without checking expiry.
func (s *Service) SubjectOf(token string) (string, error) {
	claims, err := s.parse(token, false)
	if err != nil {
		return "", ErrMalformedToken
	}
	return claims.Subject, nil
}

func (s *Service) parse(token string, validateClaims bool) (Claims, error) {
	claims := Claims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrMalformedToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if validateClaims {
		opts = append(opts,
			jwt.WithIssuer(s.issuer),
			jwt.WithIssuedAt(),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(s.leeway),
		)
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return claims, ErrTokenExpired
		}
		return claims, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid {
		return claims, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return claims, fmt.Errorf("%w: subject missing", ErrMalformedToken)
	}
	return claims, nil
}
