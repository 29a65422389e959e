package orchestrator

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignatureParam is the query parameter carrying a blob signature.
const SignatureParam = "sig"

// ErrInvalidSignature is returned by Verify for a missing, expired or
// mismatched signature.
var ErrInvalidSignature = errors.New("invalid blob signature")

// URLSigner grants time-limited read access to blob URLs with HS256 tokens
// bound to the URL path.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewURLSigner 创建 Blob URL 签名器
func NewURLSigner(secret string, ttl time.Duration) (*URLSigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("blob signing secret is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl, issuer: "careflow", now: time.Now}, nil
}

// Sign returns rawURL with a signature parameter added.
func (s *URLSigner) Sign(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse blob url: %w", err)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   u.Path,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign blob url: %w", err)
	}
	q := u.Query()
	q.Set(SignatureParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Verify checks that token was issued by this signer for path and has not expired.
func (s *URLSigner) Verify(path, token string) error {
	if token == "" {
		return ErrInvalidSignature
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if claims.Subject != path {
		return fmt.Errorf("%w: path mismatch", ErrInvalidSignature)
	}
	return nil
}
