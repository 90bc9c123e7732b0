package blobstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidLink = errors.New("download link is invalid or expired")

const linkAudience = "pouchrx-document"

// URLSigner issues HS256 tokens that grant read access to one document.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewURLSigner(secret []byte, ttl time.Duration, now func() time.Time) *URLSigner {
	if now == nil {
		now = time.Now
	}
	return &URLSigner{secret: secret, ttl: ttl, now: now}
}

// Sign returns a token for documentID and the instant it stops working.
func (s *URLSigner) Sign(documentID, requestedBy string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   documentID,
		Audience:  jwt.ClaimStrings{linkAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        requestedBy,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign document link: %w", err)
	}
	return token, exp, nil
}

// Verify returns the document id a token grants access to.
func (s *URLSigner) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithAudience(linkAudience),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidLink
	}
	return claims.Subject, nil
}
