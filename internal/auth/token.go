// Package auth reads the opaque bearer credential the gateway carries
// to the reservation backend.  The gateway never authenticates users
// itself; it only needs to know who is asking so that boards and
// checkouts cannot be used across users.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when no bearer credential was supplied.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned for malformed, expired or forged tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is what the gateway learns from a credential.  Subject is the
// raw sub claim, which the backend fills with the user's email; UserID
// is only known when the token carries a numeric id.
type Identity struct {
	UserID     int64
	Subject    string
	Role       string
	Credential string
}

// Key identifies the owner of boards and checkouts.  It prefers the
// numeric id and falls back to the subject.
func (i Identity) Key() string {
	if i.UserID != 0 {
		return "uid:" + strconv.FormatInt(i.UserID, 10)
	}
	return "sub:" + i.Subject
}

// Parser validates credentials.  With an empty secret the signature is
// not checked and the backend stays the authority on validity.
type Parser struct {
	secret []byte
}

// NewParser creates a Parser for HS256 tokens signed with secret.
func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

// Verifies reports whether signatures are checked.
func (p *Parser) Verifies() bool { return len(p.secret) > 0 }

// Parse extracts the Identity from a raw token.
func (p *Parser) Parse(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	claims := jwt.MapClaims{}
	if p.Verifies() {
		tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return p.secret, nil
		})
		if err != nil || !tok.Valid {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id := Identity{Credential: raw}
	id.Subject, _ = claims["sub"].(string)
	if n, ok := claimInt(claims["sub"]); ok {
		id.UserID = n
	}
	for _, k := range []string{"user_id", "uid", "id"} {
		if n, ok := claimInt(claims[k]); ok {
			id.UserID = n
			break
		}
	}
	id.Role, _ = claims["role"].(string)
	if id.UserID == 0 && id.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return id, nil
}

func claimInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == float64(int64(t)) {
			return int64(t), true
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// Issue signs an HS256 token in the backend's format: the subject is the
// user's email and the numeric id travels as user_id.  The gateway only
// issues tokens for local tooling and tests.
func Issue(secret string, userID int64, subject, role string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	if userID != 0 {
		claims["user_id"] = userID
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
