package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
)

// Checkout is what a board leaves behind when the user proceeds to
// payment.  The credential travels with it so the payment callback can
// redeem or cancel the holds on the user's behalf.
type Checkout struct {
	Token      string            `json:"-"`
	Owner      string            `json:"owner"`
	BoardID    string            `json:"board_id"`
	Credential string            `json:"-"`
	Handoff    seatboard.Handoff `json:"handoff"`
	CreatedAt  time.Time         `json:"created_at"`
}

// storedCheckout is the Redis form of a Checkout.  The credential is
// sealed with a key derived from the checkout token, which only the
// client holds, and the entry is filed under a digest of the token.
type storedCheckout struct {
	Checkout
	Sealed []byte `json:"credential_sealed,omitempty"`
}

// HandoffRepo stores checkouts in Redis until their holds expire.
type HandoffRepo struct {
	rdb    *redis.Client
	prefix string
	// minTTL keeps a checkout readable when the handoff has no expiry.
	minTTL time.Duration
}

func NewHandoffRepo(rdb *redis.Client, prefix string) *HandoffRepo {
	if prefix == "" {
		prefix = "seatboard:checkout"
	}
	return &HandoffRepo{rdb: rdb, prefix: prefix, minTTL: 5 * time.Minute}
}

// tokenKeys derives the Redis key and the sealing key of a token.
func (r *HandoffRepo) tokenKeys(token string) (string, []byte, error) {
	ref, secret, err := deriveKeys(token)
	if err != nil {
		return "", nil, err
	}
	return r.prefix + ":" + ref, secret, nil
}

func deriveKeys(token string) (string, []byte, error) {
	kdf := hkdf.New(sha256.New, []byte(token), nil, []byte("seatboard checkout"))
	buf := make([]byte, 16+chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return "", nil, err
	}
	return hex.EncodeToString(buf[:16]), buf[16:], nil
}

// CheckoutRef names a checkout in logs and events without revealing the
// token.
func CheckoutRef(token string) string {
	ref, _, err := deriveKeys(token)
	if err != nil {
		return ""
	}
	return ref
}

// Save stores c, assigning a fresh token unless it already has one.  The
// entry lives until the earliest hold expiry in the handoff.
func (r *HandoffRepo) Save(ctx context.Context, c *Checkout, now time.Time) error {
	if c.Token == "" {
		tok, err := randomToken()
		if err != nil {
			return err
		}
		c.Token = tok
		c.CreatedAt = now.UTC()
	}

	ttl := r.minTTL
	if c.Handoff.ExpiresAt != nil {
		ttl = c.Handoff.ExpiresAt.Sub(now)
	}
	if ttl <= 0 {
		return ErrHandoffNotFound
	}
	key, secret, err := r.tokenKeys(c.Token)
	if err != nil {
		return err
	}
	sealed, err := seal(secret, c.Credential)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	body, err := json.Marshal(storedCheckout{Checkout: *c, Sealed: sealed})
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, key, body, ttl).Err()
}

// Get returns the checkout for token if owner holds it.  An empty owner
// skips the ownership check.
func (r *HandoffRepo) Get(ctx context.Context, token, owner string) (*Checkout, error) {
	key, secret, err := r.tokenKeys(token)
	if err != nil {
		return nil, err
	}
	raw, err := r.rdb.Get(ctx, key).Bytes()
	return decodeCheckout(raw, err, token, secret, owner)
}

// Take removes and returns the checkout, so a payment callback redeems a
// given set of holds at most once.
func (r *HandoffRepo) Take(ctx context.Context, token, owner string) (*Checkout, error) {
	if owner != "" {
		if _, err := r.Get(ctx, token, owner); err != nil {
			return nil, err
		}
	}
	key, secret, err := r.tokenKeys(token)
	if err != nil {
		return nil, err
	}
	raw, err := r.rdb.GetDel(ctx, key).Bytes()
	return decodeCheckout(raw, err, token, secret, "")
}

func (r *HandoffRepo) Delete(ctx context.Context, token string) error {
	key, _, err := r.tokenKeys(token)
	if err != nil {
		return err
	}
	return r.rdb.Del(ctx, key).Err()
}

func decodeCheckout(raw []byte, err error, token string, secret []byte, owner string) (*Checkout, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrHandoffNotFound
	}
	if err != nil {
		return nil, err
	}
	var s storedCheckout
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout: %w", err)
	}
	if owner != "" && s.Owner != owner {
		return nil, ErrForbidden
	}
	cred, err := open(secret, s.Sealed)
	if err != nil {
		return nil, fmt.Errorf("open credential: %w", err)
	}
	c := s.Checkout
	c.Token = token
	c.Credential = cred
	return &c, nil
}

func seal(secret []byte, plain string) ([]byte, error) {
	if plain == "" {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

func open(secret, sealed []byte) (string, error) {
	if len(sealed) == 0 {
		return "", nil
	}
	aead, err := chacha20poly1305.NewX(secret)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", errors.New("sealed credential too short")
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
