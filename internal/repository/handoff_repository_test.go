package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-seat-board/internal/seatboard"
)

func newRepo(t *testing.T) (*HandoffRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewHandoffRepo(rdb, ""), mr
}

func TestHandoffSaveGetTake(t *testing.T) {
	repo, mr := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(3 * time.Minute)

	c := &Checkout{
		Owner:   "uid:42",
		BoardID: "b1",
		Handoff: seatboard.Handoff{ScreeningID: 7, ReservationIDs: []int64{300}, TotalCents: 1400, ExpiresAt: &exp},
	}
	require.NoError(t, repo.Save(ctx, c, now))
	require.NotEmpty(t, c.Token)

	key, _, err := repo.tokenKeys(c.Token)
	require.NoError(t, err)
	ttl := mr.TTL(key)
	assert.InDelta(t, (3 * time.Minute).Seconds(), ttl.Seconds(), 1)

	got, err := repo.Get(ctx, c.Token, "uid:42")
	require.NoError(t, err)
	assert.Equal(t, 1400, got.Handoff.TotalCents)
	assert.Equal(t, c.Token, got.Token)

	_, err = repo.Get(ctx, c.Token, "uid:7")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = repo.Take(ctx, c.Token, "uid:7")
	assert.ErrorIs(t, err, ErrForbidden)

	taken, err := repo.Take(ctx, c.Token, "uid:42")
	require.NoError(t, err)
	assert.Equal(t, "b1", taken.BoardID)

	_, err = repo.Take(ctx, c.Token, "uid:42")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestHandoffExpires(t *testing.T) {
	repo, mr := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	exp := now.Add(time.Minute)

	c := &Checkout{Owner: "uid:1", Handoff: seatboard.Handoff{ExpiresAt: &exp}}
	require.NoError(t, repo.Save(ctx, c, now))
	mr.FastForward(2 * time.Minute)

	_, err := repo.Get(ctx, c.Token, "")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestHandoffAlreadyExpired(t *testing.T) {
	repo, _ := newRepo(t)
	now := time.Now()
	past := now.Add(-time.Second)
	err := repo.Save(context.Background(), &Checkout{Handoff: seatboard.Handoff{ExpiresAt: &past}}, now)
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestHandoffDelete(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	c := &Checkout{Owner: "uid:1"}
	require.NoError(t, repo.Save(ctx, c, now))
	require.NoError(t, repo.Delete(ctx, c.Token))
	_, err := repo.Get(ctx, c.Token, "uid:1")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
}

func TestHandoffSaveKeepsToken(t *testing.T) {
	repo, _ := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	c := &Checkout{Owner: "uid:1"}
	require.NoError(t, repo.Save(ctx, c, now))
	tok := c.Token

	taken, err := repo.Take(ctx, tok, "uid:1")
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, taken, now))
	assert.Equal(t, tok, taken.Token)

	_, err = repo.Get(ctx, tok, "uid:1")
	assert.NoError(t, err)
}

func TestHandoffCredentialIsSealed(t *testing.T) {
	repo, mr := newRepo(t)
	ctx := context.Background()
	now := time.Now()
	const cred = "eyJhbGciOiJIUzI1NiJ9.visitor-credential"

	c := &Checkout{Owner: "uid:42", BoardID: "b1", Credential: cred}
	require.NoError(t, repo.Save(ctx, c, now))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], c.Token)
	raw, err := mr.Get(keys[0])
	require.NoError(t, err)
	assert.NotContains(t, raw, cred)
	assert.NotContains(t, raw, c.Token)
	assert.Contains(t, raw, "credential_sealed")

	got, err := repo.Get(ctx, c.Token, "uid:42")
	require.NoError(t, err)
	assert.Equal(t, cred, got.Credential)

	// a different token neither finds nor opens the entry
	_, err = repo.Get(ctx, c.Token+"0", "uid:42")
	assert.ErrorIs(t, err, ErrHandoffNotFound)
	other, _, err := repo.tokenKeys("other")
	require.NoError(t, err)
	require.NoError(t, mr.Set(other, raw))
	_, err = repo.Get(ctx, "other", "uid:42")
	assert.Error(t, err)

	taken, err := repo.Take(ctx, c.Token, "uid:42")
	require.NoError(t, err)
	assert.Equal(t, cred, taken.Credential)
}
