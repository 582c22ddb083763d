package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-auth/helix/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(time.Hour) // keep the sweeper out of the way
	t.Cleanup(s.Stop)
	return s
}

func liveGrant(grantType, data string) *storage.PersistentGrant {
	return &storage.PersistentGrant{
		Key:        "key-" + data,
		ClientID:   "client-1",
		SubjectID:  "user-1",
		GrantType:  grantType,
		Data:       data,
		Expiration: time.Now().Add(time.Hour).Unix(),
		CreatedAt:  time.Now(),
	}
}

func TestGrantLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grant := liveGrant(storage.GrantTypeCode, "code-1")
	require.NoError(t, s.CreateGrant(ctx, grant))

	exists, err := s.GrantExists(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := s.GetGrant(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)
	assert.Equal(t, grant.Key, got.Key)
	assert.Equal(t, grant.SubjectID, got.SubjectID)

	// GetGrant does not consume.
	_, err = s.GetGrant(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)

	consumed, err := s.ConsumeGrant(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)
	assert.Equal(t, grant.Key, consumed.Key)

	_, err = s.ConsumeGrant(ctx, storage.GrantTypeCode, "code-1")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)

	_, err = s.GetGrant(ctx, storage.GrantTypeCode, "code-1")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)
}

func TestGrantTypeIsPartOfTheKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, liveGrant(storage.GrantTypeCode, "shared")))

	_, err := s.ConsumeGrant(ctx, storage.GrantTypeRefreshToken, "shared")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)

	_, err = s.ConsumeGrant(ctx, storage.GrantTypeCode, "shared")
	require.NoError(t, err)
}

func TestConsumeGrantExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	grant := liveGrant(storage.GrantTypeCode, "stale")
	grant.Expiration = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, s.CreateGrant(ctx, grant))

	exists, err := s.GrantExists(ctx, storage.GrantTypeCode, "stale")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.ConsumeGrant(ctx, storage.GrantTypeCode, "stale")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)
}

func TestConsumeGrantConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, liveGrant(storage.GrantTypeCode, "contested")))

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ConsumeGrant(ctx, storage.GrantTypeCode, "contested")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, storage.ErrGrantNotFound)
		}
	}
	assert.Equal(t, 1, winners, "exactly one redeemer must win")
}

func TestDeleteGrantsForClientAndUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, liveGrant(storage.GrantTypeCode, "a")))
	require.NoError(t, s.CreateGrant(ctx, liveGrant(storage.GrantTypeRefreshToken, "b")))

	other := liveGrant(storage.GrantTypeCode, "c")
	other.SubjectID = "user-2"
	require.NoError(t, s.CreateGrant(ctx, other))

	n, err := s.DeleteGrantsForClientAndUser(ctx, "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The other user's grant survives.
	_, err = s.GetGrant(ctx, storage.GrantTypeCode, "c")
	require.NoError(t, err)
}

func TestDeviceStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	device := &storage.Device{
		ClientID:   "client-1",
		DeviceCode: "device-code-1",
		UserCode:   "ABCDEFGH",
		ExpiresIn:  600,
		Interval:   5,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.CreateDevice(ctx, device))

	byUser, err := s.GetDeviceByUserCode(ctx, "ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, "device-code-1", byUser.DeviceCode)

	byDevice, err := s.GetDeviceByDeviceCode(ctx, "device-code-1")
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGH", byDevice.UserCode)

	require.NoError(t, s.DeleteDeviceByUserCode(ctx, "ABCDEFGH"))

	_, err = s.GetDeviceByUserCode(ctx, "ABCDEFGH")
	assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
	_, err = s.GetDeviceByDeviceCode(ctx, "device-code-1")
	assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
}

func TestChallengeConsumeIsSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChallenge(ctx, &storage.CodeChallenge{
		ClientID:  "client-1",
		Challenge: "challenge-value",
		Method:    "S256",
		CreatedAt: time.Now(),
	}))

	got, err := s.ConsumeChallenge(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "challenge-value", got.Challenge)

	_, err = s.ConsumeChallenge(ctx, "client-1")
	assert.ErrorIs(t, err, storage.ErrChallengeNotFound)
}

func TestChallengeReplacedPerClient(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChallenge(ctx, &storage.CodeChallenge{ClientID: "client-1", Challenge: "old", Method: "plain"}))
	require.NoError(t, s.SaveChallenge(ctx, &storage.CodeChallenge{ClientID: "client-1", Challenge: "new", Method: "plain"}))

	got, err := s.ConsumeChallenge(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Challenge)
}

func TestBlacklist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BlacklistToken(ctx, "revoked-token", time.Now().Add(time.Hour).Unix()))

	listed, err := s.IsTokenBlacklisted(ctx, "revoked-token")
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = s.IsTokenBlacklisted(ctx, "other-token")
	require.NoError(t, err)
	assert.False(t, listed)

	// Expired entries no longer block the token.
	require.NoError(t, s.BlacklistToken(ctx, "expired-entry", time.Now().Add(-time.Minute).Unix()))
	listed, err = s.IsTokenBlacklisted(ctx, "expired-entry")
	require.NoError(t, err)
	assert.False(t, listed)
}

func TestStateSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "nonce!_!client-1!_!https://rp.example.com/cb"))

	err := s.SaveState(ctx, "nonce!_!client-1!_!https://rp.example.com/cb")
	assert.ErrorIs(t, err, storage.ErrStateExists)

	require.NoError(t, s.ConsumeState(ctx, "nonce!_!client-1!_!https://rp.example.com/cb"))

	err = s.ConsumeState(ctx, "nonce!_!client-1!_!https://rp.example.com/cb")
	assert.ErrorIs(t, err, storage.ErrStateNotFound)
}

func TestClientStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetClient(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)

	require.NoError(t, s.SaveClient(ctx, &storage.Client{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://rp.example.com/cb"},
	}))

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rp.example.com/cb"}, got.RedirectURIs)
}

func TestUserStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	_, err = s.GetUserByUsername(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	require.NoError(t, s.CreateUser(ctx, &storage.User{
		ID:       "user-1",
		Username: "alice",
		Claims:   map[string]any{"email": "alice@example.com"},
	}))

	byID, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byName.ID)
}

func TestReturnedGrantIsACopy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, liveGrant(storage.GrantTypeCode, "copy")))

	got, err := s.GetGrant(ctx, storage.GrantTypeCode, "copy")
	require.NoError(t, err)
	got.SubjectID = "mutated"

	again, err := s.GetGrant(ctx, storage.GrantTypeCode, "copy")
	require.NoError(t, err)
	assert.Equal(t, "user-1", again.SubjectID)
}
