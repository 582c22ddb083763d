package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-auth/helix/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "helix.db")
	s, err := Open(dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testGrant(data string) *storage.PersistentGrant {
	return &storage.PersistentGrant{
		Key:        "key-" + data,
		ClientID:   "client-1",
		SubjectID:  "user-1",
		GrantType:  storage.GrantTypeCode,
		Data:       data,
		Expiration: time.Now().Add(time.Hour).Unix(),
		CreatedAt:  time.Now(),
	}
}

func TestGrantConsumeSingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, testGrant("code-1")))

	exists, err := s.GrantExists(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)
	assert.True(t, exists)

	grant, err := s.ConsumeGrant(ctx, storage.GrantTypeCode, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.SubjectID)

	_, err = s.ConsumeGrant(ctx, storage.GrantTypeCode, "code-1")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)
}

func TestExpiredGrantNotReturned(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	grant := testGrant("stale")
	grant.Expiration = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, s.CreateGrant(ctx, grant))

	exists, err := s.GrantExists(ctx, storage.GrantTypeCode, "stale")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.GetGrant(ctx, storage.GrantTypeCode, "stale")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)
	_, err = s.ConsumeGrant(ctx, storage.GrantTypeCode, "stale")
	assert.ErrorIs(t, err, storage.ErrGrantNotFound)
}

func TestDeleteGrantsForClientAndUser(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGrant(ctx, testGrant("a")))

	refresh := testGrant("b")
	refresh.GrantType = storage.GrantTypeRefreshToken
	require.NoError(t, s.CreateGrant(ctx, refresh))

	other := testGrant("c")
	other.SubjectID = "user-2"
	require.NoError(t, s.CreateGrant(ctx, other))

	n, err := s.DeleteGrantsForClientAndUser(ctx, "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetGrant(ctx, storage.GrantTypeCode, "c")
	require.NoError(t, err)
}

func TestSweepRemovesExpiredRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stale := testGrant("stale")
	stale.Expiration = time.Now().Add(-time.Minute).Unix()
	require.NoError(t, s.CreateGrant(ctx, stale))
	require.NoError(t, s.CreateGrant(ctx, testGrant("live")))
	require.NoError(t, s.BlacklistToken(ctx, "old", time.Now().Add(-time.Minute).Unix()))

	require.NoError(t, s.Sweep(ctx))

	var count int64
	require.NoError(t, s.db.Model(&grantModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, s.db.Model(&blacklistModel{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestDeviceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateDevice(ctx, &storage.Device{
		ClientID:   "client-1",
		DeviceCode: "device-code-1",
		UserCode:   "ABCDEFGH",
		ExpiresIn:  600,
		Interval:   5,
		CreatedAt:  time.Now(),
	}))

	byUser, err := s.GetDeviceByUserCode(ctx, "ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, "device-code-1", byUser.DeviceCode)

	require.NoError(t, s.DeleteDeviceByUserCode(ctx, "ABCDEFGH"))
	assert.ErrorIs(t, s.DeleteDeviceByUserCode(ctx, "ABCDEFGH"), storage.ErrDeviceNotFound)
}

func TestChallengeReplaceAndConsume(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveChallenge(ctx, &storage.CodeChallenge{ClientID: "client-1", Challenge: "old", Method: "plain"}))
	require.NoError(t, s.SaveChallenge(ctx, &storage.CodeChallenge{ClientID: "client-1", Challenge: "new", Method: "S256"}))

	got, err := s.ConsumeChallenge(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Challenge)

	_, err = s.ConsumeChallenge(ctx, "client-1")
	assert.ErrorIs(t, err, storage.ErrChallengeNotFound)
}

func TestStateSingleUse(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveState(ctx, "state-1"))
	assert.ErrorIs(t, s.SaveState(ctx, "state-1"), storage.ErrStateExists)

	require.NoError(t, s.ConsumeState(ctx, "state-1"))
	assert.ErrorIs(t, s.ConsumeState(ctx, "state-1"), storage.ErrStateNotFound)
}

func TestClientRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveClient(ctx, &storage.Client{
		ClientID:      "client-1",
		RedirectURIs:  []string{"https://rp.example.com/cb"},
		Scopes:        []string{"openid", "profile"},
		GrantTypes:    []string{"authorization_code"},
		ResponseTypes: []string{"code"},
		RequirePKCE:   true,
	}))

	got, err := s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rp.example.com/cb"}, got.RedirectURIs)
	assert.Equal(t, []string{"openid", "profile"}, got.Scopes)
	assert.True(t, got.RequirePKCE)

	// Saving again replaces the row.
	require.NoError(t, s.SaveClient(ctx, &storage.Client{
		ClientID:     "client-1",
		RedirectURIs: []string{"https://rp.example.com/other"},
	}))
	got, err = s.GetClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rp.example.com/other"}, got.RedirectURIs)
}

func TestUserRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, &storage.User{
		ID:       "user-1",
		Username: "alice",
		Claims:   map[string]any{"email": "alice@example.com"},
		Groups:   []string{"staff"},
	}))

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "user-1", byName.ID)
	assert.Equal(t, "alice@example.com", byName.Claims["email"])
	assert.Equal(t, []string{"staff"}, byName.Groups)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}
